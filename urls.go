package main

import (
	"net/url"
	"regexp"
	"strings"
)

var shortsPathRe = regexp.MustCompile(`/shorts/([a-zA-Z0-9_-]+)`)

func stripMobilePrefix(host string) string {
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "web.")
	return host
}

// normalizeMediaURL rewrites known YouTube short-link forms to the
// canonical watch URL. Other platforms pass through unchanged.
func normalizeMediaURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := stripMobilePrefix(strings.ToLower(parsed.Host))

	if strings.Contains(host, "youtube.com") {
		if v := parsed.Query().Get("v"); v != "" {
			return "https://www.youtube.com/watch?v=" + v
		}
		if m := shortsPathRe.FindStringSubmatch(parsed.Path); m != nil {
			return "https://www.youtube.com/watch?v=" + m[1]
		}
	} else if strings.Contains(host, "youtu.be") {
		if vid := strings.Trim(parsed.Path, "/"); vid != "" {
			return "https://www.youtube.com/watch?v=" + vid
		}
	}
	return raw
}

// validateMediaURL reports whether the URL looks like a direct video link
// on a supported platform.
func validateMediaURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := stripMobilePrefix(strings.ToLower(parsed.Host))
	path := parsed.Path

	if host == "youtube.com" || host == "youtu.be" {
		if host == "youtube.com" {
			return parsed.Query().Get("v") != "" ||
				strings.Contains(path, "/shorts/") ||
				strings.Contains(path, "/watch")
		}
		return len(strings.Trim(path, "/")) > 0
	}

	// fb.watch short links are always video shares.
	if host == "fb.watch" {
		return len(strings.Trim(path, "/")) > 0
	}

	// Facebook: block profile/home links, allow watch/reel/video forms.
	if strings.Contains(host, "facebook.com") || host == "fb.com" {
		if strings.Contains(path, "/profile.php") && !strings.Contains(parsed.RawQuery, "v=") {
			return false
		}
		if path == "" || path == "/" {
			return false
		}
		for _, marker := range []string{"/watch", "/reel/", "/reels/", "/videos/", "video.php", "v="} {
			if strings.Contains(raw, marker) {
				return true
			}
		}
		return false
	}

	for _, p := range []string{"instagram.com", "tiktok.com", "vm.tiktok.com", "twitter.com", "x.com", "t.co"} {
		if strings.Contains(host, p) {
			return true
		}
	}
	return false
}

// platformLabel returns a display name for the URL's hosting platform.
func platformLabel(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "Unknown"
	}
	host := strings.ToLower(parsed.Host)
	switch {
	case strings.Contains(host, "youtube") || strings.Contains(host, "youtu.be"):
		return "YouTube"
	case strings.Contains(host, "facebook") || strings.Contains(host, "fb."):
		return "Facebook"
	case strings.Contains(host, "instagram"):
		return "Instagram"
	case strings.Contains(host, "tiktok"):
		return "TikTok"
	case strings.Contains(host, "twitter") || strings.Contains(host, "x.com"):
		return "Twitter/X"
	}
	return "Unknown"
}
