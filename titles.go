package main

import (
	"regexp"
	"strings"
)

var (
	countSuffixRe = regexp.MustCompile(`(?i)[\s|\-_•·:]*\d+[\d,.]*\s*[KkMmBb]?\s*(views?|reactions?|likes?|comments?|shares?|plays?)[\s|\-_•·:]*`)
	platformTagRe = regexp.MustCompile(`(?i)\s*[|\-•·:]\s*(Facebook|Instagram|TikTok|YouTube|Reels?|Watch)\s*$`)
	spacesRe      = regexp.MustCompile(`[\s_]+`)
	artistTagRe   = regexp.MustCompile(`(?i)\s*[-–]\s*(Official|VEVO|Music|Records|Channel).*$`)

	unsafeCharsRe   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	separatorsRe    = regexp.MustCompile(`[\s\-]+`)
	nonWordRe       = regexp.MustCompile(`[^\w\-_.]`)
	underscoreRunRe = regexp.MustCompile(`_+`)
)

// cleanTitle strips view/reaction counters and platform suffixes that
// social platforms append to titles.
func cleanTitle(title, altTitle, description string) string {
	if t := strings.TrimSpace(altTitle); len(t) >= 3 {
		return t
	}
	title = strings.TrimSpace(title)
	if title == "" && description != "" {
		first := strings.SplitN(description, "\n", 2)[0]
		if len(first) > 150 {
			first = first[:150]
		}
		title = first
	}
	if title == "" {
		return "download"
	}

	cleaned := countSuffixRe.ReplaceAllString(title, " ")
	cleaned = platformTagRe.ReplaceAllString(cleaned, "")
	cleaned = spacesRe.ReplaceAllString(cleaned, " ")
	cleaned = strings.Trim(cleaned, " _-|•·")
	if len(cleaned) < 3 {
		return "download"
	}
	return cleaned
}

// cleanArtist picks the best uploader-like field and strips channel
// branding suffixes.
func cleanArtist(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		c = strings.TrimSpace(artistTagRe.ReplaceAllString(c, ""))
		if c != "" {
			return c
		}
	}
	return "Unknown"
}

// sanitizeFilename converts a title to a filesystem-safe filename.
func sanitizeFilename(title string) string {
	const maxLength = 100
	if title == "" {
		return "download"
	}
	name := unsafeCharsRe.ReplaceAllString(title, "")
	name = separatorsRe.ReplaceAllString(name, "_")
	name = nonWordRe.ReplaceAllString(name, "")
	name = underscoreRunRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > maxLength {
		name = strings.Trim(name[:maxLength], "._")
	}
	if name == "" {
		return "download"
	}
	return name
}
