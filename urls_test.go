package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMediaURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"shorts", "https://www.youtube.com/shorts/abc123_-X", "https://www.youtube.com/watch?v=abc123_-X"},
		{"mobile watch", "https://m.youtube.com/watch?v=xyz789&t=42", "https://www.youtube.com/watch?v=xyz789"},
		{"canonical unchanged", "https://www.youtube.com/watch?v=xyz789", "https://www.youtube.com/watch?v=xyz789"},
		{"tiktok passthrough", "https://www.tiktok.com/@user/video/123", "https://www.tiktok.com/@user/video/123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeMediaURL(tt.in))
		})
	}
}

func TestValidateMediaURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"youtube watch", "https://www.youtube.com/watch?v=abc", true},
		{"youtube shorts", "https://www.youtube.com/shorts/abc", true},
		{"youtube channel page", "https://www.youtube.com/@somechannel", false},
		{"youtu.be", "https://youtu.be/abc", true},
		{"youtu.be bare", "https://youtu.be/", false},
		{"facebook watch", "https://www.facebook.com/watch?v=123", true},
		{"facebook reel", "https://www.facebook.com/reel/456", true},
		{"fb.watch", "https://fb.watch/abcdef/", true},
		{"facebook profile", "https://www.facebook.com/profile.php?id=1", false},
		{"facebook home", "https://www.facebook.com/", false},
		{"instagram reel", "https://www.instagram.com/reel/xyz/", true},
		{"tiktok video", "https://www.tiktok.com/@user/video/123", true},
		{"x status", "https://x.com/user/status/123", true},
		{"unsupported host", "https://vimeo.com/12345", false},
		{"not a url", "://nope", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validateMediaURL(tt.in), tt.in)
		})
	}
}

func TestPlatformLabel(t *testing.T) {
	assert.Equal(t, "YouTube", platformLabel("https://www.youtube.com/watch?v=a"))
	assert.Equal(t, "YouTube", platformLabel("https://youtu.be/a"))
	assert.Equal(t, "Facebook", platformLabel("https://fb.watch/a/"))
	assert.Equal(t, "Instagram", platformLabel("https://www.instagram.com/reel/a/"))
	assert.Equal(t, "TikTok", platformLabel("https://vm.tiktok.com/a/"))
	assert.Equal(t, "Twitter/X", platformLabel("https://x.com/u/status/1"))
	assert.Equal(t, "Unknown", platformLabel("https://example.com/v"))
}
