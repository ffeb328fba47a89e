package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDownloadTimeoutSecs(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		want     int
	}{
		{"unknown duration", 0, 3600},
		{"negative duration", -5, 3600},
		{"short clip", 180, 600},
		{"ten minutes", 600, 720},
		{"one hour", 3600, 1320},
		{"two hours gets slow-source bonus", 7200, 2400},
		{"huge source hits ceiling", 100000, 7200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, downloadTimeoutSecs(tt.duration))
		})
	}
}

func TestEncodeTimeoutSecs(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		want     int
	}{
		{"unknown duration", 0, 1800},
		{"one minute", 60, 330},
		{"ten minutes", 600, 600},
		{"four hours hits ceiling", 14400, 7200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, encodeTimeoutSecs(tt.duration))
		})
	}
}

func TestTimeoutDurations(t *testing.T) {
	assert.Equal(t, 720*time.Second, downloadTimeout(600))
	assert.Equal(t, 600*time.Second, encodeTimeout(600))
}
