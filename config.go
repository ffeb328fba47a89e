package main

import (
	"os"
	"strconv"
	"time"
)

// Centralized configuration values
const (
	DownloadDir = "downloads"
	TempDir     = "temp"
	LogFile     = "converter.log"

	// Source limits
	MaxDurationSeconds = 14400 // 4 hours

	// Concurrency
	MaxConcurrentPipelines = 5
	AdmissionWait          = 120 * time.Second

	// Timeout policy defaults (seconds, see timeouts.go)
	DefaultDownloadTimeoutSecs = 3600
	DefaultEncodeTimeoutSecs   = 1800
	TimeoutCeilingSecs         = 7200

	// Stall detection
	StallScanInterval      = 15 * time.Second
	StallTimeout           = 180 * time.Second
	ProcessingStallTimeout = 600 * time.Second

	// Janitor
	CleanupInterval = 300 * time.Second
	CleanupAge      = 600 * time.Second

	// Process supervision
	SupervisorPollInterval = 500 * time.Millisecond
	LivenessPingInterval   = 10 * time.Second

	// Output sanity
	MinOutputBytes = 1000

	// Video info cache
	InfoCacheTTL        = 5 * time.Minute
	InfoCacheMaxEntries = 100

	// Thumbnail proxy cache
	ThumbnailCacheTTL = 5 * time.Minute

	// Progress entry removal after a completed file is first served
	ProgressDropDelay = 30 * time.Second

	// Rate limiting (requests per minute)
	InfoRatePerMinute     = 60
	ConvertRatePerMinute  = 20
	DownloadRatePerMinute = 50

	// Redis (optional video-info cache mirror)
	RedisAddr     = "localhost:6379"
	RedisPassword = ""
	RedisDB       = 0

	// Error messages stored on a task are truncated to this length
	MaxStoredErrorLen = 300
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
