package main

import "time"

// downloadTimeoutSecs derives the download deadline from the source
// duration in seconds. Unknown duration falls back to the fixed default.
// Grows with length, hard-capped so one pathological source cannot hold
// an admission permit forever.
func downloadTimeoutSecs(duration int) int {
	if duration <= 0 {
		return DefaultDownloadTimeoutSecs
	}
	secs := 600 + (duration/600)*120
	if duration > 3600 {
		secs += ((duration - 3600) / 600) * 60
	}
	if secs > TimeoutCeilingSecs {
		return TimeoutCeilingSecs
	}
	return secs
}

// encodeTimeoutSecs derives the ffmpeg deadline from the source duration
// in seconds, with the same hard ceiling.
func encodeTimeoutSecs(duration int) int {
	if duration <= 0 {
		return DefaultEncodeTimeoutSecs
	}
	secs := 300 + (duration/60)*30
	if secs > TimeoutCeilingSecs {
		return TimeoutCeilingSecs
	}
	return secs
}

func downloadTimeout(duration int) time.Duration {
	return time.Duration(downloadTimeoutSecs(duration)) * time.Second
}

func encodeTimeout(duration int) time.Duration {
	return time.Duration(encodeTimeoutSecs(duration)) * time.Second
}
