package main

// ffmpeg argument builders. Every invocation goes through the Supervisor
// with a duration-derived timeout.

// audioTranscodeArgs converts a downloaded source to the requested audio
// catalog format.
func audioTranscodeArgs(input, output string, spec AudioFormatSpec) []string {
	return []string{
		"-y",
		"-i", input,
		"-vn",
		"-c:a", spec.Codec,
		"-b:a", spec.Bitrate,
		"-ar", spec.SampleRate,
		"-ac", "2",
		output,
	}
}

// videoEncodeArgs re-encodes to QuickTime-compatible MP4 (H.264 + AAC)
// at the requested resolution tier.
func videoEncodeArgs(input, output, quality string) []string {
	cfg, ok := videoEncodeSettings[quality]
	if !ok {
		cfg = videoEncodeSettings["best"]
	}

	args := []string{
		"-y",
		"-i", input,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-c:v", "libx264",
		"-preset", "medium",
		"-profile:v", "high",
		"-level", "4.0",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-ar", "48000",
		"-ac", "2",
		"-movflags", "+faststart",
		"-f", "mp4",
	}
	if cfg.Scale != "" {
		args = append(args, "-vf", "scale="+cfg.Scale)
	}
	if cfg.CRF != "" {
		args = append(args, "-crf", cfg.CRF)
	}
	if cfg.MaxRate != "" && cfg.BufSize != "" {
		args = append(args, "-maxrate", cfg.MaxRate, "-bufsize", cfg.BufSize)
	}
	return append(args, output)
}

// remuxArgs performs a container-only conversion to MP4: stream copy, no
// re-encode. Fails fast when the payload codecs don't fit MP4; the
// pipeline then falls back to a full re-encode.
func remuxArgs(input, output string) []string {
	return []string{
		"-y",
		"-i", input,
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4",
		output,
	}
}

// embedTagArgs rewrites the finished audio file with track metadata and,
// where the container supports it, attached cover art. Stream copy only.
func embedTagArgs(input, coverPath, output, formatID string, meta TrackMetadata) []string {
	args := []string{"-y", "-i", input}

	// Opus/Vorbis cover embedding through ffmpeg is unreliable; tags only.
	withArt := coverPath != "" && (formatID == "mp3" || formatID == "aac")
	if withArt {
		args = append(args,
			"-i", coverPath,
			"-map", "0:a",
			"-map", "1:v",
			"-c", "copy",
			"-disposition:v:0", "attached_pic",
		)
	} else {
		args = append(args, "-map", "0:a", "-c", "copy")
	}
	if formatID == "mp3" {
		args = append(args, "-id3v2_version", "3")
	}

	if meta.Title != "" {
		args = append(args, "-metadata", "title="+meta.Title)
	}
	if meta.Artist != "" {
		args = append(args, "-metadata", "artist="+meta.Artist)
	}
	if meta.Year != "" {
		args = append(args, "-metadata", "date="+meta.Year)
	}
	if meta.Genre != "" {
		args = append(args, "-metadata", "genre="+meta.Genre)
	}
	return append(args, output)
}
