package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// downloadedExtensions is the fixed list of extensions tried when
// locating the fetched file, before falling back to a prefix scan.
var downloadedExtensions = []string{".mp4", ".m4a", ".mp3", ".webm", ".mkv", ".opus", ".ogg", ".wav", ".flac"}

// Pipeline drives one conversion task end to end: admission, metadata
// probe, download, transcode, artwork, tag embedding and cleanup.
type Pipeline struct {
	registry *TaskRegistry
	gate     *AdmissionGate
	procs    *processTable
	killer   processKiller
	sup      *Supervisor
	fetcher  Fetcher
	counters *statCounters

	ffmpegBin   string
	downloadDir string
	tempDir     string
	log         zerolog.Logger
}

func newPipeline(registry *TaskRegistry, gate *AdmissionGate, procs *processTable, killer processKiller, sup *Supervisor, fetcher Fetcher, counters *statCounters, downloadDir, tempDir string, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		registry:    registry,
		gate:        gate,
		procs:       procs,
		killer:      killer,
		sup:         sup,
		fetcher:     fetcher,
		counters:    counters,
		ffmpegBin:   envOrDefault("FFMPEG_BIN", "ffmpeg"),
		downloadDir: downloadDir,
		tempDir:     tempDir,
		log:         log,
	}
}

// Run executes the whole conversion for one task. It is spawned detached
// from the submit request and owns all of its error handling.
func (p *Pipeline) Run(taskID string, req ConvertRequest) {
	p.counters.started.Add(1)
	start := time.Now()

	acquired := false
	defer func() {
		if acquired {
			p.gate.Release()
		}
	}()

	if err := p.gate.Acquire(context.Background()); err != nil {
		p.counters.busy.Add(1)
		p.log.Warn().Str("task", shortID(taskID)).Msg("admission wait expired, rejecting")
		p.registry.Terminate(taskID, StatusError, 0, "Server is busy. Please try again in a few minutes.")
		return
	}
	acquired = true

	p.registry.Update(taskID, func(st *TaskState) {
		st.Status = StatusConnecting
		st.Percent = 3
		st.Message = "Connecting..."
	})

	// Metadata probe is advisory: on failure fall back to a conservative
	// one-hour duration instead of aborting.
	title, artist := "download", "Unknown"
	uploadDate := ""
	durationSecs := 3600
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 60*time.Second)
	src, err := p.fetcher.Probe(probeCtx, req.URL)
	cancelProbe()
	if err != nil {
		p.log.Warn().Str("task", shortID(taskID)).Err(err).Msg("metadata probe failed, using defaults")
	} else {
		durationSecs = int(src.Duration)
		title = cleanTitle(src.Title, firstNonEmpty(src.Track, src.AltTitle), src.Description)
		artist = cleanArtist(src.Artist, src.Creator, src.Uploader, src.Channel)
		uploadDate = src.UploadDate
	}

	dlTimeout := downloadTimeout(durationSecs)
	encTimeout := encodeTimeout(durationSecs)

	outputBase := filepath.Join(p.downloadDir, taskID)
	formatExpr := "bestaudio[ext=m4a]/bestaudio/best"
	mergeMP4 := false
	if req.Format == "video" {
		expr, ok := videoQualityFormats[req.Quality]
		if !ok {
			expr = videoQualityFormats["best"]
		}
		formatExpr = expr
		mergeMP4 = true
	}

	p.registry.Update(taskID, func(st *TaskState) {
		st.Status = StatusStarting
		st.Percent = 5
		st.Message = "Starting download..."
	})

	// The blocking fetch runs detached so it can be bounded by its own
	// duration-derived timeout.
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.fetcher.Download(taskID, req.URL, outputBase+".%(ext)s", formatExpr, mergeMP4,
			func(rep FetchProgress) { p.reportDownloadProgress(taskID, rep) })
	}()

	select {
	case err := <-errCh:
		if err != nil {
			p.failTask(taskID, err)
			return
		}
	case <-time.After(dlTimeout):
		p.procs.Kill(taskID, p.killer)
		p.failTask(taskID, fmt.Errorf("download timed out after %d minutes", int(dlTimeout.Minutes())))
		return
	}

	p.registry.Update(taskID, func(st *TaskState) {
		st.Status = StatusProcessing
		st.Percent = 86
		st.Message = "Download complete. Locating file..."
		st.Speed = 0
		st.SpeedStr = ""
		st.ETA = 0
	})

	downloaded, err := p.locateDownload(taskID, outputBase)
	if err != nil {
		p.failTask(taskID, err)
		return
	}
	if info, err := os.Stat(downloaded); err == nil {
		p.log.Info().Str("task", shortID(taskID)).Str("file", downloaded).
			Int64("bytes", info.Size()).Msg("download complete")
	}

	var outputFile string
	hasThumbnail := false
	if req.Format == "video" {
		outputFile, err = p.runVideo(taskID, downloaded, req.Quality, encTimeout)
	} else {
		outputFile, hasThumbnail, err = p.runAudio(taskID, downloaded, req.AudioFormat, encTimeout, src, title, artist, uploadDate)
	}
	if err != nil {
		p.failTask(taskID, err)
		return
	}

	info, err := os.Stat(outputFile)
	if err != nil {
		p.failTask(taskID, fmt.Errorf("final output file not found"))
		return
	}
	if info.Size() < MinOutputBytes {
		p.failTask(taskID, fmt.Errorf("output file too small"))
		return
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(outputFile)), ".")
	safeTitle := sanitizeFilename(title)
	elapsed := time.Since(start)

	final := TaskState{
		Message:      fmt.Sprintf("Ready! (took %s)", formatElapsed(elapsed)),
		Title:        safeTitle,
		Filename:     filepath.Base(outputFile),
		FileSize:     info.Size(),
		HasThumbnail: hasThumbnail,
		Format:       req.Format,
		Extension:    ext,
	}
	if req.Format == "audio" {
		final.AudioFormat = req.AudioFormat
		final.Quality = audioFormats[req.AudioFormat].Quality
	} else {
		final.Quality = req.Quality
	}
	p.registry.Complete(taskID, final)
	p.counters.completed.Add(1)

	p.log.Info().Str("task", shortID(taskID)).Str("title", truncate(safeTitle, 30)).
		Int64("bytes", info.Size()).Str("ext", ext).Dur("elapsed", elapsed).Msg("conversion completed")
}

func (p *Pipeline) reportDownloadProgress(taskID string, rep FetchProgress) {
	p.registry.Update(taskID, func(st *TaskState) {
		st.Status = StatusDownloading
		if rep.TotalBytes > 0 {
			pct := math.Min(float64(rep.DownloadedBytes)/float64(rep.TotalBytes)*85, 85)
			if pct > st.Percent {
				st.Percent = pct
			}
		} else {
			// Total size unknown: trickle forward so the bar never freezes.
			st.Percent = math.Min(st.Percent+0.3, 85)
		}
		st.Speed = rep.Speed
		st.SpeedStr = rep.SpeedStr
		st.ETA = rep.ETA
		st.DownloadedBytes = rep.DownloadedBytes
		st.TotalBytes = rep.TotalBytes

		if rep.TotalBytes > 0 {
			st.Message = fmt.Sprintf("Downloading... %d%% (%.1f/%.1f MB)",
				int(st.Percent),
				float64(rep.DownloadedBytes)/(1024*1024),
				float64(rep.TotalBytes)/(1024*1024))
		} else {
			st.Message = fmt.Sprintf("Downloading... %d%%", int(st.Percent))
		}
		if rep.SpeedStr != "" {
			st.Message += " @ " + rep.SpeedStr
		}
	})
}

// locateDownload finds the fetched file by trying the expected extension
// list, then scanning for any task-prefixed file.
func (p *Pipeline) locateDownload(taskID, outputBase string) (string, error) {
	for _, ext := range downloadedExtensions {
		candidate := outputBase + ext
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	entries, err := os.ReadDir(p.downloadDir)
	if err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), taskID) {
				return filepath.Join(p.downloadDir, e.Name()), nil
			}
		}
	}
	return "", fmt.Errorf("downloaded file not found")
}

func (p *Pipeline) runAudio(taskID, downloaded, formatID string, encTimeout time.Duration, src *SourceInfo, title, artist, uploadDate string) (string, bool, error) {
	spec, ok := audioFormats[formatID]
	if !ok {
		formatID = "mp3"
		spec = audioFormats[formatID]
	}

	p.registry.Update(taskID, func(st *TaskState) {
		st.Status = StatusProcessing
		st.Percent = 88
		st.Message = "Converting to " + spec.Name + "..."
	})

	outputBase := filepath.Join(p.downloadDir, taskID)
	audioTemp := outputBase + "_temp." + spec.Extension

	ok, errOut := p.sup.Run(taskID, encTimeout, StatusProcessing, p.ffmpegBin,
		audioTranscodeArgs(downloaded, audioTemp, spec)...)
	if !ok {
		return "", false, fmt.Errorf("audio conversion failed: %s", truncate(errOut, 150))
	}
	if _, err := os.Stat(audioTemp); err != nil {
		return "", false, fmt.Errorf("audio conversion failed: output missing")
	}

	// Artwork is best-effort; a failure degrades the result, never the task.
	thumbPath := filepath.Join(p.tempDir, taskID+"_thumb.jpg")
	thumbOK := false
	if src != nil {
		p.registry.Update(taskID, func(st *TaskState) {
			st.Percent = 92
			st.Message = "Downloading artwork..."
		})
		if thumbURL := bestThumbnailURL(src); thumbURL != "" {
			thumbOK = downloadArtwork(thumbURL, thumbPath)
		}
	}

	year := ""
	if len(uploadDate) >= 4 {
		year = uploadDate[:4]
	}
	meta := TrackMetadata{Title: title, Artist: artist, Year: year, Genre: "Music"}

	p.registry.Update(taskID, func(st *TaskState) {
		st.Status = StatusEmbedding
		st.Percent = 95
		st.Message = "Embedding metadata..."
	})

	finalAudio := outputBase + "." + spec.Extension
	cover := ""
	if thumbOK {
		cover = thumbPath
	}
	ok, errOut = p.sup.Run(taskID, encTimeout, StatusEmbedding, p.ffmpegBin,
		embedTagArgs(audioTemp, cover, finalAudio, formatID, meta)...)
	if !ok {
		// Tag embedding is non-fatal: ship the untagged transcode.
		p.log.Warn().Str("task", shortID(taskID)).Str("stderr", truncate(errOut, 150)).Msg("metadata embed failed")
		if err := os.Rename(audioTemp, finalAudio); err != nil {
			return "", false, fmt.Errorf("audio finalize failed: %v", err)
		}
		thumbOK = false
	}

	_ = os.Remove(audioTemp)
	if downloaded != finalAudio {
		_ = os.Remove(downloaded)
	}
	_ = os.Remove(thumbPath)

	return finalAudio, thumbOK, nil
}

func (p *Pipeline) runVideo(taskID, downloaded, quality string, encTimeout time.Duration) (string, error) {
	if quality == "" {
		quality = "best"
	}

	outputBase := filepath.Join(p.downloadDir, taskID)
	desired := outputBase + ".mp4"
	srcExt := strings.ToLower(filepath.Ext(downloaded))

	// Best quality and the source is already MP4: nothing to transcode.
	if quality == "best" && srcExt == ".mp4" {
		return downloaded, nil
	}

	temp := desired
	if sameFile(downloaded, desired) {
		temp = outputBase + "__enc.mp4"
	}

	// Best quality in a WebM/MKV container: try a stream-copy remux
	// first and fall back to a full re-encode when the codecs don't fit.
	if quality == "best" && (srcExt == ".webm" || srcExt == ".mkv") {
		p.registry.Update(taskID, func(st *TaskState) {
			st.Status = StatusProcessing
			st.Percent = 88
			st.Message = "Remuxing to MP4..."
		})
		if ok, errOut := p.sup.Run(taskID, encTimeout, StatusProcessing, p.ffmpegBin,
			remuxArgs(downloaded, temp)...); ok {
			return p.finishVideo(downloaded, temp, desired)
		} else {
			p.log.Warn().Str("task", shortID(taskID)).Str("stderr", truncate(errOut, 150)).Msg("remux failed, falling back to re-encode")
			_ = os.Remove(temp)
		}
	}

	p.registry.Update(taskID, func(st *TaskState) {
		st.Status = StatusProcessing
		st.Percent = 88
		st.Message = "Converting to QuickTime-compatible MP4..."
	})

	ok, errOut := p.sup.Run(taskID, encTimeout, StatusProcessing, p.ffmpegBin,
		videoEncodeArgs(downloaded, temp, quality)...)
	if !ok {
		return "", fmt.Errorf("video conversion failed: %s", truncate(errOut, 200))
	}
	if _, err := os.Stat(temp); err != nil {
		return "", fmt.Errorf("video conversion failed: output missing")
	}
	return p.finishVideo(downloaded, temp, desired)
}

func (p *Pipeline) finishVideo(downloaded, temp, desired string) (string, error) {
	if !sameFile(temp, desired) {
		_ = os.Remove(desired)
		if err := os.Rename(temp, desired); err != nil {
			return "", fmt.Errorf("video finalize failed: %v", err)
		}
	}
	if !sameFile(downloaded, desired) {
		_ = os.Remove(downloaded)
	}
	return desired, nil
}

// failTask converts any pipeline error into the terminal error state:
// kill whatever process is still attributed to the task, store a
// truncated message, and delete every task-prefixed artifact.
func (p *Pipeline) failTask(taskID string, err error) {
	msg := truncate(err.Error(), MaxStoredErrorLen)
	p.log.Error().Str("task", shortID(taskID)).Err(err).Msg("conversion failed")

	p.procs.Kill(taskID, p.killer)
	p.registry.Terminate(taskID, StatusError, 0, "Error: "+msg)
	p.CleanupTaskFiles(taskID)
	p.counters.failed.Add(1)
}

// Cancel kills any attributed process, marks the task cancelled and
// removes its artifacts. Safe to call repeatedly.
func (p *Pipeline) Cancel(taskID string) {
	p.procs.Kill(taskID, p.killer)
	p.registry.Terminate(taskID, StatusCancelled, 0, "Download cancelled by user")
	p.CleanupTaskFiles(taskID)
	p.counters.cancelled.Add(1)
	p.log.Info().Str("task", shortID(taskID)).Msg("task cancelled")
}

// CleanupTaskFiles best-effort deletes every file in both working
// directories whose name is prefixed by the task id.
func (p *Pipeline) CleanupTaskFiles(taskID string) {
	for _, dir := range []string{p.downloadDir, p.tempDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), taskID) {
				_ = os.Remove(filepath.Join(dir, e.Name()))
			}
		}
	}
}

func sameFile(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return aa == bb
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	if secs >= 60 {
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	}
	return fmt.Sprintf("%ds", secs)
}
