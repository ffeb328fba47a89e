package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher satisfies Fetcher without shelling out. Download writes a
// file where the real fetch would and replays canned progress reports.
type fakeFetcher struct {
	mu          sync.Mutex
	probeCalls  int
	info        *SourceInfo
	probeErr    error
	downloadErr error
	writeExt    string
	reports     []FetchProgress
}

func (f *fakeFetcher) Probe(ctx context.Context, url string) (*SourceInfo, error) {
	f.mu.Lock()
	f.probeCalls++
	f.mu.Unlock()
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.info, nil
}

func (f *fakeFetcher) Download(taskID, url, outputTemplate, formatExpr string, mergeMP4 bool, progress func(FetchProgress)) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	path := strings.Replace(outputTemplate, "%(ext)s", f.writeExt, 1)
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		return err
	}
	for _, rep := range f.reports {
		progress(rep)
	}
	return nil
}

// writeStubFFmpeg creates a shell script that logs each invocation and
// writes a plausible output file to its last argument.
func writeStubFFmpeg(t *testing.T) (bin string, callLog string) {
	t.Helper()
	dir := t.TempDir()
	bin = filepath.Join(dir, "ffmpeg")
	callLog = filepath.Join(dir, "calls")
	script := "#!/bin/sh\n" +
		"echo \"$@\" >> " + callLog + "\n" +
		"for last in \"$@\"; do :; done\n" +
		"head -c 4096 /dev/zero > \"$last\"\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, callLog
}

func ffmpegCalls(t *testing.T, callLog string) []string {
	t.Helper()
	data, err := os.ReadFile(callLog)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func newTestPipeline(t *testing.T, fetcher Fetcher) (*Pipeline, string) {
	t.Helper()
	bin, callLog := writeStubFFmpeg(t)
	registry := newTaskRegistry()
	procs := newProcessTable()
	killer := plainKiller{}
	sup := &Supervisor{
		registry: registry,
		procs:    procs,
		killer:   killer,
		poll:     20 * time.Millisecond,
		ping:     10 * time.Millisecond,
		log:      zerolog.Nop(),
	}
	p := &Pipeline{
		registry:    registry,
		gate:        newAdmissionGate(2, time.Second),
		procs:       procs,
		killer:      killer,
		sup:         sup,
		fetcher:     fetcher,
		counters:    &statCounters{},
		ffmpegBin:   bin,
		downloadDir: t.TempDir(),
		tempDir:     t.TempDir(),
		log:         zerolog.Nop(),
	}
	return p, callLog
}

func defaultSourceInfo() *SourceInfo {
	return &SourceInfo{
		Title:      "My Song",
		Uploader:   "Some Channel",
		UploadDate: "20240115",
		Duration:   60,
	}
}

func TestPipelineAudioConversion(t *testing.T) {
	fetcher := &fakeFetcher{
		info:     defaultSourceInfo(),
		writeExt: "m4a",
		reports: []FetchProgress{
			{DownloadedBytes: 1024, TotalBytes: 4096, SpeedStr: "1.00MiB/s", ETA: 3},
			{DownloadedBytes: 4096, TotalBytes: 4096},
		},
	}
	p, callLog := newTestPipeline(t, fetcher)

	p.registry.Create("task-a")
	p.Run("task-a", ConvertRequest{URL: "https://www.youtube.com/watch?v=abc", Format: "audio", AudioFormat: "mp3"})

	st, ok := p.registry.Get("task-a")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, float64(100), st.Percent)
	assert.Contains(t, st.Message, "Ready!")
	assert.Equal(t, "task-a.mp3", st.Filename)
	assert.Equal(t, "mp3", st.Extension)
	assert.Equal(t, "audio", st.Format)
	assert.Equal(t, "mp3", st.AudioFormat)
	assert.Equal(t, "320kbps", st.Quality)
	assert.Equal(t, "My_Song", st.Title)
	assert.GreaterOrEqual(t, st.FileSize, int64(MinOutputBytes))

	assert.FileExists(t, filepath.Join(p.downloadDir, "task-a.mp3"))
	assert.NoFileExists(t, filepath.Join(p.downloadDir, "task-a_temp.mp3"))
	assert.NoFileExists(t, filepath.Join(p.downloadDir, "task-a.m4a"))

	// One transcode plus one tag-embed pass.
	assert.Len(t, ffmpegCalls(t, callLog), 2)
	assert.Equal(t, int64(1), p.counters.completed.Load())
	assert.Equal(t, int64(2), p.gate.Available())
}

func TestPipelineVideoBestMP4SkipsEncode(t *testing.T) {
	fetcher := &fakeFetcher{info: defaultSourceInfo(), writeExt: "mp4"}
	p, callLog := newTestPipeline(t, fetcher)

	p.registry.Create("task-v")
	p.Run("task-v", ConvertRequest{URL: "https://www.youtube.com/watch?v=abc", Format: "video", Quality: "best"})

	st, _ := p.registry.Get("task-v")
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "mp4", st.Extension)
	assert.Equal(t, "best", st.Quality)
	assert.FileExists(t, filepath.Join(p.downloadDir, "task-v.mp4"))
	assert.Empty(t, ffmpegCalls(t, callLog))
}

func TestPipelineVideoBestWebmRemuxes(t *testing.T) {
	fetcher := &fakeFetcher{info: defaultSourceInfo(), writeExt: "webm"}
	p, callLog := newTestPipeline(t, fetcher)

	p.registry.Create("task-w")
	p.Run("task-w", ConvertRequest{URL: "https://www.youtube.com/watch?v=abc", Format: "video", Quality: "best"})

	st, _ := p.registry.Get("task-w")
	assert.Equal(t, StatusCompleted, st.Status)
	assert.FileExists(t, filepath.Join(p.downloadDir, "task-w.mp4"))
	assert.NoFileExists(t, filepath.Join(p.downloadDir, "task-w.webm"))

	calls := ffmpegCalls(t, callLog)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "-c copy")
}

func TestPipelineVideoTierReencodes(t *testing.T) {
	fetcher := &fakeFetcher{info: defaultSourceInfo(), writeExt: "mp4"}
	p, callLog := newTestPipeline(t, fetcher)

	p.registry.Create("task-t")
	p.Run("task-t", ConvertRequest{URL: "https://www.youtube.com/watch?v=abc", Format: "video", Quality: "720p"})

	st, _ := p.registry.Get("task-t")
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "720p", st.Quality)
	assert.FileExists(t, filepath.Join(p.downloadDir, "task-t.mp4"))
	assert.NoFileExists(t, filepath.Join(p.downloadDir, "task-t__enc.mp4"))

	calls := ffmpegCalls(t, callLog)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "libx264")
	assert.Contains(t, calls[0], "scale=-2:720")
}

func TestPipelineDownloadFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		info:        defaultSourceInfo(),
		downloadErr: errors.New("download failed: video unavailable"),
	}
	p, _ := newTestPipeline(t, fetcher)

	p.registry.Create("task-f")
	p.Run("task-f", ConvertRequest{URL: "https://www.youtube.com/watch?v=abc", Format: "audio", AudioFormat: "mp3"})

	st, _ := p.registry.Get("task-f")
	assert.Equal(t, StatusError, st.Status)
	assert.True(t, strings.HasPrefix(st.Message, "Error: "))
	assert.Contains(t, st.Message, "video unavailable")
	assert.Equal(t, int64(1), p.counters.failed.Load())
	assert.Equal(t, int64(2), p.gate.Available())
}

func TestPipelineErrorMessageTruncated(t *testing.T) {
	fetcher := &fakeFetcher{
		info:        defaultSourceInfo(),
		downloadErr: errors.New(strings.Repeat("x", 1000)),
	}
	p, _ := newTestPipeline(t, fetcher)

	p.registry.Create("task-f")
	p.Run("task-f", ConvertRequest{URL: "https://www.youtube.com/watch?v=abc"})

	st, _ := p.registry.Get("task-f")
	assert.LessOrEqual(t, len(st.Message), len("Error: ")+MaxStoredErrorLen)
}

func TestPipelineProbeFailureStillConverts(t *testing.T) {
	fetcher := &fakeFetcher{
		probeErr: errors.New("metadata blocked"),
		writeExt: "m4a",
	}
	p, _ := newTestPipeline(t, fetcher)

	p.registry.Create("task-p")
	p.Run("task-p", ConvertRequest{URL: "https://www.youtube.com/watch?v=abc", Format: "audio", AudioFormat: "mp3"})

	st, _ := p.registry.Get("task-p")
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "download", st.Title)
}

func TestPipelineServerBusy(t *testing.T) {
	fetcher := &fakeFetcher{info: defaultSourceInfo(), writeExt: "m4a"}
	p, _ := newTestPipeline(t, fetcher)
	p.gate = newAdmissionGate(1, 50*time.Millisecond)
	require.NoError(t, p.gate.Acquire(context.Background()))

	p.registry.Create("task-b")
	p.Run("task-b", ConvertRequest{URL: "https://www.youtube.com/watch?v=abc"})

	st, _ := p.registry.Get("task-b")
	assert.Equal(t, StatusError, st.Status)
	assert.Contains(t, st.Message, "busy")
	assert.Equal(t, int64(1), p.counters.busy.Load())
}

func TestPipelineCancel(t *testing.T) {
	fetcher := &fakeFetcher{info: defaultSourceInfo(), writeExt: "m4a"}
	p, _ := newTestPipeline(t, fetcher)

	p.registry.Create("task-c")
	leftover := filepath.Join(p.downloadDir, "task-c.part")
	require.NoError(t, os.WriteFile(leftover, []byte("x"), 0o644))

	p.Cancel("task-c")

	st, _ := p.registry.Get("task-c")
	assert.Equal(t, StatusCancelled, st.Status)
	assert.Equal(t, "Download cancelled by user", st.Message)
	assert.NoFileExists(t, leftover)
	assert.Equal(t, int64(1), p.counters.cancelled.Load())
}

func TestReportDownloadProgress(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeFetcher{})
	p.registry.Create("t1")
	p.registry.Update("t1", func(st *TaskState) {
		st.Status = StatusStarting
		st.Percent = 5
	})

	// Known total: percent maps into the 0..85 window, monotonically.
	p.reportDownloadProgress("t1", FetchProgress{DownloadedBytes: 50, TotalBytes: 100, SpeedStr: "2.00MiB/s"})
	st, _ := p.registry.Get("t1")
	assert.Equal(t, StatusDownloading, st.Status)
	assert.InDelta(t, 42.5, st.Percent, 0.01)
	assert.Contains(t, st.Message, "2.00MiB/s")

	// A lower report never moves the bar backwards.
	p.reportDownloadProgress("t1", FetchProgress{DownloadedBytes: 10, TotalBytes: 100})
	st, _ = p.registry.Get("t1")
	assert.InDelta(t, 42.5, st.Percent, 0.01)

	// Unknown total trickles forward, capped at 85.
	for i := 0; i < 400; i++ {
		p.reportDownloadProgress("t1", FetchProgress{})
	}
	st, _ = p.registry.Get("t1")
	assert.Equal(t, float64(85), st.Percent)
}

func TestLocateDownloadPrefixFallback(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeFetcher{})
	path := filepath.Join(p.downloadDir, "task-x.f137.weird")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	found, err := p.locateDownload("task-x", filepath.Join(p.downloadDir, "task-x"))
	require.NoError(t, err)
	assert.Equal(t, path, found)

	_, err = p.locateDownload("task-missing", filepath.Join(p.downloadDir, "task-missing"))
	assert.Error(t, err)
}
