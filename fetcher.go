package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// FetchProgress is one incremental byte-progress report from a download.
type FetchProgress struct {
	DownloadedBytes int64
	TotalBytes      int64
	Speed           float64 // bytes per second
	SpeedStr        string  // human readable, e.g. "1.23MiB/s"
	ETA             int     // seconds
}

// SourceThumbnail is one thumbnail variant advertised by the source.
type SourceThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// SourceInfo is the descriptive metadata resolved for a URL.
type SourceInfo struct {
	Title       string
	Track       string
	AltTitle    string
	Description string
	Uploader    string
	Artist      string
	Creator     string
	Channel     string
	UploadDate  string
	Duration    float64
	Thumbnail   string
	Thumbnails  []SourceThumbnail
	Heights     []int
}

// Fetcher resolves a URL to metadata and, in full-download mode, a local
// media file, reporting incremental byte progress via callback.
type Fetcher interface {
	Probe(ctx context.Context, url string) (*SourceInfo, error)
	// Download blocks until the fetch finishes or its child process is
	// killed. The running process is registered under taskID so cancel
	// and stall handling can terminate it.
	Download(taskID, url, outputTemplate, formatExpr string, mergeMP4 bool, progress func(FetchProgress)) error
}

// ytdlpFetcher shells out to yt-dlp.
type ytdlpFetcher struct {
	binary string
	procs  *processTable
	log    zerolog.Logger
}

func newYtdlpFetcher(procs *processTable, log zerolog.Logger) *ytdlpFetcher {
	return &ytdlpFetcher{
		binary: envOrDefault("YTDLP_BIN", "yt-dlp"),
		procs:  procs,
		log:    log,
	}
}

func (f *ytdlpFetcher) baseArgs() []string {
	args := []string{
		"--no-warnings",
		"--no-playlist",
		"--no-check-certificates",
		"--geo-bypass",
		"--socket-timeout", "60",
		"--retries", "10",
		"--fragment-retries", "10",
		"--user-agent", browserUserAgent,
	}
	if _, err := os.Stat("cookies.txt"); err == nil {
		args = append(args, "--cookies", "cookies.txt")
	}
	return args
}

type ytdlpJSON struct {
	Type        string  `json:"_type"`
	Title       string  `json:"title"`
	FullTitle   string  `json:"fulltitle"`
	Track       string  `json:"track"`
	AltTitle    string  `json:"alt_title"`
	Description string  `json:"description"`
	Uploader    string  `json:"uploader"`
	Artist      string  `json:"artist"`
	Creator     string  `json:"creator"`
	Channel     string  `json:"channel"`
	UploadDate  string  `json:"upload_date"`
	Duration    float64 `json:"duration"`
	Thumbnail   string  `json:"thumbnail"`
	Thumbnails  []SourceThumbnail `json:"thumbnails"`
	Formats     []struct {
		Height int `json:"height"`
	} `json:"formats"`
	Entries []json.RawMessage `json:"entries"`
}

func (f *ytdlpFetcher) Probe(ctx context.Context, url string) (*SourceInfo, error) {
	args := append(f.baseArgs(), "-J", "--skip-download", url)
	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("metadata probe failed: %v | %s", err, strings.TrimSpace(stderr.String()))
	}

	var info ytdlpJSON
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("metadata parse error: %w", err)
	}
	// Some extractors still hand back a playlist wrapper; take the first entry.
	if info.Type == "playlist" && len(info.Entries) > 0 {
		if err := json.Unmarshal(info.Entries[0], &info); err != nil {
			return nil, fmt.Errorf("metadata parse error: %w", err)
		}
	}

	src := &SourceInfo{
		Title:       firstNonEmpty(info.Title, info.FullTitle),
		Track:       info.Track,
		AltTitle:    info.AltTitle,
		Description: info.Description,
		Uploader:    info.Uploader,
		Artist:      info.Artist,
		Creator:     info.Creator,
		Channel:     info.Channel,
		UploadDate:  info.UploadDate,
		Duration:    info.Duration,
		Thumbnail:   info.Thumbnail,
		Thumbnails:  info.Thumbnails,
	}
	for _, fm := range info.Formats {
		if fm.Height > 0 {
			src.Heights = append(src.Heights, fm.Height)
		}
	}
	return src, nil
}

// downloadLineRe matches yt-dlp --newline progress lines, e.g.
// "[download]  45.2% of ~10.55MiB at 1.23MiB/s ETA 00:05".
var downloadLineRe = regexp.MustCompile(
	`^\[download\]\s+([\d.]+)% of ~?\s*([\d.]+)(B|KiB|MiB|GiB)(?:\s+at\s+([\d.]+)(B|KiB|MiB|GiB)/s)?(?:\s+ETA\s+([\d:]+))?`)

func (f *ytdlpFetcher) Download(taskID, url, outputTemplate, formatExpr string, mergeMP4 bool, progress func(FetchProgress)) error {
	args := append(f.baseArgs(),
		"--newline",
		"--concurrent-fragments", "4",
		"-f", formatExpr,
		"-o", outputTemplate,
	)
	if mergeMP4 {
		args = append(args, "--merge-output-format", "mp4")
	}
	args = append(args, url)

	cmd := exec.Command(f.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yt-dlp: %w", err)
	}
	f.procs.Track(taskID, cmd)
	defer f.procs.Clear(taskID)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "[download]") {
			continue
		}
		rep, ok := parseDownloadLine(line)
		if !ok {
			// Progress line without a byte count; still a sign of life.
			progress(FetchProgress{})
			continue
		}
		progress(rep)
	}

	if err := cmd.Wait(); err != nil {
		out := strings.TrimSpace(stderr.String())
		if out == "" {
			out = err.Error()
		}
		return fmt.Errorf("download failed: %s", out)
	}
	return nil
}

func parseDownloadLine(line string) (FetchProgress, bool) {
	m := downloadLineRe.FindStringSubmatch(line)
	if m == nil {
		return FetchProgress{}, false
	}
	percent, _ := strconv.ParseFloat(m[1], 64)
	total := sizeToBytes(m[2], m[3])
	rep := FetchProgress{
		TotalBytes:      total,
		DownloadedBytes: int64(percent / 100 * float64(total)),
	}
	if m[4] != "" {
		rep.Speed = float64(sizeToBytes(m[4], m[5]))
		rep.SpeedStr = m[4] + m[5] + "/s"
	}
	if m[6] != "" {
		rep.ETA = parseClock(m[6])
	}
	return rep, true
}

func sizeToBytes(value, unit string) int64 {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	switch unit {
	case "KiB":
		v *= 1024
	case "MiB":
		v *= 1024 * 1024
	case "GiB":
		v *= 1024 * 1024 * 1024
	}
	return int64(v)
}

func parseClock(s string) int {
	parts := strings.Split(s, ":")
	secs := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0
		}
		secs = secs*60 + n
	}
	return secs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
