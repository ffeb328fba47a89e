package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// StallMonitor watches every non-terminal task for progress heartbeats
// and force-fails the ones whose state has not moved within the stage's
// stall threshold.
type StallMonitor struct {
	registry *TaskRegistry
	pipeline *Pipeline
	procs    *processTable
	killer   processKiller
	counters *statCounters
	interval time.Duration
	log      zerolog.Logger
}

func newStallMonitor(registry *TaskRegistry, pipeline *Pipeline, procs *processTable, killer processKiller, counters *statCounters, log zerolog.Logger) *StallMonitor {
	return &StallMonitor{
		registry: registry,
		pipeline: pipeline,
		procs:    procs,
		killer:   killer,
		counters: counters,
		interval: StallScanInterval,
		log:      log,
	}
}

func (m *StallMonitor) Loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(time.Now())
		}
	}
}

func (m *StallMonitor) scan(now time.Time) {
	for id, st := range m.registry.Snapshot() {
		threshold, watched := stallThreshold(st.Status)
		if !watched || st.LastActivity.IsZero() {
			continue
		}
		idle := now.Sub(st.LastActivity)
		if idle < threshold {
			continue
		}
		m.log.Warn().Str("task", shortID(id)).Str("status", string(st.Status)).
			Dur("idle", idle).Msg("task stalled, killing")

		m.procs.Kill(id, m.killer)
		m.registry.Terminate(id, StatusError, 0, "Process stalled. Please try again.")
		m.pipeline.CleanupTaskFiles(id)
		m.counters.stalled.Add(1)
	}
}

// stallThreshold returns the idle cutoff for a stage, and whether the
// stage is subject to stall detection at all.
func stallThreshold(status TaskStatus) (time.Duration, bool) {
	switch status {
	case StatusInitializing, StatusConnecting, StatusStarting, StatusDownloading:
		// Longer than the admission wait, so a task queued on the gate
		// is never mistaken for a stall.
		return StallTimeout, true
	case StatusProcessing, StatusEmbedding:
		return ProcessingStallTimeout, true
	default:
		return 0, false
	}
}

// Janitor reclaims disk space: any file in the working directories older
// than the cleanup age is deleted unless its owning task is still live.
// It also expires stale thumbnail cache entries.
type Janitor struct {
	registry *TaskRegistry
	thumbs   *thumbnailCache
	counters *statCounters
	dirs     []string
	interval time.Duration
	maxAge   time.Duration
	log      zerolog.Logger
}

func newJanitor(registry *TaskRegistry, thumbs *thumbnailCache, counters *statCounters, downloadDir, tempDir string, log zerolog.Logger) *Janitor {
	return &Janitor{
		registry: registry,
		thumbs:   thumbs,
		counters: counters,
		dirs:     []string{downloadDir, tempDir},
		interval: CleanupInterval,
		maxAge:   CleanupAge,
		log:      log,
	}
}

func (j *Janitor) Loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(time.Now())
		}
	}
}

func (j *Janitor) sweep(now time.Time) {
	removed := 0
	for _, dir := range j.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) < j.maxAge {
				continue
			}
			if owner := fileOwnerID(e.Name()); owner != "" && j.registry.Active(owner) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		j.counters.reaped.Add(int64(removed))
		j.log.Info().Int("files", removed).Msg("janitor reclaimed old files")
	}
	if j.thumbs != nil {
		j.thumbs.Expire(ThumbnailCacheTTL)
	}
}

// fileOwnerID extracts the task id prefix from an artifact filename,
// cutting at the first '.' or '_' separator.
func fileOwnerID(name string) string {
	if i := strings.IndexAny(name, "._"); i > 0 {
		return name[:i]
	}
	return name
}
