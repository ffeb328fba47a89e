package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var errDurationTooLong = errors.New("video is too long")

// supportedPlatforms is the static catalog behind /api/supported-platforms.
var supportedPlatforms = []map[string]string{
	{"id": "youtube", "name": "YouTube", "example": "https://www.youtube.com/watch?v=..."},
	{"id": "facebook", "name": "Facebook", "example": "https://www.facebook.com/watch?v=..."},
	{"id": "instagram", "name": "Instagram", "example": "https://www.instagram.com/reel/..."},
	{"id": "tiktok", "name": "TikTok", "example": "https://www.tiktok.com/@user/video/..."},
	{"id": "twitter", "name": "X (Twitter)", "example": "https://x.com/user/status/..."},
}

// Server wires the HTTP API to the conversion machinery.
type Server struct {
	registry  *TaskRegistry
	pipeline  *Pipeline
	gate      *AdmissionGate
	procs     *processTable
	killer    processKiller
	fetcher   Fetcher
	info      *infoCache
	thumbs    *thumbnailCache
	redis     *redisMirror
	counters  *statCounters
	infoGroup singleflight.Group

	downloadDir string
	adminToken  string
	startedAt   time.Time
	log         zerolog.Logger
}

func newServer(registry *TaskRegistry, pipeline *Pipeline, gate *AdmissionGate, procs *processTable, killer processKiller, fetcher Fetcher, info *infoCache, thumbs *thumbnailCache, redis *redisMirror, counters *statCounters, downloadDir string, log zerolog.Logger) *Server {
	return &Server{
		registry:    registry,
		pipeline:    pipeline,
		gate:        gate,
		procs:       procs,
		killer:      killer,
		fetcher:     fetcher,
		info:        info,
		thumbs:      thumbs,
		redis:       redis,
		counters:    counters,
		downloadDir: downloadDir,
		adminToken:  os.Getenv("ADMIN_TOKEN"),
		startedAt:   time.Now(),
		log:         log,
	}
}

func (s *Server) router() *chi.Mux {
	infoLimit := newIPRateLimiter(InfoRatePerMinute)
	convertLimit := newIPRateLimiter(ConvertRatePerMinute)
	downloadLimit := newIPRateLimiter(DownloadRatePerMinute)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(corsMiddleware)

	r.With(convertLimit.middleware).Post("/api/convert", s.handleConvert)
	r.Get("/api/progress/{id}", s.handleProgress)
	r.Post("/api/cancel/{id}", s.handleCancel)
	r.With(downloadLimit.middleware).Get("/api/download/{id}", s.handleDownload)
	r.With(infoLimit.middleware).Post("/api/video-info", s.handleVideoInfo)
	r.Get("/api/audio-formats", s.handleAudioFormats)
	r.Get("/api/supported-platforms", s.handleSupportedPlatforms)
	r.Get("/api/thumbnail/{id}", s.handleThumbnail)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/kill-all", s.handleKillAll)
		r.Get("/status", s.handleAdminStatus)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "No URL provided")
		return
	}
	req.URL = normalizeMediaURL(req.URL)
	if !validateMediaURL(req.URL) {
		writeError(w, http.StatusBadRequest, "Invalid or unsupported URL")
		return
	}

	if req.Format == "" {
		req.Format = "audio"
	}
	switch req.Format {
	case "audio":
		if req.AudioFormat == "" {
			req.AudioFormat = "mp3"
		}
		if _, ok := audioFormats[req.AudioFormat]; !ok {
			writeError(w, http.StatusBadRequest, "Invalid audio format")
			return
		}
	case "video":
		if req.Quality == "" {
			req.Quality = "best"
		}
		if _, ok := videoQualityFormats[req.Quality]; !ok {
			writeError(w, http.StatusBadRequest, "Invalid video quality")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "Invalid format, must be audio or video")
		return
	}

	taskID := uuid.New().String()
	s.registry.Create(taskID)
	go s.pipeline.Run(taskID, req)

	s.log.Info().Str("task", shortID(taskID)).Str("format", req.Format).
		Str("platform", platformLabel(req.URL)).Msg("conversion accepted")
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusOK, TaskState{
			Status:  StatusUnknown,
			Percent: 0,
			Message: "Task not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if !st.Status.Terminal() {
		s.pipeline.Cancel(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.registry.Get(id)
	if !ok || st.Status != StatusCompleted || st.Filename == "" {
		writeError(w, http.StatusNotFound, "File not found or not ready")
		return
	}

	path := filepath.Join(s.downloadDir, filepath.Base(st.Filename))
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "File not found or not ready")
		return
	}

	title := st.Title
	if q := r.URL.Query().Get("title"); q != "" {
		title = sanitizeFilename(q)
	}
	if title == "" {
		title = "download"
	}
	downloadName := title + "." + st.Extension

	w.Header().Set("Content-Type", mimeForTask(st))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	http.ServeFile(w, r, path)

	// The progress entry lingers briefly so a client that polls right
	// after downloading still sees the completed state.
	time.AfterFunc(ProgressDropDelay, func() { s.registry.Remove(id) })
	s.log.Info().Str("task", shortID(id)).Str("file", downloadName).Msg("file served")
}

func mimeForTask(st TaskState) string {
	if st.Format == "video" {
		return "video/mp4"
	}
	if spec, ok := audioFormats[st.AudioFormat]; ok {
		return spec.MIME
	}
	return "application/octet-stream"
}

func (s *Server) handleVideoInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "No URL provided")
		return
	}
	url := normalizeMediaURL(req.URL)
	if !validateMediaURL(url) {
		writeError(w, http.StatusBadRequest, "Invalid or unsupported URL")
		return
	}

	hash := urlHash(url)
	if desc, ok := s.info.Get(hash); ok {
		writeJSON(w, http.StatusOK, desc)
		return
	}
	if desc, ok := s.redis.GetInfo(hash); ok {
		s.info.Put(hash, desc)
		writeJSON(w, http.StatusOK, desc)
		return
	}

	// Concurrent lookups of the same URL share one probe.
	v, err, _ := s.infoGroup.Do(hash, func() (any, error) {
		return s.describeMedia(url, hash)
	})
	if err != nil {
		if errors.Is(err, errDurationTooLong) {
			writeError(w, http.StatusBadRequest, "Video is too long. Maximum duration is 4 hours.")
			return
		}
		s.log.Warn().Str("url", url).Err(err).Msg("video info probe failed")
		writeError(w, http.StatusInternalServerError, "Failed to fetch video information")
		return
	}
	writeJSON(w, http.StatusOK, v.(MediaDescription))
}

func (s *Server) describeMedia(url, hash string) (MediaDescription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	src, err := s.fetcher.Probe(ctx, url)
	if err != nil {
		return MediaDescription{}, err
	}

	duration := int(src.Duration)
	if duration > MaxDurationSeconds {
		return MediaDescription{}, errDurationTooLong
	}

	platform := platformLabel(url)
	thumbnail := bestThumbnailURL(src)
	// Facebook, Instagram and TikTok thumbnails carry signed CDN params
	// that break in browsers, so those are proxied through us.
	switch platform {
	case "Facebook", "Instagram", "TikTok":
		if thumbnail != "" {
			s.thumbs.Put(hash, thumbnail, nil)
			thumbnail = "/api/thumbnail/" + hash
		}
	}

	desc := MediaDescription{
		Success:            true,
		Title:              cleanTitle(src.Title, firstNonEmpty(src.Track, src.AltTitle), src.Description),
		Duration:           duration,
		DurationFormatted:  formatClock(duration),
		Thumbnail:          thumbnail,
		Uploader:           firstNonEmpty(src.Uploader, src.Channel, src.Artist),
		Platform:           platform,
		AvailableQualities: availableQualities(src.Heights),
	}
	s.info.Put(hash, desc)
	s.redis.SaveInfo(hash, desc)
	return desc, nil
}

func availableQualities(heights []int) []string {
	maxHeight := 0
	for _, h := range heights {
		if h > maxHeight {
			maxHeight = h
		}
	}
	qualities := []string{"best"}
	for _, tier := range []struct {
		label  string
		height int
	}{
		{"1080p", 1080}, {"720p", 720}, {"480p", 480}, {"360p", 360}, {"144p", 144},
	} {
		if maxHeight >= tier.height {
			qualities = append(qualities, tier.label)
		}
	}
	return qualities
}

func formatClock(seconds int) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func (s *Server) handleAudioFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"formats": audioFormats})
}

func (s *Server) handleSupportedPlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"platforms": supportedPlatforms})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	url, data, ok := s.thumbs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Thumbnail not found")
		return
	}
	if data == nil {
		fetched, err := fetchThumbnailBytes(url)
		if err != nil {
			writeError(w, http.StatusBadGateway, "Thumbnail fetch failed")
			return
		}
		s.thumbs.SetData(id, fetched)
		data = fetched
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"active_tasks":     s.registry.Len(),
		"active_processes": s.procs.Len(),
		"available_slots":  s.gate.Available(),
		"cache_size":       s.info.Len(),
		"uptime_seconds":   int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"counters": s.counters.snapshot(),
		"gauges": map[string]any{
			"active_tasks":     s.registry.Len(),
			"active_processes": s.procs.Len(),
			"available_slots":  s.gate.Available(),
			"info_cache_size":  s.info.Len(),
			"thumb_cache_size": s.thumbs.Len(),
		},
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" || r.Header.Get("X-Admin-Token") != s.adminToken {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleKillAll(w http.ResponseWriter, r *http.Request) {
	killed := s.procs.KillAll(s.killer)
	cancelled := 0
	for id, st := range s.registry.Snapshot() {
		if !st.Status.Terminal() {
			s.registry.Terminate(id, StatusCancelled, 0, "Cancelled by administrator")
			s.pipeline.CleanupTaskFiles(id)
			cancelled++
		}
	}
	s.log.Warn().Int("processes", killed).Int("tasks", cancelled).Msg("admin kill-all")
	writeJSON(w, http.StatusOK, map[string]int{
		"killed_processes": killed,
		"cancelled_tasks":  cancelled,
	})
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":            s.registry.Snapshot(),
		"active_processes": s.procs.ActiveIDs(),
		"available_slots":  s.gate.Available(),
	})
}
