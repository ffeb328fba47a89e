package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configureLogging()
	log := logger()

	for _, dir := range []string{DownloadDir, TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("cannot create working directory")
		}
	}

	registry := newTaskRegistry()
	procs := newProcessTable()
	killer := selectProcessKiller(componentLogger("procs"))
	gate := newAdmissionGate(int64(envIntOrDefault("MAX_CONCURRENT", MaxConcurrentPipelines)), AdmissionWait)
	counters := &statCounters{}
	fetcher := newYtdlpFetcher(procs, componentLogger("ytdlp"))
	sup := newSupervisor(registry, procs, killer, componentLogger("supervisor"))
	redis := newRedisMirror(componentLogger("redis"))
	info := newInfoCache(InfoCacheMaxEntries, InfoCacheTTL)
	thumbs := newThumbnailCache()

	pipeline := newPipeline(registry, gate, procs, killer, sup, fetcher, counters,
		DownloadDir, TempDir, componentLogger("pipeline"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stall := newStallMonitor(registry, pipeline, procs, killer, counters, componentLogger("stall"))
	go stall.Loop(ctx)
	janitor := newJanitor(registry, thumbs, counters, DownloadDir, TempDir, componentLogger("janitor"))
	go janitor.Loop(ctx)

	server := newServer(registry, pipeline, gate, procs, killer, fetcher,
		info, thumbs, redis, counters, DownloadDir, componentLogger("http"))

	addr := ":" + envOrDefault("PORT", "5000")
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown did not finish cleanly")
	}
	if n := procs.KillAll(killer); n > 0 {
		log.Warn().Int("processes", n).Msg("killed leftover child processes")
	}
}
