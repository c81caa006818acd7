package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clip-mixer/internal/audio"
	"clip-mixer/internal/catalog"
	"clip-mixer/internal/platform/config"
	"clip-mixer/internal/platform/logger"
	"clip-mixer/internal/platform/metrics"
	"clip-mixer/internal/session"
	"clip-mixer/internal/transfer"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	sessionFile := config.GetEnv("SESSION_FILE", "session.json")
	catalogURL := config.GetEnv("CATALOG_URL", "")
	catalogFile := config.GetEnv("CATALOG_FILE", "catalog.yaml")
	catalogWatch := config.GetEnvBool("CATALOG_WATCH", true)
	catalogTimeout := config.GetEnvDuration("CATALOG_TIMEOUT", 5*time.Second)
	fadeDuration := config.GetEnvDuration("FADE_DURATION_MS", audio.DefaultFadeDuration)
	fadeTick := config.GetEnvDuration("FADE_TICK_MS", audio.DefaultFadeTick)
	backend := config.GetEnv("PLAYBACK_BACKEND", "headless")
	clipLength := config.GetEnvDuration("HEADLESS_CLIP_LENGTH_MS", 0)

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	factory, err := audio.NewBackend(backend, audio.BackendOptions{
		Client: &http.Client{Timeout: catalogTimeout},
		Length: clipLength,
	})
	if err != nil {
		log.Error("playback backend", "error", err)
		os.Exit(1)
	}
	registry := audio.NewRegistry(factory, log)
	fader := audio.NewFader(fadeTick, log)
	fader.OnFinish(func(f *audio.Fade) { met.IncFade(f.Result()) })

	var resolver catalog.Resolver
	var fileResolver *catalog.FileResolver
	var watcher *catalog.Watcher
	if catalogURL != "" {
		resolver = catalog.NewHTTPResolver(catalogURL, catalogTimeout)
	} else {
		fileResolver = catalog.NewFileResolver(catalogFile)
		resolver = fileResolver
	}
	cache := catalog.NewCache(resolver, registry, log)
	cache.OnFetch(met.ObserveCatalogFetch)
	if fileResolver != nil && catalogWatch {
		watcher, err = catalog.WatchFile(fileResolver.Path(), cache.Invalidate, log)
		if err != nil {
			log.Warn("catalog hot reload disabled", "path", fileResolver.Path(), "error", err)
		}
	}

	mixer := session.NewMixer(registry, fader, fadeDuration, log)
	store := session.NewStore(session.NewFileStorage(sessionFile), cache, mixer, log)
	if err := store.Restore(); err != nil {
		log.Warn("persisted session discarded, starting empty", "path", sessionFile, "error", err)
	}

	svc := session.NewService(store, cache, mixer, registry, log)
	svc.SetRecorder(met)
	svc.WatchEnded(registry)

	proto := transfer.NewProtocol(store, log)
	h := session.NewHandler(svc, proto, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetSessionMembers(store.Len())
			met.SetRegistryPlayables(registry.Len())
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"backend", backend,
		"session_file", sessionFile,
		"members", store.Len(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	if err := svc.PauseAll(ctx); err != nil {
		log.Warn("pause on shutdown", "error", err)
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	if err := registry.Close(); err != nil {
		log.Warn("close playables", "error", err)
	}

	log.Info("server stopped")
}
