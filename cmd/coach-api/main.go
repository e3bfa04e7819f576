package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PabloGalante/farum-coach/internal/adapters/events"
	httpadapter "github.com/PabloGalante/farum-coach/internal/adapters/http"
	"github.com/PabloGalante/farum-coach/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/farum-coach/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/farum-coach/internal/adapters/storage/memory"
	sqlitestore "github.com/PabloGalante/farum-coach/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/farum-coach/internal/app/analysis"
	"github.com/PabloGalante/farum-coach/internal/app/conversation"
	"github.com/PabloGalante/farum-coach/internal/app/prompt"
	"github.com/PabloGalante/farum-coach/internal/cache"
	"github.com/PabloGalante/farum-coach/internal/config"
	"github.com/PabloGalante/farum-coach/internal/domain"
	"github.com/PabloGalante/farum-coach/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		observability.Logger().Error("shutting down due to error", "error", err)
		os.Exit(1)
	}
	observability.Logger().Info("shutdown complete")
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.Configure(cfg.LogLevel)
	log := observability.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	// Firestore is shared when both conversations and templates live there.
	var fs *firestorestore.Store
	firestoreStore := func() (*firestorestore.Store, error) {
		if fs != nil {
			return fs, nil
		}
		s, err := firestorestore.NewStore(ctx, cfg.GCPProject)
		if err != nil {
			return nil, fmt.Errorf("initializing firestore: %w", err)
		}
		fs = s
		closers = append(closers, s)
		return s, nil
	}

	var repo domain.ConversationRepository
	switch cfg.StorageBackend {
	case "firestore":
		s, err := firestoreStore()
		if err != nil {
			return err
		}
		log.Info("using firestore storage", "project", cfg.GCPProject)
		repo = s
	case "sqlite":
		s, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("initializing sqlite: %w", err)
		}
		closers = append(closers, s)
		log.Info("using sqlite storage", "path", cfg.SQLitePath)
		repo = s
	default:
		log.Info("using in-memory storage")
		repo = memstore.NewConversationStore()
	}

	var templates domain.TemplateRepository
	switch cfg.TemplateBackend {
	case "firestore":
		s, err := firestoreStore()
		if err != nil {
			return err
		}
		templates = s
	default:
		s, err := memstore.NewSeededTemplateStore()
		if err != nil {
			return fmt.Errorf("loading seed templates: %w", err)
		}
		if cfg.TemplatesFile != "" {
			if err := s.LoadFile(cfg.TemplatesFile); err != nil {
				return fmt.Errorf("loading templates file: %w", err)
			}
		}
		templates = s
	}

	var backend cache.Backend
	switch cfg.CacheBackend {
	case "redis":
		r, err := cache.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis unavailable, running without cache", "addr", cfg.RedisAddr, "error", err)
		} else {
			closers = append(closers, r)
			backend = r
		}
	case "memory":
		mem := cache.NewMemory()
		go mem.SweepEvery(ctx, time.Minute)
		backend = mem
	}
	c := cache.New(backend, cache.WithPrefix(cfg.CachePrefix), cache.WithMetrics(metrics))

	providers, err := llm.Build(ctx, llm.Settings{
		Default:     cfg.LLMProvider,
		Model:       cfg.LLMModel,
		GCPProject:  cfg.GCPProject,
		GCPLocation: cfg.GCPLocation,
		AWSRegion:   cfg.AWSRegion,
		OpenAIKey:   cfg.OpenAIKey,
		OpenAIBase:  cfg.OpenAIBaseURL,
	}, metrics)
	if err != nil {
		return err
	}

	publisher := events.NewLogPublisher(log)
	prompts := prompt.NewService(templates, c, cache.For(cfg.TemplateCacheTTL))

	convSvc := conversation.NewService(repo, providers, prompts, publisher, c,
		conversation.WithMetrics(metrics),
		conversation.WithTimeouts(cfg.TurnTimeout, cfg.SaveTimeout),
		conversation.WithSessionTTL(cache.For(cfg.SessionCacheTTL)),
	)
	analysisSvc := analysis.NewService(providers, prompts, publisher, analysis.WithMetrics(metrics))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpadapter.NewServer(convSvc, analysisSvc, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("coach api listening", "addr", srv.Addr, "mode", cfg.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down due to signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
