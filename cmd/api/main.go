package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/journal-classifier/internal/api/handlers"
	"github.com/dvloznov/journal-classifier/internal/app"
	"github.com/dvloznov/journal-classifier/internal/config"
	"github.com/dvloznov/journal-classifier/internal/exportcache"
	"github.com/dvloznov/journal-classifier/internal/gcs"
	infraBQ "github.com/dvloznov/journal-classifier/internal/infra/bigquery"
	"github.com/dvloznov/journal-classifier/internal/jobs/inmemory"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/dvloznov/journal-classifier/internal/masters"
	"github.com/dvloznov/journal-classifier/internal/mfapi"
	"github.com/dvloznov/journal-classifier/internal/pipeline"
	"github.com/dvloznov/journal-classifier/internal/store/postgres"
)

func main() {
	port := flag.String("port", "", "HTTP server port (overrides PORT)")
	workers := flag.Int("workers", 2, "Number of register job workers")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	ctx := logger.WithContext(context.Background(), log)

	// Database is optional unless required.
	var store *postgres.Store
	if cfg.Database.DSN != "" {
		pool, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			DialTimeout:     cfg.Database.DialTimeout,
		})
		switch {
		case err == nil:
			defer pool.Close()
			store = postgres.New(pool)
		case cfg.Database.Required:
			log.Fatal().Err(err).Msg("Failed to connect to database")
		default:
			log.Warn().Err(err).Msg("Database unavailable - persistence disabled")
		}
	} else if cfg.Database.Required {
		log.Fatal().Msg("DATABASE_URL is required")
	} else {
		log.Warn().Msg("No DATABASE_URL configured - persistence disabled")
	}

	var fetcher masters.Fetcher
	if cfg.Masters.GCSPrefix != "" {
		gcsClient, err := gcs.NewClient(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GCS client")
		}
		defer gcsClient.Close()
		fetcher = gcsClient
	}
	catalogs := app.Catalogs(app.CatalogSource(cfg.Masters, fetcher))

	deps := pipeline.Deps{
		ResolveClassifier: app.NewClassifierResolver(cfg, nil).Resolve,
		Catalogs:          catalogs,
	}
	if store != nil {
		deps.Persister = store
	}
	if cfg.Audit.Enabled() {
		audit, err := infraBQ.NewPredictionAuditRepository(ctx, cfg.Audit.Project, cfg.Audit.Dataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create prediction audit repository")
		}
		defer audit.Close()
		deps.Auditor = audit
		log.Info().Str("table", audit.TableRef()).Msg("Prediction audit enabled")
	}
	runner := pipeline.NewRunner(deps)

	cache := exportcache.New(cfg.Export.TTL)
	register := handlers.NewRegisterHandler(runner, cache, store != nil, cfg.Server.PublicBaseURL)

	var marker handlers.ExportMarker
	if store != nil {
		marker = store
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore, inmemory.WithWorkers(*workers))

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if err := jobQueue.Start(workerCtx, register.ProcessJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	var poster handlers.JournalPoster
	if cfg.MFAPI.Enabled() {
		client, err := mfapi.NewClient(cfg.MFAPI.BaseURL, cfg.MFAPI.Token,
			mfapi.WithHTTPClient(&http.Client{Timeout: cfg.MFAPI.Timeout}))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create MoneyForward API client")
		}
		poster = client
	}

	router := handlers.NewRouter(handlers.Handlers{
		Register: register,
		Exports:  handlers.NewExportsHandler(cache, marker),
		Jobs:     handlers.NewJobsHandler(jobStore, jobQueue),
		MFAPI:    handlers.NewMFAPIHandler(runner, poster),
		Masters:  handlers.NewMastersHandler(catalogs),
	}, handlers.RouterOptions{Log: log, AuthToken: cfg.Server.AuthToken})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Bool("persistence", store != nil).
			Bool("mf_api", poster != nil).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
