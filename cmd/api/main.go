package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"appsentry/internal/api"
	"appsentry/internal/api/handlers"
	"appsentry/internal/config"
	"appsentry/internal/domain/models"
	"appsentry/internal/domain/services"
	"appsentry/internal/infrastructure/cache"
	"appsentry/internal/infrastructure/database"
	"appsentry/internal/infrastructure/database/repository"
	"appsentry/internal/streaming"
	"appsentry/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var log *logger.Logger
	if cfg.App.Environment == "production" {
		log = logger.NewProduction()
	} else {
		log = logger.NewDevelopment()
	}
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting AppSentry")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	stores, dbPinger, closeStores, err := initStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer closeStores()

	// Redis is optional; without it verdict caching, distributed scan
	// locks and rate limiting are skipped
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without cache")
		} else {
			defer redisCache.Close()
		}
	}

	// Initialize streaming infrastructure
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing without real-time streaming")
		} else {
			log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
		}
	}

	eventBus := streaming.NewEventBus(natsPublisher, log)
	defer eventBus.Close()

	wsHub := streaming.NewWebSocketHub(natsPublisher, log)
	go wsHub.Run(ctx)

	publisher := streaming.NewPublisher(eventBus, wsHub)

	// Load certificate whitelist
	whitelist, err := services.LoadCertWhitelist(cfg.Trust.WhitelistPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load cert whitelist")
	}
	log.Info().Int("entries", len(whitelist)).Msg("cert whitelist loaded")

	// Initialize engines
	trustEngine := services.NewTrustEvidenceEngine(whitelist, log)
	baselineManager := services.NewBaselineManager(log)
	riskModel := services.NewTrustRiskModel(models.CapabilityClusters, models.DangerousCombos, log)
	aggregator := services.NewSignalAggregator(log)
	resolver := services.NewRootCauseResolver(log, nil)
	timelineAnalyzer := services.NewInstallTimelineAnalyzer(log, nil)

	// Redis-backed collaborators are nil when Redis is down or disabled
	var locker services.ScanLocker
	var verdicts services.VerdictCache
	if redisCache != nil {
		locker = redisCache
		verdicts = redisCache
	}

	scanService := services.NewScanService(
		trustEngine,
		baselineManager,
		riskModel,
		aggregator,
		resolver,
		timelineAnalyzer,
		stores,
		publisher,
		locker,
		verdicts,
		services.ScanOptions{
			MaxParallel:     cfg.Scan.MaxParallel,
			LockTTL:         cfg.Scan.LockTTL,
			VerdictCacheTTL: cfg.Scan.VerdictCacheTTL,
		},
		log,
		nil,
	)

	incidentService := services.NewIncidentService(stores.Incidents, publisher, log, nil)

	// Initialize handlers
	deps := handlers.Dependencies{
		Scans:     scanService,
		Incidents: incidentService,
		Stores:    stores,
		Cache:     redisCache,
		DB:        dbPinger,
		EventBus:  eventBus,
		WSHub:     wsHub,
		Logger:    log,
	}
	h := handlers.NewHandlers(deps)

	// Create router
	router := api.NewRouter(*cfg, h, redisCache, log)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	// Cancel context to stop background services
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}

// initStorage opens the configured backend: the embedded SQLite file for
// on-device use, or PostgreSQL when a fleet backend is configured.
func initStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Stores, handlers.Pinger, func(), error) {
	if cfg.Database.IsSQLite() {
		db, err := repository.NewSQLite(cfg.Database.Path)
		if err != nil {
			return repository.Stores{}, nil, nil, err
		}
		log.Info().Str("path", cfg.Database.Path).Msg("sqlite store opened")
		return db.Stores(), db, func() { db.Close() }, nil
	}

	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		return repository.Stores{}, nil, nil, err
	}
	log.Info().Str("host", cfg.Database.Host).Msg("postgres connected")
	stores := repository.Stores{
		Baselines: repository.NewBaselineRepository(db.Pool()),
		Incidents: repository.NewIncidentRepository(db.Pool()),
	}
	return stores, db, func() { db.Close() }, nil
}
