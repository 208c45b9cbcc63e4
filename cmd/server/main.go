package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"phishguard/internal/analytics"
	"phishguard/internal/classifier"
	"phishguard/internal/config"
	"phishguard/internal/lifecycle"
	"phishguard/internal/recorder"
	"phishguard/internal/repository"
	"phishguard/internal/server"
	"phishguard/internal/service"
	"phishguard/internal/statistics"
)

func main() {
	// Load configuration
	cfgPath := "configs/config.yml"
	if p := os.Getenv("PHISHGUARD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	if cfg.Database.Driver == repository.DriverSQLite {
		if err := os.MkdirAll("./data", 0o755); err != nil {
			logger.Fatal("Failed to create data directory", zap.Error(err))
		}
	}

	// Database connection
	db, err := repository.NewDB(cfg.Database.Driver, cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := repository.MigrateDB(db, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load the model once; without one the classifier runs the heuristic
	c := classifier.New(classifier.Load(ctx, cfg, logger), logger)

	scanService := service.NewScanService(db, c, recorder.New(logger), statistics.NewAggregator(cfg.Statistics.MaxRetries, logger), logger)
	engine := analytics.NewEngine(repository.NewScanRepository(db, logger), repository.NewStatisticsRepository(db, logger), c.ModelVersion(), logger)
	lifecycleManager := lifecycle.NewManager(db, lifecycle.Policy{
		RetentionAge:     cfg.RetentionAge(),
		AnonymizationAge: cfg.AnonymizationAge(),
		Interval:         cfg.SweepInterval(),
	}, logger)

	// Run lifecycle sweeps in a goroutine
	if cfg.Retention.Enabled {
		go lifecycleManager.Run(ctx)
	} else {
		logger.Info("Scheduled data lifecycle sweeps disabled")
	}

	// Initialize and run the server
	srv := server.NewServer(db, cfg, c, scanService, engine, lifecycleManager, logger)
	if err := srv.Run(ctx, cfg.Server.Port); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}

	logger.Info("Application stopped.")
}
