package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsvault/internal/access"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/cache"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/database"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/keystore"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/middleware"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/queue"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/storage"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/tracing"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Fatalf("auth.jwtSecret must be set")
	}

	closer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	repo := database.NewRepository(db)

	// Initialize storage
	providers, err := storage.NewProviders(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	keyBackend, err := keystore.SelectBackend(cfg.Keys.Backend, providers)
	if err != nil {
		logger.Fatalf("Failed to select key backend: %v", err)
	}

	// Optional shared state
	var (
		videoCache access.VideoCache
		limiter    middleware.Limiter = middleware.NewRateLimiter(cfg.Auth.KeyRPS, cfg.Auth.KeyBurst)
	)
	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer c.Close()
		videoCache = c
		limiter = middleware.NewSharedRateLimiter(c, int64(cfg.Auth.KeyRPS), time.Second)
		logger.Info("Redis video cache enabled")
	}

	var notifier queue.Notifier
	if cfg.Queue.Enabled {
		n, err := queue.NewAMQPNotifier(cfg.Queue)
		if err != nil {
			logger.Fatalf("Failed to connect to queue: %v", err)
		}
		defer n.Close()
		notifier = n
	}

	monitor := monitoring.NewMonitor(repo, cfg.Monitoring.Interval, monitoring.ThresholdsFromConfig(cfg.Monitoring), logger)
	monitor.Start(ctx)

	api := &API{
		gateway: access.NewGateway(repo, videoCache, keystore.New(keyBackend), providers, access.OptionsFromConfig(cfg), logger),
		tasks:   queue.NewTaskQueue(repo, notifier, logger),
		db:      db,
		monitor: monitor,
		logger:  logger,
	}

	// Setup router
	router := setupRouter(api, routerConfig{
		JWTSecret:        cfg.Auth.JWTSecret,
		AdminRole:        cfg.Auth.AdminRole,
		StreamPathPrefix: cfg.Access.StreamPathPrefix,
		MediaPathPrefix:  cfg.Access.MediaPathPrefix,
		KeyLimiter:       limiter,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}

	logger.Info("Server stopped")
}
