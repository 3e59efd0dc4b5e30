package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsvault/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/database"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/keystore"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/queue"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/storage"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/tracing"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/webhook"
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

	closer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

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

	// Push wake-ups are optional; polling alone still finds every task
	var wake <-chan struct{}
	if cfg.Queue.Enabled {
		notifier, err := queue.NewAMQPNotifier(cfg.Queue)
		if err != nil {
			logger.Fatalf("Failed to connect to queue: %v", err)
		}
		defer notifier.Close()

		wake, err = notifier.Subscribe(ctx)
		if err != nil {
			logger.Fatalf("Failed to subscribe to wake-ups: %v", err)
		}
	}

	engine := transcoder.NewEngine(
		transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath),
		repo,
		keystore.New(keyBackend),
		providers,
		transcoder.OptionsFromConfig(cfg.Transcoder, cfg.Keys),
		logger,
	)

	tasks := queue.NewTaskQueue(repo, nil, logger)
	scheduler := queue.NewPollingScheduler(tasks, cfg.Worker.PollInterval, wake)
	worker := queue.NewWorker(workerID(), scheduler, tasks, engine, logger)

	callbacks := webhook.NewService(cfg.Webhook, logger)
	if callbacks.Enabled() {
		worker.WithObserver(callbacks)
		logger.Info("Task webhooks enabled")
	}

	// Metrics server
	metricsServer := metrics.NewServer(cfg.Worker.MetricsPort)
	go func() {
		logger.Infof("Starting metrics server on :%d", cfg.Worker.MetricsPort)
		if err := metricsServer.Start(); err != nil {
			logger.ErrorWithErr("Metrics server stopped", err)
		}
	}()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully, finishing current task...")
		cancel()
	}()

	if err := worker.Run(ctx); err != nil {
		logger.ErrorWithErr("Worker exited", err)
	}

	callbacks.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("Worker stopped")
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
