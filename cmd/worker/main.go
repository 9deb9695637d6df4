package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opentracing/opentracing-go"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/database"
	"github.com/streamvault/streamvault/internal/jobs"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/queue"
	"github.com/streamvault/streamvault/internal/storage"
	"github.com/streamvault/streamvault/internal/tracing"
	"github.com/streamvault/streamvault/internal/transcoder"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if !cfg.Queue.Enabled() {
		logger.Fatal("worker requires a queue host; set queue.host or run the api with in-process dispatch")
	}

	if cfg.Tracing.Enabled {
		tracer, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName+"-worker", cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.WithError(err).Warn("tracing disabled, failed to initialize tracer")
		} else {
			opentracing.SetGlobalTracer(tracer)
			defer closer.Close()
		}
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	backend, err := storage.New(cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("failed to initialize storage: %v", err)
	}

	q, err := queue.New(cfg.Queue)
	if err != nil {
		logger.Fatalf("failed to connect to queue: %v", err)
	}
	defer q.Close()

	invoker := transcoder.NewInvoker(cfg.Transcoder, logger)
	driver := jobs.NewDriver(repo, backend, invoker, cfg.Transcoder.TempDir, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down worker")
		cancel()
	}()

	handler := func(jobID string) error {
		logger.WithJobID(jobID).Info("processing queued job")
		if _, err := driver.Process(ctx, jobID); err != nil {
			logger.WithJobID(jobID).ErrorWithErr("job processing failed", err)
			return err
		}
		logger.WithJobID(jobID).Info("job reached terminal state")
		return nil
	}

	logger.Info("worker started, waiting for jobs")
	if err := q.ConsumeJobs(ctx, handler); err != nil {
		logger.Fatalf("failed to consume jobs: %v", err)
	}

	<-ctx.Done()
	logger.Info("worker stopped")
}
