package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamvault/streamvault/internal/cache"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/database"
	"github.com/streamvault/streamvault/internal/jobs"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/middleware"
	"github.com/streamvault/streamvault/internal/queue"
	"github.com/streamvault/streamvault/internal/resolver"
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

	if cfg.Tracing.Enabled {
		tracer, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.WithError(err).Warn("tracing disabled, failed to initialize tracer")
		} else {
			opentracing.SetGlobalTracer(tracer)
			defer closer.Close()
		}
	}

	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		logger.Fatalf("failed to run migrations: %v", err)
	}
	repo := database.NewRepository(db)

	// The cache is an optimization, not a dependency: a missing Redis
	// degrades to database reads.
	var progressCache *cache.Cache
	if c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		logger.WithError(err).Warn("redis unavailable, progress cache disabled")
	} else {
		progressCache = c
		defer progressCache.Close()
	}

	backend, err := storage.New(cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("failed to initialize storage: %v", err)
	}

	invoker := transcoder.NewInvoker(cfg.Transcoder, logger)
	driver := jobs.NewDriver(repo, backend, invoker, cfg.Transcoder.TempDir, logger)
	dispatcher := jobs.NewDispatcher(driver, cfg.Transcoder.MaxConcurrent, logger)

	// With a broker configured, dispatch goes through the queue and a
	// worker fleet; otherwise jobs run detached in this process.
	dispatch := dispatcher.Dispatch
	if cfg.Queue.Enabled() {
		q, err := queue.New(cfg.Queue)
		if err != nil {
			logger.Fatalf("failed to connect to queue: %v", err)
		}
		defer q.Close()
		dispatch = func(jobID string) {
			if err := q.PublishJob(context.Background(), jobID); err != nil {
				logger.WithJobID(jobID).ErrorWithErr("failed to publish job, running locally", err)
				dispatcher.Dispatch(jobID)
			}
		}
	}

	api := &API{
		repo:     repo,
		db:       db,
		cache:    progressCache,
		backend:  backend,
		resolver: resolver.New(backend),
		driver:   driver,
		dispatch: dispatch,
		log:      logger,
	}

	if cfg.Logging.Format != "console" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(api, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("server forced to shutdown: %v", err)
	}

	// Let in-flight transcodes reach a terminal state before exiting.
	dispatcher.Wait()
	logger.Info("server stopped")
}

func setupRouter(api *API, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(logger))

	router.GET("/healthz", api.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The media gateway is consumed by anonymous playback surfaces.
	router.GET("/api/media/*mediaKey", api.serveMedia)

	progressLimiter := middleware.NewRateLimiter(5, 10)
	progress := router.Group("/api/progress", middleware.JWTAuth(), middleware.RateLimit(progressLimiter))
	{
		progress.POST("", api.upsertProgress)
		progress.GET("/:assetId", api.getProgress)
	}

	router.GET("/api/playback/:assetId", middleware.JWTAuth(), api.getPlayback)

	admin := router.Group("/api/admin", middleware.JWTAuth(), middleware.AdminOnly())
	{
		admin.POST("/upload", api.upload)
		admin.GET("/media/jobs", api.listJobs)
		admin.GET("/media/jobs/:id", api.getJob)
		admin.POST("/media/jobs/:id/process", api.processJob)
	}

	return router
}
