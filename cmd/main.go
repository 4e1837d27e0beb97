package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"image-search-platform/internal/ai"
	"image-search-platform/internal/config"
	"image-search-platform/internal/logger"
	"image-search-platform/internal/telemetry"
	"image-search-platform/middleware"
	"image-search-platform/routes"
	"image-search-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("image-search-platform")
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	// Redis backs the rate limiter, the shared progress store, and the job
	// queue. Without it the service still runs in single-process mode.
	var rdb *redis.Client
	if client, rerr := config.NewRedisClient(cfg); rerr != nil {
		logger.Warn("Redis unavailable, using in-process fallbacks", "error", rerr)
	} else {
		rdb = client
		defer rdb.Close()
	}

	var progress services.ProgressStore
	if rdb != nil {
		progress = services.NewRedisProgressStore(rdb, cfg.ProgressTTL)
	} else {
		memStore := services.NewMemoryProgressStore()
		sweeper := services.StartProgressSweeper(memStore, cfg.ProgressSweepInterval, cfg.ProgressTTL)
		defer sweeper.Stop()
		progress = memStore
	}

	var queueClient *asynq.Client
	if cfg.QueueEnabled {
		if rdb == nil {
			log.Fatal("QUEUE_ENABLED requires a reachable Redis")
		}
		queueClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer queueClient.Close()
	}

	// One vision client serves all synchronous queries of this process;
	// batch jobs open their own.
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	vision, err := ai.NewVisionClient(startCtx, cfg)
	startCancel()
	if err != nil {
		log.Fatal("Failed to initialize vision client:", err)
	}
	vision.SetMetrics(metrics)
	defer vision.Close()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())
	if metrics != nil {
		router.Use(middleware.MetricsMiddleware(metrics))
	}
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	if rdb != nil {
		router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	}

	routes.SetupHealthRoutes(router, mongoClient, rdb)
	if err := routes.SetupSearchRoutes(router, cfg, mongoClient, vision, metrics); err != nil {
		log.Fatal("Failed to set up search routes:", err)
	}
	if err := routes.SetupMediaRoutes(router, cfg, mongoClient); err != nil {
		log.Fatal("Failed to set up media routes:", err)
	}
	routes.SetupIndexRoutes(router, cfg, mongoClient, progress, queueClient, metrics)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port, "queue_enabled", cfg.QueueEnabled)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
