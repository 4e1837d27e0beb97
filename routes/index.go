package routes

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/mongo"

	"image-search-platform/internal/config"
	"image-search-platform/internal/logger"
	"image-search-platform/internal/queue"
	"image-search-platform/internal/telemetry"
	"image-search-platform/models"
	"image-search-platform/services"
	"image-search-platform/utils"
)

const maxBatchItems = 500

// SetupIndexRoutes registers job submission, job status, and index stats.
// With a queue client, submitted jobs are handed to the worker pool;
// without one, each job runs in a background goroutine of this process.
func SetupIndexRoutes(router *gin.Engine, cfg *config.Config, mongoClient *mongo.Client, progress services.ProgressStore, queueClient *asynq.Client, metrics *telemetry.Metrics) {
	admin := router.Group("/api/admin")
	admin.POST("/index", HandleSubmitIndexJob(cfg, mongoClient, progress, queueClient, metrics))
	admin.GET("/index/:jobID", HandleJobStatus(progress))

	index := services.NewVectorIndex(
		mongoClient.Database(cfg.DBName),
		cfg.VectorCollection, cfg.VectorIndexName, cfg.VectorDimensions)
	router.GET("/api/stats", HandleIndexStats(index))
}

// HandleSubmitIndexJob validates a batch request, records it as queued, and
// returns the job id immediately. All heavy work happens off this request.
func HandleSubmitIndexJob(cfg *config.Config, mongoClient *mongo.Client, progress services.ProgressStore, queueClient *asynq.Client, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.IndexRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "image_urls is required", nil)
			return
		}
		if len(req.ImageURLs) == 0 {
			utils.RespondWithBadRequest(c, "image_urls must not be empty", nil)
			return
		}
		if len(req.ImageURLs) > maxBatchItems {
			utils.RespondWithBadRequest(c, "too many items in one job",
				gin.H{"max_items": maxBatchItems})
			return
		}
		for _, raw := range req.ImageURLs {
			if _, err := url.ParseRequestURI(raw); err != nil {
				utils.RespondWithBadRequest(c, "malformed image URL", gin.H{"url": raw})
				return
			}
		}

		batchSize := req.BatchSize
		if batchSize <= 0 {
			batchSize = cfg.DefaultBatchSize
		}

		jobID := uuid.NewString()
		rec := &models.ProgressRecord{
			JobID:      jobID,
			Status:     models.StatusQueued,
			TotalCount: len(req.ImageURLs),
			Failures:   []models.ItemFailure{},
			CreatedAt:  time.Now().UTC(),
		}
		if err := progress.Put(c.Request.Context(), rec); err != nil {
			utils.RespondWithInternalError(c, "Failed to record job", nil)
			return
		}

		if queueClient != nil {
			task, err := queue.NewIndexBatchTask(jobID, req.ImageURLs, batchSize)
			if err == nil {
				_, err = queueClient.Enqueue(task)
			}
			if err != nil {
				logger.Error("Job enqueue failed", "job_id", jobID, "error", err)
				utils.RespondWithInternalError(c, "Failed to enqueue job", nil)
				return
			}
		} else {
			job := models.BatchJob{
				ID:        jobID,
				Items:     req.ImageURLs,
				BatchSize: batchSize,
				CreatedAt: time.Now().UTC(),
			}
			orchestrator := services.NewBatchOrchestrator(
				services.NewJobPipelineFactory(cfg, mongoClient, metrics),
				progress,
				services.OrchestratorConfig{
					MaxImageDim: cfg.MaxImageDim,
					Concurrency: int64(cfg.BatchConcurrency),
					Pacing:      cfg.BatchPacing,
					Metrics:     metrics,
				},
			)
			go func() {
				// Detached from the request context so the job survives the
				// HTTP response; an hour bounds runaway jobs.
				ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
				defer cancel()
				if err := orchestrator.Run(ctx, job); err != nil {
					logger.Error("Background job failed", "job_id", jobID, "error", err)
				}
			}()
		}

		logger.Info("Index job submitted",
			"job_id", jobID, "items", len(req.ImageURLs), "batch_size", batchSize)

		c.JSON(http.StatusAccepted, gin.H{
			"job_id":      jobID,
			"status":      models.StatusQueued,
			"total_count": len(req.ImageURLs),
			"batch_size":  batchSize,
		})
	}
}

// HandleJobStatus returns the live progress record for a job.
func HandleJobStatus(progress services.ProgressStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := progress.Get(c.Request.Context(), c.Param("jobID"))
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				utils.RespondWithNotFound(c, "Job not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to read job status", nil)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// HandleIndexStats reports index document count and size. A stats failure
// degrades to zeroed numbers rather than an error status, so dashboards
// keep rendering.
func HandleIndexStats(index *services.VectorIndex) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := index.Stats(c.Request.Context())
		if err != nil {
			logger.Error("Index stats failed", "error", err)
			c.JSON(http.StatusOK, gin.H{
				"count": 0,
				"size":  0,
				"error": "stats unavailable",
			})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
