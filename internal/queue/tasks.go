package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/mongo"

	"image-search-platform/internal/config"
	"image-search-platform/internal/logger"
	"image-search-platform/internal/telemetry"
	"image-search-platform/models"
	"image-search-platform/services"
)

const TaskIndexBatch = "index:batch"

type IndexBatchPayload struct {
	JobID     string   `json:"job_id"`
	ImageURLs []string `json:"image_urls"`
	BatchSize int      `json:"batch_size"`
}

// NewIndexBatchTask builds the queued form of one ingestion job. Retries are
// disabled at the task level: the orchestrator records its own terminal
// state, and rerunning a half-finished job would double-index its items.
func NewIndexBatchTask(jobID string, imageURLs []string, batchSize int) (*asynq.Task, error) {
	payload, err := json.Marshal(IndexBatchPayload{
		JobID:     jobID,
		ImageURLs: imageURLs,
		BatchSize: batchSize,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIndexBatch,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(time.Hour),
		asynq.Queue("ingest"),
	), nil
}

// TaskProcessor handles queued ingestion jobs inside the worker process.
type TaskProcessor struct {
	cfg      *config.Config
	mongo    *mongo.Client
	progress services.ProgressStore
	metrics  *telemetry.Metrics
}

func NewTaskProcessor(cfg *config.Config, client *mongo.Client, progress services.ProgressStore, metrics *telemetry.Metrics) *TaskProcessor {
	return &TaskProcessor{
		cfg:      cfg,
		mongo:    client,
		progress: progress,
		metrics:  metrics,
	}
}

func (p *TaskProcessor) HandleIndexBatch(ctx context.Context, t *asynq.Task) error {
	var payload IndexBatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Handling index batch task",
		"job_id", payload.JobID, "items", len(payload.ImageURLs))

	orchestrator := services.NewBatchOrchestrator(
		services.NewJobPipelineFactory(p.cfg, p.mongo, p.metrics),
		p.progress,
		services.OrchestratorConfig{
			MaxImageDim: p.cfg.MaxImageDim,
			Concurrency: int64(p.cfg.BatchConcurrency),
			Pacing:      p.cfg.BatchPacing,
			Metrics:     p.metrics,
		},
	)

	job := models.BatchJob{
		ID:        payload.JobID,
		Items:     payload.ImageURLs,
		BatchSize: payload.BatchSize,
		CreatedAt: time.Now().UTC(),
	}

	err := orchestrator.Run(ctx, job)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Already recorded as cancelled; a retry would reprocess items.
		return fmt.Errorf("job %s stopped (%v): %w", payload.JobID, err, asynq.SkipRetry)
	}
	var se *services.SetupError
	if errors.As(err, &se) {
		return fmt.Errorf("job %s: %v: %w", payload.JobID, se, asynq.SkipRetry)
	}
	return err
}
