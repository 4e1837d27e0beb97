package services

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"image-search-platform/internal/ai"
	"image-search-platform/internal/config"
	"image-search-platform/internal/telemetry"
)

// NewJobPipelineFactory returns a factory that assembles the full ingestion
// pipeline for one job run. The vision client holds a remote session, so it
// is opened per run and closed with the pipeline rather than kept global.
func NewJobPipelineFactory(cfg *config.Config, client *mongo.Client, metrics *telemetry.Metrics) PipelineFactory {
	return func(ctx context.Context) (*Pipeline, error) {
		vision, err := ai.NewVisionClient(ctx, cfg)
		if err != nil {
			return nil, &SetupError{Component: "vision client", Err: err}
		}
		vision.SetMetrics(metrics)

		db := client.Database(cfg.DBName)
		blobs, err := NewBlobStore(db, cfg.StorageBucket, cfg.MediaBaseURL)
		if err != nil {
			vision.Close()
			return nil, &SetupError{Component: "blob store", Err: err}
		}

		index := NewVectorIndex(db, cfg.VectorCollection, cfg.VectorIndexName, cfg.VectorDimensions)
		if err := index.EnsureIndex(ctx); err != nil {
			vision.Close()
			return nil, err
		}

		fetcher := NewImageFetcher(cfg.FetchTimeout, cfg.MaxFileSize, cfg.AllowedTypes)

		return NewPipeline(fetcher, vision, blobs, index, vision.Close), nil
	}
}
