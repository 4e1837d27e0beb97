package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"image-search-platform/internal/logger"
	"image-search-platform/internal/retry"
	"image-search-platform/internal/telemetry"
	"image-search-platform/models"
)

// Deriver turns normalized media bytes into a fixed-dimension vector and
// produces best-effort similarity explanations.
type Deriver interface {
	DeriveVector(ctx context.Context, image []byte) ([]float32, error)
	Explain(ctx context.Context, query, match []byte) string
}

// Pipeline bundles the collaborators one job run works with. They are
// acquired together at job start and released together when the run ends,
// whatever the exit path.
type Pipeline struct {
	Fetch  Fetcher
	Derive Deriver
	Blobs  Persister
	Index  Indexer

	closeFn func() error
}

func NewPipeline(f Fetcher, d Deriver, p Persister, ix Indexer, closeFn func() error) *Pipeline {
	return &Pipeline{Fetch: f, Derive: d, Blobs: p, Index: ix, closeFn: closeFn}
}

func (p *Pipeline) Close() error {
	if p.closeFn != nil {
		return p.closeFn()
	}
	return nil
}

// PipelineFactory builds the collaborators for one job run. A factory error
// is a setup fault: the whole job fails without attempting any item.
type PipelineFactory func(ctx context.Context) (*Pipeline, error)

// OrchestratorConfig carries the tuning knobs for batch runs.
type OrchestratorConfig struct {
	MaxImageDim int
	Concurrency int64
	Pacing      time.Duration
	Retry       *retry.Caller
	Metrics     *telemetry.Metrics
}

// BatchOrchestrator runs ingestion jobs: it partitions the item list into
// consecutive batches, processes each batch with bounded concurrency, and
// folds per-item outcomes into the job's progress record after every batch
// barrier. Individual item failures are recorded and never abort the job.
type BatchOrchestrator struct {
	factory  PipelineFactory
	progress ProgressStore

	maxImageDim int
	concurrency int64
	pacing      time.Duration
	retrier     *retry.Caller
	metrics     *telemetry.Metrics
}

func NewBatchOrchestrator(factory PipelineFactory, progress ProgressStore, cfg OrchestratorConfig) *BatchOrchestrator {
	if cfg.MaxImageDim <= 0 {
		cfg.MaxImageDim = 800
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Pacing <= 0 {
		cfg.Pacing = 2 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.New(3, 4*time.Second, 10*time.Second)
	}

	return &BatchOrchestrator{
		factory:     factory,
		progress:    progress,
		maxImageDim: cfg.MaxImageDim,
		concurrency: cfg.Concurrency,
		pacing:      cfg.Pacing,
		retrier:     cfg.Retry,
		metrics:     cfg.Metrics,
	}
}

// itemResult tags one item's outcome so failure handling is explicit rather
// than an exception-catching afterthought.
type itemResult struct {
	source string
	err    error
}

// Run executes one job to completion. The returned error reports only
// orchestrator-level faults (setup failure, cancellation); per-item failures
// are folded into the progress record.
func (o *BatchOrchestrator) Run(ctx context.Context, job models.BatchJob) error {
	rec, err := o.progress.Get(ctx, job.ID)
	if err != nil {
		rec = &models.ProgressRecord{
			JobID:     job.ID,
			Status:    models.StatusQueued,
			CreatedAt: time.Now().UTC(),
		}
	}
	rec.TotalCount = len(job.Items)

	batchSize := job.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	pl, err := o.factory(ctx)
	if err != nil {
		o.failJob(ctx, rec, job, err)
		var se *SetupError
		if errors.As(err, &se) {
			return err
		}
		return &SetupError{Component: "pipeline", Err: err}
	}
	defer func() {
		if cerr := pl.Close(); cerr != nil {
			logger.Warn("Pipeline close failed", "job_id", job.ID, "error", cerr)
		}
	}()

	rec.Status = models.StatusRunning
	if err := o.progress.Put(ctx, rec); err != nil {
		logger.Warn("Progress update failed", "job_id", job.ID, "error", err)
	}

	logger.Info("Batch job started",
		"job_id", job.ID, "items", len(job.Items), "batch_size", batchSize)

	batches := PartitionItems(job.Items, batchSize)
	for bi, batch := range batches {
		// Cancellation is checked at batch boundaries; in-flight item
		// pipelines run to completion to avoid partial writes.
		if err := ctx.Err(); err != nil {
			return o.cancelJob(rec, job, err)
		}

		start := time.Now()
		results := o.runBatch(ctx, pl, batch)

		rec.ProcessedCount += len(batch)
		rec.CurrentItem = batch[0]
		for _, r := range results {
			if r.err != nil {
				rec.Failures = append(rec.Failures, models.ItemFailure{
					SourceURL: r.source,
					Summary:   r.err.Error(),
				})
				if o.metrics != nil {
					o.metrics.ImagesFailed.Add(ctx, 1)
				}
				logger.Error("Item ingestion failed",
					"job_id", job.ID, "source", r.source, "error", r.err)
			} else if o.metrics != nil {
				o.metrics.ImagesIndexed.Add(ctx, 1)
			}
		}
		if err := o.progress.Put(ctx, rec); err != nil {
			logger.Warn("Progress update failed", "job_id", job.ID, "error", err)
		}
		if o.metrics != nil {
			o.metrics.BatchDuration.Record(ctx, time.Since(start).Seconds())
		}

		// Pacing keeps the ingestion rate under the embedding service's
		// rate limit; the last batch needs no trailing delay.
		if bi < len(batches)-1 {
			if err := o.pace(ctx); err != nil {
				return o.cancelJob(rec, job, err)
			}
		}
	}

	rec.Status = models.StatusCompleted
	rec.CurrentItem = ""
	if err := o.progress.Put(ctx, rec); err != nil {
		logger.Warn("Progress update failed", "job_id", job.ID, "error", err)
	}

	logger.Info("Batch job completed",
		"job_id", job.ID,
		"processed", rec.ProcessedCount,
		"failed", len(rec.Failures))
	return nil
}

// runBatch processes every item of one batch concurrently, bounded by the
// configured semaphore weight, and returns after all items have resolved.
func (o *BatchOrchestrator) runBatch(ctx context.Context, pl *Pipeline, batch []string) []itemResult {
	sem := semaphore.NewWeighted(o.concurrency)
	results := make([]itemResult, len(batch))

	var wg sync.WaitGroup
	for i, src := range batch {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = itemResult{source: src, err: err}
				return
			}
			defer sem.Release(1)
			results[i] = itemResult{source: src, err: o.processItem(ctx, pl, src)}
		}(i, src)
	}
	wg.Wait()

	return results
}

// processItem runs the full per-item pipeline:
// fetch -> normalize -> derive -> persist -> publish.
func (o *BatchOrchestrator) processItem(ctx context.Context, pl *Pipeline, src string) error {
	raw, err := pl.Fetch.Fetch(ctx, src)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	processed, err := NormalizeImage(raw, o.maxImageDim)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}

	vector, err := pl.Derive.DeriveVector(ctx, processed)
	if err != nil {
		return fmt.Errorf("derive vector: %w", err)
	}

	id := uuid.NewString()
	blobName := id + ".jpg"

	var blobURL string
	err = o.retrier.Do(ctx, func(ctx context.Context) error {
		var serr error
		blobURL, serr = pl.Blobs.Store(ctx, blobName, processed, map[string]string{
			"source_url": src,
			"indexed_at": time.Now().UTC().Format(time.RFC3339),
		})
		return permanentIfInvalid(serr)
	})
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}

	record := models.IndexRecord{
		ID:        id,
		ImageName: blobName,
		ImageURL:  blobURL,
		BlobName:  blobName,
		Vector:    vector,
		Metadata:  map[string]string{"source_url": src},
		CreatedAt: time.Now().UTC(),
	}
	err = o.retrier.Do(ctx, func(ctx context.Context) error {
		return permanentIfInvalid(pl.Index.Publish(ctx, record))
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}

// failJob marks the whole job failed before any item was attempted and
// records a synthetic failure entry for every unstarted item.
func (o *BatchOrchestrator) failJob(ctx context.Context, rec *models.ProgressRecord, job models.BatchJob, cause error) {
	rec.Status = models.StatusFailed
	for _, src := range job.Items {
		rec.Failures = append(rec.Failures, models.ItemFailure{
			SourceURL: src,
			Summary:   fmt.Sprintf("not attempted: %v", cause),
		})
	}
	if err := o.progress.Put(ctx, rec); err != nil {
		logger.Warn("Progress update failed", "job_id", job.ID, "error", err)
	}
	logger.Error("Batch job setup failed", "job_id", job.ID, "error", cause)
}

// cancelJob writes the terminal cancelled state and returns the context
// error that stopped the job, so callers can tell an explicit cancel from a
// deadline. The progress write uses a fresh context because the job's own
// context is already done.
func (o *BatchOrchestrator) cancelJob(rec *models.ProgressRecord, job models.BatchJob, cause error) error {
	rec.Status = models.StatusCancelled
	rec.CurrentItem = ""
	putCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.progress.Put(putCtx, rec); err != nil {
		logger.Warn("Progress update failed", "job_id", job.ID, "error", err)
	}
	logger.Warn("Batch job cancelled", "job_id", job.ID,
		"processed", rec.ProcessedCount, "cause", cause)
	return cause
}

// pace sleeps the inter-batch delay, aborting early on cancellation.
func (o *BatchOrchestrator) pace(ctx context.Context) error {
	timer := time.NewTimer(o.pacing)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// permanentIfInvalid marks validation and dimension failures non-retriable;
// retrying them cannot succeed.
func permanentIfInvalid(err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	var de *DimensionError
	if errors.As(err, &ve) || errors.As(err, &de) {
		return retry.Permanent(err)
	}
	return err
}

// PartitionItems splits items into consecutive batches of the given size;
// the last batch may be shorter. len(result) == ceil(len(items)/size).
func PartitionItems(items []string, size int) [][]string {
	if size < 1 || len(items) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
