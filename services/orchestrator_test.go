package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"image-search-platform/internal/retry"
	"image-search-platform/models"
)

type fakeFetcher struct {
	mu      sync.Mutex
	image   []byte
	failFor map[string]error
	calls   []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sourceURL)
	f.mu.Unlock()
	if err, ok := f.failFor[sourceURL]; ok {
		return nil, err
	}
	return f.image, nil
}

type fakeDeriver struct{}

func (fakeDeriver) DeriveVector(ctx context.Context, image []byte) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (fakeDeriver) Explain(ctx context.Context, query, match []byte) string {
	return "similar"
}

type fakePersister struct {
	mu     sync.Mutex
	stored []string
	err    error
}

func (p *fakePersister) Store(ctx context.Context, key string, data []byte, metadata map[string]string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	p.stored = append(p.stored, key)
	p.mu.Unlock()
	return "/media/" + key, nil
}

func (p *fakePersister) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrNotFound
}

type fakeIndexer struct {
	mu        sync.Mutex
	published []models.IndexRecord
	err       error
}

func (ix *fakeIndexer) Publish(ctx context.Context, rec models.IndexRecord) error {
	if ix.err != nil {
		return ix.err
	}
	ix.mu.Lock()
	ix.published = append(ix.published, rec)
	ix.mu.Unlock()
	return nil
}

func (ix *fakeIndexer) Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error) {
	return nil, nil
}

func (ix *fakeIndexer) Stats(ctx context.Context) (models.IndexStats, error) {
	return models.IndexStats{}, nil
}

func testOrchestrator(t *testing.T, pl *Pipeline, progress ProgressStore) *BatchOrchestrator {
	t.Helper()
	return NewBatchOrchestrator(
		func(ctx context.Context) (*Pipeline, error) { return pl, nil },
		progress,
		OrchestratorConfig{
			MaxImageDim: 800,
			Concurrency: 4,
			Pacing:      time.Millisecond,
			Retry:       retry.New(2, time.Millisecond, 2*time.Millisecond),
		},
	)
}

func queueJob(t *testing.T, store ProgressStore, job models.BatchJob) {
	t.Helper()
	err := store.Put(context.Background(), &models.ProgressRecord{
		JobID:      job.ID,
		Status:     models.StatusQueued,
		TotalCount: len(job.Items),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed progress: %v", err)
	}
}

func TestRunCompletesDespiteItemFailure(t *testing.T) {
	img := pngBytes(t, 64, 64)
	fetcher := &fakeFetcher{
		image:   img,
		failFor: map[string]error{"https://example.com/bad": errors.New("connection refused")},
	}
	blobs := &fakePersister{}
	index := &fakeIndexer{}
	progress := NewMemoryProgressStore()
	pl := NewPipeline(fetcher, fakeDeriver{}, blobs, index, nil)

	job := models.BatchJob{
		ID: "job-1",
		Items: []string{
			"https://example.com/ok1",
			"https://example.com/bad",
			"https://example.com/ok2",
		},
		BatchSize: 2,
	}
	queueJob(t, progress, job)

	if err := testOrchestrator(t, pl, progress).Run(context.Background(), job); err != nil {
		t.Fatalf("run: %v", err)
	}

	rec, err := progress.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if rec.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if rec.ProcessedCount != 3 {
		t.Fatalf("expected processed_count 3, got %d", rec.ProcessedCount)
	}
	if len(rec.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(rec.Failures))
	}
	if rec.Failures[0].SourceURL != "https://example.com/bad" {
		t.Fatalf("wrong failing source: %s", rec.Failures[0].SourceURL)
	}
	if !strings.Contains(rec.Failures[0].Summary, "connection refused") {
		t.Fatalf("failure summary missing cause: %s", rec.Failures[0].Summary)
	}
	if got := rec.ProcessedCount - len(rec.Failures); got != len(index.published) {
		t.Fatalf("succeeded count %d, but %d records published", got, len(index.published))
	}
	if len(blobs.stored) != 2 {
		t.Fatalf("expected 2 blobs stored, got %d", len(blobs.stored))
	}
}

func TestRunAllItemsFailStillCompletes(t *testing.T) {
	fetcher := &fakeFetcher{failFor: map[string]error{
		"u1": errors.New("boom"),
		"u2": errors.New("boom"),
	}}
	progress := NewMemoryProgressStore()
	pl := NewPipeline(fetcher, fakeDeriver{}, &fakePersister{}, &fakeIndexer{}, nil)

	job := models.BatchJob{ID: "job-2", Items: []string{"u1", "u2"}, BatchSize: 5}
	queueJob(t, progress, job)

	if err := testOrchestrator(t, pl, progress).Run(context.Background(), job); err != nil {
		t.Fatalf("run: %v", err)
	}

	rec, _ := progress.Get(context.Background(), "job-2")
	if rec.Status != models.StatusCompleted {
		t.Fatalf("all-failed job should still complete, got %s", rec.Status)
	}
	if rec.ProcessedCount != 2 || len(rec.Failures) != 2 {
		t.Fatalf("expected processed 2 / failures 2, got %d / %d",
			rec.ProcessedCount, len(rec.Failures))
	}
}

func TestRunSetupFailureMarksJobFailed(t *testing.T) {
	progress := NewMemoryProgressStore()
	o := NewBatchOrchestrator(
		func(ctx context.Context) (*Pipeline, error) {
			return nil, errors.New("no api key")
		},
		progress,
		OrchestratorConfig{Pacing: time.Millisecond},
	)

	job := models.BatchJob{ID: "job-3", Items: []string{"u1", "u2", "u3"}, BatchSize: 2}
	queueJob(t, progress, job)

	err := o.Run(context.Background(), job)
	var se *SetupError
	if !errors.As(err, &se) {
		t.Fatalf("expected SetupError, got %v", err)
	}

	rec, _ := progress.Get(context.Background(), "job-3")
	if rec.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}
	if len(rec.Failures) != 3 {
		t.Fatalf("expected a synthetic failure per item, got %d", len(rec.Failures))
	}
	if rec.ProcessedCount != 0 {
		t.Fatalf("nothing was attempted, processed_count should be 0, got %d", rec.ProcessedCount)
	}
}

func TestRunCancelledBetweenBatches(t *testing.T) {
	img := pngBytes(t, 32, 32)
	fetcher := &fakeFetcher{image: img}
	progress := NewMemoryProgressStore()
	pl := NewPipeline(fetcher, fakeDeriver{}, &fakePersister{}, &fakeIndexer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	o := NewBatchOrchestrator(
		func(ctx context.Context) (*Pipeline, error) { return pl, nil },
		progress,
		OrchestratorConfig{
			Concurrency: 2,
			// Pacing long enough that cancel lands during the inter-batch
			// delay, before the second batch starts.
			Pacing: 500 * time.Millisecond,
			Retry:  retry.New(1, time.Millisecond, time.Millisecond),
		},
	)

	job := models.BatchJob{ID: "job-4", Items: []string{"u1", "u2", "u3", "u4"}, BatchSize: 2}
	queueJob(t, progress, job)

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := o.Run(ctx, job)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	rec, _ := progress.Get(context.Background(), "job-4")
	if rec.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", rec.Status)
	}
	if rec.ProcessedCount != 2 {
		t.Fatalf("first batch should have finished before cancel, got processed %d", rec.ProcessedCount)
	}
}

func TestRunDeadlineReportsDeadlineExceeded(t *testing.T) {
	img := pngBytes(t, 32, 32)
	fetcher := &fakeFetcher{image: img}
	progress := NewMemoryProgressStore()
	pl := NewPipeline(fetcher, fakeDeriver{}, &fakePersister{}, &fakeIndexer{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	o := NewBatchOrchestrator(
		func(ctx context.Context) (*Pipeline, error) { return pl, nil },
		progress,
		OrchestratorConfig{
			Concurrency: 2,
			// The deadline expires during the inter-batch delay.
			Pacing: 500 * time.Millisecond,
			Retry:  retry.New(1, time.Millisecond, time.Millisecond),
		},
	)

	job := models.BatchJob{ID: "job-8", Items: []string{"u1", "u2", "u3"}, BatchSize: 2}
	queueJob(t, progress, job)

	err := o.Run(ctx, job)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}

	rec, _ := progress.Get(context.Background(), "job-8")
	if rec.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", rec.Status)
	}
}

func TestRunProgressAdvancesPerBatch(t *testing.T) {
	img := pngBytes(t, 32, 32)
	fetcher := &fakeFetcher{image: img}
	progress := &recordingProgressStore{inner: NewMemoryProgressStore()}
	pl := NewPipeline(fetcher, fakeDeriver{}, &fakePersister{}, &fakeIndexer{}, nil)

	job := models.BatchJob{
		ID:        "job-5",
		Items:     []string{"u1", "u2", "u3", "u4", "u5"},
		BatchSize: 2,
	}
	queueJob(t, progress, job)

	if err := testOrchestrator(t, pl, progress).Run(context.Background(), job); err != nil {
		t.Fatalf("run: %v", err)
	}

	// processed_count only moves at batch barriers: 2, 4, 5.
	var counts []int
	for _, rec := range progress.puts {
		if rec.Status == models.StatusRunning && rec.ProcessedCount > 0 {
			counts = append(counts, rec.ProcessedCount)
		}
	}
	want := []int{2, 4, 5}
	if len(counts) != len(want) {
		t.Fatalf("expected %d barrier updates, got %v", len(want), counts)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("expected barrier counts %v, got %v", want, counts)
		}
	}
}

// recordingProgressStore snapshots every Put so tests can assert the order
// of intermediate states, not just the terminal one.
type recordingProgressStore struct {
	mu    sync.Mutex
	inner *MemoryProgressStore
	puts  []models.ProgressRecord
}

func (s *recordingProgressStore) Get(ctx context.Context, jobID string) (*models.ProgressRecord, error) {
	return s.inner.Get(ctx, jobID)
}

func (s *recordingProgressStore) Put(ctx context.Context, rec *models.ProgressRecord) error {
	s.mu.Lock()
	snapshot := *rec
	snapshot.Failures = append([]models.ItemFailure(nil), rec.Failures...)
	s.puts = append(s.puts, snapshot)
	s.mu.Unlock()
	return s.inner.Put(ctx, rec)
}

func (s *recordingProgressStore) Delete(ctx context.Context, jobID string) error {
	return s.inner.Delete(ctx, jobID)
}

func TestPartitionItems(t *testing.T) {
	cases := []struct {
		items   int
		size    int
		batches int
		last    int
	}{
		{items: 3, size: 2, batches: 2, last: 1},
		{items: 4, size: 2, batches: 2, last: 2},
		{items: 1, size: 5, batches: 1, last: 1},
		{items: 10, size: 1, batches: 10, last: 1},
	}
	for _, tc := range cases {
		items := make([]string, tc.items)
		for i := range items {
			items[i] = "u"
		}
		got := PartitionItems(items, tc.size)
		if len(got) != tc.batches {
			t.Fatalf("%d items / size %d: expected %d batches, got %d",
				tc.items, tc.size, tc.batches, len(got))
		}
		if len(got[len(got)-1]) != tc.last {
			t.Fatalf("%d items / size %d: expected last batch %d, got %d",
				tc.items, tc.size, tc.last, len(got[len(got)-1]))
		}
		total := 0
		for _, b := range got {
			total += len(b)
		}
		if total != tc.items {
			t.Fatalf("partition lost items: %d != %d", total, tc.items)
		}
	}

	if got := PartitionItems(nil, 3); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestRunRetriesTransientPublishFailure(t *testing.T) {
	img := pngBytes(t, 32, 32)
	fetcher := &fakeFetcher{image: img}
	index := &flakyIndexer{failures: 1}
	progress := NewMemoryProgressStore()
	pl := NewPipeline(fetcher, fakeDeriver{}, &fakePersister{}, index, nil)

	job := models.BatchJob{ID: "job-6", Items: []string{"u1"}, BatchSize: 1}
	queueJob(t, progress, job)

	if err := testOrchestrator(t, pl, progress).Run(context.Background(), job); err != nil {
		t.Fatalf("run: %v", err)
	}

	rec, _ := progress.Get(context.Background(), "job-6")
	if len(rec.Failures) != 0 {
		t.Fatalf("transient publish failure should be retried away, got %v", rec.Failures)
	}
	if index.published != 1 {
		t.Fatalf("expected 1 published record, got %d", index.published)
	}
}

type flakyIndexer struct {
	mu        sync.Mutex
	failures  int
	published int
}

func (ix *flakyIndexer) Publish(ctx context.Context, rec models.IndexRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.failures > 0 {
		ix.failures--
		return errors.New("temporarily unavailable")
	}
	ix.published++
	return nil
}

func (ix *flakyIndexer) Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error) {
	return nil, nil
}

func (ix *flakyIndexer) Stats(ctx context.Context) (models.IndexStats, error) {
	return models.IndexStats{}, nil
}
