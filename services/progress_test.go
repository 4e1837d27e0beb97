package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"image-search-platform/models"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	store := NewMemoryProgressStore()
	ctx := context.Background()

	rec := &models.ProgressRecord{
		JobID:      "job-1",
		Status:     models.StatusQueued,
		TotalCount: 3,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != models.StatusQueued || got.TotalCount != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := store.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreUnknownJob(t *testing.T) {
	store := NewMemoryProgressStore()
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreReadersDoNotShareState(t *testing.T) {
	store := NewMemoryProgressStore()
	ctx := context.Background()

	rec := &models.ProgressRecord{
		JobID:    "job-2",
		Status:   models.StatusRunning,
		Failures: []models.ItemFailure{{SourceURL: "a", Summary: "x"}},
	}
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, _ := store.Get(ctx, "job-2")
	got.Failures[0].Summary = "mutated by reader"
	got.Status = models.StatusFailed

	again, _ := store.Get(ctx, "job-2")
	if again.Failures[0].Summary != "x" || again.Status != models.StatusRunning {
		t.Fatalf("reader mutation leaked into store: %+v", again)
	}
}

func TestSweepEvictsOnlyStaleTerminalRecords(t *testing.T) {
	store := NewMemoryProgressStore()
	ctx := context.Background()

	stale := &models.ProgressRecord{JobID: "stale", Status: models.StatusCompleted}
	running := &models.ProgressRecord{JobID: "running", Status: models.StatusRunning}
	store.Put(ctx, stale)
	store.Put(ctx, running)

	// Backdate the stale record past the TTL window.
	store.mu.Lock()
	store.records["stale"].UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	store.records["running"].UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	store.mu.Unlock()

	if n := store.Sweep(time.Hour); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := store.Get(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale terminal record should be gone")
	}
	if _, err := store.Get(ctx, "running"); err != nil {
		t.Fatalf("running record must survive sweep: %v", err)
	}
}
