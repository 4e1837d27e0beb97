package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/redis/go-redis/v9"

	"image-search-platform/internal/logger"
	"image-search-platform/models"
)

// ProgressStore maps a job id to its live progress record. Each record has
// exactly one writer (the orchestrator running that job); readers may poll
// concurrently. Entries are evicted explicitly, never silently by the
// store's write path.
type ProgressStore interface {
	Get(ctx context.Context, jobID string) (*models.ProgressRecord, error)
	Put(ctx context.Context, rec *models.ProgressRecord) error
	Delete(ctx context.Context, jobID string) error
}

// MemoryProgressStore is a process-local store for single-process
// deployments. Terminal records are reclaimed by a scheduled sweep so the
// map does not grow without bound.
type MemoryProgressStore struct {
	mu      sync.RWMutex
	records map[string]*models.ProgressRecord
}

func NewMemoryProgressStore() *MemoryProgressStore {
	return &MemoryProgressStore{
		records: make(map[string]*models.ProgressRecord),
	}
}

func (s *MemoryProgressStore) Get(ctx context.Context, jobID string) (*models.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return copyRecord(rec), nil
}

func (s *MemoryProgressStore) Put(ctx context.Context, rec *models.ProgressRecord) error {
	if rec.JobID == "" {
		return &ValidationError{Reason: "progress record without job id"}
	}

	stored := copyRecord(rec)
	stored.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.records[rec.JobID] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryProgressStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	delete(s.records, jobID)
	s.mu.Unlock()
	return nil
}

// Sweep removes terminal records untouched for longer than ttl and returns
// how many were evicted.
func (s *MemoryProgressStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().UTC().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, rec := range s.records {
		if rec.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			evicted++
		}
	}
	return evicted
}

// copyRecord snapshots a record so readers never share slices with the
// writer.
func copyRecord(rec *models.ProgressRecord) *models.ProgressRecord {
	out := *rec
	out.Failures = make([]models.ItemFailure, len(rec.Failures))
	copy(out.Failures, rec.Failures)
	return &out
}

// StartProgressSweeper schedules periodic eviction of stale terminal
// records. Stop the returned scheduler on shutdown.
func StartProgressSweeper(store *MemoryProgressStore, interval, ttl time.Duration) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.Every(interval).Do(func() {
		if n := store.Sweep(ttl); n > 0 {
			logger.Info("Swept stale progress records", "evicted", n)
		}
	})
	s.StartAsync()
	return s
}

// RedisProgressStore keeps progress records in Redis so the API process can
// answer status queries for jobs executed by a separate worker process.
// Redis expiry is the eviction policy.
type RedisProgressStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisProgressStore(rdb *redis.Client, ttl time.Duration) *RedisProgressStore {
	return &RedisProgressStore{rdb: rdb, ttl: ttl}
}

func progressKey(jobID string) string {
	return "progress:" + jobID
}

func (s *RedisProgressStore) Get(ctx context.Context, jobID string) (*models.ProgressRecord, error) {
	data, err := s.rdb.Get(ctx, progressKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get progress %s: %w", jobID, err)
	}

	var rec models.ProgressRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode progress %s: %w", jobID, err)
	}
	return &rec, nil
}

func (s *RedisProgressStore) Put(ctx context.Context, rec *models.ProgressRecord) error {
	if rec.JobID == "" {
		return &ValidationError{Reason: "progress record without job id"}
	}
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode progress %s: %w", rec.JobID, err)
	}
	return s.rdb.Set(ctx, progressKey(rec.JobID), data, s.ttl).Err()
}

func (s *RedisProgressStore) Delete(ctx context.Context, jobID string) error {
	return s.rdb.Del(ctx, progressKey(jobID)).Err()
}
