package models

import (
	"time"
)

// Job status constants. Transitions are forward-only:
// queued -> running -> completed | failed | cancelled.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// BatchJob is one ingestion request: a list of image URLs processed in
// consecutive batches of BatchSize. Consumed entirely by a single
// orchestrator run.
type BatchJob struct {
	ID        string    `json:"id"`
	Items     []string  `json:"items"`
	BatchSize int       `json:"batch_size"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemFailure records one source URL that could not be ingested, with a
// human-readable summary of what went wrong.
type ItemFailure struct {
	SourceURL string `bson:"source_url" json:"source_url"`
	Summary   string `bson:"summary" json:"summary"`
}

// ProgressRecord is the live status of a batch job. It has a single writer
// (the orchestrator running the job) and any number of concurrent readers.
// ProcessedCount counts attempted items, successes and failures alike.
type ProgressRecord struct {
	JobID          string        `bson:"job_id" json:"job_id"`
	Status         string        `bson:"status" json:"status"`
	ProcessedCount int           `bson:"processed_count" json:"processed_count"`
	TotalCount     int           `bson:"total_count" json:"total_count"`
	CurrentItem    string        `bson:"current_item,omitempty" json:"current_item,omitempty"`
	Failures       []ItemFailure `bson:"failures" json:"failures"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `bson:"updated_at" json:"updated_at"`
}

// Terminal reports whether the record's status admits no further transitions.
func (r *ProgressRecord) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// SucceededCount is the number of attempted items that did not fail.
func (r *ProgressRecord) SucceededCount() int {
	return r.ProcessedCount - len(r.Failures)
}

// IndexRequest is the submission payload for the batch indexing endpoint.
type IndexRequest struct {
	ImageURLs []string `json:"image_urls" binding:"required"`
	BatchSize int      `json:"batch_size"`
}
