package models

import (
	"time"
)

// IndexRecord is the document stored in the vector search collection.
// ID is generated once per ingested image and never reused; re-publishing
// the same ID overwrites the existing document.
type IndexRecord struct {
	ID        string            `bson:"_id" json:"id"`
	ImageName string            `bson:"image_name" json:"image_name"`
	ImageURL  string            `bson:"image_url" json:"image_url"`
	BlobName  string            `bson:"blob_name" json:"blob_name"`
	Vector    []float32         `bson:"vector" json:"-"`
	Metadata  map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
}

// SearchHit is one nearest-neighbor result with its similarity score.
type SearchHit struct {
	ID        string            `bson:"_id" json:"id"`
	ImageName string            `bson:"image_name" json:"image_name"`
	ImageURL  string            `bson:"image_url" json:"image_url"`
	BlobName  string            `bson:"blob_name" json:"blob_name"`
	Metadata  map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Score     float64           `bson:"score" json:"score"`
}

// IndexStats summarizes the vector index.
type IndexStats struct {
	Count int64 `json:"count"`
	Size  int64 `json:"size"`
}

// SimilarImage is the API shape for one search result, including the
// best-effort explanation of why it matched.
type SimilarImage struct {
	ImageID     string            `json:"image_id"`
	ImageURL    string            `json:"image_url"`
	Score       float64           `json:"similarity_score"`
	Explanation string            `json:"explanation"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SearchResponse is returned by the query endpoints.
type SearchResponse struct {
	Message        string         `json:"message"`
	QueryFilename  string         `json:"query_filename,omitempty"`
	FileURL        string         `json:"file_url,omitempty"`
	SimilarImages  []SimilarImage `json:"similar_images"`
	TotalResults   int            `json:"total_results"`
	ProcessingTime float64        `json:"processing_time"`
}
