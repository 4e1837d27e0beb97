package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"image-search-platform/internal/logger"
	"image-search-platform/models"
)

// Indexer publishes vectors into a searchable index and answers top-k
// nearest-neighbor queries.
type Indexer interface {
	Publish(ctx context.Context, rec models.IndexRecord) error
	Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error)
	Stats(ctx context.Context) (models.IndexStats, error)
}

// VectorIndex stores IndexRecords in a MongoDB collection behind an Atlas
// Vector Search index with a fixed-dimension cosine vector field.
type VectorIndex struct {
	db         *mongo.Database
	col        *mongo.Collection
	indexName  string
	dimensions int
}

func NewVectorIndex(db *mongo.Database, collection, indexName string, dimensions int) *VectorIndex {
	return &VectorIndex{
		db:         db,
		col:        db.Collection(collection),
		indexName:  indexName,
		dimensions: dimensions,
	}
}

// EnsureIndex creates the vector search index if it does not already exist.
// The vector field is declared at the configured fixed dimension; documents
// with any other dimension are rejected before they reach the index.
func (vi *VectorIndex) EnsureIndex(ctx context.Context) error {
	exists, err := vi.indexExists(ctx)
	if err == nil && exists {
		return nil
	}

	definition := bson.M{
		"fields": bson.A{
			bson.M{
				"type":          "vector",
				"path":          "vector",
				"numDimensions": vi.dimensions,
				"similarity":    "cosine",
			},
		},
	}

	_, err = vi.col.SearchIndexes().CreateOne(ctx, mongo.SearchIndexModel{
		Definition: definition,
		Options:    options.SearchIndexes().SetName(vi.indexName).SetType("vectorSearch"),
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return &SetupError{Component: "vector index", Err: err}
	}

	logger.Info("Vector search index created", "index", vi.indexName, "dimensions", vi.dimensions)
	return nil
}

func (vi *VectorIndex) indexExists(ctx context.Context) (bool, error) {
	cursor, err := vi.col.SearchIndexes().List(ctx, options.SearchIndexes().SetName(vi.indexName))
	if err != nil {
		return false, err
	}
	defer cursor.Close(ctx)
	return cursor.Next(ctx), cursor.Err()
}

// Publish upserts a record by id. Re-publishing an id overwrites in place;
// it never appends a duplicate.
func (vi *VectorIndex) Publish(ctx context.Context, rec models.IndexRecord) error {
	if rec.ID == "" {
		return &ValidationError{Reason: "record id is empty"}
	}
	if err := ValidateDimension(rec.Vector, vi.dimensions); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := vi.col.ReplaceOne(ctx,
		bson.M{"_id": rec.ID},
		rec,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("publish record %s: %w", rec.ID, err)
	}
	return nil
}

// Search returns up to k records ordered by descending similarity score.
// A k larger than the number of indexed records returns everything
// available.
func (vi *VectorIndex) Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return nil, &ValidationError{Reason: fmt.Sprintf("k must be positive, got %d", k)}
	}
	if err := ValidateDimension(vector, vi.dimensions); err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.M{
			"index":         vi.indexName,
			"path":          "vector",
			"queryVector":   vector,
			"numCandidates": k * 10,
			"limit":         k,
		}}},
		{{Key: "$project", Value: bson.M{
			"_id":        1,
			"image_name": 1,
			"image_url":  1,
			"blob_name":  1,
			"metadata":   1,
			"score":      bson.M{"$meta": "vectorSearchScore"},
		}}},
	}

	cursor, err := vi.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer cursor.Close(ctx)

	var hits []models.SearchHit
	if err := cursor.All(ctx, &hits); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}
	return hits, nil
}

// Get returns one record by id, or ErrNotFound.
func (vi *VectorIndex) Get(ctx context.Context, id string) (*models.IndexRecord, error) {
	var rec models.IndexRecord
	err := vi.col.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a record by id. Deleting an absent id yields ErrNotFound.
func (vi *VectorIndex) Delete(ctx context.Context, id string) error {
	res, err := vi.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return nil
}

// Stats reports document count and storage size of the index collection.
func (vi *VectorIndex) Stats(ctx context.Context) (models.IndexStats, error) {
	count, err := vi.col.CountDocuments(ctx, bson.M{})
	if err != nil {
		return models.IndexStats{}, err
	}

	var collStats struct {
		Size int64 `bson:"size"`
	}
	err = vi.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: vi.col.Name()}}).Decode(&collStats)
	if err != nil {
		// Size is informational; count alone is still useful.
		logger.Warn("collStats failed", "error", err)
	}

	return models.IndexStats{Count: count, Size: collStats.Size}, nil
}
