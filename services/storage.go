package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Persister stores processed media durably and hands back a retrievable
// address.
type Persister interface {
	Store(ctx context.Context, key string, data []byte, metadata map[string]string) (string, error)
	Retrieve(ctx context.Context, key string) ([]byte, error)
}

// BlobStore persists image bytes in a GridFS bucket, keyed by filename.
// Storing an existing key overwrites it. The bucket and its index are
// created on first use.
type BlobStore struct {
	bucket  *gridfs.Bucket
	baseURL string
}

func NewBlobStore(db *mongo.Database, bucketName, baseURL string) (*BlobStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, &SetupError{Component: "blob store", Err: err}
	}

	return &BlobStore{
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Store uploads data under key with the given metadata and returns the
// retrieval URL. Any previous file under the same key is removed first, so
// the operation is an upsert.
func (s *BlobStore) Store(ctx context.Context, key string, data []byte, metadata map[string]string) (string, error) {
	if key == "" {
		return "", &ValidationError{Reason: "empty storage key"}
	}
	if len(data) == 0 {
		return "", &ValidationError{Reason: "empty payload"}
	}

	if err := s.deleteByName(ctx, key); err != nil {
		return "", fmt.Errorf("replace existing blob %q: %w", key, err)
	}

	opts := options.GridFSUpload()
	if len(metadata) > 0 {
		md := bson.M{}
		for k, v := range metadata {
			md[k] = v
		}
		opts.SetMetadata(md)
	}

	if _, err := s.bucket.UploadFromStream(key, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("upload blob %q: %w", key, err)
	}

	return s.baseURL + "/" + key, nil
}

// Retrieve returns the bytes stored under key. A missing key yields
// ErrNotFound, distinct from transient storage failures.
func (s *BlobStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.bucket.DownloadToStreamByName(key, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("download blob %q: %w", key, err)
	}
	return buf.Bytes(), nil
}

// deleteByName removes every revision stored under the given filename.
func (s *BlobStore) deleteByName(ctx context.Context, key string) error {
	cursor, err := s.bucket.Find(bson.M{"filename": key})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var file struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&file); err != nil {
			return err
		}
		if err := s.bucket.Delete(file.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return err
		}
	}
	return cursor.Err()
}
