package routes

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"image-search-platform/internal/ai"
	"image-search-platform/internal/config"
	"image-search-platform/internal/logger"
	"image-search-platform/internal/telemetry"
	"image-search-platform/models"
	"image-search-platform/services"
	"image-search-platform/utils"
)

const defaultSearchLimit = 5

// SetupSearchRoutes registers the query endpoints: upload-and-search,
// search-only, and single-record lookup and deletion.
func SetupSearchRoutes(router *gin.Engine, cfg *config.Config, mongoClient *mongo.Client, vision *ai.VisionClient, metrics *telemetry.Metrics) error {
	db := mongoClient.Database(cfg.DBName)

	blobs, err := services.NewBlobStore(db, cfg.StorageBucket, cfg.MediaBaseURL)
	if err != nil {
		return err
	}
	index := services.NewVectorIndex(db, cfg.VectorCollection, cfg.VectorIndexName, cfg.VectorDimensions)

	api := router.Group("/api/images")
	api.POST("/upload", HandleImageQuery(cfg, vision, blobs, index, metrics, true))
	api.POST("/search", HandleImageQuery(cfg, vision, blobs, index, metrics, false))
	api.GET("/:id", HandleGetImage(index))
	api.DELETE("/:id", HandleDeleteImage(index))

	return nil
}

// HandleImageQuery runs the synchronous pipeline for one query image:
// validate, normalize, derive a vector, search the index, and explain each
// match. When persistQuery is set the query image itself is stored and its
// URL returned.
func HandleImageQuery(cfg *config.Config, vision *ai.VisionClient, blobs *services.BlobStore, index *services.VectorIndex, metrics *telemetry.Metrics, persistQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()

		fileHeader, err := c.FormFile("image")
		if err != nil {
			utils.RespondWithBadRequest(c, "No image file uploaded", nil)
			return
		}
		if fileHeader.Size > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge,
				"file_too_large", "Image exceeds the maximum allowed size",
				gin.H{"max_bytes": cfg.MaxFileSize})
			return
		}
		if !utils.IsValidImageExtension(fileHeader.Filename) {
			utils.RespondWithBadRequest(c, "Unsupported image file extension", nil)
			return
		}
		if ct := fileHeader.Header.Get("Content-Type"); ct != "" && !utils.IsValidImageType(ct, cfg.AllowedTypes) {
			utils.RespondWithBadRequest(c, "Unsupported image content type", nil)
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read uploaded file", nil)
			return
		}
		raw, err := io.ReadAll(io.LimitReader(file, cfg.MaxFileSize+1))
		file.Close()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read uploaded file", nil)
			return
		}

		normalized, err := services.NormalizeImage(raw, cfg.MaxImageDim)
		if err != nil {
			var ve *services.ValidationError
			if errors.As(err, &ve) {
				utils.RespondWithBadRequest(c, "File is not a decodable image", nil)
				return
			}
			utils.RespondWithInternalError(c, "Image processing failed", nil)
			return
		}

		vector, err := vision.DeriveVector(ctx, normalized)
		if err != nil {
			logger.Error("Vector derivation failed", "error", err)
			utils.RespondWithError(c, http.StatusBadGateway,
				"embedding_failed", "Could not derive a vector for the image", nil)
			return
		}

		limit := defaultSearchLimit
		if v := c.PostForm("limit"); v != "" {
			if n, perr := strconv.Atoi(v); perr == nil && n > 0 && n <= 20 {
				limit = n
			}
		}

		hits, err := index.Search(ctx, vector, limit)
		if err != nil {
			logger.Error("Vector search failed", "error", err)
			utils.RespondWithInternalError(c, "Search failed", nil)
			return
		}
		if metrics != nil {
			metrics.SearchesPerformed.Add(ctx, 1)
		}

		fileURL := ""
		if persistQuery {
			blobName := uuid.NewString() + ".jpg"
			fileURL, err = blobs.Store(ctx, blobName, normalized, map[string]string{
				"original_filename": fileHeader.Filename,
				"uploaded_at":       time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				logger.Error("Query image persistence failed", "error", err)
				utils.RespondWithInternalError(c, "Failed to store uploaded image", nil)
				return
			}
		}

		similar := make([]models.SimilarImage, 0, len(hits))
		for _, hit := range hits {
			explanation := ai.FallbackExplanation
			if match, rerr := blobs.Retrieve(ctx, hit.BlobName); rerr == nil {
				explanation = vision.Explain(ctx, normalized, match)
			}
			similar = append(similar, models.SimilarImage{
				ImageID:     hit.ID,
				ImageURL:    hit.ImageURL,
				Score:       hit.Score,
				Explanation: explanation,
				Metadata:    hit.Metadata,
			})
		}

		c.JSON(http.StatusOK, models.SearchResponse{
			Message:        "Search completed",
			QueryFilename:  fileHeader.Filename,
			FileURL:        fileURL,
			SimilarImages:  similar,
			TotalResults:   len(similar),
			ProcessingTime: time.Since(start).Seconds(),
		})
	}
}

// HandleGetImage returns a single index record by id.
func HandleGetImage(index *services.VectorIndex) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := index.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				utils.RespondWithNotFound(c, "Image not found")
				return
			}
			utils.RespondWithInternalError(c, "Lookup failed", nil)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// HandleDeleteImage removes a record from the index. The stored blob is
// kept; orphaned blobs are reclaimed by reindexing.
func HandleDeleteImage(index *services.VectorIndex) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := index.Delete(c.Request.Context(), id); err != nil {
			if errors.Is(err, services.ErrNotFound) {
				utils.RespondWithNotFound(c, "Image not found")
				return
			}
			utils.RespondWithInternalError(c, "Delete failed", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "image deleted", "id": id})
	}
}
