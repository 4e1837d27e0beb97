package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"image-search-platform/internal/config"
	"image-search-platform/services"
	"image-search-platform/utils"
)

// SetupMediaRoutes serves stored image blobs under the media base path, so
// the URLs returned by the search endpoints resolve.
func SetupMediaRoutes(router *gin.Engine, cfg *config.Config, mongoClient *mongo.Client) error {
	blobs, err := services.NewBlobStore(
		mongoClient.Database(cfg.DBName), cfg.StorageBucket, cfg.MediaBaseURL)
	if err != nil {
		return err
	}

	router.GET(cfg.MediaBaseURL+"/:name", HandleServeMedia(blobs))
	return nil
}

// HandleServeMedia streams one stored blob. Everything in the bucket is a
// normalized JPEG.
func HandleServeMedia(blobs *services.BlobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := blobs.Retrieve(c.Request.Context(), c.Param("name"))
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				utils.RespondWithNotFound(c, "Media not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to load media", nil)
			return
		}
		c.Header("Cache-Control", "public, max-age=86400")
		c.Data(http.StatusOK, "image/jpeg", data)
	}
}
