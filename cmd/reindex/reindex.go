package main

import (
	"context"
	"flag"
	"log"
	"time"

	"image-search-platform/internal/config"
	"image-search-platform/internal/logger"
	"image-search-platform/services"
)

// Drops the vector search index, and optionally the indexed documents, so
// the index can be recreated with a fresh configuration. The next service
// run (or the -recreate flag here) builds it again.
func main() {
	dropDocs := flag.Bool("drop-docs", false, "also delete all indexed documents")
	recreate := flag.Bool("recreate", true, "recreate the search index after dropping it")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	defer mongoClient.Disconnect(ctx)

	db := mongoClient.Database(cfg.DBName)
	col := db.Collection(cfg.VectorCollection)

	logger.Info("Resetting search index",
		"collection", cfg.VectorCollection, "index", cfg.VectorIndexName)

	if err := col.SearchIndexes().DropOne(ctx, cfg.VectorIndexName); err != nil {
		// A missing index is fine; anything else is not.
		logger.Warn("Index drop skipped", "error", err)
	} else {
		logger.Info("Search index dropped", "index", cfg.VectorIndexName)
	}

	if *dropDocs {
		if err := col.Drop(ctx); err != nil {
			log.Fatal("Failed to drop collection:", err)
		}
		logger.Info("Indexed documents dropped", "collection", cfg.VectorCollection)
	}

	if *recreate {
		index := services.NewVectorIndex(db, cfg.VectorCollection, cfg.VectorIndexName, cfg.VectorDimensions)
		if err := index.EnsureIndex(ctx); err != nil {
			log.Fatal("Failed to recreate search index:", err)
		}
		logger.Info("Search index recreated",
			"index", cfg.VectorIndexName, "dimensions", cfg.VectorDimensions)
	}

	logger.Info("Reset complete")
}
