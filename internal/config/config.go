package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string
	Port     string
	GinMode  string

	CORSOrigins []string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Gemini Configuration
	GeminiAPIKey     string
	GeminiTier       string
	VisionModel      string
	EmbeddingsModel  string
	VectorDimensions int

	// Vector index
	VectorCollection string
	VectorIndexName  string

	// Blob storage (GridFS bucket)
	StorageBucket string
	MediaBaseURL  string

	// Image handling
	MaxFileSize   int64
	MaxImageDim   int
	AllowedTypes  []string
	FetchTimeout  time.Duration
	EmbedTimeout  time.Duration

	// Batch indexing
	DefaultBatchSize int
	BatchConcurrency int
	BatchPacing      time.Duration
	QueueEnabled     bool

	// Retry policy for remote calls
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Progress retention
	ProgressTTL           time.Duration
	ProgressSweepInterval time.Duration

	// HTTP Rate limiting
	RateLimitReqs   int
	RateLimitWindow int
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/image_search"),
		DBName:   getEnv("DB_NAME", "image_search"),
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		// Redis Configuration
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Gemini
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiTier:       getEnv("GEMINI_TIER", "free"),
		VisionModel:      getEnv("GEMINI_VISION_MODEL", "gemini-2.0-flash"),
		EmbeddingsModel:  getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDimensions: getEnvInt("VECTOR_DIM", 768),

		// Vector index
		VectorCollection: getEnv("VECTOR_COLLECTION", "images"),
		VectorIndexName:  getEnv("VECTOR_INDEX_NAME", "images_vector"),

		// Blob storage
		StorageBucket: getEnv("STORAGE_BUCKET", "media"),
		MediaBaseURL:  getEnv("MEDIA_BASE_URL", "/media"),

		// Image handling
		MaxFileSize:  getEnvInt64("MAX_FILE_SIZE", 10485760), // 10MB
		MaxImageDim:  getEnvInt("MAX_IMAGE_DIM", 800),
		AllowedTypes: strings.Split(getEnv("ALLOWED_FILE_TYPES", "image/jpeg,image/png,image/webp,image/bmp"), ","),
		FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		EmbedTimeout: getEnvDuration("EMBED_TIMEOUT", 60*time.Second),

		// Batch indexing
		DefaultBatchSize: getEnvInt("DEFAULT_BATCH_SIZE", 5),
		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 4),
		BatchPacing:      getEnvDuration("BATCH_PACING", 2*time.Second),
		QueueEnabled:     getEnvBool("QUEUE_ENABLED", false),

		// Retry policy
		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 4*time.Second),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),

		// Progress retention
		ProgressTTL:           getEnvDuration("PROGRESS_TTL", 24*time.Hour),
		ProgressSweepInterval: getEnvDuration("PROGRESS_SWEEP_INTERVAL", 15*time.Minute),

		// HTTP Rate limiting
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.VectorDimensions <= 0 {
		return nil, fmt.Errorf("VECTOR_DIM must be positive, got %d", cfg.VectorDimensions)
	}

	if cfg.RetryMaxAttempts <= 0 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive, got %d", cfg.RetryMaxAttempts)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
