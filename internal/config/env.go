package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	AIAPIKey     string // Gemini (primary embeddings + generation)
	OpenAIAPIKey string // optional fallback embedding provider
	EmbedModel   string
	EmbedDim     int
	GenModel     string

	ChunkMaxChars   int
	ChunkOverlap    int
	EmbedBatchSize  int
	EmbedMaxRetries int
	EmbedInflight   int64 // system-wide bound on in-flight embedding batches
	IngestWorkers   int

	AnswerTokenBudget int
	KPerContext       int
	SearchTimeout     time.Duration
	MaxAnswerTokens   int

	JWTSecret string
	Port      string
}

// LoadConfig loads the environment variables and returns config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "ragline-sources"),

		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),

		ChunkMaxChars:   getEnvInt("CHUNK_MAX_CHARS", 1000),
		ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", 100),
		EmbedBatchSize:  getEnvInt("EMBED_BATCH_SIZE", 64),
		EmbedMaxRetries: getEnvInt("EMBED_MAX_RETRIES", 3),
		EmbedInflight:   int64(getEnvInt("EMBED_MAX_INFLIGHT", 4)),
		IngestWorkers:   getEnvInt("INGEST_WORKERS", 4),

		AnswerTokenBudget: getEnvInt("ANSWER_TOKEN_BUDGET", 3000),
		KPerContext:       getEnvInt("K_PER_CONTEXT", 5),
		SearchTimeout:     getEnvDuration("SEARCH_TIMEOUT", 5*time.Second),
		MaxAnswerTokens:   getEnvInt("MAX_ANSWER_TOKENS", 1024),

		JWTSecret: getEnv("JWT_SECRET", ""),
		Port:      getEnv("PORT", "8080"),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
