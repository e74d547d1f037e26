package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	JWTSecret    string
	RedisURL     string

	GeminiAPIKey  string
	GeminiEmbed   string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIEmbed   string
	OpenAIModel   string
	DefaultModel  string
	GeoLookupURL  string

	ChunkTokens       int
	OverlapTokens     int
	EmbedBatchSize    int
	InsertBatchSize   int
	IngestWorkers     int
	MaxConversations  int
	DefaultChunkLimit int

	Port string
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "docqa-uploads"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		RedisURL:     getEnv("REDIS_URL", ""),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiEmbed:   getEnv("GEMINI_EMBED_MODEL", "text-embedding-004"),
		GeminiModel:   getEnv("GEMINI_GEN_MODEL", "gemini-1.5-flash"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIEmbed:   getEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		OpenAIModel:   getEnv("OPENAI_GEN_MODEL", "gpt-4o-mini"),
		DefaultModel:  getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		GeoLookupURL:  getEnv("GEO_LOOKUP_URL", "https://ipapi.co"),

		ChunkTokens:       getEnvInt("CHUNK_TOKENS", 500),
		OverlapTokens:     getEnvInt("OVERLAP_TOKENS", 100),
		EmbedBatchSize:    getEnvInt("EMBED_BATCH_SIZE", 50),
		InsertBatchSize:   getEnvInt("INSERT_BATCH_SIZE", 50),
		IngestWorkers:     getEnvInt("INGEST_WORKERS", 2),
		MaxConversations:  getEnvInt("MAX_CONVERSATIONS_PER_SESSION", 3),
		DefaultChunkLimit: getEnvInt("DEFAULT_CHUNK_LIMIT", 50),

		Port: getEnv("PORT", "8080"),
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
