package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database — optional: when empty, frames/videos live in memory only
	DatabaseURL string

	// Redis — optional: when empty, the queue is not snapshotted across restarts
	RedisURL string

	// Media object storage (Supabase-compatible)
	StorageURL        string
	StorageServiceKey string
	StorageBucket     string

	// OpenAI (transcription + scene planning)
	OpenAIKey string

	// Gemini / Veo (frame + video generation — same key)
	GeminiKey string
	VeoModel  string

	// Workflow
	AutoProgress bool
	DefaultStyle string // global visual style applied to every generation prompt
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		StorageURL:         getEnv("STORAGE_URL", ""),
		StorageServiceKey:  getEnv("STORAGE_SERVICE_KEY", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", "lyricframe-media"),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		VeoModel:           getEnv("VEO_MODEL", ""),
		AutoProgress:       getEnvBool("AUTO_PROGRESS", true),
		DefaultStyle:       getEnv("DEFAULT_STYLE", ""),
	}

	// Validate required fields
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.GeminiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	if cfg.StorageURL == "" || cfg.StorageServiceKey == "" {
		return nil, fmt.Errorf("STORAGE_URL and STORAGE_SERVICE_KEY are required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}
