// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service.
type Config struct {
	DBPath         string
	VectorPath     string
	GeminiAPIKey   string
	ExtractModel   string
	EmbeddingModel string
	APIPort        string
	RootFolderID   string
	Verbose        bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		DBPath:         getEnv("MYWORLD_DB_PATH", "./data/myworld.db"),
		VectorPath:     getEnv("MYWORLD_VECTOR_PATH", "./data/index.bin"),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		ExtractModel:   getEnv("MYWORLD_EXTRACT_MODEL", "gemini-2.5-flash"),
		EmbeddingModel: getEnv("MYWORLD_EMBEDDING_MODEL", "gemini-embedding-001"),
		APIPort:        getEnv("MYWORLD_API_PORT", "8080"),
		RootFolderID:   getEnv("MYWORLD_ROOT_FOLDER", "root"),
		Verbose:        getEnvBool("MYWORLD_VERBOSE", false),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
