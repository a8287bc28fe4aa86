package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port string

	LLMKey               string
	LLMBaseURL           string
	LLMModel             string
	LLMTimeout           time.Duration
	LLMMaxRetries        int
	LLMRequestsPerSecond float64
	LLMTemperature       float32

	AgentMaxTurns int

	StoreBaseURL string
	StoreTimeout time.Duration

	Database          string
	MaxDocumentTokens int
	MaxUploadBytes    int64

	LogLevel  string
	LogFormat string
	LogFile   string

	// Warnings collects values that could not be parsed and were replaced
	// by their defaults.
	Warnings []string
}

// Load reads configuration from the environment, providing sensible defaults.
func Load() Config {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()
	cfg := FromEnv()

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		log.Fatalf("failed to ensure database dir %s: %v", cfg.Database, err)
	}
	return cfg
}

// FromEnv builds a Config from the current process environment without
// touching the filesystem.
func FromEnv() Config {
	cfg := Config{
		Port:         getEnv("PORT", "5050"),
		LLMKey:       firstEnv("LLM_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"),
		LLMBaseURL:   getEnv("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		LLMModel:     getEnv("LLM_MODEL", "gemini-2.0-flash"),
		StoreBaseURL: getEnv("STORE_BASE_URL", "http://localhost:3001"),
		Database:     getEnv("DATABASE_PATH", "./data/flash-agent.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		LogFile:      os.Getenv("LOG_FILE"),
	}

	cfg.LLMTimeout = cfg.duration("LLM_TIMEOUT", 90*time.Second)
	cfg.LLMMaxRetries = cfg.integer("LLM_MAX_RETRIES", 3, 0)
	cfg.LLMRequestsPerSecond = cfg.float("LLM_REQUESTS_PER_SECOND", 2)
	cfg.LLMTemperature = float32(cfg.float("LLM_TEMPERATURE", 0.3))
	cfg.AgentMaxTurns = cfg.integer("AGENT_MAX_TURNS", 8, 1)
	cfg.StoreTimeout = cfg.duration("STORE_TIMEOUT", 5*time.Second)
	cfg.MaxDocumentTokens = cfg.integer("MAX_DOCUMENT_TOKENS", 12000, 1)
	cfg.MaxUploadBytes = int64(cfg.integer("MAX_UPLOAD_BYTES", 20<<20, 1))

	return cfg
}

func (c *Config) duration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	// Bare integers are read as seconds.
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	c.warn(key, raw, fallback)
	return fallback
}

// integer reads a value no smaller than least.
func (c *Config) integer(key string, fallback, least int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < least {
		c.warn(key, raw, fallback)
		return fallback
	}
	return v
}

func (c *Config) float(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		c.warn(key, raw, fallback)
		return fallback
	}
	return v
}

func (c *Config) warn(key, raw string, fallback any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s=%q, using %v", key, raw, fallback))
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if val := getEnv(key, ""); val != "" {
			return val
		}
	}
	return ""
}
