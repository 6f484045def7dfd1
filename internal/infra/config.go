package infra

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment
// variables. DATABASE_URL is optional: without it the service runs on the
// in-memory stores, which is the development and test posture.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	StoragePath    string
	StorageBaseURL string

	PromptProvider string
	GeminiAPIKey   string
	GeminiModel    string
	GeminiBaseURL  string

	FalAPIKey       string
	FalModel        string
	FalBaseURL      string
	FalPollInterval time.Duration
	LogoImageSize   int

	MaxConcurrentGenerations int
	RenderMaxAttempts        int
	RenderRetryBackoff       time.Duration
	BatchDeadline            time.Duration
	SubscriberBuffer         int

	ItemsPerBatch   int
	RefinementItems int
	RefinementCost  int
	GenerationCost  int
	SignupGrant     int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. HTTP_WRITE_TIMEOUT_SECONDS defaults to 0 because
// the progress stream holds response writers open for the batch lifetime.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		PromptProvider: getEnv("PROMPT_PROVIDER", "gemini"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:  getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		FalAPIKey:       os.Getenv("FAL_KEY"),
		FalModel:        getEnv("FAL_MODEL", "fal-ai/bytedance/seedream/v4/text-to-image"),
		FalBaseURL:      getEnv("FAL_BASE_URL", "https://queue.fal.run"),
		FalPollInterval: time.Second * time.Duration(getEnvInt("FAL_POLL_INTERVAL_SECONDS", 2)),
		LogoImageSize:   getEnvInt("LOGO_IMAGE_SIZE", 1024),

		MaxConcurrentGenerations: getEnvInt("MAX_CONCURRENT_GENERATIONS", 4),
		RenderMaxAttempts:        getEnvInt("RENDER_MAX_ATTEMPTS", 2),
		RenderRetryBackoff:       time.Second * time.Duration(getEnvInt("RENDER_RETRY_BACKOFF_SECONDS", 2)),
		BatchDeadline:            time.Second * time.Duration(getEnvInt("BATCH_DEADLINE_SECONDS", 300)),
		SubscriberBuffer:         getEnvInt("SUBSCRIBER_BUFFER", 32),

		ItemsPerBatch:   getEnvInt("ITEMS_PER_BATCH", 15),
		RefinementItems: getEnvInt("REFINEMENT_ITEMS", 5),
		RefinementCost:  getEnvInt("REFINEMENT_COST_PER_ITEM", 1),
		GenerationCost:  getEnvInt("GENERATION_COST_PER_ITEM", 0),
		SignupGrant:     getEnvInt("SIGNUP_CREDIT_GRANT", 20),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
