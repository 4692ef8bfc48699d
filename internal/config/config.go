package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

type Config struct {
	Mode Mode

	Port     string
	LogLevel string

	// Completion provider
	LLMProvider       string // "anthropic", "vertex", "gemini" or "mock"
	AnthropicAPIKey   string
	GeminiAPIKey      string
	ModelName         string
	MaxTokens         int
	CompletionTimeout time.Duration // 0 = wait for the provider as long as it takes

	GCPProjectID string
	GCPLocation  string

	// Storage
	StorageBackend string // "memory", "sqlite", "postgres" or "firestore"
	SQLitePath     string
	DatabaseURL    string

	// Identity
	AuthMode           string // "supabase" or "static"
	SupabaseURL        string
	SupabaseServiceKey string
	StaticTokens       string // token:user_id[:email],...

	// Hardening, all opt-in
	ExchangeLock       string // "none", "local" or "redis"; the redis lease is CompletionTimeout+30s, or 5m without one
	RedisURL           string
	HistoryWindow      int
	HistoryTokenBudget int

	// Pricing, USD per million tokens
	InputRate  float64
	OutputRate float64
}

// DefaultModel is the model the original service was built against.
const DefaultModel = "claude-sonnet-4-20250514"

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloatEnv(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getDurationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Load reads a .env file if there is one, then all env vars, and builds the config.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the config from the process environment only.
func FromEnv() (*Config, error) {
	mode := ModeLocal
	if getEnv("SECRETARY_MODE", "local") == "cloud" {
		mode = ModeCloud
	}

	defaultProvider := "mock"
	defaultAuth := "static"
	if mode == ModeCloud {
		defaultProvider = "anthropic"
		defaultAuth = "supabase"
	}

	cfg := &Config{
		Mode: mode,

		Port:     getEnv("SECRETARY_PORT", getEnv("PORT", "3000")),
		LogLevel: getEnv("SECRETARY_LOG_LEVEL", "info"),

		LLMProvider:     strings.ToLower(getEnv("SECRETARY_LLM_PROVIDER", defaultProvider)),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		ModelName:       getEnv("SECRETARY_MODEL_NAME", ""),

		GCPProjectID: getEnv("SECRETARY_GCP_PROJECT", ""),
		GCPLocation:  getEnv("SECRETARY_GCP_LOCATION", "us-central1"),

		StorageBackend: strings.ToLower(getEnv("SECRETARY_STORAGE_BACKEND", "memory")),
		SQLitePath:     getEnv("SECRETARY_SQLITE_PATH", "data/secretary.db"),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DB_URL")),

		AuthMode:           strings.ToLower(getEnv("SECRETARY_AUTH_MODE", defaultAuth)),
		SupabaseURL:        strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		StaticTokens:       getEnv("SECRETARY_STATIC_TOKENS", "dev-token:dev-user:dev@example.com"),

		ExchangeLock: strings.ToLower(getEnv("SECRETARY_EXCHANGE_LOCK", "none")),
		RedisURL:     os.Getenv("REDIS_URL"),
	}

	var err error
	if cfg.MaxTokens, err = getIntEnv("SECRETARY_MAX_TOKENS", 1024); err != nil {
		return nil, err
	}
	if cfg.CompletionTimeout, err = getDurationEnv("SECRETARY_COMPLETION_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.HistoryWindow, err = getIntEnv("SECRETARY_HISTORY_WINDOW", 0); err != nil {
		return nil, err
	}
	if cfg.HistoryTokenBudget, err = getIntEnv("SECRETARY_HISTORY_TOKEN_BUDGET", 0); err != nil {
		return nil, err
	}
	if cfg.InputRate, err = getFloatEnv("SECRETARY_INPUT_RATE", 3); err != nil {
		return nil, err
	}
	if cfg.OutputRate, err = getFloatEnv("SECRETARY_OUTPUT_RATE", 15); err != nil {
		return nil, err
	}

	if cfg.ModelName == "" {
		cfg.ModelName = defaultModelFor(cfg.LLMProvider)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultModelFor(provider string) string {
	switch provider {
	case "vertex", "gemini":
		return "gemini-2.5-flash"
	default:
		return DefaultModel
	}
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when SECRETARY_LLM_PROVIDER=anthropic")
		}
	case "vertex":
		if c.GCPProjectID == "" {
			return fmt.Errorf("SECRETARY_GCP_PROJECT is required when SECRETARY_LLM_PROVIDER=vertex")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when SECRETARY_LLM_PROVIDER=gemini")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown SECRETARY_LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.StorageBackend {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DB_URL is required when SECRETARY_STORAGE_BACKEND=postgres")
		}
	case "firestore":
		if c.GCPProjectID == "" {
			return fmt.Errorf("SECRETARY_GCP_PROJECT is required when SECRETARY_STORAGE_BACKEND=firestore")
		}
	default:
		return fmt.Errorf("unknown SECRETARY_STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.AuthMode {
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required when SECRETARY_AUTH_MODE=supabase")
		}
	case "static":
	default:
		return fmt.Errorf("unknown SECRETARY_AUTH_MODE %q", c.AuthMode)
	}

	switch c.ExchangeLock {
	case "none", "local":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SECRETARY_EXCHANGE_LOCK=redis")
		}
	default:
		return fmt.Errorf("unknown SECRETARY_EXCHANGE_LOCK %q", c.ExchangeLock)
	}

	if c.MaxTokens <= 0 {
		return fmt.Errorf("SECRETARY_MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.HistoryWindow < 0 || c.HistoryTokenBudget < 0 {
		return fmt.Errorf("history window settings must not be negative")
	}
	if c.InputRate < 0 || c.OutputRate < 0 {
		return fmt.Errorf("token rates must not be negative")
	}
	return nil
}
