package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort                = "8080"
	defaultDatabaseURL         = "file:ai-chat.db"
	defaultOpenRouterBaseURL   = "https://openrouter.ai/api/v1"
	defaultModel               = "moonshotai/kimi-k2.5"
	defaultUsdToRubRate        = 90
	defaultUsdRateAPI          = "https://open.er-api.com/v6/latest/USD"
	defaultUsdRateCacheMs      = 10 * 60 * 1000
	defaultCommission          = 1.5
	defaultUsdToTokensRate     = 100
	defaultStreamIdleSeconds   = 120
	defaultMessagesPerMinute   = 40
	defaultAdminCallsPerMinute = 10
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	PublicBaseURL  string

	DatabaseURL       string
	DatabaseAuthToken string

	OpenRouterAPIKey      string
	OpenRouterBaseURL     string
	OpenRouterHTTPReferer string
	OpenRouterXTitle      string
	DefaultModel          string

	UsdToRubFallbackRate float64
	UsdRateAPIURL        string
	UsdRateCacheTTL      time.Duration
	CommissionMultiplier float64
	UsdToTokensRate      float64

	JWTSecret    string
	AdminSecret  string
	UsageLogPath string

	StreamIdleTimeout   time.Duration
	MessagesPerMinute   int
	AdminCallsPerMinute int
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:                  envOrDefault("PORT", defaultPort),
		Environment:           envOrDefault("APP_ENV", "development"),
		PublicBaseURL:         strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")),
		DatabaseURL:           envOrDefault("DATABASE_URL", defaultDatabaseURL),
		DatabaseAuthToken:     strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),
		OpenRouterAPIKey:      strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL:     envOrDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL),
		OpenRouterHTTPReferer: strings.TrimSpace(os.Getenv("OPENROUTER_HTTP_REFERER")),
		OpenRouterXTitle:      strings.TrimSpace(os.Getenv("OPENROUTER_X_TITLE")),
		DefaultModel:          envOrDefault("OPENROUTER_MODEL", defaultModel),
		UsdToRubFallbackRate:  floatOrDefault("USD_TO_RUB_RATE", defaultUsdToRubRate),
		UsdRateAPIURL:         envOrDefault("USD_RATE_API", defaultUsdRateAPI),
		CommissionMultiplier:  floatOrDefault("COMMISSION_MULTIPLIER", defaultCommission),
		UsdToTokensRate:       floatOrDefault("USD_TO_TOKENS_RATE", defaultUsdToTokensRate),
		JWTSecret:             strings.TrimSpace(os.Getenv("JWT_SECRET")),
		AdminSecret:           strings.TrimSpace(os.Getenv("ADMIN_SECRET")),
		UsageLogPath:          envOrDefault("USAGE_LOG_PATH", "usage.log"),
		MessagesPerMinute:     intOrDefault("MESSAGES_PER_MINUTE", defaultMessagesPerMinute),
		AdminCallsPerMinute:   intOrDefault("ADMIN_CALLS_PER_MINUTE", defaultAdminCallsPerMinute),
	}

	cacheMs := intOrDefault("USD_RATE_CACHE_MS", defaultUsdRateCacheMs)
	if cacheMs <= 0 {
		return Config{}, errors.New("USD_RATE_CACHE_MS must be > 0")
	}
	cfg.UsdRateCacheTTL = time.Duration(cacheMs) * time.Millisecond

	idleSeconds := intOrDefault("STREAM_IDLE_TIMEOUT_SECONDS", defaultStreamIdleSeconds)
	cfg.StreamIdleTimeout = time.Duration(idleSeconds) * time.Second

	if cfg.UsdToRubFallbackRate <= 0 || math.IsNaN(cfg.UsdToRubFallbackRate) {
		return Config{}, errors.New("USD_TO_RUB_RATE must be > 0")
	}
	if cfg.CommissionMultiplier <= 0 {
		return Config{}, errors.New("COMMISSION_MULTIPLIER must be > 0")
	}
	if cfg.UsdToTokensRate <= 0 {
		return Config{}, errors.New("USD_TO_TOKENS_RATE must be > 0")
	}
	if cfg.MessagesPerMinute <= 0 {
		return Config{}, errors.New("MESSAGES_PER_MINUTE must be > 0")
	}

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.DatabaseAuthToken == "" {
		return Config{}, errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func floatOrDefault(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
