package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr         string
	BackendBaseURL   string
	UserAgent        string
	LogLevel         string
	LogFormat        string
	DispatchTimeout  time.Duration
	DebounceDelay    time.Duration
	EditingQuiet     time.Duration
	SuggestionLimit  int
	HistoryLimit     int
	PageSize         int
	SessionIdleTTL   time.Duration
	MaxInFlight      int
	BackendRPS       float64
	BackendBurst     int
	RedisURL         string
	LastQueryTTL     time.Duration
	OTLPEndpoint     string
	InboundRateRPS   float64
	InboundRateBurst int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8092"),
		BackendBaseURL:   getEnv("SEARCH_BACKEND_URL", "http://localhost:8080"),
		UserAgent:        getEnv("SEARCH_USER_AGENT", "moviestream-search-gateway/1.0"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		DispatchTimeout:  time.Duration(getEnvInt("SEARCH_DISPATCH_TIMEOUT_SECONDS", 15)) * time.Second,
		DebounceDelay:    time.Duration(getEnvInt("SEARCH_DEBOUNCE_MS", 800)) * time.Millisecond,
		EditingQuiet:     time.Duration(getEnvInt("SEARCH_EDITING_QUIET_MS", 1500)) * time.Millisecond,
		SuggestionLimit:  getEnvInt("SEARCH_SUGGESTION_LIMIT", 8),
		HistoryLimit:     getEnvInt("SEARCH_HISTORY_LIMIT", 8),
		PageSize:         getEnvInt("SEARCH_PAGE_SIZE", 24),
		SessionIdleTTL:   time.Duration(getEnvInt("SESSION_IDLE_TTL_MINUTES", 30)) * time.Minute,
		MaxInFlight:      getEnvInt("SEARCH_MAX_IN_FLIGHT", 16),
		BackendRPS:       float64(getEnvInt("BACKEND_RATE_RPS", 20)),
		BackendBurst:     getEnvInt("BACKEND_RATE_BURST", 40),
		RedisURL:         getEnv("REDIS_URL", ""),
		LastQueryTTL:     time.Duration(getEnvInt("LASTQUERY_TTL_HOURS", 72)) * time.Hour,
		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		InboundRateRPS:   float64(getEnvInt("HTTP_RATE_RPS", 50)),
		InboundRateBurst: getEnvInt("HTTP_RATE_BURST", 100),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
