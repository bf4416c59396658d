package config

import (
	"os"
	"strconv"
	"time"
)

// Config centralizes runtime tuning for the harvester. Per-run inputs (date
// range, modalities, filters) come from the CLI instead.
type Config struct {
	ConsultaURL      string
	ItensURLTemplate string
	UserAgent        string

	MaxPageWorkers int
	MaxItemWorkers int

	RPS      float64
	RPSBurst int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
	JitterMax      time.Duration

	SplitMode string

	CacheDir  string
	CacheOnly bool

	MetricsWindow  int
	AdjustInterval time.Duration
	P95Limit       time.Duration
	ErrRateLimit   float64

	ReportDir string

	DatabaseURL string
}

func Load() Config {
	return Config{
		ConsultaURL:      getEnv("PNCP_BASE_CONSULTA", ""),
		ItensURLTemplate: getEnv("PNCP_BASE_ITENS", ""),
		UserAgent:        getEnv("PNCP_USER_AGENT", "pncp-harvester/1.0"),

		MaxPageWorkers: getEnvInt("PNCP_MAX_WORKERS_PAGES", 20),
		MaxItemWorkers: getEnvInt("PNCP_MAX_WORKERS_ITENS", 32),

		RPS:      getEnvFloat("PNCP_RPS", 15),
		RPSBurst: getEnvInt("PNCP_RPS_BURST", 30),

		ConnectTimeout: getEnvSeconds("PNCP_CONNECT_TIMEOUT", 5),
		ReadTimeout:    getEnvSeconds("PNCP_READ_TIMEOUT", 25),
		MaxRetries:     getEnvInt("PNCP_MAX_RETRIES", 4),
		JitterMax:      getEnvSeconds("PNCP_JITTER_MAX", 0.2),

		SplitMode: getEnv("PNCP_SPLIT_MODE", "monthly"),

		CacheDir:  getEnv("PNCP_CACHE_DIR", "./cache"),
		CacheOnly: getEnvBool("PNCP_CACHE_ONLY", false),

		MetricsWindow:  getEnvInt("PNCP_METRICS_WINDOW", 200),
		AdjustInterval: getEnvSeconds("PNCP_ADJUST_EVERY", 5),
		P95Limit:       getEnvSeconds("PNCP_P95_LIMIT", 8),
		ErrRateLimit:   getEnvFloat("PNCP_ERR_LIMIT", 0.08),

		ReportDir: getEnv("PNCP_REPORT_DIR", "."),

		DatabaseURL: getEnv("DATABASE_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvSeconds(key string, fallback float64) time.Duration {
	return time.Duration(getEnvFloat(key, fallback) * float64(time.Second))
}
