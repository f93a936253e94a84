package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 永続化ドライバー
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageDriver string
	DatabaseURL   string
	SQLitePath    string

	// Workspace
	WorkspaceIdleTTL       time.Duration
	WorkspaceRetentionDays int
	CleanupInterval        time.Duration

	// Import
	ImportTimeout  time.Duration
	ImportMaxSize  int64
	ImportMaxItems int

	// Rate Limit
	RateLimitGeneral int
	RateLimitImport  int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure       bool
	CookieDomain       string
	DeviceCookieMaxAge int

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数をまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.StorageDriver = strings.ToLower(getEnvString("STORAGE_DRIVER", DriverMemory))
	switch cfg.StorageDriver {
	case DriverMemory, DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER: %q (memory, postgres, sqlite)", cfg.StorageDriver)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StorageDriver == DriverPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SQLitePath = getEnvString("SQLITE_PATH", "data/ticketdesk.db")
	cfg.WorkspaceIdleTTL = getEnvDuration("WORKSPACE_IDLE_TTL", 30*time.Minute)
	cfg.WorkspaceRetentionDays = getEnvInt("WORKSPACE_RETENTION_DAYS", 90)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.ImportTimeout = getEnvDuration("IMPORT_TIMEOUT", 10*time.Second)
	cfg.ImportMaxSize = getEnvInt64("IMPORT_MAX_SIZE", 5242880)
	cfg.ImportMaxItems = getEnvInt("IMPORT_MAX_ITEMS", 100)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitImport = getEnvInt("RATE_LIMIT_IMPORT", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.DeviceCookieMaxAge = getEnvInt("DEVICE_COOKIE_MAX_AGE", 400*24*60*60)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
