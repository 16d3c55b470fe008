package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Local store
	DataDir      string
	HikesFile    string
	IdentityFile string

	// Remote store（空の場合はリモート同期なし）
	DatabaseURL     string
	RemoteTimeout   time.Duration
	RemoteRateLimit float64
	FetchOnStart    bool

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitSamples int

	// Sync
	SyncWaitTimeout time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS（カンマ区切り。空の場合はCORSヘッダーを付与しない）
	CORSAllowedOrigin string
}

// SyncEnabled はリモートストアが設定されているかどうかを返す。
func (c *Config) SyncEnabled() bool {
	return c.DatabaseURL != ""
}

// Load は環境変数からConfigを読み込む。
// すべての項目にデフォルト値があり、値が不正な場合のみエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DataDir = getEnvString("DATA_DIR", "./data")
	cfg.HikesFile = getEnvString("HIKES_FILE", filepath.Join(cfg.DataDir, "hikes.json"))
	cfg.IdentityFile = getEnvString("IDENTITY_FILE", filepath.Join(cfg.DataDir, "settings.json"))

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RemoteTimeout = getEnvDuration("REMOTE_TIMEOUT", 10*time.Second)
	cfg.RemoteRateLimit = getEnvFloat("REMOTE_RATE_LIMIT", 5)
	cfg.FetchOnStart = getEnvBool("FETCH_ON_START", true)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSamples = getEnvInt("RATE_LIMIT_SAMPLES", 600)
	cfg.SyncWaitTimeout = getEnvDuration("SYNC_WAIT_TIMEOUT", 30*time.Second)

	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	var invalid []string
	if cfg.RateLimitGeneral <= 0 {
		invalid = append(invalid, "RATE_LIMIT_GENERAL")
	}
	if cfg.RateLimitSamples <= 0 {
		invalid = append(invalid, "RATE_LIMIT_SAMPLES")
	}
	if cfg.RemoteTimeout <= 0 {
		invalid = append(invalid, "REMOTE_TIMEOUT")
	}
	if cfg.RemoteRateLimit < 0 {
		invalid = append(invalid, "REMOTE_RATE_LIMIT")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		invalid = append(invalid, "LOG_LEVEL")
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", invalid)
	}

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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
