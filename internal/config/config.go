package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Steam
	SteamAPIKey    string
	SteamTimeout   time.Duration
	SteamRateLimit float64
	SteamRateBurst int

	// Sync
	SyncCooldown      time.Duration
	SyncInterval      time.Duration
	SyncTotalGroups   int
	SyncMaxConcurrent int

	// News
	NewsBatchInterval    time.Duration
	NewsMaxFeedsPerCycle int
	NewsFetchTimeout     time.Duration
	NewsMaxBodySize      int64

	// FCM
	// FCMServerKeyが空の場合、プッシュ通知は無効化される。
	FCMEndpoint  string
	FCMServerKey string

	// Rate Limit
	RateLimitGeneral int
	RateLimitSync    int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SteamAPIKey = os.Getenv("STEAM_API_KEY")
	if cfg.SteamAPIKey == "" {
		missing = append(missing, "STEAM_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SteamTimeout = getEnvDuration("STEAM_TIMEOUT", 10*time.Second)
	cfg.SteamRateLimit = getEnvFloat("STEAM_RATE_LIMIT", 1.0)
	cfg.SteamRateBurst = getEnvInt("STEAM_RATE_BURST", 3)
	cfg.SyncCooldown = getEnvDuration("SYNC_COOLDOWN", 6*time.Hour)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 90*time.Minute)
	cfg.SyncTotalGroups = getEnvInt("SYNC_TOTAL_GROUPS", 4)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 5)
	cfg.NewsBatchInterval = getEnvDuration("NEWS_BATCH_INTERVAL", 30*time.Minute)
	cfg.NewsMaxFeedsPerCycle = getEnvInt("NEWS_MAX_FEEDS_PER_CYCLE", 50)
	cfg.NewsFetchTimeout = getEnvDuration("NEWS_FETCH_TIMEOUT", 15*time.Second)
	cfg.NewsMaxBodySize = getEnvInt64("NEWS_MAX_BODY_SIZE", 5242880)
	cfg.FCMEndpoint = getEnvString("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send")
	cfg.FCMServerKey = getEnvString("FCM_SERVER_KEY", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
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
