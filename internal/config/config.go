package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// 外部コラボレーター
	ForecastEndpoint string // 予測サービスのエンドポイント（POST先）
	AuthBaseURL      string // 認証サービスのベースURL（/register, /login）

	// Predict
	PredictTimeout time.Duration
	PredictMaxSize int64

	// Session
	SessionMaxAge int

	// Rate Limit
	RateLimitGeneral int
	RateLimitPredict int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// 開発用: 認証・予測サービスがlocalhost等のプライベートアドレスで
	// 動いている場合にSSRFガードを無効化する。本番ではfalseにすること。
	AllowPrivateEndpoints bool
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

	cfg.ForecastEndpoint = os.Getenv("FORECAST_ENDPOINT")
	if cfg.ForecastEndpoint == "" {
		missing = append(missing, "FORECAST_ENDPOINT")
	}

	cfg.AuthBaseURL = os.Getenv("AUTH_BASE_URL")
	if cfg.AuthBaseURL == "" {
		missing = append(missing, "AUTH_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.PredictTimeout = getEnvDuration("PREDICT_TIMEOUT", 30*time.Second)
	cfg.PredictMaxSize = getEnvInt64("PREDICT_MAX_SIZE", 1048576)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitPredict = getEnvInt("RATE_LIMIT_PREDICT", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.AllowPrivateEndpoints = getEnvBool("ALLOW_PRIVATE_ENDPOINTS", false)

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
