package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Analytics AnalyticsConfig
	Gateway   GatewayConfig
	Worker    WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the bucket used for stream summary archives.
// An empty SummaryBucket disables archiving.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SummaryBucket   string
}

// AnalyticsConfig tunes the per-stream analytics engine.
type AnalyticsConfig struct {
	SampleInterval   time.Duration // 0 disables the periodic sampler
	ViewerWindow     time.Duration
	EngagementWindow time.Duration
	SalesWindow      time.Duration
	TrendBuckets     int
	TrendBucketWidth time.Duration
	IdleTimeout      time.Duration // 0 disables idle demotion
}

// GatewayConfig holds per-connection WebSocket limits.
type GatewayConfig struct {
	MessagesPerSecond float64
	Burst             int
	SendBuffer        int
}

// WorkerConfig holds background job settings.
type WorkerConfig struct {
	ForecastInterval time.Duration // how often every recent seller's forecast is refreshed
	ForecastLookback time.Duration // sellers with a stream ended within this window are refreshed
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "livecart"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			SummaryBucket:   getEnv("AWS_S3_SUMMARY_BUCKET", ""),
		},
		Analytics: AnalyticsConfig{
			SampleInterval:   getEnvSeconds("ANALYTICS_SAMPLE_INTERVAL_SEC", 10),
			ViewerWindow:     time.Duration(getEnvInt("ANALYTICS_VIEWER_WINDOW_MIN", 60)) * time.Minute,
			EngagementWindow: time.Duration(getEnvInt("ANALYTICS_ENGAGEMENT_WINDOW_MIN", 30)) * time.Minute,
			SalesWindow:      time.Duration(getEnvInt("ANALYTICS_SALES_WINDOW_MIN", 60)) * time.Minute,
			TrendBuckets:     getEnvInt("ANALYTICS_TREND_BUCKETS", 10),
			TrendBucketWidth: getEnvSeconds("ANALYTICS_TREND_BUCKET_SEC", 60),
			IdleTimeout:      getEnvSeconds("ANALYTICS_IDLE_TIMEOUT_SEC", 0),
		},
		Gateway: GatewayConfig{
			MessagesPerSecond: getEnvFloat("WS_MESSAGES_PER_SEC", 20),
			Burst:             getEnvInt("WS_BURST", 40),
			SendBuffer:        getEnvInt("WS_SEND_BUFFER", 256),
		},
		Worker: WorkerConfig{
			ForecastInterval: time.Duration(getEnvInt("FORECAST_REFRESH_INTERVAL_MIN", 360)) * time.Minute,
			ForecastLookback: time.Duration(getEnvInt("FORECAST_LOOKBACK_DAYS", 90)) * 24 * time.Hour,
		},
	}
	if cfg.Analytics.TrendBuckets <= 0 {
		return nil, fmt.Errorf("ANALYTICS_TREND_BUCKETS must be positive, got %d", cfg.Analytics.TrendBuckets)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
