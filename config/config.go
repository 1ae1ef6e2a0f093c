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
	Lifecycle LifecycleConfig
	Images    ImagesConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string   // comma-separated, or "*" for all
	PublicBaseURL      string   // used to build share links
	IPHashSalt         string   // salts client IPs stored with view events
	TrustedProxies     []string // proxies allowed to set X-Forwarded-For; nil trusts none
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

// AWSConfig holds AWS credentials and the ad images bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Endpoint             string // optional, for S3-compatible stores (minio)
	ImagesBucket         string
	PublicBaseURL        string // optional CDN prefix for image URLs
	PresignExpireMinutes int
}

// LifecycleConfig holds ad lifecycle defaults and the expiry sweeper schedule.
type LifecycleConfig struct {
	DefaultMaxActiveAds int
	DefaultAdActiveDays int
	SweepInterval       time.Duration
	SweepLockTTL        time.Duration
	SweepBatch          int
	SweeperInServer     bool
	ShareCodeAlphabet   string
}

// ImagesConfig holds upload limits and variant generation settings.
type ImagesConfig struct {
	MaxUploadMB   int
	MaxPerAd      int
	VariantWidths []int
	WebPQuality   float32
}

// RateLimitConfig bounds anonymous write endpoints (view events).
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// TelemetryConfig holds tracing and metrics settings.
type TelemetryConfig struct {
	OTLPEndpoint string // empty disables tracing
	ServiceName  string
	MetricsPath  string
	WorkerPort   string // metrics and health listener of cmd/worker
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
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	widths, err := parseInts(getEnv("IMAGE_VARIANT_WIDTHS", "320,800,1600"))
	if err != nil {
		return nil, fmt.Errorf("IMAGE_VARIANT_WIDTHS: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
			PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			IPHashSalt:         getEnv("IP_HASH_SALT", "mapmarket"),
			TrustedProxies:     splitTrim(getEnv("TRUSTED_PROXIES", ""), ","),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "mapmarket"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
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
			Region:               getEnv("AWS_REGION", "eu-central-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			ImagesBucket:         getEnv("AWS_S3_IMAGES_BUCKET", "mapmarket-ad-images"),
			PublicBaseURL:        strings.TrimRight(getEnv("AWS_S3_PUBLIC_BASE_URL", ""), "/"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Lifecycle: LifecycleConfig{
			DefaultMaxActiveAds: getEnvInt("DEFAULT_MAX_ACTIVE_ADS", 1),
			DefaultAdActiveDays: getEnvInt("DEFAULT_AD_ACTIVE_DAYS", 3),
			SweepInterval:       getEnvDuration("SWEEP_INTERVAL", time.Minute),
			SweepLockTTL:        getEnvDuration("SWEEP_LOCK_TTL", 50*time.Second),
			SweepBatch:          getEnvInt("SWEEP_BATCH", 200),
			SweeperInServer:     getEnvBool("SWEEPER_IN_SERVER", false),
			ShareCodeAlphabet:   getEnv("SHARE_CODE_ALPHABET", ""),
		},
		Images: ImagesConfig{
			MaxUploadMB:   getEnvInt("IMAGE_MAX_UPLOAD_MB", 10),
			MaxPerAd:      getEnvInt("IMAGE_MAX_PER_AD", 10),
			VariantWidths: widths,
			WebPQuality:   float32(getEnvInt("IMAGE_WEBP_QUALITY", 80)),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 60),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "mapmarket-api"),
			MetricsPath:  getEnv("METRICS_PATH", "/metrics"),
			WorkerPort:   getEnv("WORKER_METRICS_PORT", "9091"),
		},
	}
	if cfg.Lifecycle.DefaultMaxActiveAds <= 0 || cfg.Lifecycle.DefaultAdActiveDays <= 0 {
		return nil, fmt.Errorf("lifecycle defaults must be positive (max_active_ads=%d, ad_active_days=%d)",
			cfg.Lifecycle.DefaultMaxActiveAds, cfg.Lifecycle.DefaultAdActiveDays)
	}
	if cfg.RateLimit.Window <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", cfg.RateLimit.Window)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, v := range splitTrim(s, ",") {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid width %q", v)
		}
		out = append(out, n)
	}
	return out, nil
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
