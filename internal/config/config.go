package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr  string
	HTTPSAddr string

	LogLevel  string
	LogFormat string

	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string
	DBConnectRetries int
	DBRetryDelay     time.Duration
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	StoreTimeout     time.Duration

	RedisURL         string
	DedupBackend     string
	DedupBeaconTTL   time.Duration
	DedupInternalTTL time.Duration
	DedupMaxEntries  int
	DedupStaleAfter  time.Duration

	GeoIPDBPath     string
	GeoIPAPIURL     string
	GeoIPAPIKey     string
	GeoIPAPITimeout time.Duration

	ActivityLogCap int

	ArchiveS3Bucket string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string

	JWTSecret string

	RateLimit       int
	RateLimitWindow time.Duration

	SessionIdleTimeout time.Duration

	TaskWorkers   int
	TaskQueueSize int
	TaskTimeout   time.Duration
}

func Load() *Config {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		HTTPSAddr:          getEnv("HTTPS_ADDR", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		PostgresUser:       getEnv("POSTGRES_USER", "beacon"),
		PostgresPassword:   getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:       getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase:   getEnv("POSTGRES_DATABASE", "visitor_beacon"),
		PostgresSSLMode:    getEnv("POSTGRES_SSL_MODE", "disable"),
		DBConnectRetries:   getEnvInt("DB_CONNECT_RETRIES", 5),
		DBRetryDelay:       getEnvDuration("DB_RETRY_DELAY", 2*time.Second),
		DBMaxOpenConns:     getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:     getEnvInt("DB_MAX_IDLE_CONNS", 5),
		StoreTimeout:       getEnvDuration("STORE_TIMEOUT", 2*time.Second),
		RedisURL:           getEnv("REDIS_URL", ""),
		DedupBackend:       getEnv("DEDUP_BACKEND", "memory"),
		DedupBeaconTTL:     getEnvDuration("DEDUP_BEACON_TTL", 5*time.Second),
		DedupInternalTTL:   getEnvDuration("DEDUP_INTERNAL_TTL", 2*time.Second),
		DedupMaxEntries:    getEnvInt("DEDUP_MAX_ENTRIES", 10000),
		DedupStaleAfter:    getEnvDuration("DEDUP_STALE_AFTER", time.Minute),
		GeoIPDBPath:        getEnv("GEOIP_DB_PATH", ""),
		GeoIPAPIURL:        getEnv("GEOIP_API_URL", ""),
		GeoIPAPIKey:        getEnv("GEOIP_API_KEY", ""),
		GeoIPAPITimeout:    getEnvDuration("GEOIP_API_TIMEOUT", 2*time.Second),
		ActivityLogCap:     getEnvInt("ACTIVITY_LOG_CAP", 1000),
		ArchiveS3Bucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
		S3Region:           getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3AccessKey:        getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:        getEnv("AWS_SECRET_ACCESS_KEY", ""),
		JWTSecret:          mustGetEnv("JWT_SECRET"),
		RateLimit:          getEnvInt("RATE_LIMIT", 120),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		TaskWorkers:        getEnvInt("TASK_WORKERS", 4),
		TaskQueueSize:      getEnvInt("TASK_QUEUE_SIZE", 1024),
		TaskTimeout:        getEnvDuration("TASK_TIMEOUT", 5*time.Second),
	}

	if cfg.ArchiveS3Bucket != "" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		panic("AWS credentials must be provided when ARCHIVE_S3_BUCKET is set")
	}
	if cfg.DedupBackend == "redis" && cfg.RedisURL == "" {
		panic("REDIS_URL must be provided when DEDUP_BACKEND=redis")
	}

	return cfg
}

// ArchiveEnabled reports whether trimmed activity rows are shipped to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3Bucket != ""
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("Missing required environment variable: " + key)
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
