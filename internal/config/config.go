package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the inkgate server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Audit    AuditConfig
	Analysis AnalysisConfig
	Staging  StagingConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// QueueConfig tunes the background job queue.
type QueueConfig struct {
	MaxConcurrent     int
	MaxRetries        int
	BackoffBase       float64
	BackoffMultiplier time.Duration
	PollInterval      time.Duration
	StuckTimeout      time.Duration
	ReaperInterval    time.Duration
	RetentionPeriod   time.Duration
	StatusCacheTTL    time.Duration
}

// AuditConfig selects the durable audit sink.
type AuditConfig struct {
	Sink     string // "s3" or "local"
	S3Bucket string
	LocalDir string
}

type AnalysisConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// StagingConfig locates the spool directory for uploaded files awaiting
// (or retrying) processing.
type StagingConfig struct {
	Dir           string
	MaxUploadSize int64
	NotifyTimeout time.Duration
}

var validSinks = map[string]bool{
	"s3":    true,
	"local": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("INKGATE_PORT", 8080),
			Env:  envString("INKGATE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			MaxConcurrent:     envInt("QUEUE_MAX_CONCURRENT", 4),
			MaxRetries:        envInt("QUEUE_MAX_RETRIES", 3),
			BackoffBase:       envFloat("QUEUE_BACKOFF_BASE", 2),
			BackoffMultiplier: time.Duration(envInt("QUEUE_BACKOFF_MULTIPLIER_MS", 1000)) * time.Millisecond,
			PollInterval:      envDuration("QUEUE_POLL_INTERVAL", 5*time.Second),
			StuckTimeout:      envDuration("QUEUE_STUCK_TIMEOUT", 30*time.Minute),
			ReaperInterval:    envDuration("QUEUE_REAPER_INTERVAL", time.Minute),
			RetentionPeriod:   envDuration("QUEUE_RETENTION_PERIOD", 30*24*time.Hour),
			StatusCacheTTL:    envDuration("QUEUE_STATUS_CACHE_TTL", 30*time.Minute),
		},
		Audit: AuditConfig{
			Sink:     envString("AUDIT_SINK", "local"),
			S3Bucket: os.Getenv("AUDIT_S3_BUCKET"),
			LocalDir: envString("AUDIT_LOCAL_DIR", "audit"),
		},
		Analysis: AnalysisConfig{
			BaseURL: os.Getenv("ANALYSIS_BASE_URL"),
			APIKey:  os.Getenv("ANALYSIS_API_KEY"),
			Timeout: envDuration("ANALYSIS_TIMEOUT", 5*time.Minute),
		},
		Staging: StagingConfig{
			Dir:           envString("STAGING_DIR", "staging"),
			MaxUploadSize: int64(envInt("STAGING_MAX_UPLOAD_MB", 100)) << 20,
			NotifyTimeout: envDuration("NOTIFY_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Analysis.BaseURL == "" {
		return fmt.Errorf("ANALYSIS_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Analysis.BaseURL, "http://") && !strings.HasPrefix(c.Analysis.BaseURL, "https://") {
		return fmt.Errorf("ANALYSIS_BASE_URL must start with http:// or https://, got %q", c.Analysis.BaseURL)
	}

	if c.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("QUEUE_MAX_CONCURRENT must be at least 1")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("QUEUE_MAX_RETRIES must not be negative")
	}
	if c.Queue.BackoffBase <= 1 {
		return fmt.Errorf("QUEUE_BACKOFF_BASE must be greater than 1, got %v", c.Queue.BackoffBase)
	}

	if !validSinks[c.Audit.Sink] {
		return fmt.Errorf("AUDIT_SINK must be one of s3, local; got %q", c.Audit.Sink)
	}
	if c.Audit.Sink == "s3" && c.Audit.S3Bucket == "" {
		return fmt.Errorf("AUDIT_S3_BUCKET is required when AUDIT_SINK is s3")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
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

func envFloat(key string, defaultVal float64) float64 {
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

func envDuration(key string, defaultVal time.Duration) time.Duration {
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
