// Package config centralizes how PlanCheck reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration shared by the CLI, the dashboard
// API, the worker and the stub backend. Optional integrations (database,
// queue, object storage) stay disabled while their settings are empty.
type Config struct {
	// APIBaseURL is the Backend Validation API root. It is always explicit;
	// nothing is inferred from the runtime host.
	APIBaseURL     string
	RequestTimeout time.Duration

	Address     string
	StubAddress string
	MaxFileSize int64
	LogLevel    string
	LogDevMode  bool

	ProgressInterval   time.Duration
	ProgressStep       int
	ProgressCap        int
	ProgressClearDelay time.Duration

	DatabaseURL string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ProcessingPool int

	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3Region     string
	S3UseSSL     bool
	ExportBucket string
	ExportURLTTL time.Duration
}

const (
	defaultAPIBaseURL     = "http://localhost:8000"
	defaultAddress        = ":8080"
	defaultStubAddress    = ":8000"
	defaultMaxFileSize    = 50 << 20 // 50 MiB
	defaultLogLevel       = "info"
	defaultInterval       = 100 * time.Millisecond
	defaultStep           = 10
	defaultCap            = 90
	defaultClearDelay     = 2 * time.Second
	defaultRedisAddr      = "localhost:6379"
	defaultWorkerCount    = 2
	defaultS3Region       = "us-east-1"
	defaultExportBucket   = "plancheck-exports"
	defaultExportURLTTL   = 15 * time.Minute
	defaultEnvFileName    = ".env"
	defaultRequestTimeout = 0 // no client-side timeout
)

// Load reads configuration from environment variables falling back to
// defaults. When envPath is non-empty (or a .env file exists in the working
// directory) its values are loaded first; variables already present in the
// environment win.
func Load(envPath string) (*Config, error) {
	if err := loadEnvFile(envPath); err != nil {
		return nil, err
	}
	cfg := &Config{
		APIBaseURL:     strings.TrimRight(readEnv("PLANCHECK_API_BASE_URL", defaultAPIBaseURL), "/"),
		RequestTimeout: parseDuration("PLANCHECK_REQUEST_TIMEOUT", defaultRequestTimeout),

		Address:     readEnv("PLANCHECK_ADDRESS", defaultAddress),
		StubAddress: readEnv("PLANCHECK_STUB_ADDRESS", defaultStubAddress),
		MaxFileSize: parseInt64("PLANCHECK_MAX_FILE_BYTES", defaultMaxFileSize),
		LogLevel:    readEnv("PLANCHECK_LOG_LEVEL", defaultLogLevel),
		LogDevMode:  parseBool("PLANCHECK_LOG_DEV", false),

		ProgressInterval:   parseDuration("PLANCHECK_PROGRESS_INTERVAL", defaultInterval),
		ProgressStep:       parseInt("PLANCHECK_PROGRESS_STEP", defaultStep),
		ProgressCap:        parseInt("PLANCHECK_PROGRESS_CAP", defaultCap),
		ProgressClearDelay: parseDuration("PLANCHECK_PROGRESS_CLEAR_DELAY", defaultClearDelay),

		DatabaseURL: readEnv("DATABASE_URL", ""),

		RedisAddr:      readEnv("REDIS_ADDR", defaultRedisAddr),
		RedisPassword:  readEnv("REDIS_PASSWORD", ""),
		RedisDB:        parseInt("REDIS_DB", 0),
		ProcessingPool: parseInt("PLANCHECK_WORKERS", defaultWorkerCount),

		S3Endpoint:   readEnv("S3_ENDPOINT", ""),
		S3AccessKey:  readEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:  readEnv("S3_SECRET_KEY", ""),
		S3Region:     readEnv("S3_REGION", defaultS3Region),
		S3UseSSL:     parseBool("S3_USE_SSL", false),
		ExportBucket: readEnv("PLANCHECK_EXPORT_BUCKET", defaultExportBucket),
		ExportURLTTL: parseDuration("PLANCHECK_EXPORT_URL_TTL", defaultExportURLTTL),
	}
	if cfg.ProcessingPool <= 0 {
		cfg.ProcessingPool = defaultWorkerCount
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultInterval
	}
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = defaultStep
	}
	if cfg.ProgressCap <= 0 || cfg.ProgressCap >= 100 {
		cfg.ProgressCap = defaultCap
	}
	if cfg.ProgressClearDelay < 0 {
		cfg.ProgressClearDelay = defaultClearDelay
	}
	if cfg.RequestTimeout < 0 {
		cfg.RequestTimeout = 0
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ObjectStorageEnabled reports whether export uploads can be attempted.
func (c *Config) ObjectStorageEnabled() bool {
	return c.S3Endpoint != ""
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return fmt.Errorf("PLANCHECK_API_BASE_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("PLANCHECK_API_BASE_URL: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("PLANCHECK_API_BASE_URL: missing host")
	}
	return nil
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFileName
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	// An absent default .env is normal; an absent explicit file is not.
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
