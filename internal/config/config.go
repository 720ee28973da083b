// Package config loads configuration from environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string
	PublicURL   string

	// Logging
	LogLevel  string
	LogFormat string

	// Database ("postgres" or "sqlite")
	DatabaseDriver string
	DatabaseURL    string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Storage backend ("local" or "s3", default: "local")
	StorageBackend   string
	LocalStoragePath string

	// S3 storage; one bucket per bucket context
	S3Endpoint        string
	S3Region          string
	S3AccessKey       string
	S3SecretKey       string
	S3SharedBucket    string
	S3WorkspaceBucket string

	// Uploads
	MaxUploadSize int64

	// Copy engine
	CopyMaxStorageOps   int
	CopyFileConcurrency int
	CopyRequestsPerMin  int

	// Tree engine
	TreeStrict bool
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		PublicURL:           envOr("PUBLIC_URL", "http://localhost:8080"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "json"),
		DatabaseDriver:      envOr("DATABASE_DRIVER", "postgres"),
		DatabaseURL:         envOr("DATABASE_URL", ""),
		JWTSecret:           envOr("JWT_SECRET", ""),
		TokenTTL:            envDuration("TOKEN_TTL", 30*24*time.Hour),
		StorageBackend:      envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath:    envOr("LOCAL_STORAGE_PATH", "/data/storage"),
		S3Endpoint:          envOr("S3_ENDPOINT", ""),
		S3Region:            envOr("S3_REGION", "us-east-1"),
		S3AccessKey:         envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:         envOr("S3_SECRET_KEY", ""),
		S3SharedBucket:      envOr("S3_SHARED_BUCKET", "linkdrop-shared"),
		S3WorkspaceBucket:   envOr("S3_WORKSPACE_BUCKET", "linkdrop-workspace"),
		MaxUploadSize:       envInt64("MAX_UPLOAD_SIZE", 100*1024*1024), // 100MB default
		CopyMaxStorageOps:   envInt("COPY_MAX_STORAGE_OPS", 8),
		CopyFileConcurrency: envInt("COPY_FILE_CONCURRENCY", 4),
		CopyRequestsPerMin:  envInt("COPY_REQUESTS_PER_MIN", 30), // 0 = unlimited
		TreeStrict:          envBool("TREE_STRICT", false),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	switch cfg.StorageBackend {
	case "local", "s3":
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	if cfg.CopyMaxStorageOps < 1 || cfg.CopyFileConcurrency < 1 {
		return nil, fmt.Errorf("copy concurrency settings must be positive")
	}

	return cfg, nil
}

// StorageConfigs returns the JSON backend configuration for each bucket
// context, keyed "shared" and "workspace".
func (c *Config) StorageConfigs() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, 2)
	for _, name := range []string{"shared", "workspace"} {
		var v any
		switch c.StorageBackend {
		case "local":
			v = map[string]any{
				"root_path":   filepath.Join(c.LocalStoragePath, name),
				"create_dirs": true,
			}
		case "s3":
			bucket := c.S3SharedBucket
			if name == "workspace" {
				bucket = c.S3WorkspaceBucket
			}
			v = map[string]any{
				"endpoint":   c.S3Endpoint,
				"bucket":     bucket,
				"access_key": c.S3AccessKey,
				"secret_key": c.S3SecretKey,
				"region":     c.S3Region,
			}
		default:
			return nil, fmt.Errorf("unsupported storage backend %q", c.StorageBackend)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[name] = raw
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
