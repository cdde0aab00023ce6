package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "labtrack.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("LABTRACK_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "LABTRACK_PORT")
	setString(&cfg.Server.CORSOrigin, "LABTRACK_CORS_ORIGIN")
	setInt64(&cfg.Server.MaxUploadSize, "LABTRACK_MAX_UPLOAD_SIZE")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "LABTRACK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "LABTRACK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "LABTRACK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "LABTRACK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "LABTRACK_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	// Storage
	setString(&cfg.Storage.Endpoint, "LABTRACK_OSS_ENDPOINT")
	setString(&cfg.Storage.Bucket, "LABTRACK_OSS_BUCKET")
	setString(&cfg.Storage.AccessKeyID, "LABTRACK_OSS_ACCESS_KEY_ID")
	setString(&cfg.Storage.AccessKeySecret, "LABTRACK_OSS_ACCESS_KEY_SECRET")
	setDuration(&cfg.Storage.SignedURLTTL, "LABTRACK_OSS_SIGNED_URL_TTL")

	// Auth
	setString(&cfg.Auth.JWTSecret, "LABTRACK_JWT_SECRET")
	setString(&cfg.Auth.JWTIssuer, "LABTRACK_JWT_ISSUER")
	setString(&cfg.Auth.ServiceKeyHash, "LABTRACK_SERVICE_KEY_HASH")

	setString(&cfg.Logging.Level, "LABTRACK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "LABTRACK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "LABTRACK_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "LABTRACK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "LABTRACK_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "LABTRACK_RATE_RPS")
	setInt(&cfg.Rate.Burst, "LABTRACK_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "LABTRACK_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "LABTRACK_RATE_MAX_IDLE_TIME")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "LABTRACK_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "LABTRACK_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "LABTRACK_CACHE_L2_TTL")
	setDuration(&cfg.Cache.TrendTTL, "LABTRACK_CACHE_TREND_TTL")

	// Extraction
	setInt(&cfg.Extraction.MaxConcurrent, "LABTRACK_EXTRACTION_MAX_CONCURRENT")
	setDuration(&cfg.Extraction.Timeout, "LABTRACK_EXTRACTION_TIMEOUT")

	// Janitor
	setDuration(&cfg.Janitor.Interval, "LABTRACK_JANITOR_INTERVAL")
	setDuration(&cfg.Janitor.OrphanTTL, "LABTRACK_JANITOR_ORPHAN_TTL")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "LABTRACK_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "LABTRACK_IDEMPOTENCY_TTL")

	// OpenTelemetry
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")
	setFloat64(&cfg.OTEL.SampleRatio, "LABTRACK_OTEL_SAMPLE_RATIO")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.MaxUploadSize < 1 {
		return errors.New("server.max_upload_size must be >= 1")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Storage.Bucket == "" {
		return errors.New("storage.bucket is required")
	}
	if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 characters")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Extraction.MaxConcurrent < 1 {
		return errors.New("extraction.max_concurrent must be >= 1")
	}
	if cfg.Janitor.OrphanTTL <= 0 {
		return errors.New("janitor.orphan_ttl must be positive")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("otel.sample_ratio must be within [0, 1]")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
