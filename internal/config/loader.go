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
const DefaultConfigFile = "arbor.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
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
	setString(&cfg.Server.Port, "ARBOR_PORT")
	setString(&cfg.Server.CORSOrigin, "ARBOR_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "ARBOR_SHUTDOWN_TIMEOUT")

	setString(&cfg.Store.Backend, "ARBOR_STORE_BACKEND")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ARBOR_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ARBOR_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ARBOR_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ARBOR_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ARBOR_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "ARBOR_SQLITE_PATH")
	setDuration(&cfg.SQLite.BusyTimeout, "ARBOR_SQLITE_BUSY_TIMEOUT")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "ARBOR_NATS_STREAM")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "ARBOR_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "ARBOR_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "ARBOR_CACHE_L2_TTL")
	setDuration(&cfg.Cache.SnapshotTTL, "ARBOR_CACHE_SNAPSHOT_TTL")

	setString(&cfg.Logging.Level, "ARBOR_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ARBOR_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ARBOR_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "ARBOR_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ARBOR_BREAKER_TIMEOUT")

	// OpenTelemetry
	setString(&cfg.OTel.Endpoint, "ARBOR_OTEL_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "ARBOR_OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "ARBOR_OTEL_INSECURE")
	setFloat64(&cfg.OTel.SampleRate, "ARBOR_OTEL_SAMPLE_RATE")

	setBool(&cfg.Sharing.Enabled, "ARBOR_SHARING_ENABLED")
	setString(&cfg.Sharing.SortOrder, "ARBOR_SHARING_SORT_ORDER")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Backend {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	default:
		return fmt.Errorf("store.backend must be postgres or sqlite, got %q", cfg.Store.Backend)
	}
	if cfg.NATS.URL != "" && cfg.NATS.Stream == "" {
		return errors.New("nats.stream is required when nats.url is set")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.OTel.SampleRate < 0 || cfg.OTel.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
	}
	if cfg.Sharing.SortOrder != "asc" && cfg.Sharing.SortOrder != "desc" {
		return errors.New("sharing.sort_order must be asc or desc")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
