package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Store.Backend != "postgres" {
		t.Errorf("expected backend postgres, got %s", cfg.Store.Backend)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.SQLite.BusyTimeout != 10*time.Second {
		t.Errorf("expected busy timeout 10s, got %v", cfg.SQLite.BusyTimeout)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.OTel.Endpoint != "" {
		t.Errorf("expected otel disabled by default, got %q", cfg.OTel.Endpoint)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
store:
  backend: sqlite
sqlite:
  path: /var/lib/arbor/arbor.db
postgres:
  max_conns: 20
logging:
  level: "debug"
sharing:
  enabled: false
  sort_order: desc
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected backend sqlite, got %s", cfg.Store.Backend)
	}
	if cfg.SQLite.Path != "/var/lib/arbor/arbor.db" {
		t.Errorf("unexpected sqlite path %s", cfg.SQLite.Path)
	}
	if cfg.Postgres.MaxConns != 20 {
		t.Errorf("expected max_conns 20, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Sharing.Enabled || cfg.Sharing.SortOrder != "desc" {
		t.Errorf("unexpected sharing %+v", cfg.Sharing)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.Stream != "ARBOR" {
		t.Errorf("expected default NATS stream, got %s", cfg.NATS.Stream)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("ARBOR_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("ARBOR_PG_MAX_CONNS", "25")
	t.Setenv("ARBOR_LOG_LEVEL", "warn")
	t.Setenv("ARBOR_LOG_ASYNC", "true")
	t.Setenv("ARBOR_BREAKER_TIMEOUT", "1m")
	t.Setenv("ARBOR_STORE_BACKEND", "sqlite")
	t.Setenv("ARBOR_OTEL_ENDPOINT", "otel:4317")
	t.Setenv("ARBOR_CACHE_L1_SIZE_MB", "128")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" || !cfg.Logging.Async {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected backend sqlite, got %s", cfg.Store.Backend)
	}
	if cfg.OTel.Endpoint != "otel:4317" {
		t.Errorf("expected otel endpoint, got %s", cfg.OTel.Endpoint)
	}
	if cfg.Cache.L1MaxSizeMB != 128 {
		t.Errorf("expected L1 128MB, got %d", cfg.Cache.L1MaxSizeMB)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "zero max_conns",
			modify: func(c *Config) { c.Postgres.MaxConns = 0 },
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "empty sqlite path",
			modify: func(c *Config) { c.Store.Backend = "sqlite"; c.SQLite.Path = "" },
			errMsg: "sqlite.path is required",
		},
		{
			name:   "unknown backend",
			modify: func(c *Config) { c.Store.Backend = "oracle" },
			errMsg: `store.backend must be postgres or sqlite, got "oracle"`,
		},
		{
			name:   "nats without stream",
			modify: func(c *Config) { c.NATS.Stream = "" },
			errMsg: "nats.stream is required when nats.url is set",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "sample rate out of range",
			modify: func(c *Config) { c.OTel.SampleRate = 1.5 },
			errMsg: "otel.sample_rate must be within [0, 1]",
		},
		{
			name:   "bad sort order",
			modify: func(c *Config) { c.Sharing.SortOrder = "random" },
			errMsg: "sharing.sort_order must be asc or desc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestValidateSQLiteIgnoresPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = "sqlite"
	cfg.Postgres.DSN = ""
	cfg.NATS.URL = ""
	if err := validate(&cfg); err != nil {
		t.Errorf("sqlite without postgres or nats should validate, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug", "--backend", "sqlite"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	if flags.Backend == nil || *flags.Backend != "sqlite" {
		t.Errorf("expected backend sqlite, got %v", flags.Backend)
	}
	// Unset flags remain nil
	if flags.DSN != nil {
		t.Errorf("expected nil DSN, got %v", *flags.DSN)
	}
	if flags.NatsURL != nil {
		t.Errorf("expected nil NatsURL, got %v", *flags.NatsURL)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	_, err := ParseFlags([]string{"--unknown-flag"})
	if err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestApplyCLINilFlags(t *testing.T) {
	cfg := Defaults()
	original := cfg

	applyCLI(&cfg, CLIFlags{})

	if cfg.Server.Port != original.Server.Port {
		t.Errorf("port changed from %s to %s", original.Server.Port, cfg.Server.Port)
	}
	if cfg.Logging.Level != original.Logging.Level {
		t.Errorf("log level changed from %s to %s", original.Logging.Level, cfg.Logging.Level)
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("ARBOR_PORT", "7070")
	t.Setenv("ARBOR_LOG_LEVEL", "warn")

	flags, err := ParseFlags([]string{"--port", "3333", "--log-level", "error", "-c", "/nonexistent/arbor.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	cfg, path, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if path != "/nonexistent/arbor.yaml" {
		t.Errorf("expected resolved path from flag, got %s", path)
	}
	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected CLI log-level error to override ENV warn, got %s", cfg.Logging.Level)
	}
}
