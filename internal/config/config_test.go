package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  port: 9090
  read_timeout: 15s
identity:
  issuer: https://auth.example.com
  jwks_url: https://auth.example.com/.well-known/jwks.json
  audience: catalogboard
  algorithms: [RS256, ES256]
definitions:
  directories: [./boards]
  hot_reload: true
catalog:
  spec_file: ./specs/catalog.yaml
  timeout: 5s
  operations:
    list_entries: listEntries
  response:
    items_path: data.items
    total_path: data.total
  circuit_breaker:
    failure_threshold: 3
board:
  page_size: 25
  autoscroll:
    edge_threshold: 100
journal:
  driver: sqlite
  sqlite_path: /var/lib/boardd/journal.db
idempotency:
  store:
    driver: redis
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if !cfg.Definitions.HotReload {
		t.Error("Definitions.HotReload = false, want true")
	}
	if cfg.Catalog.Timeout != 5*time.Second {
		t.Errorf("Catalog.Timeout = %v, want 5s", cfg.Catalog.Timeout)
	}
	if cfg.Catalog.Operations.ListEntries != "listEntries" {
		t.Errorf("Catalog.Operations.ListEntries = %q", cfg.Catalog.Operations.ListEntries)
	}
	if cfg.Catalog.Operations.SubmitTransition != "transitionCatalogEntry" {
		t.Errorf("Catalog.Operations.SubmitTransition = %q, want default", cfg.Catalog.Operations.SubmitTransition)
	}
	if cfg.Catalog.Response.TotalPath != "data.total" {
		t.Errorf("Catalog.Response.TotalPath = %q", cfg.Catalog.Response.TotalPath)
	}
	if cfg.Catalog.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("Catalog.CircuitBreaker.FailureThreshold = %d, want 3", cfg.Catalog.CircuitBreaker.FailureThreshold)
	}
	if cfg.Board.PageSize != 25 {
		t.Errorf("Board.PageSize = %d, want 25", cfg.Board.PageSize)
	}
	if cfg.Board.AutoScroll.EdgeThreshold != 100 {
		t.Errorf("Board.AutoScroll.EdgeThreshold = %v, want 100", cfg.Board.AutoScroll.EdgeThreshold)
	}
	if cfg.Board.AutoScroll.MaxStep != 24 {
		t.Errorf("Board.AutoScroll.MaxStep = %v, want default 24", cfg.Board.AutoScroll.MaxStep)
	}
	if cfg.Journal.Driver != "sqlite" {
		t.Errorf("Journal.Driver = %q, want sqlite", cfg.Journal.Driver)
	}
	if cfg.Idempotency.Store.Driver != "redis" {
		t.Errorf("Idempotency.Store.Driver = %q, want redis", cfg.Idempotency.Store.Driver)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_malformed(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	if err == nil {
		t.Fatal("Load() with malformed YAML should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load(writeConfig(t, "catalog:\n  base_url: http://catalog\n"))
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
	if !strings.Contains(err.Error(), "identity.issuer is required") {
		t.Errorf("error = %v, want identity.issuer message", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Board.PageSize != 20 {
		t.Errorf("default Board.PageSize = %d, want 20", cfg.Board.PageSize)
	}
	if cfg.Board.AutoScroll.Interval != 16*time.Millisecond {
		t.Errorf("default AutoScroll.Interval = %v, want 16ms", cfg.Board.AutoScroll.Interval)
	}
	if cfg.Capability.Cache.TTL != 5*time.Minute {
		t.Errorf("default Capability.Cache.TTL = %v, want 5m", cfg.Capability.Cache.TTL)
	}
	if cfg.Journal.Driver != "memory" {
		t.Errorf("default Journal.Driver = %q, want memory", cfg.Journal.Driver)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOARDD_SERVER_PORT", "3000")
	t.Setenv("BOARDD_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("BOARDD_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("BOARDD_CATALOG_BASE_URL", "http://catalog.internal")
	t.Setenv("BOARDD_JOURNAL_DRIVER", "postgres")
	t.Setenv("BOARDD_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Catalog.BaseURL != "http://catalog.internal" {
		t.Errorf("Catalog.BaseURL = %q, want env override", cfg.Catalog.BaseURL)
	}
	if cfg.Journal.Driver != "postgres" {
		t.Errorf("Journal.Driver = %q, want env override", cfg.Journal.Driver)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides_invalid_port_ignored(t *testing.T) {
	t.Setenv("BOARDD_SERVER_PORT", "not-a-port")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want file value 9090", cfg.Server.Port)
	}
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "catalogboard"
	cfg.Catalog.BaseURL = "http://catalog"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"catalog location", func(c *Config) { c.Catalog.BaseURL = "" }, "catalog.spec_file"},
		{"page size", func(c *Config) { c.Board.PageSize = 0 }, "board.page_size"},
		{"fetch concurrency", func(c *Config) { c.Board.FetchConcurrency = -1 }, "board.fetch_concurrency"},
		{"notice buffer", func(c *Config) { c.Sessions.NoticeBuffer = 0 }, "sessions.notice_buffer"},
		{"journal driver", func(c *Config) { c.Journal.Driver = "mysql" }, "journal.driver"},
		{"idempotency driver", func(c *Config) { c.Idempotency.Store.Driver = "memcached" }, "idempotency.store.driver"},
		{"no directories", func(c *Config) { c.Definitions.Directories = nil }, "definitions.directories"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should return error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() on valid config = %v", err)
	}

	cfg := validConfig()
	cfg.Idempotency.Enabled = false
	cfg.Idempotency.Store.Driver = "ignored"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with idempotency disabled = %v", err)
	}
}
