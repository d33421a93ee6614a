// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Board         BoardConfig         `yaml:"board"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Journal       JournalConfig       `yaml:"journal"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT and identity provider settings.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// DefinitionsConfig describes where to find board definition files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
	HotReload   bool     `yaml:"hot_reload"`
	// Debounce coalesces bursts of file events into one reload.
	Debounce time.Duration `yaml:"debounce"`
}

// CatalogConfig describes the remote catalog service.
type CatalogConfig struct {
	ServiceID string `yaml:"service_id"`
	// SpecFile is the catalog's OpenAPI document. Operations are resolved
	// from it by id.
	SpecFile       string                `yaml:"spec_file"`
	BaseURL        string                `yaml:"base_url"`
	Timeout        time.Duration         `yaml:"timeout"`
	Operations     CatalogOperations     `yaml:"operations"`
	Query          CatalogQueryParams    `yaml:"query"`
	Response       CatalogResponseConfig `yaml:"response"`
	CircuitBreaker CircuitBreakerConfig  `yaml:"circuit_breaker"`
	Retry          RetryConfig           `yaml:"retry"`
}

// CatalogOperations names the OpenAPI operation ids the client invokes.
type CatalogOperations struct {
	ListEntries      string `yaml:"list_entries"`
	SubmitTransition string `yaml:"submit_transition"`
	DeleteEntry      string `yaml:"delete_entry"`
}

// CatalogQueryParams maps entry query fields to query parameter names.
type CatalogQueryParams struct {
	Status    string `yaml:"status"`
	Offset    string `yaml:"offset"`
	Limit     string `yaml:"limit"`
	Text      string `yaml:"text"`
	Material  string `yaml:"material"`
	Custodian string `yaml:"custodian"`
	Hierarchy string `yaml:"hierarchy"`
}

// CatalogResponseConfig locates entries and totals in list responses.
// Paths are dot-separated.
type CatalogResponseConfig struct {
	ItemsPath string `yaml:"items_path"`
	TotalPath string `yaml:"total_path"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig describes retry settings for catalog reads. Transitions and
// deletes are never retried.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// BoardConfig holds engine defaults applied to every board.
type BoardConfig struct {
	PageSize         int              `yaml:"page_size"`
	FetchConcurrency int              `yaml:"fetch_concurrency"`
	ColumnWidth      float64          `yaml:"column_width"`
	AutoScroll       AutoScrollConfig `yaml:"autoscroll"`
}

// AutoScrollConfig describes drag edge auto-scrolling.
type AutoScrollConfig struct {
	EdgeThreshold float64       `yaml:"edge_threshold"`
	MaxStep       float64       `yaml:"max_step"`
	Interval      time.Duration `yaml:"interval"`
}

// SessionsConfig describes board session lifetime.
type SessionsConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	NoticeBuffer  int           `yaml:"notice_buffer"`
	MaxPerSubject int           `yaml:"max_per_subject"`
}

// JournalConfig describes move journal persistence.
type JournalConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	SQLitePath      string        `yaml:"sqlite_path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled bool                   `yaml:"enabled"`
	Store   IdempotencyStoreConfig `yaml:"store"`
}

// IdempotencyStoreConfig describes idempotency persistence settings.
type IdempotencyStoreConfig struct {
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// CapabilityConfig describes authorization settings.
type CapabilityConfig struct {
	StaticPolicyFile string      `yaml:"static_policy_file"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Partition-Id",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
				"roles":      "roles",
			},
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"/definitions"},
			Debounce:    250 * time.Millisecond,
		},
		Catalog: CatalogConfig{
			ServiceID: "catalog",
			Timeout:   10 * time.Second,
			Operations: CatalogOperations{
				ListEntries:      "listCatalogEntries",
				SubmitTransition: "transitionCatalogEntry",
				DeleteEntry:      "deleteCatalogEntry",
			},
			Query: CatalogQueryParams{
				Status:    "status",
				Offset:    "offset",
				Limit:     "limit",
				Text:      "q",
				Material:  "material",
				Custodian: "custodian",
				Hierarchy: "hierarchy",
			},
			Response: CatalogResponseConfig{
				ItemsPath: "items",
				TotalPath: "total",
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
		},
		Board: BoardConfig{
			PageSize:         20,
			FetchConcurrency: 4,
			ColumnWidth:      320,
			AutoScroll: AutoScrollConfig{
				EdgeThreshold: 140,
				MaxStep:       24,
				Interval:      16 * time.Millisecond,
			},
		},
		Sessions: SessionsConfig{
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
			NoticeBuffer:  64,
			MaxPerSubject: 16,
		},
		Journal: JournalConfig{
			Driver:          "memory",
			DSNEnv:          "BOARDD_JOURNAL_DSN",
			SQLitePath:      "boardd.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Store: IdempotencyStoreConfig{
				Driver:     "memory",
				AddrEnv:    "BOARDD_REDIS_ADDR",
				DefaultTTL: 24 * time.Hour,
			},
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 10000,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

var (
	journalDrivers     = []string{"memory", "postgres", "sqlite"}
	idempotencyDrivers = []string{"memory", "redis"}
)

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.JWKSURL == "" {
		errs = append(errs, "identity.jwks_url is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if len(c.Definitions.Directories) == 0 {
		errs = append(errs, "definitions.directories must not be empty")
	}
	if c.Catalog.SpecFile == "" && c.Catalog.BaseURL == "" {
		errs = append(errs, "catalog.spec_file or catalog.base_url is required")
	}
	if c.Board.PageSize < 1 {
		errs = append(errs, "board.page_size must be positive")
	}
	if c.Board.FetchConcurrency < 1 {
		errs = append(errs, "board.fetch_concurrency must be positive")
	}
	if c.Sessions.NoticeBuffer < 1 {
		errs = append(errs, "sessions.notice_buffer must be positive")
	}
	if !slices.Contains(journalDrivers, c.Journal.Driver) {
		errs = append(errs, fmt.Sprintf("journal.driver must be one of %s", strings.Join(journalDrivers, ", ")))
	}
	if c.Idempotency.Enabled && !slices.Contains(idempotencyDrivers, c.Idempotency.Store.Driver) {
		errs = append(errs, fmt.Sprintf("idempotency.store.driver must be one of %s", strings.Join(idempotencyDrivers, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads BOARDD_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BOARDD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BOARDD_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("BOARDD_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("BOARDD_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("BOARDD_CATALOG_BASE_URL"); v != "" {
		cfg.Catalog.BaseURL = v
	}
	if v := os.Getenv("BOARDD_JOURNAL_DRIVER"); v != "" {
		cfg.Journal.Driver = v
	}
	if v := os.Getenv("BOARDD_IDEMPOTENCY_DRIVER"); v != "" {
		cfg.Idempotency.Store.Driver = v
	}
	if v := os.Getenv("BOARDD_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
