// Package config defines the gateway's immutable configuration tree and
// the loader that builds it (defaults -> YAML file -> environment).
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the top-level gateway configuration. Once loaded at startup
// it is treated as immutable and passed by reference to every component,
// per the "Global state" design note.
type Config struct {
	Odoo      OdooConfig      `koanf:"odoo"`
	Transport TransportConfig `koanf:"transport"`
	Pool      PoolConfig      `koanf:"pool"`
	Session   SessionConfig   `koanf:"session"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Cache     CacheConfig     `koanf:"cache"`
	Security  SecurityConfig  `koanf:"security"`
	Audit     AuditConfig     `koanf:"audit"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Retry     RetryConfig     `koanf:"retry"`
	App       AppConfig       `koanf:"app"`
}

// AppConfig carries general identity used in logs, traces, and metrics.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

// OdooConfig describes the single Odoo backend the gateway talks to.
type OdooConfig struct {
	URL             string        `koanf:"url"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	APIKey          string        `koanf:"api_key"`
	Protocol        string        `koanf:"protocol"` // xmlrpc, jsonrpc
	Timeout         time.Duration `koanf:"timeout"`
	TLSVersion      string        `koanf:"tls_version"`
	CACertPath      string        `koanf:"ca_cert_path"`
	ClientCertPath  string        `koanf:"client_cert_path"`
	ClientKeyPath   string        `koanf:"client_key_path"`
	MaxPayloadSize  int           `koanf:"max_payload_size"`
	MaxFieldsLimit  int           `koanf:"max_fields_limit"`
	MaxRecordsLimit int           `koanf:"max_records_limit"`
	SchemaCacheTTL  time.Duration `koanf:"schema_cache_ttl"`
}

// TransportConfig selects and configures the multiplexer front-end.
type TransportConfig struct {
	Mode           string        `koanf:"mode"` // stdio, http, streamable_http, sse
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	Streamable     bool          `koanf:"streamable"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	SSEQueueSize   int           `koanf:"sse_queue_maxsize"`
}

// PoolConfig bounds the Odoo RPC connection pool.
type PoolConfig struct {
	Size                     int           `koanf:"size"`
	Timeout                  time.Duration `koanf:"timeout"`
	RetryCount               int           `koanf:"retry_count"`
	BaseRetryDelay           time.Duration `koanf:"base_retry_delay"`
	ConnectionHealthInterval time.Duration `koanf:"connection_health_interval"`
	MaxConsecutiveFailures   int           `koanf:"max_consecutive_failures"`
}

// SessionConfig governs session TTL and sweep cadence.
type SessionConfig struct {
	TimeoutMinutes  int           `koanf:"timeout_minutes"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// RateLimitConfig drives the token-bucket limiter (§4.4).
type RateLimitConfig struct {
	RequestsPerMinute int           `koanf:"requests_per_minute"`
	MaxWaitSeconds    int           `koanf:"max_wait_seconds"`
	Backend           string        `koanf:"backend"` // memory, redis
	RedisAddr         string        `koanf:"redis_addr"`
	CleanupInterval   time.Duration `koanf:"cleanup_interval"`
}

// CacheConfig configures the TTL/LRU cache (§4.5).
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Backend    string        `koanf:"backend"` // memory, redis
	TTL        time.Duration `koanf:"ttl"`
	MaxEntries int           `koanf:"max_entries"`
	RedisAddr  string        `koanf:"redis_addr"`
	RedisDB    int           `koanf:"redis_db"`
}

// SecurityConfig toggles the security layer's two policies (§4.7).
type SecurityConfig struct {
	PIIMasking      bool `koanf:"pii_masking"`
	ImplicitDomains bool `koanf:"implicit_domains"`
}

// AuditConfig selects the audit sink (§11.5).
type AuditConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Backend     string        `koanf:"backend"` // stdout, file, noop
	FilePath    string        `koanf:"file_path"`
	BufferSize  int           `koanf:"buffer_size"`
	FlushPeriod time.Duration `koanf:"flush_period"`
}

// LogConfig configures the slog-based logger.
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"` // json, text
	Handlers   []string `koanf:"handlers"`
	FilePath   string `koanf:"file_path"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the Prometheus exposition.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// RetryConfig is shared backoff policy for pool construction (§4.2).
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// SessionTTL returns the session lifetime as a time.Duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}

// Validate enforces the structural invariants called out across §3-§4.
func (c *Config) Validate() error {
	var errs []string

	if c.Odoo.URL == "" {
		errs = append(errs, "odoo.url is required")
	}
	if c.Odoo.Database == "" {
		errs = append(errs, "odoo.database is required")
	}

	validProtocols := map[string]bool{"xmlrpc": true, "jsonrpc": true}
	if !validProtocols[c.Odoo.Protocol] {
		errs = append(errs, fmt.Sprintf("odoo.protocol must be one of: xmlrpc, jsonrpc, got %q", c.Odoo.Protocol))
	}

	validModes := map[string]bool{"stdio": true, "http": true, "streamable_http": true, "sse": true}
	if !validModes[c.Transport.Mode] {
		errs = append(errs, fmt.Sprintf("transport.mode must be one of: stdio, http, streamable_http, sse, got %q", c.Transport.Mode))
	}

	if c.Pool.Size <= 0 {
		errs = append(errs, "pool.size must be > 0")
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, "rate_limit.requests_per_minute must be >= 0")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %q", c.Log.Level))
	}

	validCacheBackends := map[string]bool{"memory": true, "redis": true}
	if !validCacheBackends[c.Cache.Backend] {
		errs = append(errs, fmt.Sprintf("cache.backend must be one of: memory, redis, got %q", c.Cache.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the app is running in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the app is running in a production environment.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
