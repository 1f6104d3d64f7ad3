package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const defaultEnvPrefix = "GATEWAY_"

var defaultConfigPaths = []string{
	"config.yaml",
	"config/config.yaml",
	"/etc/odoo-mcp-gateway/config.yaml",
}

// Loader builds a Config from layered sources: built-in defaults, an
// optional YAML file, then environment variables, each overriding the last.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the list of candidate config file locations.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) { l.configPaths = paths }
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) { l.envPrefix = prefix }
}

// NewLoader constructs a Loader with the gateway's default search paths
// and env prefix, applying any overrides.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k:           koanf.New("."),
		configPaths: defaultConfigPaths,
		envPrefix:   defaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load builds the Config by layering defaults, an optional file, and
// environment overrides, then validates the result.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := l.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad calls Load and panics on failure. Intended for cmd/gateway's
// startup path where a bad config is always fatal.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"app.name":        "odoo-mcp-gateway",
		"app.version":     "dev",
		"app.environment": "development",

		"odoo.protocol":          "xmlrpc",
		"odoo.timeout":           30 * time.Second,
		"odoo.tls_version":       "1.2",
		"odoo.max_payload_size":  10 * 1024 * 1024,
		"odoo.max_fields_limit":  200,
		"odoo.max_records_limit": 1000,
		"odoo.schema_cache_ttl":  10 * time.Minute,

		"transport.mode":             "stdio",
		"transport.host":             "0.0.0.0",
		"transport.port":             8080,
		"transport.streamable":       false,
		"transport.read_timeout":     30 * time.Second,
		"transport.write_timeout":    30 * time.Second,
		"transport.allowed_origins":  []string{},
		"transport.sse_queue_maxsize": 256,

		"pool.size":                       5,
		"pool.timeout":                    10 * time.Second,
		"pool.retry_count":                3,
		"pool.base_retry_delay":           200 * time.Millisecond,
		"pool.connection_health_interval": 30 * time.Second,
		"pool.max_consecutive_failures":   5,

		"session.timeout_minutes":  60,
		"session.cleanup_interval": 5 * time.Minute,

		"rate_limit.requests_per_minute": 60,
		"rate_limit.max_wait_seconds":    5,
		"rate_limit.backend":             "memory",
		"rate_limit.cleanup_interval":    time.Minute,

		"cache.enabled":     true,
		"cache.backend":     "memory",
		"cache.ttl":         5 * time.Minute,
		"cache.max_entries": 10000,
		"cache.redis_db":    0,

		"security.pii_masking":      true,
		"security.implicit_domains": true,

		"audit.enabled":      true,
		"audit.backend":      "stdout",
		"audit.buffer_size":  1000,
		"audit.flush_period": 2 * time.Second,

		"log.level":       "info",
		"log.format":      "json",
		"log.handlers":    []string{"stdout"},
		"log.max_size_mb": 100,
		"log.max_backups": 3,
		"log.max_age_days": 28,
		"log.compress":    true,

		"metrics.enabled":   true,
		"metrics.namespace": "odoo_mcp",
		"metrics.subsystem": "gateway",

		"tracing.enabled":      false,
		"tracing.service_name": "odoo-mcp-gateway",
		"tracing.sample_rate":  0.1,

		"retry.max_attempts":       3,
		"retry.initial_backoff":    200 * time.Millisecond,
		"retry.max_backoff":        5 * time.Second,
		"retry.backoff_multiplier": 2.0,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

func (l *Loader) loadConfigFile() error {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		for _, candidate := range l.configPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "warning: config file %s not found, using defaults and environment\n", path)
		return nil
	}

	return l.k.Load(file.Provider(path), yaml.Parser())
}

func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
}
