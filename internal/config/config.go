// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/eugener/warden/internal/policy"
)

// Config is the top-level engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Install   InstallConfig   `yaml:"install"`
	Routes    RoutesConfig    `yaml:"routes"`
	Retry     RetryConfig     `yaml:"retry"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// CacheConfig holds per-store cache settings.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"` // per store
}

// InstallConfig describes the version to install and its static manifest.
type InstallConfig struct {
	// Version labels this generation's cache stores.
	Version string `yaml:"version"`
	// Manifest lists the URLs precached into the static store at install.
	Manifest []string `yaml:"manifest"`
	// SkipWaiting activates immediately after a successful install
	// instead of waiting for an explicit activate.
	SkipWaiting bool `yaml:"skip_waiting"`
}

// RoutesConfig holds the URL patterns driving route classification.
// Empty lists fall back to the built-in defaults.
type RoutesConfig struct {
	NetworkOnly  []string `yaml:"network_only"`
	StaticRoots  []string `yaml:"static_roots"`
	StaticExts   []string `yaml:"static_exts"`
	CacheableAPI []string `yaml:"cacheable_api"`
}

// Rules converts the configured patterns to a classifier rule set,
// filling unset lists from the defaults.
func (r RoutesConfig) Rules() policy.Rules {
	rules := policy.DefaultRules()
	if len(r.NetworkOnly) > 0 {
		rules.NetworkOnly = r.NetworkOnly
	}
	if len(r.StaticRoots) > 0 {
		rules.StaticRoots = r.StaticRoots
	}
	if len(r.StaticExts) > 0 {
		rules.StaticExts = r.StaticExts
	}
	if len(r.CacheableAPI) > 0 {
		rules.CacheableAPI = r.CacheableAPI
	}
	return rules
}

// RetryConfig holds background retry queue settings.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// UpstreamConfig holds outbound fetch settings.
type UpstreamConfig struct {
	// BaseURL prefixes manifest and retry URLs given as bare paths.
	BaseURL string `yaml:"base_url"`
	// AuthToken, when set, is sent as a bearer token on every fetch.
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Install.Version == "" {
		return nil, fmt.Errorf("config: install.version is required")
	}
	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("config: upstream.base_url is required")
	}
	return cfg, nil
}

// Default returns the configuration used before the file overlays it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "warden.db",
		},
		Cache: CacheConfig{
			MaxEntries: 10_000,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
		},
		Upstream: UpstreamConfig{
			Timeout: 30 * time.Second,
		},
	}
}
