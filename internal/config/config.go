// Package config loads qudag settings from QUDAG_* environment variables.
// Command-line flags override individual fields after loading.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/chazu/qudag/pkg/platform"
)

// Config holds process-wide settings.
type Config struct {
	// NativeDirs are searched in order for Go plugin artifacts
	NativeDirs []string `env:"QUDAG_NATIVE_DIRS" envSeparator:":" envDefault:"native:/usr/local/lib/qudag"`

	// PortableDirs are searched in order for wasm artifacts
	PortableDirs []string `env:"QUDAG_WASM_DIRS" envSeparator:":" envDefault:"wasm:/usr/local/share/qudag/wasm"`

	// ForcePortable treats the environment as sandboxed
	ForcePortable bool `env:"QUDAG_FORCE_PORTABLE"`

	// Tier skips detection when set
	Tier string `env:"QUDAG_TIER"`

	// ProbeTimeout bounds each module load
	ProbeTimeout time.Duration `env:"QUDAG_PROBE_TIMEOUT" envDefault:"3s"`

	// MaxConcurrency bounds concurrent module loads; 0 means one per module
	MaxConcurrency int `env:"QUDAG_MAX_CONCURRENCY" envDefault:"0"`

	// WasmCacheDir enables the on-disk wasm compilation cache
	WasmCacheDir string `env:"QUDAG_WASM_CACHE_DIR"`

	LogLevel  string `env:"QUDAG_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"QUDAG_LOG_FORMAT" envDefault:"console"`

	// OtelEndpoint is the OTLP/HTTP collector URL. Tracing is off when empty.
	OtelEndpoint string `env:"QUDAG_OTEL_ENDPOINT"`
	OtelEnabled  bool   `env:"QUDAG_OTEL_ENABLED" envDefault:"true"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error

	if c.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("probe timeout must be positive, got %s", c.ProbeTimeout))
	}
	if c.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("max concurrency must not be negative, got %d", c.MaxConcurrency))
	}
	if c.Tier != "" {
		if _, err := platform.ParseTier(c.Tier); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// TracingEnabled reports whether traces should be exported.
func (c Config) TracingEnabled() bool {
	return c.OtelEnabled && c.OtelEndpoint != ""
}
