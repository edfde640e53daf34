// Package config loads proxy configuration from a TOML file, environment
// variables, and CLI overlays.
//
// Priority (highest to lowest):
//  1. CLI flags (target URL, model override, allow-anthropic-only)
//  2. Environment variables (CC_ prefix)
//  3. TOML config file
//  4. Defaults
//
// The target URL is deliberately CLI-only: it names a live deployment and
// must never be baked into a checked-in config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level proxy configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Passthrough PassthroughConfig `toml:"passthrough"`
	Target      TargetConfig      `toml:"target"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`

	// DefaultMode is the routing mode at startup: "target", "compare",
	// or "anthropic-only".
	DefaultMode string `toml:"default_mode"`

	LogLevel string `toml:"log_level"`

	// ModelOverride replaces the model field in /v1/messages bodies.
	// Set via CLI --model, never from TOML.
	ModelOverride string `toml:"-"`

	// AnthropicOnlyAllowed gates the anthropic-only mode at runtime.
	// Set via CLI --allow-anthropic-only, never from TOML.
	AnthropicOnlyAllowed bool `toml:"-"`
}

// ServerConfig holds the listen configuration.
type ServerConfig struct {
	ListenAddress string `toml:"listen_address"`
}

// PassthroughConfig describes the real Anthropic upstream. Used in
// compare and anthropic-only modes, and by the catch-all relay.
type PassthroughConfig struct {
	URL             string   `toml:"url"`
	PassthroughAuth bool     `toml:"passthrough_auth"`
	TimeoutSecs     int64    `toml:"timeout_secs"`
}

// TargetConfig describes the self-hosted Anthropic-format upstream.
type TargetConfig struct {
	// URL is set via CLI --target-url, never stored in TOML.
	URL string `toml:"-"`

	TimeoutSecs   int64 `toml:"timeout_secs"`
	MaxConcurrent int64 `toml:"max_concurrent"`

	// Default sampling parameters applied to request bodies when the
	// client omits them (or sends explicit null).
	MaxTokens   *int64   `toml:"max_tokens"`
	Temperature *float64 `toml:"temperature"`
	TopP        *float64 `toml:"top_p"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	ServiceName  string `toml:"service_name"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	Insecure     bool   `toml:"insecure"`
}

// Load reads the TOML file at path (missing file is not an error; defaults
// apply) and then applies CC_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server:      ServerConfig{ListenAddress: DefaultListenAddress},
		Passthrough: PassthroughConfig{URL: DefaultPassthroughURL, PassthroughAuth: true, TimeoutSecs: int64(DefaultUpstreamTimeout / time.Second)},
		Target:      TargetConfig{TimeoutSecs: int64(DefaultUpstreamTimeout / time.Second), MaxConcurrent: DefaultMaxConcurrent},
		Telemetry:   TelemetryConfig{ServiceName: "cc-proxy"},
		DefaultMode: "target",
		LogLevel:    "info",
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CC_LISTEN_ADDRESS"); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := os.Getenv("CC_PASSTHROUGH_URL"); v != "" {
		cfg.Passthrough.URL = v
	}
	if v := os.Getenv("CC_DEFAULT_MODE"); v != "" {
		cfg.DefaultMode = v
	}
	if v := os.Getenv("CC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CC_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("CC_TARGET_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Target.MaxConcurrent = n
		}
	}
}

func (c *Config) validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address must not be empty")
	}
	if c.Passthrough.URL == "" {
		return fmt.Errorf("passthrough.url must not be empty")
	}
	if c.Passthrough.TimeoutSecs <= 0 || c.Target.TimeoutSecs <= 0 {
		return fmt.Errorf("upstream timeouts must be positive")
	}
	if c.Target.MaxConcurrent <= 0 {
		return fmt.Errorf("target.max_concurrent must be positive")
	}
	switch c.DefaultMode {
	case "target", "compare", "anthropic-only":
	default:
		return fmt.Errorf("unknown default_mode %q", c.DefaultMode)
	}
	return nil
}

// PassthroughTimeout returns the passthrough header deadline as a Duration.
func (c *Config) PassthroughTimeout() time.Duration {
	return time.Duration(c.Passthrough.TimeoutSecs) * time.Second
}

// TargetTimeout returns the target header deadline as a Duration.
func (c *Config) TargetTimeout() time.Duration {
	return time.Duration(c.Target.TimeoutSecs) * time.Second
}
