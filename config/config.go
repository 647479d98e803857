// Package config loads and validates the gateway's JSON configuration
// file. Durations are written as Go duration strings ("60s", "200ms")
// and parsed at validation time.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/parleyhq/parley/errors"
)

// maxConfigSize caps config files at 1MB
const maxConfigSize = 1 << 20

// Defaults applied by Validate when fields are omitted
const (
	DefaultGatewayPort    = 8080
	DefaultGatewayPath    = "/gateway"
	DefaultOpsPort        = 9090
	DefaultMetricsPath    = "/metrics"
	DefaultLivenessWindow = 60 * time.Second
	DefaultSweepInterval  = 30 * time.Second
	DefaultSyncBatchSize  = 3
	DefaultSyncBatchDelay = 200 * time.Millisecond
	DefaultTokenTTL       = 15 * time.Minute
)

// Config is the root application configuration
type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Auth    AuthConfig    `json:"auth"`
	Ops     OpsConfig     `json:"ops"`
	Logging LoggingConfig `json:"logging"`
}

// GatewayConfig controls the WebSocket gateway
type GatewayConfig struct {
	Port           int    `json:"port"`
	Path           string `json:"path,omitempty"`
	LivenessWindow string `json:"liveness_window,omitempty"`
	SweepInterval  string `json:"sweep_interval,omitempty"`
	SyncBatchSize  int    `json:"sync_batch_size,omitempty"`
	SyncBatchDelay string `json:"sync_batch_delay,omitempty"`
}

// AuthConfig controls token verification
type AuthConfig struct {
	// Secret is the HMAC key for session tokens. Required.
	Secret string `json:"secret"`
	// TokenTTL bounds tokens minted by the dev signer
	TokenTTL string `json:"token_ttl,omitempty"`
}

// OpsConfig controls the operational HTTP server (metrics, health)
type OpsConfig struct {
	Port        int    `json:"port,omitempty"`
	MetricsPath string `json:"metrics_path,omitempty"`
}

// LoggingConfig controls structured log output
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // json or text
}

// Default returns a configuration with every field at its default.
// The auth secret is intentionally left empty and must be supplied.
func Default() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: DefaultGatewayPort,
			Path: DefaultGatewayPath,
		},
		Ops: OpsConfig{
			Port:        DefaultOpsPort,
			MetricsPath: DefaultMetricsPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads, parses and validates a config file
func Load(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config", "Load", "read config file")
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// safeReadFile reads a config file after checking it is a reasonably
// sized regular file.
func safeReadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}
	return os.ReadFile(path)
}

// Validate applies defaults and checks every field, including that all
// duration strings parse.
func (c *Config) Validate() error {
	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultGatewayPort
	}
	if c.Gateway.Port < 1024 || c.Gateway.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("gateway.port %d out of range 1024-65535", c.Gateway.Port))
	}
	if c.Gateway.Path == "" {
		c.Gateway.Path = DefaultGatewayPath
	}
	if c.Gateway.SyncBatchSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "gateway.sync_batch_size cannot be negative")
	}

	if c.Auth.Secret == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "auth.secret is required")
	}

	if c.Ops.Port == 0 {
		c.Ops.Port = DefaultOpsPort
	}
	if c.Ops.Port == c.Gateway.Port {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "ops.port must differ from gateway.port")
	}
	if c.Ops.MetricsPath == "" {
		c.Ops.MetricsPath = DefaultMetricsPath
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown logging.level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown logging.format %q", c.Logging.Format))
	}

	for field, value := range map[string]string{
		"gateway.liveness_window":  c.Gateway.LivenessWindow,
		"gateway.sweep_interval":   c.Gateway.SweepInterval,
		"gateway.sync_batch_delay": c.Gateway.SyncBatchDelay,
		"auth.token_ttl":           c.Auth.TokenTTL,
	} {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return errors.WrapInvalid(err, "config", "Validate", "parse "+field)
		}
		if d <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", field+" must be positive")
		}
	}

	return nil
}

// LivenessWindowDuration returns the parsed liveness window
func (c *Config) LivenessWindowDuration() time.Duration {
	return durationOr(c.Gateway.LivenessWindow, DefaultLivenessWindow)
}

// SweepIntervalDuration returns the parsed sweep interval
func (c *Config) SweepIntervalDuration() time.Duration {
	return durationOr(c.Gateway.SweepInterval, DefaultSweepInterval)
}

// SyncBatchDelayDuration returns the parsed group sync batch delay
func (c *Config) SyncBatchDelayDuration() time.Duration {
	return durationOr(c.Gateway.SyncBatchDelay, DefaultSyncBatchDelay)
}

// SyncBatchSizeValue returns the group sync batch size
func (c *Config) SyncBatchSizeValue() int {
	if c.Gateway.SyncBatchSize == 0 {
		return DefaultSyncBatchSize
	}
	return c.Gateway.SyncBatchSize
}

// TokenTTLDuration returns the parsed token lifetime
func (c *Config) TokenTTLDuration() time.Duration {
	return durationOr(c.Auth.TokenTTL, DefaultTokenTTL)
}

// durationOr parses a duration string already checked by Validate,
// falling back to def for empty or unparseable values.
func durationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
