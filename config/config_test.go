package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"gateway": {
			"port": 9000,
			"path": "/ws",
			"liveness_window": "45s",
			"sweep_interval": "15s",
			"sync_batch_size": 5,
			"sync_batch_delay": "100ms"
		},
		"auth": {"secret": "0123456789abcdef", "token_ttl": "30m"},
		"ops": {"port": 9100},
		"logging": {"level": "debug", "format": "text"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, "/ws", cfg.Gateway.Path)
	assert.Equal(t, 45*time.Second, cfg.LivenessWindowDuration())
	assert.Equal(t, 15*time.Second, cfg.SweepIntervalDuration())
	assert.Equal(t, 5, cfg.SyncBatchSizeValue())
	assert.Equal(t, 100*time.Millisecond, cfg.SyncBatchDelayDuration())
	assert.Equal(t, 30*time.Minute, cfg.TokenTTLDuration())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"auth": {"secret": "0123456789abcdef"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultGatewayPort, cfg.Gateway.Port)
	assert.Equal(t, DefaultGatewayPath, cfg.Gateway.Path)
	assert.Equal(t, DefaultOpsPort, cfg.Ops.Port)
	assert.Equal(t, DefaultLivenessWindow, cfg.LivenessWindowDuration())
	assert.Equal(t, DefaultSweepInterval, cfg.SweepIntervalDuration())
	assert.Equal(t, DefaultSyncBatchSize, cfg.SyncBatchSizeValue())
	assert.Equal(t, DefaultSyncBatchDelay, cfg.SyncBatchDelayDuration())
	assert.Equal(t, DefaultTokenTTL, cfg.TokenTTLDuration())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoad_MalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"gateway": `)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidate_MissingSecret(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestValidate_PortRange(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = "0123456789abcdef"
	cfg.Gateway.Port = 80
	assert.Error(t, cfg.Validate())

	cfg.Gateway.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidate_OpsPortCollision(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = "0123456789abcdef"
	cfg.Ops.Port = cfg.Gateway.Port
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestValidate_BadDuration(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = "0123456789abcdef"
	cfg.Gateway.LivenessWindow = "soon"
	assert.Error(t, cfg.Validate())

	cfg.Gateway.LivenessWindow = "-5s"
	assert.Error(t, cfg.Validate())
}

func TestValidate_BadLoggingValues(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = "0123456789abcdef"
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "yaml"
	assert.Error(t, cfg.Validate())
}
