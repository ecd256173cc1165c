package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaosChain/fin-studio-go/types"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, types.DefaultComponents(), cfg.Orchestrator.Components)
	assert.Equal(t, 2, cfg.Orchestrator.Redundancy)
	assert.InDelta(t, 0.6, cfg.Orchestrator.MinMeanScore, 1e-9)
	assert.Equal(t, 3, cfg.Verification.Size)
	assert.Equal(t, 30*time.Second, cfg.Relay.RequestTimeout)
	assert.False(t, cfg.Audit.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finstudio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: console
relay:
  relay_urls:
    - ws://relay-1.example/ws
    - ws://relay-2.example/ws
  request_timeout: 12s
orchestrator:
  redundancy: 3
  min_mean_score: 0.7
reputation:
  redis_enabled: true
  redis:
    addr: redis.example:6379
audit:
  enabled: true
  path: ":memory:"
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"ws://relay-1.example/ws", "ws://relay-2.example/ws"}, cfg.Relay.RelayURLs)
	assert.Equal(t, 12*time.Second, cfg.Relay.RequestTimeout)
	assert.Equal(t, 3, cfg.Orchestrator.Redundancy)
	assert.InDelta(t, 0.7, cfg.Orchestrator.MinMeanScore, 1e-9)
	// Sections absent from the file keep their defaults.
	assert.Equal(t, types.DefaultComponents(), cfg.Orchestrator.Components)
	assert.True(t, cfg.Reputation.RedisEnabled)
	assert.Equal(t, "redis.example:6379", cfg.Reputation.Redis.Addr)
	assert.True(t, cfg.Audit.Enabled)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finstudio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	t.Setenv("FINSTUDIO_LOG_LEVEL", "warn")
	t.Setenv("FINSTUDIO_RELAY_RELAY_URLS", "ws://a.example/ws, ws://b.example/ws")
	t.Setenv("FINSTUDIO_RELAY_DIAL_TIMEOUT", "3s")
	t.Setenv("FINSTUDIO_ORCHESTRATOR_REDUNDANCY", "4")
	t.Setenv("FINSTUDIO_ORCHESTRATOR_COMPONENTS", "market_research,recommendation")
	t.Setenv("FINSTUDIO_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"ws://a.example/ws", "ws://b.example/ws"}, cfg.Relay.RelayURLs)
	assert.Equal(t, 3*time.Second, cfg.Relay.DialTimeout)
	assert.Equal(t, 4, cfg.Orchestrator.Redundancy)
	assert.Equal(t, []types.ComponentType{types.ComponentMarketResearch, types.ComponentRecommendation}, cfg.Orchestrator.Components)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/finstudio.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_ValidationErrors(t *testing.T) {
	t.Setenv("FINSTUDIO_ORCHESTRATOR_MIN_MEAN_SCORE", "1.5")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_mean_score")
}

func TestLoader_CustomValidator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(cfg *Config) error {
		if len(cfg.Relay.RelayURLs) == 0 {
			return assert.AnError
		}
		return nil
	}).Load()
	require.Error(t, err)
}

func TestConfig_ValidateLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "verbose"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(LogConfig{Level: "debug", Format: "console"})
	require.NotNil(t, logger)
	logger = NewLogger(LogConfig{Level: "bogus", Format: "json", OutputPaths: []string{"stdout"}})
	require.NotNil(t, logger)
}
