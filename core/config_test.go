package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfig verifies that DefaultConfig returns valid defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "betpilot", cfg.Name)

	// Healing defaults
	assert.Equal(t, 3, cfg.Healing.MaxRetries)
	assert.Equal(t, time.Second, cfg.Healing.SettleDelay)

	// Remote defaults
	assert.Equal(t, 1000, cfg.Remote.MetadataBatchSize)
	assert.Equal(t, 200, cfg.Remote.PullBatchSize)
	assert.Equal(t, 10000, cfg.Remote.MaxPages)
	assert.Equal(t, "public", cfg.Remote.Schema)
	assert.False(t, cfg.RemoteConfigured())

	// Local defaults
	assert.Equal(t, "csv", cfg.Local.Provider)
	assert.Equal(t, 1, cfg.Sync.Concurrency)

	// Resilience defaults
	assert.True(t, cfg.Resilience.CircuitBreaker.Enabled)
	assert.Equal(t, 5, cfg.Resilience.CircuitBreaker.Threshold)
	assert.Equal(t, 3, cfg.Resilience.Retry.MaxAttempts)

	// Telemetry defaults (disabled by default)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "log", cfg.Events.Provider)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_KEY", "service-key")
	t.Setenv("BETPILOT_LOG_LEVEL", "debug")
	t.Setenv("BETPILOT_HEAL_MAX_RETRIES", "5")
	t.Setenv("BETPILOT_HEAL_SETTLE_DELAY", "250ms")
	t.Setenv("BETPILOT_SYNC_CONCURRENCY", "3")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("BETPILOT_CB_ENABLED", "no")
	t.Setenv("BETPILOT_RETRY_MULTIPLIER", "1.5")
	t.Setenv("NATS_URL", "nats://bus:4222")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "https://proj.supabase.co", cfg.Remote.URL)
	assert.Equal(t, "service-key", cfg.Remote.APIKey)
	assert.True(t, cfg.RemoteConfigured())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Healing.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Healing.SettleDelay)
	assert.Equal(t, 3, cfg.Sync.Concurrency)
	assert.Equal(t, "redis://cache:6379", cfg.Knowledge.RedisURL)
	assert.False(t, cfg.Resilience.CircuitBreaker.Enabled)
	assert.Equal(t, 1.5, cfg.Resilience.Retry.Multiplier)
	assert.Equal(t, "nats://bus:4222", cfg.Events.NATSURL)
}

func TestLoadFromEnvPrefersProjectVariables(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://standard.example")
	t.Setenv("BETPILOT_REMOTE_URL", "https://project.example")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "https://project.example", cfg.Remote.URL)
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"non-numeric retries", "BETPILOT_HEAL_MAX_RETRIES", "three"},
		{"bad duration", "BETPILOT_REMOTE_TIMEOUT", "30 seconds"},
		{"bad multiplier", "BETPILOT_RETRY_MULTIPLIER", "x2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			err := DefaultConfig().LoadFromEnv()
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

// TestLoadFromFile verifies JSON and YAML file loading
func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(tmpDir, "config.json")
		data, err := json.Marshal(map[string]interface{}{
			"name":    "file-pilot",
			"healing": map[string]interface{}{"max_retries": 7},
			"local":   map[string]interface{}{"provider": "sqlite"},
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))
		assert.Equal(t, "file-pilot", cfg.Name)
		assert.Equal(t, 7, cfg.Healing.MaxRetries)
		assert.Equal(t, "sqlite", cfg.Local.Provider)
		// untouched sections keep their defaults
		assert.Equal(t, 200, cfg.Remote.PullBatchSize)
	})

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(tmpDir, "config.yaml")
		yamlDoc := `
name: yaml-pilot
sync:
  concurrency: 4
  schedule: "0 */15 * * * *"
events:
  provider: nats
  nats_url: nats://localhost:4222
`
		require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))
		assert.Equal(t, "yaml-pilot", cfg.Name)
		assert.Equal(t, 4, cfg.Sync.Concurrency)
		assert.Equal(t, "0 */15 * * * *", cfg.Sync.Schedule)
		assert.Equal(t, "nats", cfg.Events.Provider)
		assert.Equal(t, "betpilot.events", cfg.Events.Subject)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		err := DefaultConfig().LoadFromFile(filepath.Join(tmpDir, "config.toml"))
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(tmpDir, "broken.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		err := DefaultConfig().LoadFromFile(path)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})
}

// TestValidate verifies configuration validation
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Config)
		wantErr error
	}{
		{
			name:  "defaults are valid",
			setup: func(c *Config) {},
		},
		{
			name:    "negative max retries",
			setup:   func(c *Config) { c.Healing.MaxRetries = -1 },
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "zero pull batch",
			setup:   func(c *Config) { c.Remote.PullBatchSize = 0 },
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "zero concurrency",
			setup:   func(c *Config) { c.Sync.Concurrency = 0 },
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "redis knowledge without url",
			setup:   func(c *Config) { c.Knowledge.Provider = "redis" },
			wantErr: ErrMissingConfiguration,
		},
		{
			name:    "unknown knowledge provider",
			setup:   func(c *Config) { c.Knowledge.Provider = "etcd" },
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "unknown local provider",
			setup:   func(c *Config) { c.Local.Provider = "parquet" },
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "nats events without url",
			setup:   func(c *Config) { c.Events.Provider = "nats" },
			wantErr: ErrMissingConfiguration,
		},
		{
			name: "otlp without endpoint",
			setup: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Exporter = "otlp-grpc"
			},
			wantErr: ErrMissingConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setup(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFunctionalOptions(t *testing.T) {
	cfg, err := NewConfig(
		WithName("opt-pilot"),
		WithRemote("https://remote.example", "key"),
		WithDataDir("/tmp/store"),
		WithMaxRetries(1),
		WithSettleDelay(10*time.Millisecond),
		WithSyncConcurrency(2),
		WithNATSEvents("nats://localhost:4222", ""),
		WithTelemetry("otlp-http", "localhost:4318"),
	)
	require.NoError(t, err)

	assert.Equal(t, "opt-pilot", cfg.Name)
	assert.Equal(t, "https://remote.example", cfg.Remote.URL)
	assert.Equal(t, "/tmp/store", cfg.Local.DataDir)
	assert.Equal(t, 1, cfg.Healing.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, cfg.Healing.SettleDelay)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
	assert.Equal(t, "nats", cfg.Events.Provider)
	assert.Equal(t, "betpilot.events", cfg.Events.Subject)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestFunctionalOptionErrors(t *testing.T) {
	_, err := NewConfig(WithMaxRetries(-2))
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	_, err = NewConfig(WithKnowledgeProvider("redis"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingConfiguration)
}

// TestConfigPriority verifies options override environment which overrides defaults
func TestConfigPriority(t *testing.T) {
	t.Setenv("BETPILOT_HEAL_MAX_RETRIES", "6")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Healing.MaxRetries)

	cfg, err = NewConfig(WithMaxRetries(2))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Healing.MaxRetries)
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"true", "TRUE", "1", "yes", " on "} {
		assert.True(t, parseBool(s), s)
	}
	for _, s := range []string{"false", "0", "", "nope"} {
		assert.False(t, parseBool(s), s)
	}
}
