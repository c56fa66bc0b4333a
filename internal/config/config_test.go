package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportWebSocket, cfg.Transport)
	assert.Equal(t, 50, cfg.Tracker.PathCapacity)
	assert.Equal(t, "reject", cfg.Tracker.DuplicatePolicy)
	assert.Equal(t, 50, cfg.Tracker.AlertCapacity)
	assert.Equal(t, 10*time.Second, cfg.Tracker.RefreshInterval)
	assert.Equal(t, time.Duration(0), cfg.Tracker.TagTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "evidence", cfg.MQTT.TopicPrefix)
	assert.False(t, cfg.Cache.Enabled)
	assert.Empty(t, cfg.Notify.Stream)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("TRACKER_TRANSPORT", "mqtt")
	t.Setenv("TRACKER_TOKEN", "secret")
	t.Setenv("TRACKER_PATH_CAPACITY", "20")
	t.Setenv("TRACKER_DUPLICATE_POLICY", "replace")
	t.Setenv("TRACKER_TAG_TTL", "1h")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_QOS", "0")
	t.Setenv("BACKEND_BASE_URL", "http://api:9000")
	t.Setenv("BACKEND_RETRY_COUNT", "5")
	t.Setenv("CACHE_ENABLED", "true")
	t.Setenv("NOTIFY_STREAM", "evidence:notifications")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportMQTT, cfg.Transport)
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, 20, cfg.Tracker.PathCapacity)
	assert.Equal(t, "replace", cfg.Tracker.DuplicatePolicy)
	assert.Equal(t, time.Hour, cfg.Tracker.TagTTL)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(0), cfg.MQTT.QoS)
	assert.Equal(t, "http://api:9000", cfg.Backend.BaseURL)
	assert.Equal(t, 5, cfg.Backend.RetryCount)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "evidence:notifications", cfg.Notify.Stream)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidNumbersKeepDefaults(t *testing.T) {
	os.Clearenv()
	t.Setenv("TRACKER_PATH_CAPACITY", "lots")
	t.Setenv("TRACKER_REFRESH_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Tracker.PathCapacity)
	assert.Equal(t, 10*time.Second, cfg.Tracker.RefreshInterval)
}

func TestLoad_YAMLOverlayThenEnv(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport: redis_stream
tracker:
  path_capacity: 10
  lost_timeout: 90s
redis:
  addr: redis:6379
cache:
  enabled: true
  interval: 2s
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TRACKER_PATH_CAPACITY", "15")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportRedisStream, cfg.Transport)
	assert.Equal(t, 15, cfg.Tracker.PathCapacity)
	assert.Equal(t, 90*time.Second, cfg.Tracker.LostTimeout)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Cache.Interval)
	// untouched by the file
	assert.Equal(t, 50, cfg.Tracker.AlertCapacity)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	os.Clearenv()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
		{"unknown policy", func(c *Config) { c.Tracker.DuplicatePolicy = "merge" }},
		{"zero path capacity", func(c *Config) { c.Tracker.PathCapacity = 0 }},
		{"negative alert capacity", func(c *Config) { c.Tracker.AlertCapacity = -1 }},
		{"no reconcile attempts", func(c *Config) { c.Tracker.ReconcileAttempts = 0 }},
		{"no backend", func(c *Config) { c.Backend.BaseURL = "" }},
		{"cache without interval", func(c *Config) {
			c.Cache.Enabled = true
			c.Cache.Interval = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
