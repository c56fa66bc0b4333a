package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/common/config"

	"gopkg.in/yaml.v3"
)

// Transport names accepted in TRACKER_TRANSPORT.
const (
	TransportMQTT        = "mqtt"
	TransportWebSocket   = "websocket"
	TransportRedisStream = "redis_stream"
)

// Config evidence tracker configuration
type Config struct {
	// Transport selects the event channel: mqtt, websocket or redis_stream
	Transport string `yaml:"transport"`

	// Token opaque credential handed to the transport and the backend.
	// Environment only.
	Token string `yaml:"-"`

	MQTT      config.MQTTConfig      `yaml:"mqtt"`
	WebSocket config.WebSocketConfig `yaml:"websocket"`
	Redis     config.RedisConfig     `yaml:"redis"`
	Backend   config.BackendConfig   `yaml:"backend"`

	Tracker struct {
		PathCapacity     int           `yaml:"path_capacity"`
		DuplicatePolicy  string        `yaml:"duplicate_policy"` // reject | replace
		AlertCapacity    int           `yaml:"alert_capacity"`
		RecentAlertLimit int           `yaml:"recent_alert_limit"` // cold start fetch size
		InboundQueueSize int           `yaml:"inbound_queue_size"`
		RefreshInterval  time.Duration `yaml:"refresh_interval"` // periodic resync, 0 = off
		LostTimeout      time.Duration `yaml:"lost_timeout"`     // 0 = never mark lost
		TagTTL           time.Duration `yaml:"tag_ttl"`          // 0 = keep tags forever

		// reconciliation retries before the service reports degraded
		ReconcileAttempts int           `yaml:"reconcile_attempts"`
		ReconcileBackoff  time.Duration `yaml:"reconcile_backoff"`

		// stream key prefix for the redis_stream transport
		EventStreamPrefix string `yaml:"event_stream_prefix"`
	} `yaml:"tracker"`

	Notify struct {
		QueueSize    int    `yaml:"queue_size"`
		Stream       string `yaml:"stream"` // empty disables the Redis stream sink
		StreamMaxLen int64  `yaml:"stream_max_len"`
	} `yaml:"notify"`

	// Cache mirrors snapshots into Redis for other viewers.
	Cache struct {
		Enabled   bool          `yaml:"enabled"`
		KeyPrefix string        `yaml:"key_prefix"`
		Interval  time.Duration `yaml:"interval"`
		TTL       time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	Export struct {
		Path string `yaml:"path"` // xlsx written on shutdown when set
	} `yaml:"export"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE if any, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Transport = TransportWebSocket

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "evidence-tracker"
	cfg.MQTT.QoS = 1
	cfg.MQTT.TopicPrefix = "evidence"
	cfg.MQTT.Timeout = 10 * time.Second

	cfg.WebSocket.URL = "ws://localhost:8080/ws"
	cfg.WebSocket.WriteTimeout = 10 * time.Second
	cfg.WebSocket.PongTimeout = 60 * time.Second
	cfg.WebSocket.PingInterval = 30 * time.Second

	cfg.Redis.Addr = "localhost:6379"

	cfg.Backend.BaseURL = "http://localhost:8080"
	cfg.Backend.Timeout = 10 * time.Second
	cfg.Backend.RetryCount = 2

	cfg.Tracker.PathCapacity = 50
	cfg.Tracker.DuplicatePolicy = "reject"
	cfg.Tracker.AlertCapacity = 50
	cfg.Tracker.RecentAlertLimit = 50
	cfg.Tracker.InboundQueueSize = 1024
	cfg.Tracker.RefreshInterval = 10 * time.Second
	cfg.Tracker.LostTimeout = 5 * time.Minute
	cfg.Tracker.ReconcileAttempts = 3
	cfg.Tracker.ReconcileBackoff = 2 * time.Second
	cfg.Tracker.EventStreamPrefix = "evidence:events:"

	cfg.Notify.QueueSize = 256
	cfg.Notify.StreamMaxLen = 1000

	cfg.Cache.KeyPrefix = "evidence:tracker:"
	cfg.Cache.Interval = 5 * time.Second
	cfg.Cache.TTL = 30 * time.Second

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Transport = getEnv("TRACKER_TRANSPORT", cfg.Transport)
	cfg.Token = getEnv("TRACKER_TOKEN", cfg.Token)

	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.WebSocket.LoadFromEnv("WS")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.Backend.LoadFromEnv("BACKEND")

	cfg.Tracker.PathCapacity = getEnvInt("TRACKER_PATH_CAPACITY", cfg.Tracker.PathCapacity)
	cfg.Tracker.DuplicatePolicy = getEnv("TRACKER_DUPLICATE_POLICY", cfg.Tracker.DuplicatePolicy)
	cfg.Tracker.AlertCapacity = getEnvInt("TRACKER_ALERT_CAPACITY", cfg.Tracker.AlertCapacity)
	cfg.Tracker.RecentAlertLimit = getEnvInt("TRACKER_RECENT_ALERT_LIMIT", cfg.Tracker.RecentAlertLimit)
	cfg.Tracker.InboundQueueSize = getEnvInt("TRACKER_INBOUND_QUEUE_SIZE", cfg.Tracker.InboundQueueSize)
	cfg.Tracker.RefreshInterval = getEnvDuration("TRACKER_REFRESH_INTERVAL", cfg.Tracker.RefreshInterval)
	cfg.Tracker.LostTimeout = getEnvDuration("TRACKER_LOST_TIMEOUT", cfg.Tracker.LostTimeout)
	cfg.Tracker.TagTTL = getEnvDuration("TRACKER_TAG_TTL", cfg.Tracker.TagTTL)
	cfg.Tracker.ReconcileAttempts = getEnvInt("TRACKER_RECONCILE_ATTEMPTS", cfg.Tracker.ReconcileAttempts)
	cfg.Tracker.ReconcileBackoff = getEnvDuration("TRACKER_RECONCILE_BACKOFF", cfg.Tracker.ReconcileBackoff)
	cfg.Tracker.EventStreamPrefix = getEnv("TRACKER_EVENT_STREAM_PREFIX", cfg.Tracker.EventStreamPrefix)

	cfg.Notify.QueueSize = getEnvInt("NOTIFY_QUEUE_SIZE", cfg.Notify.QueueSize)
	cfg.Notify.Stream = getEnv("NOTIFY_STREAM", cfg.Notify.Stream)
	cfg.Notify.StreamMaxLen = int64(getEnvInt("NOTIFY_STREAM_MAX_LEN", int(cfg.Notify.StreamMaxLen)))

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", cfg.Cache.KeyPrefix)
	cfg.Cache.Interval = getEnvDuration("CACHE_INTERVAL", cfg.Cache.Interval)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", cfg.Cache.TTL)

	cfg.Export.Path = getEnv("TRACKER_EXPORT_PATH", cfg.Export.Path)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportMQTT, TransportWebSocket, TransportRedisStream:
	default:
		return fmt.Errorf("unknown transport %q (want mqtt, websocket or redis_stream)", c.Transport)
	}
	if c.Tracker.DuplicatePolicy != "reject" && c.Tracker.DuplicatePolicy != "replace" {
		return fmt.Errorf("unknown duplicate policy %q (want reject or replace)", c.Tracker.DuplicatePolicy)
	}
	if c.Tracker.PathCapacity <= 0 {
		return fmt.Errorf("path capacity must be positive, got %d", c.Tracker.PathCapacity)
	}
	if c.Tracker.AlertCapacity <= 0 {
		return fmt.Errorf("alert capacity must be positive, got %d", c.Tracker.AlertCapacity)
	}
	if c.Tracker.ReconcileAttempts <= 0 {
		return fmt.Errorf("reconcile attempts must be positive, got %d", c.Tracker.ReconcileAttempts)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base url is required")
	}
	if c.Cache.Enabled && c.Cache.Interval <= 0 {
		return fmt.Errorf("cache interval must be positive when the cache is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
