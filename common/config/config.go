package config

import (
	"fmt"
	"os"
	"time"
)

// RedisConfig Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT broker settings. The password is not configured here:
// the tracker hands its opaque credential to the broker at connect time.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	QoS         byte          `yaml:"qos"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Timeout     time.Duration `yaml:"timeout"`
}

// WebSocketConfig event gateway settings
type WebSocketConfig struct {
	URL          string        `yaml:"url"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// BackendConfig tracking backend HTTP API settings
type BackendConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// LoadFromEnv loads Redis settings from PREFIX_ADDR, PREFIX_PASSWORD, PREFIX_DB.
func (c *RedisConfig) LoadFromEnv(prefix string) {
	if addr := os.Getenv(prefix + "_ADDR"); addr != "" {
		c.Addr = addr
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if db := os.Getenv(prefix + "_DB"); db != "" {
		fmt.Sscanf(db, "%d", &c.DB)
	}
}

// LoadFromEnv loads MQTT settings from PREFIX_BROKER, PREFIX_CLIENT_ID, ...
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	if broker := os.Getenv(prefix + "_BROKER"); broker != "" {
		c.Broker = broker
	}
	if clientID := os.Getenv(prefix + "_CLIENT_ID"); clientID != "" {
		c.ClientID = clientID
	}
	if username := os.Getenv(prefix + "_USERNAME"); username != "" {
		c.Username = username
	}
	if qos := os.Getenv(prefix + "_QOS"); qos != "" {
		fmt.Sscanf(qos, "%d", &c.QoS)
	}
	if topicPrefix := os.Getenv(prefix + "_TOPIC_PREFIX"); topicPrefix != "" {
		c.TopicPrefix = topicPrefix
	}
	if timeout := os.Getenv(prefix + "_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.Timeout = d
		}
	}
}

// LoadFromEnv loads WebSocket settings from PREFIX_URL and the timeout variables.
func (c *WebSocketConfig) LoadFromEnv(prefix string) {
	if url := os.Getenv(prefix + "_URL"); url != "" {
		c.URL = url
	}
	loadDuration(prefix+"_WRITE_TIMEOUT", &c.WriteTimeout)
	loadDuration(prefix+"_PONG_TIMEOUT", &c.PongTimeout)
	loadDuration(prefix+"_PING_INTERVAL", &c.PingInterval)
}

// LoadFromEnv loads backend settings from PREFIX_BASE_URL, PREFIX_TIMEOUT, PREFIX_RETRY_COUNT.
func (c *BackendConfig) LoadFromEnv(prefix string) {
	if baseURL := os.Getenv(prefix + "_BASE_URL"); baseURL != "" {
		c.BaseURL = baseURL
	}
	loadDuration(prefix+"_TIMEOUT", &c.Timeout)
	if retry := os.Getenv(prefix + "_RETRY_COUNT"); retry != "" {
		fmt.Sscanf(retry, "%d", &c.RetryCount)
	}
}

func loadDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
