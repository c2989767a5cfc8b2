// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles. The engine callback route
// is always exempt so webhook delivery never depends on our key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// EngineConfig configures the outbound analysis engine client.
type EngineConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	APIKey           string `mapstructure:"api_key"`
	CallbackBaseURL  string `mapstructure:"callback_base_url"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// CacheConfig selects the cache backend and the TTL per key class.
type CacheConfig struct {
	Backend          string `mapstructure:"backend"`
	RedisAddr        string `mapstructure:"redis_addr"`
	RedisPassword    string `mapstructure:"redis_password"`
	RedisDB          int    `mapstructure:"redis_db"`
	ResultTTLSeconds int    `mapstructure:"result_ttl_seconds"`
	StatusTTLSeconds int    `mapstructure:"status_ttl_seconds"`
	TaskTTLSeconds   int    `mapstructure:"task_ttl_seconds"`
}

// NotifierConfig selects the realtime publish backend.
type NotifierConfig struct {
	Backend     string `mapstructure:"backend"`
	ProjectID   string `mapstructure:"project_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ANALYSIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("engine.timeout_seconds", 5)
	v.SetDefault("engine.max_retries", 2)
	v.SetDefault("engine.backoff_initial_ms", 250)
	v.SetDefault("engine.backoff_max_ms", 2000)
	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.result_ttl_seconds", 3600)
	v.SetDefault("cache.status_ttl_seconds", 60)
	v.SetDefault("cache.task_ttl_seconds", 900)
	v.SetDefault("notifier.backend", "memory")
	v.SetDefault("notifier.topic_prefix", "analysis.task")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("engine.base_url must be set")
	}
	if c.Engine.TimeoutSeconds <= 0 {
		return fmt.Errorf("engine.timeout_seconds must be > 0")
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0")
	}
	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("cache.backend must be redis or memory, got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr must be set when cache.backend is redis")
	}
	if c.Cache.ResultTTLSeconds <= 0 || c.Cache.StatusTTLSeconds <= 0 || c.Cache.TaskTTLSeconds <= 0 {
		return fmt.Errorf("cache TTLs must be > 0")
	}
	switch c.Notifier.Backend {
	case "memory", "redis", "pubsub":
	default:
		return fmt.Errorf("notifier.backend must be memory, redis or pubsub, got %q", c.Notifier.Backend)
	}
	if c.Notifier.Backend == "pubsub" && c.Notifier.ProjectID == "" {
		return fmt.Errorf("notifier.project_id must be set when notifier.backend is pubsub")
	}
	if c.Notifier.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr must be set when notifier.backend is redis")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// EngineTimeout converts the engine timeout knob into a duration.
func (c Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// ResultTTL is the lifetime of terminal result entries.
func (c Config) ResultTTL() time.Duration {
	return time.Duration(c.Cache.ResultTTLSeconds) * time.Second
}

// StatusTTL is the lifetime of in-flight status entries.
func (c Config) StatusTTL() time.Duration {
	return time.Duration(c.Cache.StatusTTLSeconds) * time.Second
}

// TaskTTL is the lifetime of task-to-product index entries.
func (c Config) TaskTTL() time.Duration {
	return time.Duration(c.Cache.TaskTTLSeconds) * time.Second
}
