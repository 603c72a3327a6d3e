// Package config loads server configuration from the environment via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig
	Mongo     MongoConfig
	Auth      AuthConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Vector    VectorConfig
	Workflow  WorkflowConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	EnforceAuth    bool
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MongoConfig holds the document store settings.
type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	Timeout     time.Duration
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

// RedisConfig holds the permission cache settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// PermissionTTL bounds how long membership lookups may be served stale.
	PermissionTTL time.Duration
}

// RabbitMQConfig holds the optional audit fan-out settings. An empty URL
// disables publishing.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// VectorConfig holds the embedding pipeline settings.
type VectorConfig struct {
	Enabled        bool
	Model          string
	APIKey         string
	MonitoredTypes []string
	DebounceWindow time.Duration
	Workers        int
	QueueHighWater int
	QueueLowWater  int
	MaxInputChars  int
	MaxRetries     int
}

// WorkflowConfig holds execution engine settings.
type WorkflowConfig struct {
	MaxConcurrent  int
	MaxCheckpoints int
	AgentModel     string
	AgentAPIKey    string
	CallTimeout    time.Duration
}

// RateLimitConfig holds the per-principal request limiter settings.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// TelemetryConfig holds tracing settings. An empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from INTELLISPEC_* environment variables with
// sensible defaults for local development.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("intellispec")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.enforce_auth", true)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "intellispec")
	v.SetDefault("mongo.max_pool_size", 100)
	v.SetDefault("mongo.timeout", "30s")

	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.permission_ttl", "30s")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "intellispec.audit")

	v.SetDefault("vector.enabled", false)
	v.SetDefault("vector.model", "text-embedding-3-small")
	v.SetDefault("vector.monitored_types", []string{"asset", "inspection", "finding"})
	v.SetDefault("vector.debounce_window", "2s")
	v.SetDefault("vector.workers", 4)
	v.SetDefault("vector.queue_high_water", 1000)
	v.SetDefault("vector.queue_low_water", 200)
	v.SetDefault("vector.max_input_chars", 8000)
	v.SetDefault("vector.max_retries", 3)

	v.SetDefault("workflow.max_concurrent", 16)
	v.SetDefault("workflow.max_checkpoints", 50)
	v.SetDefault("workflow.agent_model", "gpt-4o-mini")
	v.SetDefault("workflow.call_timeout", "30s")

	v.SetDefault("ratelimit.requests_per_second", 25.0)
	v.SetDefault("ratelimit.burst", 50)

	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			EnforceAuth:    v.GetBool("server.enforce_auth"),
		},
		Mongo: MongoConfig{
			URI:         v.GetString("mongo.uri"),
			Database:    v.GetString("mongo.database"),
			MaxPoolSize: v.GetUint64("mongo.max_pool_size"),
			Timeout:     v.GetDuration("mongo.timeout"),
		},
		Auth: AuthConfig{
			SigningKey: v.GetString("auth.signing_key"),
			TokenTTL:   v.GetDuration("auth.token_ttl"),
		},
		Redis: RedisConfig{
			Addr:          v.GetString("redis.addr"),
			Password:      v.GetString("redis.password"),
			DB:            v.GetInt("redis.db"),
			PermissionTTL: v.GetDuration("redis.permission_ttl"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      v.GetString("rabbitmq.url"),
			Exchange: v.GetString("rabbitmq.exchange"),
		},
		Vector: VectorConfig{
			Enabled:        v.GetBool("vector.enabled"),
			Model:          v.GetString("vector.model"),
			APIKey:         v.GetString("vector.api_key"),
			MonitoredTypes: v.GetStringSlice("vector.monitored_types"),
			DebounceWindow: v.GetDuration("vector.debounce_window"),
			Workers:        v.GetInt("vector.workers"),
			QueueHighWater: v.GetInt("vector.queue_high_water"),
			QueueLowWater:  v.GetInt("vector.queue_low_water"),
			MaxInputChars:  v.GetInt("vector.max_input_chars"),
			MaxRetries:     v.GetInt("vector.max_retries"),
		},
		Workflow: WorkflowConfig{
			MaxConcurrent:  v.GetInt("workflow.max_concurrent"),
			MaxCheckpoints: v.GetInt("workflow.max_checkpoints"),
			AgentModel:     v.GetString("workflow.agent_model"),
			AgentAPIKey:    v.GetString("workflow.agent_api_key"),
			CallTimeout:    v.GetDuration("workflow.call_timeout"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("ratelimit.requests_per_second"),
			Burst:             v.GetInt("ratelimit.burst"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: v.GetString("telemetry.otlp_endpoint"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.SigningKey == "" {
		return fmt.Errorf("config: auth.signing_key is required")
	}
	if c.Vector.Enabled && c.Vector.APIKey == "" {
		return fmt.Errorf("config: vector.api_key is required when the vector service is enabled")
	}
	if c.Vector.QueueLowWater >= c.Vector.QueueHighWater {
		return fmt.Errorf("config: vector.queue_low_water must be below vector.queue_high_water")
	}
	return nil
}
