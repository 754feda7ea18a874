// Package config loads process configuration (viper) and the immutable client registry.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Clients  ClientsConfig  `mapstructure:"clients"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	DLQ      DLQConfig      `mapstructure:"dlq"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MockReceiver bool          `mapstructure:"mock_receiver"`
}

// DatabaseConfig holds PostgreSQL settings. URL, when set, wins over the discrete fields.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ConnString returns a postgres:// URL for pgx and golang-migrate.
func (d DatabaseConfig) ConnString() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	QueueKey string `mapstructure:"queue_key"`
}

type WebhookConfig struct {
	Secret       string `mapstructure:"secret"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

type ClientsConfig struct {
	Path string `mapstructure:"path"`
}

type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	PopTimeout      time.Duration `mapstructure:"pop_timeout"`
	ErrorBackoff    time.Duration `mapstructure:"error_backoff"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	PromoteInterval time.Duration `mapstructure:"promote_interval"`
	PromoteBatch    int           `mapstructure:"promote_batch"`
}

type DeliveryConfig struct {
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
	RecordPolicy  string        `mapstructure:"record_policy"`
	SkipSucceeded bool          `mapstructure:"skip_succeeded"`
}

type DLQConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	NatsURL       string `mapstructure:"nats_url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.mock_receiver", false)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "webhook")
	v.SetDefault("database.user", "webhook")
	v.SetDefault("database.password", "webhook")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.queue_key", "webhook_queue")

	v.SetDefault("webhook.secret", "test-secret")
	v.SetDefault("webhook.max_body_bytes", 2<<20)

	v.SetDefault("clients.path", "config/clients.yaml")

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.pop_timeout", "5s")
	v.SetDefault("worker.error_backoff", "1s")
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.base_delay", "1s")
	v.SetDefault("worker.promote_interval", "250ms")
	v.SetDefault("worker.promote_batch", 100)

	v.SetDefault("delivery.http_timeout", "0s")
	v.SetDefault("delivery.record_policy", "first_write")
	v.SetDefault("delivery.skip_succeeded", true)

	v.SetDefault("dlq.enabled", false)
	v.SetDefault("dlq.nats_url", "nats://localhost:4222")
	v.SetDefault("dlq.stream", "WEBHOOK_DLQ")
	v.SetDefault("dlq.subject_prefix", "webhooks.dlq")

	v.SetDefault("admin.jwt_secret", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration from an optional YAML file and RELAY_* environment variables.
// Environment variables use underscores for nesting, e.g. RELAY_REDIS_URL.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/webhook-relay")
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	if c.Webhook.Secret == "" {
		return errors.New("webhook.secret must not be empty")
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return errors.New("webhook.max_body_bytes must be positive")
	}
	if c.Worker.Concurrency < 1 {
		return errors.New("worker.concurrency must be at least 1")
	}
	if c.Worker.MaxAttempts < 0 {
		return errors.New("worker.max_attempts must not be negative")
	}
	if c.Worker.PopTimeout <= 0 {
		return errors.New("worker.pop_timeout must be positive")
	}
	switch c.Delivery.RecordPolicy {
	case "latest", "first_write":
	default:
		return fmt.Errorf("delivery.record_policy must be latest or first_write, got %q", c.Delivery.RecordPolicy)
	}
	return nil
}
