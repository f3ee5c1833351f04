package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Cron      CronConfig      `mapstructure:"cron"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	Actions   ActionsConfig   `mapstructure:"actions"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Global GlobalDBConfig `mapstructure:"global"`
	Tenant TenantDBConfig `mapstructure:"tenant"`
}

type GlobalDBConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type TenantDBConfig struct {
	BasePath                   string `mapstructure:"base_path"`
	MaxConnectionsPerWorkspace int    `mapstructure:"max_connections_per_workspace"`
}

type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// CronConfig covers the worker schedules and the shared secret the /cron
// endpoints require.
type CronConfig struct {
	InternalAPIKey  string `mapstructure:"internal_api_key"`
	WebhookSchedule string `mapstructure:"webhook_schedule"`
	SyncSchedule    string `mapstructure:"sync_schedule"`
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
	HealthSchedule  string `mapstructure:"health_schedule"`
}

type WebhooksConfig struct {
	EventBatchSize   int           `mapstructure:"event_batch_size"`
	SyncBatchSize    int           `mapstructure:"sync_batch_size"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	EventRetention   time.Duration `mapstructure:"event_retention"`
	MetricsRetention time.Duration `mapstructure:"metrics_retention"`
	HealthyWindow    time.Duration `mapstructure:"healthy_window"`
}

type ActionsConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type RateLimitConfig struct {
	WebhookPerMinute  int `mapstructure:"webhook_per_minute"`
	APIReadPerMinute  int `mapstructure:"api_read_per_minute"`
	APIWritePerMinute int `mapstructure:"api_write_per_minute"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Webhooks.EventBatchSize == 0 {
		cfg.Webhooks.EventBatchSize = 100
	}
	if cfg.Webhooks.SyncBatchSize == 0 {
		cfg.Webhooks.SyncBatchSize = 50
	}
	if cfg.Webhooks.MaxAttempts == 0 {
		cfg.Webhooks.MaxAttempts = 3
	}
	if cfg.Webhooks.RetryBackoff == 0 {
		cfg.Webhooks.RetryBackoff = 5 * time.Minute
	}
	if cfg.Webhooks.EventRetention == 0 {
		cfg.Webhooks.EventRetention = 30 * 24 * time.Hour
	}
	if cfg.Webhooks.MetricsRetention == 0 {
		cfg.Webhooks.MetricsRetention = 90 * 24 * time.Hour
	}
	if cfg.Webhooks.HealthyWindow == 0 {
		cfg.Webhooks.HealthyWindow = 24 * time.Hour
	}
	if cfg.Actions.RequestTimeout == 0 {
		cfg.Actions.RequestTimeout = 10 * time.Second
	}
}
