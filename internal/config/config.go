package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Report    ReportConfig    `mapstructure:"report"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"` // empty uses the embedded schema
}

// StorageConfig holds the media storage root
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// ProviderConfig holds upstream retrieval API configuration
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxFileBytes   int64         `mapstructure:"max_file_bytes"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxGenerations int           `mapstructure:"max_generations"`
}

// PipelineConfig holds coordinator and reconciliation settings
type PipelineConfig struct {
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	Timezone      string        `mapstructure:"timezone"`
	OrphanWorkers int           `mapstructure:"orphan_workers"`
}

// ThrottleConfig holds per-(tenant, instance) limits
type ThrottleConfig struct {
	MaxConcurrent     int64   `mapstructure:"max_concurrent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// WorkerConfig holds background worker settings
type WorkerConfig struct {
	NotificationWorkers   int           `mapstructure:"notification_workers"`
	NotificationQueueSize int           `mapstructure:"notification_queue_size"`
	ProcessTimeout        time.Duration `mapstructure:"process_timeout"`
	ReprocessInterval     time.Duration `mapstructure:"reprocess_interval"` // 0 disables the poller
	ReprocessBatchSize    int           `mapstructure:"reprocess_batch_size"`
	ReprocessTimeout      time.Duration `mapstructure:"reprocess_timeout"`
}

// WebhookConfig holds webhook intake settings
type WebhookConfig struct {
	Secret   string        `mapstructure:"secret"` // empty disables signature checks
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

// MessagingConfig holds event publisher settings
type MessagingConfig struct {
	URL      string `mapstructure:"url"` // empty disables publishing
	Exchange string `mapstructure:"exchange"`
	Producer string `mapstructure:"producer"`
}

// RedisConfig holds delivery dedup store settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // empty keeps dedup in memory
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ReportConfig holds spreadsheet export settings
type ReportConfig struct {
	RowLimit int `mapstructure:"row_limit"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
// An empty configPath runs on defaults and environment only.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv exports variables from a .env file without overriding the real environment
func loadDotEnv(path string) error {
	if err := gotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 10<<20)

	// Database defaults; a single connection serializes SQLite writers
	v.SetDefault("database.path", "data/multichat.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)
	v.SetDefault("database.migrations_dir", "")

	v.SetDefault("storage.base_dir", "media")

	// Provider defaults
	v.SetDefault("provider.request_timeout", 30*time.Second)
	v.SetDefault("provider.max_retries", 5)
	v.SetDefault("provider.base_backoff", 1*time.Second)
	v.SetDefault("provider.max_backoff", 30*time.Second)
	v.SetDefault("provider.max_file_bytes", 100<<20)
	v.SetDefault("provider.fetch_timeout", 10*time.Minute)
	v.SetDefault("provider.max_generations", 10)

	// Pipeline defaults
	v.SetDefault("pipeline.stale_after", 30*time.Minute)
	v.SetDefault("pipeline.timezone", "UTC")
	v.SetDefault("pipeline.orphan_workers", 4)

	v.SetDefault("throttle.max_concurrent", 4)
	v.SetDefault("throttle.requests_per_second", 0)
	v.SetDefault("throttle.burst", 1)

	// Worker defaults
	v.SetDefault("worker.notification_workers", 8)
	v.SetDefault("worker.notification_queue_size", 256)
	v.SetDefault("worker.process_timeout", 5*time.Minute)
	v.SetDefault("worker.reprocess_interval", 5*time.Minute)
	v.SetDefault("worker.reprocess_batch_size", 50)
	v.SetDefault("worker.reprocess_timeout", 10*time.Minute)

	v.SetDefault("webhook.dedup_ttl", 10*time.Minute)

	v.SetDefault("messaging.exchange", "media.events")
	v.SetDefault("messaging.producer", "multichat-media")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("report.row_limit", 10000)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	// Secrets and endpoints are usually injected by the environment
	bindings := map[string]string{
		"provider.base_url": "PROVIDER_BASE_URL",
		"webhook.secret":    "WEBHOOK_SECRET",
		"messaging.url":     "RABBITMQ_URL",
		"redis.addr":        "REDIS_ADDR",
		"redis.password":    "REDIS_PASSWORD",
		"database.path":     "DATABASE_PATH",
		"storage.base_dir":  "MEDIA_BASE_DIR",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("provider.max_retries must not be negative")
	}
	if c.Provider.MaxGenerations < 0 {
		return fmt.Errorf("provider.max_generations must not be negative")
	}
	if c.Provider.BaseBackoff > c.Provider.MaxBackoff {
		return fmt.Errorf("provider.base_backoff must not exceed provider.max_backoff")
	}
	if c.Worker.NotificationWorkers <= 0 {
		return fmt.Errorf("worker.notification_workers must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("pipeline.timezone: %w", err)
	}
	return nil
}

// Location resolves the calendar used for nearest-timestamp matching
func (c *Config) Location() (*time.Location, error) {
	if c.Pipeline.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Pipeline.Timezone)
}

// ConfigPathFromEnv returns CONFIG_PATH or the given fallback when it exists
func ConfigPathFromEnv(fallback string) string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	if _, err := os.Stat(fallback); err == nil {
		return fallback
	}
	return ""
}
