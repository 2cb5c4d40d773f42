// Package container provides dependency injection and lifecycle management
// for the media acquisition service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Storage configuration
	Storage StorageConfig

	// Upstream provider configuration
	Provider ProviderConfig

	// Pipeline configuration
	Pipeline PipelineConfig

	// Per-pair throttle configuration
	Throttle ThrottleConfig

	// Server configuration
	Server ServerConfig

	// Worker configuration
	Worker WorkerConfig

	// Event publishing configuration
	Messaging MessagingConfig

	// Delivery dedup configuration
	Dedup DedupConfig

	// Report configuration
	Report ReportConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// MigrationsDir overrides the embedded schema when set
	MigrationsDir string
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	// BaseDir is the root of the tenant/instance/chat layout
	BaseDir string
}

// ProviderConfig holds upstream retrieval settings.
type ProviderConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	MaxFileBytes   int64
	FetchTimeout   time.Duration
	MaxGenerations int
}

// PipelineConfig holds coordinator and mapper settings.
type PipelineConfig struct {
	StaleAfter    time.Duration
	Location      *time.Location
	OrphanWorkers int
}

// ThrottleConfig holds per-pair limits.
type ThrottleConfig struct {
	MaxConcurrent     int64
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	WebhookSecret   string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	// Notification pool settings
	NotificationWorkers   int
	NotificationQueueSize int
	ProcessTimeout        time.Duration

	// Reprocess poller settings; a zero interval disables the poller
	ReprocessInterval  time.Duration
	ReprocessBatchSize int
	ReprocessTimeout   time.Duration
}

// MessagingConfig holds RabbitMQ settings. An empty URL disables publishing.
type MessagingConfig struct {
	URL      string
	Exchange string
	Producer string
}

// DedupConfig holds webhook delivery dedup settings. An empty RedisAddr keeps state in memory.
type DedupConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	TTL           time.Duration
}

// ReportConfig holds spreadsheet export settings.
type ReportConfig struct {
	RowLimit int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "data/multichat.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		Storage: StorageConfig{
			BaseDir: "media",
		},
		Provider: ProviderConfig{
			RequestTimeout: 30 * time.Second,
			MaxRetries:     5,
			BaseBackoff:    1 * time.Second,
			MaxBackoff:     30 * time.Second,
			MaxFileBytes:   100 << 20,
			FetchTimeout:   10 * time.Minute,
			MaxGenerations: 10,
		},
		Pipeline: PipelineConfig{
			StaleAfter:    30 * time.Minute,
			Location:      time.UTC,
			OrphanWorkers: 4,
		},
		Throttle: ThrottleConfig{
			MaxConcurrent: 4,
			Burst:         1,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    10 << 20,
		},
		Worker: WorkerConfig{
			NotificationWorkers:   8,
			NotificationQueueSize: 256,
			ProcessTimeout:        5 * time.Minute,
			ReprocessInterval:     5 * time.Minute,
			ReprocessBatchSize:    50,
			ReprocessTimeout:      10 * time.Minute,
		},
		Messaging: MessagingConfig{
			Exchange: "media.events",
			Producer: "multichat-media",
		},
		Dedup: DedupConfig{
			TTL: 10 * time.Minute,
		},
		Report: ReportConfig{
			RowLimit: 10000,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	return nil
}
