package config

import (
	"github.com/batilieri/multichat-system-sub001/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() (*container.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		Storage: container.StorageConfig{
			BaseDir: c.Storage.BaseDir,
		},
		Provider: container.ProviderConfig{
			BaseURL:        c.Provider.BaseURL,
			RequestTimeout: c.Provider.RequestTimeout,
			MaxRetries:     c.Provider.MaxRetries,
			BaseBackoff:    c.Provider.BaseBackoff,
			MaxBackoff:     c.Provider.MaxBackoff,
			MaxFileBytes:   c.Provider.MaxFileBytes,
			FetchTimeout:   c.Provider.FetchTimeout,
			MaxGenerations: c.Provider.MaxGenerations,
		},
		Pipeline: container.PipelineConfig{
			StaleAfter:    c.Pipeline.StaleAfter,
			Location:      loc,
			OrphanWorkers: c.Pipeline.OrphanWorkers,
		},
		Throttle: container.ThrottleConfig{
			MaxConcurrent:     c.Throttle.MaxConcurrent,
			RequestsPerSecond: c.Throttle.RequestsPerSecond,
			Burst:             c.Throttle.Burst,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
			MaxBodyBytes:    c.Server.MaxBodyBytes,
			WebhookSecret:   c.Webhook.Secret,
		},
		Worker: container.WorkerConfig{
			NotificationWorkers:   c.Worker.NotificationWorkers,
			NotificationQueueSize: c.Worker.NotificationQueueSize,
			ProcessTimeout:        c.Worker.ProcessTimeout,
			ReprocessInterval:     c.Worker.ReprocessInterval,
			ReprocessBatchSize:    c.Worker.ReprocessBatchSize,
			ReprocessTimeout:      c.Worker.ReprocessTimeout,
		},
		Messaging: container.MessagingConfig{
			URL:      c.Messaging.URL,
			Exchange: c.Messaging.Exchange,
			Producer: c.Messaging.Producer,
		},
		Dedup: container.DedupConfig{
			RedisAddr:     c.Redis.Addr,
			RedisPassword: c.Redis.Password,
			RedisDB:       c.Redis.DB,
			RedisPoolSize: c.Redis.PoolSize,
			TTL:           c.Webhook.DedupTTL,
		},
		Report: container.ReportConfig{
			RowLimit: c.Report.RowLimit,
		},
	}, nil
}
