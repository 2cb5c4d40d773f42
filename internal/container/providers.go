package container

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/application/service"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/dedup"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/external/provider"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/messaging/rabbitmq"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/persistence/repository"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/persistence/sqlite"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/report"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/storage"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/throttle"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/worker"
	"github.com/batilieri/multichat-system-sub001/pkg/database"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ExternalBundle holds the upstream client and its call policies.
type ExternalBundle struct {
	Provider port.MediaProvider
	Retry    port.RetryPolicy
	Throttle port.PairThrottle
}

// Deduper is a delivery deduper that owns a connection.
type Deduper interface {
	port.DeliveryDeduper
	Close() error
}

// ProvideDatabase opens the SQLite store and applies pending migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(db, logger)
	if cfg.MigrationsDir != "" {
		migrator = migrator.WithSource(os.DirFS(cfg.MigrationsDir))
	}
	if err := migrator.Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Credentials: repository.NewCredentialRepository(db.DB, logger),
		Downloads:   repository.NewDownloadRepository(db.DB, logger),
		Messages:    repository.NewMessageRepository(db.DB, logger),
		Links:       repository.NewLinkRepository(db.DB, logger),
	}, nil
}

// ProvideStorage creates the storage root and the layout store over it.
func ProvideStorage(cfg *StorageConfig, logger *zap.Logger) (*storage.LayoutStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return storage.NewLayoutStore(cfg.BaseDir, logger), nil
}

// ProvideExternal creates the provider client, its retry policy and the per-pair throttle.
func ProvideExternal(providerCfg *ProviderConfig, throttleCfg *ThrottleConfig, logger *zap.Logger) (*ExternalBundle, error) {
	if providerCfg == nil || throttleCfg == nil {
		return nil, fmt.Errorf("provider and throttle config are required")
	}

	retry := provider.NewRetryStrategy()
	retry.MaxRetries = providerCfg.MaxRetries
	if providerCfg.BaseBackoff > 0 {
		retry.BaseBackoff = providerCfg.BaseBackoff
	}
	if providerCfg.MaxBackoff > 0 {
		retry.MaxBackoff = providerCfg.MaxBackoff
	}

	return &ExternalBundle{
		Provider: provider.NewClient(provider.Config{
			BaseURL:        providerCfg.BaseURL,
			RequestTimeout: providerCfg.RequestTimeout,
			FetchTimeout:   providerCfg.FetchTimeout,
		}, logger),
		Retry: retry,
		Throttle: throttle.New(throttle.Config{
			MaxConcurrent:     throttleCfg.MaxConcurrent,
			RequestsPerSecond: throttleCfg.RequestsPerSecond,
			Burst:             throttleCfg.Burst,
		}),
	}, nil
}

// ProvidePublisher connects to RabbitMQ, or returns a no-op publisher when no URL is configured.
func ProvidePublisher(ctx context.Context, cfg *MessagingConfig, logger *zap.Logger) (port.EventPublisher, error) {
	if cfg == nil || cfg.URL == "" {
		logger.Info("Event publishing disabled")
		return rabbitmq.NewNopPublisher(logger), nil
	}

	rc := rabbitmq.DefaultConfig()
	rc.URL = cfg.URL
	if cfg.Exchange != "" {
		rc.Exchange = cfg.Exchange
	}
	if cfg.Producer != "" {
		rc.Producer = cfg.Producer
	}

	publisher, err := rabbitmq.NewPublisher(ctx, rc, logger)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

// ProvideDeduper connects to Redis, or keeps delivery state in process memory.
func ProvideDeduper(ctx context.Context, cfg *DedupConfig, logger *zap.Logger) (Deduper, error) {
	if cfg == nil || cfg.RedisAddr == "" {
		logger.Info("Using in-memory delivery dedup")
		return dedup.NewMemoryDeduper(cfg.ttl()), nil
	}

	d, err := dedup.NewRedisDeduper(ctx, dedup.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
		TTL:      cfg.TTL,
	}, logger)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *DedupConfig) ttl() time.Duration {
	if c == nil {
		return 0
	}
	return c.TTL
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Storage   port.MediaStorage
	External  *ExternalBundle
	Publisher port.EventPublisher
	Download  service.DownloadConfig
	Pipeline  *PipelineConfig
	Logger    *zap.Logger
}

// ProvideServices creates the pipeline and its stage services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.External == nil {
		return nil, fmt.Errorf("external clients are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// Create logger adapter for services
	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}
	clock := port.SystemClock{}

	resolver := service.NewCredentialResolver(deps.Repos.Credentials, serviceLogger)
	normalizer := service.NewNotificationNormalizer(clock)
	extractor := service.NewDescriptorExtractor()

	orchestrator := service.NewDownloadOrchestrator(service.DownloadDeps{
		Records:     deps.Repos.Downloads,
		Provider:    deps.External.Provider,
		Storage:     deps.Storage,
		Throttle:    deps.External.Throttle,
		RetryPolicy: deps.External.Retry,
		Publisher:   deps.Publisher,
		Clock:       clock,
		Logger:      serviceLogger,
	}, deps.Download)

	mapper := service.NewReconciliationMapper(
		deps.Repos.Messages,
		deps.Repos.Links,
		deps.Storage,
		deps.TxManager,
		service.ReconcileConfig{
			Location:      deps.Pipeline.Location,
			OrphanWorkers: deps.Pipeline.OrphanWorkers,
		},
		serviceLogger,
	)

	pipeline := service.NewPipeline(service.PipelineDeps{
		Normalizer:   normalizer,
		Resolver:     resolver,
		Extractor:    extractor,
		Orchestrator: orchestrator,
		Mapper:       mapper,
		Messages:     deps.Repos.Messages,
		Records:      deps.Repos.Downloads,
		Clock:        clock,
		Logger:       serviceLogger,
	}, service.PipelineConfig{
		StaleAfter: deps.Pipeline.StaleAfter,
	})

	return &ServiceBundle{
		Resolver:     resolver,
		Orchestrator: orchestrator,
		Mapper:       mapper,
		Pipeline:     pipeline,
	}, nil
}

// ProvideReports creates the tenant spreadsheet generator.
func ProvideReports(cfg *ReportConfig, repos *RepositoryBundle, logger *zap.Logger) *report.Generator {
	return report.NewGenerator(repos.Downloads, repos.Links, cfg.RowLimit, logger)
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Pipeline  service.Pipeline
	WorkerCfg *WorkerConfig
	Logger    *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns the manager with all workers registered but not started, and the
// notification pool the HTTP intake enqueues into.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, *worker.NotificationPool, error) {
	if deps == nil {
		return nil, nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Pipeline == nil {
		return nil, nil, fmt.Errorf("pipeline is required")
	}
	if deps.WorkerCfg == nil {
		return nil, nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	pool := worker.NewNotificationPool(worker.NotificationPoolConfig{
		Workers:        deps.WorkerCfg.NotificationWorkers,
		QueueSize:      deps.WorkerCfg.NotificationQueueSize,
		ProcessTimeout: deps.WorkerCfg.ProcessTimeout,
	}, deps.Pipeline, deps.Logger)
	manager.Register(pool)

	if deps.WorkerCfg.ReprocessInterval > 0 {
		manager.Register(worker.NewReprocessWorker(worker.ReprocessWorkerConfig{
			PollInterval: deps.WorkerCfg.ReprocessInterval,
			BatchSize:    deps.WorkerCfg.ReprocessBatchSize,
			RunTimeout:   deps.WorkerCfg.ReprocessTimeout,
		}, deps.Pipeline, deps.Logger))
	} else {
		deps.Logger.Info("Reprocess poller disabled")
	}

	return manager, pool, nil
}
