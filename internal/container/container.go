package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/application/service"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/persistence/sqlite"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/report"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/storage"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/worker"
	httpserver "github.com/batilieri/multichat-system-sub001/internal/interfaces/http"
	"github.com/batilieri/multichat-system-sub001/pkg/database"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - Storage and upstream
	store     *storage.LayoutStore
	external  *ExternalBundle
	publisher port.EventPublisher
	deduper   Deduper

	// Application
	services *ServiceBundle
	reports  *report.Generator

	// Workers and intake
	workers *worker.WorkerManager
	pool    *worker.NotificationPool
	server  *httpserver.Server

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Credentials port.CredentialAdminRepository
	Downloads   port.DownloadRepository
	Messages    port.MessageRepository
	Links       port.LinkRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Resolver     service.CredentialResolver
	Orchestrator service.DownloadOrchestrator
	Mapper       service.ReconciliationMapper
	Pipeline     service.Pipeline
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() or StartCore() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins background processing:
// 1. Database, migrations and repositories
// 2. Storage
// 3. Provider client, retry policy and throttle
// 4. Event publisher and delivery deduper
// 5. Application services and reports
// 6. Workers
// 7. HTTP server (constructed; Serve runs it)
func (c *Container) Start(ctx context.Context) error {
	if err := c.StartCore(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Step 6: Initialize and start workers
	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	// Step 7: Build the HTTP server
	c.initServer()

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// StartCore initializes everything up to the services without starting
// workers. Operator commands run on a core-only container.
func (c *Container) StartCore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.services != nil {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	// Step 2: Initialize storage
	store, err := ProvideStorage(&c.config.Storage, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.store = store
	c.logger.Info("Storage initialized", zap.String("root", store.Root()))

	// Step 3: Initialize external clients
	external, err := ProvideExternal(&c.config.Provider, &c.config.Throttle, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}
	c.external = external
	c.logger.Info("External clients initialized")

	// Step 4: Initialize messaging and dedup
	if err := c.initMessaging(); err != nil {
		return err
	}

	// Step 5: Initialize application services
	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	return nil
}

// Serve runs the HTTP server until ctx is cancelled.
func (c *Container) Serve(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	if server == nil {
		return fmt.Errorf("container not started")
	}
	return server.Start(ctx)
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Step 1: Stop the HTTP server so no new work is accepted
	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}

	// Step 2: Stop workers; the pool drains what was already accepted
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Cancel context to signal any remaining goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 3: Close the deduper and publisher
	if c.deduper != nil {
		if err := c.deduper.Close(); err != nil {
			c.logger.Error("Failed to close deduper", zap.Error(err))
			errs = append(errs, fmt.Errorf("close deduper: %w", err))
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.logger.Error("Failed to close publisher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}

	// Step 4: Close database
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %v", len(errs), errs)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	// Check database
	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			status.Components["database"] = ComponentHealth{
				Healthy: false,
				Message: fmt.Sprintf("ping failed: %v", err),
			}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.Components["database"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	// Check workers
	if c.workers != nil {
		status.Components["workers"] = ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()),
		}
		if !c.workers.IsRunning() {
			status.Overall = false
		}
	} else {
		status.Components["workers"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	return status
}

// initDatabase opens the database and creates the repositories.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.db = dbBundle.DB
	c.txManager = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		c.db.Close()
		return err
	}

	c.repositories = repos
	return nil
}

// initMessaging connects the event publisher and the delivery deduper.
func (c *Container) initMessaging() error {
	publisher, err := ProvidePublisher(c.ctx, &c.config.Messaging, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event publisher: %w", err)
	}
	c.publisher = publisher

	deduper, err := ProvideDeduper(c.ctx, &c.config.Dedup, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize delivery dedup: %w", err)
	}
	c.deduper = deduper
	return nil
}

// initServices creates the pipeline services and the report generator.
func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.txManager,
		Storage:   c.store,
		External:  c.external,
		Publisher: c.publisher,
		Download: service.DownloadConfig{
			MaxFileBytes:   c.config.Provider.MaxFileBytes,
			MaxGenerations: c.config.Provider.MaxGenerations,
		},
		Pipeline: &c.config.Pipeline,
		Logger:   c.logger,
	})
	if err != nil {
		return err
	}

	c.services = services
	c.reports = ProvideReports(&c.config.Report, c.repositories, c.logger)
	return nil
}

// initWorkers creates and starts all background workers.
func (c *Container) initWorkers() error {
	workers, pool, err := ProvideWorkers(&WorkerDeps{
		Pipeline:  c.services.Pipeline,
		WorkerCfg: &c.config.Worker,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers
	c.pool = pool

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// initServer builds the HTTP server over the started components.
func (c *Container) initServer() {
	cfg := c.config.Server
	c.server = httpserver.NewServer(httpserver.ServerConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	}, httpserver.HandlerDeps{
		Queue:    c.pool,
		Pipeline: c.services.Pipeline,
		Mapper:   c.services.Mapper,
		Reports:  c.reports,
		Deduper:  c.deduper,
		Workers:  c.workers,
		Verifier: httpserver.NewVerifier(cfg.WebhookSecret),
		Logger:   &zapLoggerAdapter{logger: c.logger},
	})
}

// Getters for accessing container components

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Reports returns the tenant report generator.
func (c *Container) Reports() *report.Generator {
	return c.reports
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Server returns the HTTP server.
func (c *Container) Server() *httpserver.Server {
	return c.server
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the service and http Logger interfaces.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Debug(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr && key == "error" {
			fields = append(fields, zap.Error(err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
