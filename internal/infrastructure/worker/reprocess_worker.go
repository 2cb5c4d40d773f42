package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/service"
	"go.uber.org/zap"
)

// Reprocessor re-attempts failed downloads
type Reprocessor interface {
	Reprocess(ctx context.Context, limit int) (*service.ReprocessSummary, error)
}

// ReprocessWorkerConfig holds configuration for the reprocess poller
type ReprocessWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	RunTimeout   time.Duration
}

// DefaultReprocessWorkerConfig returns default configuration
func DefaultReprocessWorkerConfig() ReprocessWorkerConfig {
	return ReprocessWorkerConfig{
		PollInterval: 5 * time.Minute,
		BatchSize:    50,
		RunTimeout:   10 * time.Minute,
	}
}

// ReprocessWorker periodically recovers stale records and retries failed downloads
type ReprocessWorker struct {
	config      ReprocessWorkerConfig
	reprocessor Reprocessor
	logger      *zap.Logger

	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	done           chan struct{}
	isRunning      bool
	startTime      time.Time
	lastProcessed  time.Time
	processedCount int
	failedCount    int
	lastError      error
}

// NewReprocessWorker creates a new reprocess worker
func NewReprocessWorker(config ReprocessWorkerConfig, reprocessor Reprocessor, logger *zap.Logger) *ReprocessWorker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultReprocessWorkerConfig().PollInterval
	}
	return &ReprocessWorker{
		config:      config,
		reprocessor: reprocessor,
		logger:      logger,
	}
}

// Name returns the worker name for identification
func (w *ReprocessWorker) Name() string {
	return "ReprocessWorker"
}

// Start begins the worker polling loop
func (w *ReprocessWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("reprocess worker already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true
	w.startTime = time.Now()

	w.logger.Info("ReprocessWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(w.ctx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-progress run to return
func (w *ReprocessWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.RLock()
	defer w.mu.RUnlock()
	w.logger.Info("ReprocessWorker stopped",
		zap.Int("processed_count", w.processedCount),
		zap.Int("failed_count", w.failedCount))
	return nil
}

// Status implements StatusReporter
func (w *ReprocessWorker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Status{
		IsRunning:      w.isRunning,
		StartedAt:      w.startTime,
		LastProcessed:  w.lastProcessed,
		ProcessedCount: w.processedCount,
		FailedCount:    w.failedCount,
	}
	if w.lastError != nil {
		s.LastError = w.lastError.Error()
	}
	return s
}

func (w *ReprocessWorker) pollLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Poll loop context cancelled")
			return

		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce performs one reprocess pass and records its counters
func (w *ReprocessWorker) runOnce(ctx context.Context) {
	if w.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.RunTimeout)
		defer cancel()
	}

	summary, err := w.reprocessor.Reprocess(ctx, w.config.BatchSize)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastProcessed = time.Now()
	if summary != nil {
		w.processedCount += summary.Succeeded
		w.failedCount += summary.Failed
	}
	if err != nil {
		w.lastError = err
		w.logger.Error("Reprocess run failed", zap.Error(err))
		return
	}
	w.lastError = nil
}
