package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/service"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Enqueue when the pool cannot accept more work
var ErrQueueFull = errors.New("notification queue is full")

// ErrPoolStopped is returned by Enqueue once the pool is no longer accepting work
var ErrPoolStopped = errors.New("notification pool is stopped")

// NotificationProcessor runs one raw notification through the pipeline
type NotificationProcessor interface {
	Process(ctx context.Context, raw []byte) (*service.Result, error)
}

// NotificationPoolConfig holds pool sizing
type NotificationPoolConfig struct {
	Workers        int
	QueueSize      int
	ProcessTimeout time.Duration
}

// DefaultNotificationPoolConfig returns default configuration
func DefaultNotificationPoolConfig() NotificationPoolConfig {
	return NotificationPoolConfig{
		Workers:        8,
		QueueSize:      256,
		ProcessTimeout: 5 * time.Minute,
	}
}

// NotificationPool processes accepted notifications on a fixed set of goroutines
type NotificationPool struct {
	config    NotificationPoolConfig
	processor NotificationProcessor
	logger    *zap.Logger

	queue chan []byte
	wg    sync.WaitGroup

	mu             sync.RWMutex
	ctx            context.Context
	isRunning      bool
	startTime      time.Time
	lastProcessed  time.Time
	processedCount int
	failedCount    int
	lastError      error
}

// NewNotificationPool creates a new notification pool
func NewNotificationPool(config NotificationPoolConfig, processor NotificationProcessor, logger *zap.Logger) *NotificationPool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers
	}
	return &NotificationPool{
		config:    config,
		processor: processor,
		logger:    logger,
	}
}

// Name returns the worker name for identification
func (p *NotificationPool) Name() string {
	return "NotificationPool"
}

// Start launches the pool goroutines
func (p *NotificationPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("notification pool already running")
	}

	p.ctx = ctx
	p.queue = make(chan []byte, p.config.QueueSize)
	p.isRunning = true
	p.startTime = time.Now()

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.run(p.queue)
	}

	p.logger.Info("NotificationPool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
	return nil
}

// Stop stops accepting work and waits for queued notifications to finish
func (p *NotificationPool) Stop() error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.RLock()
	defer p.mu.RUnlock()
	p.logger.Info("NotificationPool stopped",
		zap.Int("processed_count", p.processedCount),
		zap.Int("failed_count", p.failedCount))
	return nil
}

// Enqueue hands a raw notification to the pool without blocking
func (p *NotificationPool) Enqueue(raw []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.isRunning {
		return ErrPoolStopped
	}

	select {
	case p.queue <- raw:
		return nil
	default:
		return ErrQueueFull
	}
}

// Status implements StatusReporter
func (p *NotificationPool) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Status{
		IsRunning:      p.isRunning,
		StartedAt:      p.startTime,
		LastProcessed:  p.lastProcessed,
		ProcessedCount: p.processedCount,
		FailedCount:    p.failedCount,
		QueueCapacity:  p.config.QueueSize,
	}
	if p.queue != nil {
		s.QueueDepth = len(p.queue)
	}
	if p.lastError != nil {
		s.LastError = p.lastError.Error()
	}
	return s
}

func (p *NotificationPool) run(queue <-chan []byte) {
	defer p.wg.Done()
	for raw := range queue {
		p.handle(raw)
	}
}

// handle processes one notification; queued work drains even after shutdown begins
func (p *NotificationPool) handle(raw []byte) {
	ctx := context.WithoutCancel(p.ctx)
	if p.config.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ProcessTimeout)
		defer cancel()
	}

	result, err := p.processor.Process(ctx, raw)

	p.mu.Lock()
	p.lastProcessed = time.Now()
	if err != nil {
		p.failedCount++
		p.lastError = err
	} else {
		p.processedCount++
	}
	p.mu.Unlock()

	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		if result != nil {
			fields = append(fields, zap.String("stage", result.Stage))
			if result.Envelope != nil {
				fields = append(fields,
					zap.String("instance_id", result.Envelope.InstanceID),
					zap.String("message_id", result.Envelope.MessageID))
			}
		}
		p.logger.Warn("Notification processing failed", fields...)
		return
	}

	p.logger.Debug("Notification processed", zap.String("stage", result.Stage))
}
