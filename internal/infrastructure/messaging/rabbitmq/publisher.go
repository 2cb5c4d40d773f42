package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/event"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Config holds broker settings
type Config struct {
	URL          string
	Exchange     string
	Producer     string
	DialAttempts int
	DialDelay    time.Duration
	MaxDialDelay time.Duration
}

// DefaultConfig returns the default publisher settings
func DefaultConfig() Config {
	return Config{
		Exchange:     "media.events",
		Producer:     "multichat-media",
		DialAttempts: 5,
		DialDelay:    time.Second,
		MaxDialDelay: 30 * time.Second,
	}
}

// Publisher sends pipeline events to a topic exchange with publisher confirms
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	producer string
	logger   *zap.Logger

	mu sync.Mutex
}

var _ port.EventPublisher = (*Publisher)(nil)

// NewPublisher dials the broker, declares the exchange and enables confirms
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	conn, err := dialWithRetry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	logger.Info("RabbitMQ publisher ready", zap.String("exchange", cfg.Exchange))

	return &Publisher{
		conn:     conn,
		ch:       ch,
		exchange: cfg.Exchange,
		producer: cfg.Producer,
		logger:   logger,
	}, nil
}

// PublishMediaStored implements port.EventPublisher
func (p *Publisher) PublishMediaStored(ctx context.Context, evt port.MediaStoredEvent) error {
	env := event.New(event.TypeMediaStored, p.producer, evt).WithCorrelation(evt.RecordID)
	return p.publish(ctx, env)
}

// PublishMediaFailed implements port.EventPublisher
func (p *Publisher) PublishMediaFailed(ctx context.Context, evt port.MediaFailedEvent) error {
	env := event.New(event.TypeMediaFailed, p.producer, evt).WithCorrelation(evt.RecordID)
	return p.publish(ctx, env)
}

func (p *Publisher) publish(ctx context.Context, env *event.Envelope) error {
	msg, err := buildPublishing(env)
	if err != nil {
		return err
	}

	routingKey := env.Meta.Type.String()

	p.mu.Lock()
	defer p.mu.Unlock()

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for confirm of %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s event %s", routingKey, env.Meta.ID)
	}

	p.logger.Debug("Event published",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.String("event_id", env.Meta.ID))
	return nil
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func buildPublishing(env *event.Envelope) (amqp.Publishing, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.CorrelationOrID(),
		Type:          env.Meta.Type.String(),
		AppId:         env.Meta.Producer,
		Timestamp:     env.Meta.Time,
		Body:          body,
	}, nil
}

// dialWithRetry connects with capped exponential backoff, giving up on ctx cancellation
func dialWithRetry(ctx context.Context, cfg Config, logger *zap.Logger) (*amqp.Connection, error) {
	attempts := cfg.DialAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	delay := cfg.DialDelay
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				logger.Info("RabbitMQ connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		if i == attempts {
			break
		}

		logger.Warn("RabbitMQ dial failed",
			zap.Int("attempt", i),
			zap.Duration("sleep", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if cfg.MaxDialDelay > 0 && delay > cfg.MaxDialDelay {
			delay = cfg.MaxDialDelay
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}
