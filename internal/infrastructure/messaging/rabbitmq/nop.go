package rabbitmq

import (
	"context"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"go.uber.org/zap"
)

// NopPublisher logs events instead of publishing them; used when no broker is configured
type NopPublisher struct {
	logger *zap.Logger
}

var _ port.EventPublisher = (*NopPublisher)(nil)

// NewNopPublisher creates a publisher that only logs
func NewNopPublisher(logger *zap.Logger) *NopPublisher {
	return &NopPublisher{logger: logger}
}

// PublishMediaStored implements port.EventPublisher
func (p *NopPublisher) PublishMediaStored(ctx context.Context, evt port.MediaStoredEvent) error {
	p.logger.Debug("Media stored event not published, messaging disabled",
		zap.String("record_id", evt.RecordID),
		zap.String("path", evt.Path))
	return nil
}

// PublishMediaFailed implements port.EventPublisher
func (p *NopPublisher) PublishMediaFailed(ctx context.Context, evt port.MediaFailedEvent) error {
	p.logger.Debug("Media failed event not published, messaging disabled",
		zap.String("record_id", evt.RecordID),
		zap.String("status", evt.Status))
	return nil
}

// Close implements port.EventPublisher
func (p *NopPublisher) Close() error { return nil }
