package port

import (
	"context"
	"io"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
)

// MediaRetrievalRequest is the body sent to the provider retrieval endpoint
type MediaRetrievalRequest struct {
	InstanceID string
	MediaKey   string
	DirectPath string
	Kind       entity.AttachmentKind
	Mimetype   string
}

// MediaLink is a short-lived fetch link returned by the provider
type MediaLink struct {
	URL       string
	ExpiresAt time.Time
}

// FetchedMedia is a streamed fetch result; the caller closes Body
type FetchedMedia struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// MediaProvider defines the upstream media retrieval API.
// Errors wrap entity.ErrTransientNetwork, entity.ErrAuthorization,
// entity.ErrPermanentAPI or entity.ErrLinkExpired.
type MediaProvider interface {
	RequestMediaLink(ctx context.Context, token string, req MediaRetrievalRequest) (*MediaLink, error)
	Fetch(ctx context.Context, link *MediaLink) (*FetchedMedia, error)
}

// PairThrottle bounds upstream calls per (tenant, instance) pair
type PairThrottle interface {
	Acquire(ctx context.Context, pairKey string) (release func(), err error)
}

// MediaStoredEvent is published after an attachment lands in storage
type MediaStoredEvent struct {
	RecordID        string                `json:"record_id"`
	TenantID        string                `json:"tenant_id"`
	InstanceID      string                `json:"instance_id"`
	ChatID          string                `json:"chat_id"`
	SourceMessageID string                `json:"source_message_id"`
	Kind            entity.AttachmentKind `json:"kind"`
	Path            string                `json:"path"`
	Size            int64                 `json:"size"`
	StoredAt        time.Time             `json:"stored_at"`
}

// MediaFailedEvent is published when a download generation ends in failure
type MediaFailedEvent struct {
	RecordID        string                `json:"record_id"`
	TenantID        string                `json:"tenant_id"`
	InstanceID      string                `json:"instance_id"`
	SourceMessageID string                `json:"source_message_id"`
	Kind            entity.AttachmentKind `json:"kind"`
	Status          string                `json:"status"`
	Retryable       bool                  `json:"retryable"`
	Error           string                `json:"error"`
	Generation      int                   `json:"generation"`
	FailedAt        time.Time             `json:"failed_at"`
}

// EventPublisher publishes pipeline events to downstream consumers
type EventPublisher interface {
	PublishMediaStored(ctx context.Context, evt MediaStoredEvent) error
	PublishMediaFailed(ctx context.Context, evt MediaFailedEvent) error
	Close() error
}

// Clock abstracts time for expiry checks
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time { return time.Now() }

// RetryPolicy decides the retry budget and the delay before each retry
type RetryPolicy interface {
	Retries() int
	Backoff(n int) time.Duration
}

// DeliveryDeduper remembers webhook deliveries already accepted
type DeliveryDeduper interface {
	// FirstSeen returns true the first time key is offered within the retention window
	FirstSeen(ctx context.Context, key string) (bool, error)
}
