package event

import (
	"time"

	"github.com/google/uuid"
)

// Meta carries the envelope metadata shared by every published event
type Meta struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	Producer      string    `json:"producer,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Time          time.Time `json:"time"`
}

// Envelope wraps an event payload for the wire
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// New creates an envelope with a fresh ID and the current time
func New(eventType Type, producer string, data any) *Envelope {
	return &Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     eventType,
			Producer: producer,
			Time:     time.Now().UTC(),
		},
		Data: data,
	}
}

// WithCorrelation returns a copy of the envelope linked to a correlation chain
func (e *Envelope) WithCorrelation(correlationID string) *Envelope {
	cp := *e
	cp.Meta.CorrelationID = correlationID
	return &cp
}

// CorrelationOrID returns the correlation ID, falling back to the event ID
func (e *Envelope) CorrelationOrID() string {
	if e.Meta.CorrelationID != "" {
		return e.Meta.CorrelationID
	}
	return e.Meta.ID
}
