package entity

import "time"

// MessageRecord is the minimal conversation message row the pipeline reads and writes
type MessageRecord struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	InstanceID      string         `json:"instance_id"`
	ChatID          string         `json:"chat_id"`
	SourceMessageID string         `json:"source_message_id"`
	Kind            AttachmentKind `json:"kind,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Synthesized     bool           `json:"synthesized"`
	CreatedAt       time.Time      `json:"created_at"`
}

// MappingStrategy tags how a stored file was linked to a message
type MappingStrategy string

const (
	StrategyExactMatch       MappingStrategy = "exact_match"
	StrategyNearestTimestamp MappingStrategy = "nearest_timestamp"
	StrategySynthesized      MappingStrategy = "synthesized"
)

// ReconciliationLink associates one stored file with one message record
type ReconciliationLink struct {
	ID              string          `json:"id"`
	MessageRecordID string          `json:"message_record_id"`
	StoredPath      string          `json:"stored_path"`
	Strategy        MappingStrategy `json:"strategy"`
	Confidence      float64         `json:"confidence"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IsVerified returns true when the link came from message-id correlation
func (l *ReconciliationLink) IsVerified() bool {
	return l.Strategy == StrategyExactMatch
}
