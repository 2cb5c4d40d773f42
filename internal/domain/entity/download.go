package entity

import "time"

// DownloadRecord tracks one download attempt generation for a source message.
// Terminal records are never updated; reprocessing creates a new generation.
type DownloadRecord struct {
	ID              string                `json:"id"`
	TenantID        string                `json:"tenant_id"`
	InstanceID      string                `json:"instance_id"`
	SourceMessageID string                `json:"source_message_id"`
	Generation      int                   `json:"generation"`
	Kind            AttachmentKind        `json:"kind"`
	Status          string                `json:"status"`
	LocalPath       string                `json:"local_path,omitempty"`
	BytesWritten    int64                 `json:"bytes_written"`
	RetryCount      int                   `json:"retry_count"`
	LastError       string                `json:"last_error,omitempty"`
	Retryable       bool                  `json:"retryable"`
	Descriptor      *AttachmentDescriptor `json:"descriptor,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// IsTerminal returns true once the record can no longer change
func (r *DownloadRecord) IsTerminal() bool {
	switch r.Status {
	case DownloadStatusSuccess, DownloadStatusFailedPermanent, DownloadStatusExpired:
		return true
	}
	return false
}

// IsFailed returns true for the two failure terminal states
func (r *DownloadRecord) IsFailed() bool {
	return r.Status == DownloadStatusFailedPermanent || r.Status == DownloadStatusExpired
}

// CanReprocess returns true if a new generation may be attempted
func (r *DownloadRecord) CanReprocess() bool {
	return r.IsFailed() && r.Retryable && r.Descriptor != nil
}
