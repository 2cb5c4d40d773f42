package port

import (
	"context"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
)

// CredentialRepository is the read side of the tenant credential store
type CredentialRepository interface {
	GetByInstanceID(ctx context.Context, instanceID string) (*entity.TenantCredential, error)
}

// CredentialAdminRepository is used by operator tooling to seed credentials
type CredentialAdminRepository interface {
	CredentialRepository
	Upsert(ctx context.Context, cred *entity.TenantCredential) error
}

// DownloadRepository defines persistence operations for DownloadRecord
type DownloadRepository interface {
	// Create inserts a new record; returns ErrDuplicateRecord when the
	// (instance, message, generation) slot is already taken
	Create(ctx context.Context, rec *entity.DownloadRecord) error

	// GetLatest returns the highest generation for a source message, or ErrNotFound
	GetLatest(ctx context.Context, instanceID, sourceMessageID string) (*entity.DownloadRecord, error)

	// MarkDownloading moves a pending record to downloading
	MarkDownloading(ctx context.Context, id string) error

	// Finalize writes the terminal state of a non-terminal record
	Finalize(ctx context.Context, rec *entity.DownloadRecord) error

	// ListReprocessable returns latest-generation failed records flagged retryable
	ListReprocessable(ctx context.Context, limit int) ([]*entity.DownloadRecord, error)

	// ListStale returns non-terminal records not updated since the cutoff
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*entity.DownloadRecord, error)

	// ListByTenant returns latest-generation records for a tenant
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*entity.DownloadRecord, error)
}

// MessageRepository defines persistence operations for MessageRecord
type MessageRepository interface {
	// Upsert inserts the record or returns the existing one for the same source message
	Upsert(ctx context.Context, msg *entity.MessageRecord) (*entity.MessageRecord, error)

	GetBySourceMessageID(ctx context.Context, instanceID, sourceMessageID string) (*entity.MessageRecord, error)

	// FindBySourcePrefix resolves a file name id prefix back to message records
	FindBySourcePrefix(ctx context.Context, instanceID, prefix string) ([]*entity.MessageRecord, error)

	// ListInChatBetween returns messages of one chat and kind within [from, to)
	ListInChatBetween(ctx context.Context, tenantID, instanceID, chatID string, kind entity.AttachmentKind, from, to time.Time) ([]*entity.MessageRecord, error)
}

// LinkRepository defines persistence operations for ReconciliationLink
type LinkRepository interface {
	// Create inserts a link; returns ErrDuplicateRecord if the stored path is already linked
	Create(ctx context.Context, link *entity.ReconciliationLink) error
	GetByStoredPath(ctx context.Context, storedPath string) (*entity.ReconciliationLink, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*entity.ReconciliationLink, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
