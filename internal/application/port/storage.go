package port

import (
	"context"
	"io"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
)

// StoreRequest carries everything the layout manager needs to place a file
type StoreRequest struct {
	TenantID   string
	InstanceID string
	ChatID     string
	Kind       entity.AttachmentKind
	MessageID  string
	CapturedAt time.Time
	Mimetype   string
	FileName   string
	Content    io.Reader
}

// MediaStorage defines the storage layout operations
type MediaStorage interface {
	Store(ctx context.Context, req StoreRequest) (*entity.StoredFile, error)
	Scan(ctx context.Context, fn func(file entity.StoredFile) error) error
	Root() string
}
