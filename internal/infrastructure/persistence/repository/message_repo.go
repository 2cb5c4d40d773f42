package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/persistence/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const messageColumns = `
	id, tenant_id, instance_id, chat_id, source_message_id, kind, timestamp,
	synthesized, created_at
`

// MessageRepository implements port.MessageRepository
type MessageRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMessageRepository creates a new message record repository
func NewMessageRepository(db *sql.DB, logger *zap.Logger) port.MessageRepository {
	return &MessageRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts a message record unless one exists for the same source message
func (r *MessageRepository) Upsert(ctx context.Context, msg *entity.MessageRecord) (*entity.MessageRecord, error) {
	query := `
		INSERT INTO message_records (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, source_message_id) DO NOTHING
	`

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.CreatedAt = time.Now().UTC()

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		msg.ID,
		msg.TenantID,
		msg.InstanceID,
		msg.ChatID,
		msg.SourceMessageID,
		msg.Kind,
		msg.Timestamp.UTC(),
		msg.Synthesized,
		msg.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to upsert message record",
			zap.String("instance_id", msg.InstanceID),
			zap.String("source_message_id", msg.SourceMessageID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to upsert message record: %w", err)
	}

	return r.GetBySourceMessageID(ctx, msg.InstanceID, msg.SourceMessageID)
}

// GetBySourceMessageID retrieves a message record by its provider message id
func (r *MessageRepository) GetBySourceMessageID(ctx context.Context, instanceID, sourceMessageID string) (*entity.MessageRecord, error) {
	query := `SELECT ` + messageColumns + `
		FROM message_records
		WHERE instance_id = ? AND source_message_id = ?
	`

	msg, err := scanMessage(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, instanceID, sourceMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get message record",
			zap.String("instance_id", instanceID),
			zap.String("source_message_id", sourceMessageID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get message record: %w", err)
	}
	return msg, nil
}

// FindBySourcePrefix returns messages whose sanitized id starts with prefix.
// Non-alphanumeric characters are dropped from ids in file names, so the
// match is done in Go after a coarse LIKE on the first character.
func (r *MessageRepository) FindBySourcePrefix(ctx context.Context, instanceID, prefix string) ([]*entity.MessageRecord, error) {
	if prefix == "" {
		return nil, nil
	}

	query := `SELECT ` + messageColumns + `
		FROM message_records
		WHERE instance_id = ? AND source_message_id LIKE ?
		ORDER BY source_message_id ASC
	`

	candidates, err := r.list(ctx, query, instanceID, prefix[:1]+"%")
	if err != nil {
		return nil, err
	}

	var matches []*entity.MessageRecord
	for _, msg := range candidates {
		if strings.HasPrefix(alnumOnly(msg.SourceMessageID), prefix) {
			matches = append(matches, msg)
		}
	}
	return matches, nil
}

// ListInChatBetween returns messages of one chat and kind in [from, to)
func (r *MessageRepository) ListInChatBetween(ctx context.Context, tenantID, instanceID, chatID string, kind entity.AttachmentKind, from, to time.Time) ([]*entity.MessageRecord, error) {
	query := `SELECT ` + messageColumns + `
		FROM message_records
		WHERE tenant_id = ? AND instance_id = ? AND chat_id = ? AND kind = ?
			AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, source_message_id ASC
	`
	return r.list(ctx, query, tenantID, instanceID, chatID, kind, from.UTC(), to.UTC())
}

func (r *MessageRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.MessageRecord, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list message records", zap.Error(err))
		return nil, fmt.Errorf("failed to list message records: %w", err)
	}
	defer rows.Close()

	var messages []*entity.MessageRecord
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message record: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(row rowScanner) (*entity.MessageRecord, error) {
	var msg entity.MessageRecord
	err := row.Scan(
		&msg.ID,
		&msg.TenantID,
		&msg.InstanceID,
		&msg.ChatID,
		&msg.SourceMessageID,
		&msg.Kind,
		&msg.Timestamp,
		&msg.Synthesized,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func alnumOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Verify interface compliance
var _ port.MessageRepository = (*MessageRepository)(nil)
