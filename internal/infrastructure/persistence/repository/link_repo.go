package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/persistence/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LinkRepository implements port.LinkRepository
type LinkRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLinkRepository creates a new reconciliation link repository
func NewLinkRepository(db *sql.DB, logger *zap.Logger) port.LinkRepository {
	return &LinkRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a link for a stored file
func (r *LinkRepository) Create(ctx context.Context, link *entity.ReconciliationLink) error {
	query := `
		INSERT INTO reconciliation_links (id, message_record_id, stored_path, strategy, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	link.CreatedAt = time.Now().UTC()

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		link.ID,
		link.MessageRecordID,
		link.StoredPath,
		link.Strategy,
		link.Confidence,
		link.CreatedAt,
	)
	if sqlite.IsUniqueViolation(err) {
		return port.ErrDuplicateRecord
	}
	if err != nil {
		r.logger.Error("Failed to create reconciliation link",
			zap.String("stored_path", link.StoredPath),
			zap.Error(err))
		return fmt.Errorf("failed to create reconciliation link: %w", err)
	}
	return nil
}

// GetByStoredPath returns the link for a stored file, or ErrNotFound
func (r *LinkRepository) GetByStoredPath(ctx context.Context, storedPath string) (*entity.ReconciliationLink, error) {
	query := `
		SELECT id, message_record_id, stored_path, strategy, confidence, created_at
		FROM reconciliation_links
		WHERE stored_path = ?
	`

	link, err := scanLink(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, storedPath))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get reconciliation link", zap.String("stored_path", storedPath), zap.Error(err))
		return nil, fmt.Errorf("failed to get reconciliation link: %w", err)
	}
	return link, nil
}

// ListByTenant returns links whose message belongs to the tenant
func (r *LinkRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*entity.ReconciliationLink, error) {
	query := `
		SELECT l.id, l.message_record_id, l.stored_path, l.strategy, l.confidence, l.created_at
		FROM reconciliation_links l
		JOIN message_records m ON m.id = l.message_record_id
		WHERE m.tenant_id = ?
		ORDER BY l.created_at ASC
		LIMIT ?
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		r.logger.Error("Failed to list reconciliation links", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list reconciliation links: %w", err)
	}
	defer rows.Close()

	var links []*entity.ReconciliationLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func scanLink(row rowScanner) (*entity.ReconciliationLink, error) {
	var link entity.ReconciliationLink
	err := row.Scan(
		&link.ID,
		&link.MessageRecordID,
		&link.StoredPath,
		&link.Strategy,
		&link.Confidence,
		&link.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// Verify interface compliance
var _ port.LinkRepository = (*LinkRepository)(nil)
