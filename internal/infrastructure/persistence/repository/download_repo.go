package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/persistence/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const downloadColumns = `
	id, tenant_id, instance_id, source_message_id, generation, kind, status,
	local_path, bytes_written, retry_count, last_error, retryable, descriptor,
	created_at, updated_at
`

// DownloadRepository implements port.DownloadRepository
type DownloadRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDownloadRepository creates a new download record repository
func NewDownloadRepository(db *sql.DB, logger *zap.Logger) port.DownloadRepository {
	return &DownloadRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new download record generation
func (r *DownloadRepository) Create(ctx context.Context, rec *entity.DownloadRecord) error {
	query := `INSERT INTO download_records (` + downloadColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Generation == 0 {
		rec.Generation = 1
	}
	if rec.Status == "" {
		rec.Status = entity.DownloadStatusPending
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	descriptor, err := marshalDescriptor(rec.Descriptor)
	if err != nil {
		return err
	}

	_, err = sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		rec.ID,
		rec.TenantID,
		rec.InstanceID,
		rec.SourceMessageID,
		rec.Generation,
		rec.Kind,
		rec.Status,
		rec.LocalPath,
		rec.BytesWritten,
		rec.RetryCount,
		rec.LastError,
		rec.Retryable,
		descriptor,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if sqlite.IsUniqueViolation(err) {
		return port.ErrDuplicateRecord
	}
	if err != nil {
		r.logger.Error("Failed to create download record",
			zap.String("instance_id", rec.InstanceID),
			zap.String("source_message_id", rec.SourceMessageID),
			zap.Error(err))
		return fmt.Errorf("failed to create download record: %w", err)
	}

	return nil
}

// GetLatest returns the newest generation for a source message
func (r *DownloadRepository) GetLatest(ctx context.Context, instanceID, sourceMessageID string) (*entity.DownloadRecord, error) {
	query := `SELECT ` + downloadColumns + `
		FROM download_records
		WHERE instance_id = ? AND source_message_id = ?
		ORDER BY generation DESC
		LIMIT 1
	`

	rec, err := scanDownload(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, instanceID, sourceMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get download record",
			zap.String("instance_id", instanceID),
			zap.String("source_message_id", sourceMessageID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get download record: %w", err)
	}
	return rec, nil
}

// MarkDownloading moves a pending record into the downloading state
func (r *DownloadRepository) MarkDownloading(ctx context.Context, id string) error {
	query := `UPDATE download_records SET status = ?, updated_at = ? WHERE id = ? AND status = ?`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		entity.DownloadStatusDownloading, time.Now().UTC(), id, entity.DownloadStatusPending)
	if err != nil {
		r.logger.Error("Failed to mark record downloading", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark record downloading: %w", err)
	}
	return requireOneRow(result, id)
}

// Finalize writes the terminal outcome; terminal rows are left untouched
func (r *DownloadRepository) Finalize(ctx context.Context, rec *entity.DownloadRecord) error {
	query := `
		UPDATE download_records
		SET status = ?, local_path = ?, bytes_written = ?, retry_count = ?,
			last_error = ?, retryable = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	rec.UpdatedAt = time.Now().UTC()
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		rec.Status,
		rec.LocalPath,
		rec.BytesWritten,
		rec.RetryCount,
		rec.LastError,
		rec.Retryable,
		rec.UpdatedAt,
		rec.ID,
		entity.DownloadStatusPending,
		entity.DownloadStatusDownloading,
	)
	if err != nil {
		r.logger.Error("Failed to finalize download record", zap.String("id", rec.ID), zap.Error(err))
		return fmt.Errorf("failed to finalize download record: %w", err)
	}
	return requireOneRow(result, rec.ID)
}

// ListReprocessable returns latest generations that failed and may be retried
func (r *DownloadRepository) ListReprocessable(ctx context.Context, limit int) ([]*entity.DownloadRecord, error) {
	query := `SELECT ` + downloadColumns + `
		FROM download_records d
		WHERE status IN (?, ?) AND retryable = 1
			AND generation = (
				SELECT MAX(generation) FROM download_records l
				WHERE l.instance_id = d.instance_id AND l.source_message_id = d.source_message_id
			)
		ORDER BY updated_at ASC
		LIMIT ?
	`
	return r.list(ctx, "reprocessable", query,
		entity.DownloadStatusFailedPermanent, entity.DownloadStatusExpired, limit)
}

// ListStale returns in-flight records that stopped making progress
func (r *DownloadRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*entity.DownloadRecord, error) {
	query := `SELECT ` + downloadColumns + `
		FROM download_records
		WHERE status IN (?, ?) AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?
	`
	return r.list(ctx, "stale", query,
		entity.DownloadStatusPending, entity.DownloadStatusDownloading, olderThan.UTC(), limit)
}

// ListByTenant returns the latest generation of each record for a tenant
func (r *DownloadRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*entity.DownloadRecord, error) {
	query := `SELECT ` + downloadColumns + `
		FROM download_records d
		WHERE tenant_id = ?
			AND generation = (
				SELECT MAX(generation) FROM download_records l
				WHERE l.instance_id = d.instance_id AND l.source_message_id = d.source_message_id
			)
		ORDER BY created_at ASC
		LIMIT ?
	`
	return r.list(ctx, "tenant", query, tenantID, limit)
}

func (r *DownloadRepository) list(ctx context.Context, what, query string, args ...interface{}) ([]*entity.DownloadRecord, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list download records", zap.String("list", what), zap.Error(err))
		return nil, fmt.Errorf("failed to list %s download records: %w", what, err)
	}
	defer rows.Close()

	var records []*entity.DownloadRecord
	for rows.Next() {
		rec, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDownload(row rowScanner) (*entity.DownloadRecord, error) {
	var rec entity.DownloadRecord
	var descriptor sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.InstanceID,
		&rec.SourceMessageID,
		&rec.Generation,
		&rec.Kind,
		&rec.Status,
		&rec.LocalPath,
		&rec.BytesWritten,
		&rec.RetryCount,
		&rec.LastError,
		&rec.Retryable,
		&descriptor,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if descriptor.Valid && descriptor.String != "" {
		var desc entity.AttachmentDescriptor
		if err := json.Unmarshal([]byte(descriptor.String), &desc); err != nil {
			return nil, fmt.Errorf("failed to decode descriptor snapshot: %w", err)
		}
		rec.Descriptor = &desc
	}
	return &rec, nil
}

func marshalDescriptor(desc *entity.AttachmentDescriptor) (sql.NullString, error) {
	if desc == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode descriptor snapshot: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func requireOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("download record %s not in expected state: %w", id, entity.ErrNotFound)
	}
	return nil
}

// Verify interface compliance
var _ port.DownloadRepository = (*DownloadRepository)(nil)
