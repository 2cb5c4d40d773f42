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
	"go.uber.org/zap"
)

// CredentialRepository implements port.CredentialAdminRepository
type CredentialRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *sql.DB, logger *zap.Logger) *CredentialRepository {
	return &CredentialRepository{
		db:     db,
		logger: logger,
	}
}

// GetByInstanceID reads the credential currently stored for an instance
func (r *CredentialRepository) GetByInstanceID(ctx context.Context, instanceID string) (*entity.TenantCredential, error) {
	query := `
		SELECT tenant_id, instance_id, access_token, status, updated_at
		FROM tenant_credentials
		WHERE instance_id = ?
	`

	var cred entity.TenantCredential
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, instanceID).Scan(
		&cred.TenantID,
		&cred.InstanceID,
		&cred.AccessToken,
		&cred.Status,
		&cred.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get credential", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// Upsert stores or replaces the credential for an instance
func (r *CredentialRepository) Upsert(ctx context.Context, cred *entity.TenantCredential) error {
	query := `
		INSERT INTO tenant_credentials (tenant_id, instance_id, access_token, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			access_token = excluded.access_token,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	if cred.Status == "" {
		cred.Status = entity.CredentialStatusConnected
	}
	cred.UpdatedAt = time.Now().UTC()

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		cred.TenantID,
		cred.InstanceID,
		cred.AccessToken,
		cred.Status,
		cred.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to upsert credential",
			zap.String("tenant_id", cred.TenantID),
			zap.String("instance_id", cred.InstanceID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	return nil
}

// Verify interface compliance
var _ port.CredentialAdminRepository = (*CredentialRepository)(nil)
