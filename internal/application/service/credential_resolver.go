package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
)

// CredentialResolver maps an instance to the credential of the tenant that owns it
type CredentialResolver interface {
	// Resolve reads the live credential store; nothing is cached between calls
	Resolve(ctx context.Context, instanceID string) (*entity.TenantCredential, error)

	// ResolveForTenant additionally requires the instance to belong to tenantID
	ResolveForTenant(ctx context.Context, tenantID, instanceID string) (*entity.TenantCredential, error)
}

type credentialResolverImpl struct {
	credentials port.CredentialRepository
	logger      Logger
}

// NewCredentialResolver creates a new CredentialResolver
func NewCredentialResolver(credentials port.CredentialRepository, logger Logger) CredentialResolver {
	return &credentialResolverImpl{
		credentials: credentials,
		logger:      logger,
	}
}

// Resolve returns the usable credential for an instance
func (r *credentialResolverImpl) Resolve(ctx context.Context, instanceID string) (*entity.TenantCredential, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("%w: empty instance id", entity.ErrMissingCredentials)
	}

	cred, err := r.credentials.GetByInstanceID(ctx, instanceID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown instance %s", entity.ErrMissingCredentials, instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	if cred.InstanceID != instanceID {
		r.logger.Warn("Credential store returned credential for another instance",
			"security", true,
			"requested_instance_id", instanceID,
			"returned_instance_id", cred.InstanceID)
		return nil, fmt.Errorf("%w: credential bound to instance %s", entity.ErrAuthorization, cred.InstanceID)
	}

	if !cred.IsUsable() {
		return nil, fmt.Errorf("%w: instance %s is %s", entity.ErrMissingCredentials, instanceID, cred.Status)
	}

	return cred, nil
}

// ResolveForTenant returns the credential only if tenantID owns the instance
func (r *credentialResolverImpl) ResolveForTenant(ctx context.Context, tenantID, instanceID string) (*entity.TenantCredential, error) {
	cred, err := r.Resolve(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if cred.TenantID != tenantID {
		r.logger.Warn("Cross-tenant credential resolution rejected",
			"security", true,
			"tenant_id", tenantID,
			"instance_id", instanceID)
		return nil, fmt.Errorf("%w: instance %s does not belong to tenant %s", entity.ErrAuthorization, instanceID, tenantID)
	}

	return cred, nil
}
