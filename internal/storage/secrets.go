package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ernie/teamwatch/internal/domain"
)

// GetSecret returns a tenant's secret record, or nil if none is set
func (s *Store) GetSecret(ctx context.Context, tenantID string) (*domain.TenantSecret, error) {
	var sec domain.TenantSecret
	var created, updated int64
	err := s.ro.QueryRowContext(ctx, `
		SELECT tenant_id, secret_hash, created_at, updated_at FROM tenant_secrets WHERE tenant_id = ?
	`, tenantID).Scan(&sec.TenantID, &sec.SecretHash, &created, &updated)
	if errNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying secret: %w", err)
	}
	sec.CreatedAt = fromUnix(created)
	sec.UpdatedAt = fromUnix(updated)
	return &sec, nil
}

// PutSecret sets a tenant's secret hash. An existing record keeps its
// created_at.
func (s *Store) PutSecret(ctx context.Context, tenantID, hash string, now time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO tenant_secrets (tenant_id, secret_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			secret_hash = excluded.secret_hash,
			updated_at = excluded.updated_at
	`, tenantID, hash, unix(now), unix(now))
	if err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}
	return nil
}

// DeleteSecret removes a tenant's secret and reports whether one existed
func (s *Store) DeleteSecret(ctx context.Context, tenantID string) (bool, error) {
	res, err := s.exec(ctx, "DELETE FROM tenant_secrets WHERE tenant_id = ?", tenantID)
	if err != nil {
		return false, fmt.Errorf("deleting secret: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
