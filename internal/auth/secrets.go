package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ernie/teamwatch/internal/config"
	"github.com/ernie/teamwatch/internal/domain"
)

// MaxSecretBytes is the longest PIN bcrypt accepts
const MaxSecretBytes = 72

var (
	// ErrSecretTooShort is returned when a PIN is below the minimum length
	ErrSecretTooShort = fmt.Errorf("%w: secret too short", domain.ErrInvalidConfig)
	// ErrSecretTooLong is returned when a PIN exceeds what bcrypt can hash
	ErrSecretTooLong  = fmt.Errorf("%w: secret too long", domain.ErrInvalidConfig)
	ErrSecretMismatch = errors.New("secret does not match")
	ErrNoSecret       = errors.New("no secret set")
)

// SecretStore persists secret hashes. *storage.Store satisfies it.
type SecretStore interface {
	GetSecret(ctx context.Context, tenantID string) (*domain.TenantSecret, error)
	PutSecret(ctx context.Context, tenantID, hash string, now time.Time) error
	DeleteSecret(ctx context.Context, tenantID string) (bool, error)
}

// Secrets manages the optional PIN of each tenant. Only bcrypt hashes are
// stored.
type Secrets struct {
	store     SecretStore
	minLength int
	cost      int
	logger    *slog.Logger
}

// NewSecrets creates the secret service from auth settings
func NewSecrets(store SecretStore, cfg config.AuthConfig, logger *slog.Logger) *Secrets {
	return &Secrets{
		store:     store,
		minLength: cfg.MinSecretLength,
		cost:      cfg.BcryptCost,
		logger:    logger.With("component", "secrets"),
	}
}

// HasSecret reports whether the tenant is PIN protected
func (s *Secrets) HasSecret(ctx context.Context, tenantID string) (bool, error) {
	sec, err := s.store.GetSecret(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return sec != nil, nil
}

// SetSecret sets or replaces a tenant's PIN. A PIN outside the allowed
// length is rejected with ErrSecretTooShort or ErrSecretTooLong and nothing
// changes.
func (s *Secrets) SetSecret(ctx context.Context, tenantID, secret string) error {
	if len([]rune(secret)) < s.minLength {
		return fmt.Errorf("%w: need at least %d characters", ErrSecretTooShort, s.minLength)
	}
	if len(secret) > MaxSecretBytes {
		return fmt.Errorf("%w: at most %d bytes", ErrSecretTooLong, MaxSecretBytes)
	}
	hash, err := HashSecret(secret, s.cost)
	if err != nil {
		return fmt.Errorf("hashing secret: %w", err)
	}
	if err := s.store.PutSecret(ctx, tenantID, hash, time.Now().UTC()); err != nil {
		return err
	}
	s.logger.Info("secret set", "tenant", tenantID)
	return nil
}

// VerifySecret checks a PIN. A tenant without a secret never verifies.
func (s *Secrets) VerifySecret(ctx context.Context, tenantID, secret string) (bool, error) {
	sec, err := s.store.GetSecret(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if sec == nil {
		return false, nil
	}
	return CheckSecret(secret, sec.SecretHash), nil
}

// RemoveSecret drops a tenant's PIN and reports whether one existed
func (s *Secrets) RemoveSecret(ctx context.Context, tenantID string) (bool, error) {
	removed, err := s.store.DeleteSecret(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("secret removed", "tenant", tenantID)
	}
	return removed, nil
}

// UpdateSecret replaces the PIN after checking the current one. An empty
// next removes protection.
func (s *Secrets) UpdateSecret(ctx context.Context, tenantID, current, next string) error {
	sec, err := s.store.GetSecret(ctx, tenantID)
	if err != nil {
		return err
	}
	if sec == nil {
		return ErrNoSecret
	}
	if !CheckSecret(current, sec.SecretHash) {
		return ErrSecretMismatch
	}
	if next == "" {
		_, err := s.RemoveSecret(ctx, tenantID)
		return err
	}
	return s.SetSecret(ctx, tenantID, next)
}
