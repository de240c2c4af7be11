package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ernie/teamwatch/internal/config"
	"github.com/ernie/teamwatch/internal/domain"
	"github.com/ernie/teamwatch/internal/storage"
)

func newTestSecrets(t *testing.T) *Secrets {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "teamwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cfg := config.AuthConfig{MinSecretLength: 4, BcryptCost: bcrypt.MinCost}
	return NewSecrets(store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSecretLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSecrets(t)

	has, err := s.HasSecret(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, has)

	ok, err := s.VerifySecret(ctx, "g1", "1234")
	require.NoError(t, err)
	assert.False(t, ok, "no secret never verifies")

	require.NoError(t, s.SetSecret(ctx, "g1", "1234"))
	has, err = s.HasSecret(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, has)

	ok, err = s.VerifySecret(ctx, "g1", "1234")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.VerifySecret(ctx, "g1", "4321")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := s.RemoveSecret(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveSecret(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSetSecretTooShortChangesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestSecrets(t)

	err := s.SetSecret(ctx, "g1", "123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSecretTooShort))
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
	has, err := s.HasSecret(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.SetSecret(ctx, "g1", "1234"))
	require.Error(t, s.SetSecret(ctx, "g1", "9"))
	ok, err := s.VerifySecret(ctx, "g1", "1234")
	require.NoError(t, err)
	assert.True(t, ok, "old secret still valid")
}

func TestSetSecretTooLong(t *testing.T) {
	ctx := context.Background()
	s := newTestSecrets(t)

	err := s.SetSecret(ctx, "g1", strings.Repeat("7", MaxSecretBytes+1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSecretTooLong)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.NotErrorIs(t, err, bcrypt.ErrPasswordTooLong)
	has, err := s.HasSecret(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, has)

	// multi-byte runes count by their encoded size
	assert.ErrorIs(t, s.SetSecret(ctx, "g1", strings.Repeat("é", 40)), ErrSecretTooLong)

	longest := strings.Repeat("7", MaxSecretBytes)
	require.NoError(t, s.SetSecret(ctx, "g1", longest))
	ok, err := s.VerifySecret(ctx, "g1", longest)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, s.UpdateSecret(ctx, "g1", longest, longest+"7"), ErrSecretTooLong)
}

func TestUpdateSecret(t *testing.T) {
	ctx := context.Background()
	s := newTestSecrets(t)

	assert.ErrorIs(t, s.UpdateSecret(ctx, "g1", "1234", "5678"), ErrNoSecret)

	require.NoError(t, s.SetSecret(ctx, "g1", "1234"))
	assert.ErrorIs(t, s.UpdateSecret(ctx, "g1", "0000", "5678"), ErrSecretMismatch)

	require.NoError(t, s.UpdateSecret(ctx, "g1", "1234", "5678"))
	ok, err := s.VerifySecret(ctx, "g1", "5678")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.UpdateSecret(ctx, "g1", "5678", ""))
	has, err := s.HasSecret(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := svc.GenerateToken("g1")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "g1", claims.TenantID)
	assert.True(t, svc.Authorizes(token, "g1"))
	assert.False(t, svc.Authorizes(token, "g2"))
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	other, err := NewService("other-secret", time.Hour).GenerateToken("g1")
	require.NoError(t, err)
	_, err = svc.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewService("test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := expired.GenerateToken("g1")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TenantID: "g1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashSecret(t *testing.T) {
	hash, err := HashSecret("1234", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "1234", hash)
	assert.True(t, CheckSecret("1234", hash))
	assert.False(t, CheckSecret("12345", hash))
}
