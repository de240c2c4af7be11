package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"

	"github.com/ernie/teamwatch/internal/observability"
)

// Primary SQLite result codes
const (
	codeBusy       = 5
	codeLocked     = 6
	codeConstraint = 19
)

var (
	// ErrTransient wraps storage errors that persisted after a retry
	ErrTransient = errors.New("transient storage error")

	// ErrActiveSessionExists is returned when opening or reopening a session
	// would give a player a second active session on a tenant
	ErrActiveSessionExists = errors.New("player already has an active session")
)

func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() & 0xff, true
	}
	return 0, false
}

// IsTransient reports whether err is a lock contention error worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if code, ok := sqliteCode(err); ok {
		return code == codeBusy || code == codeLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// isConstraint reports whether err is a constraint violation
func isConstraint(err error) bool {
	if code, ok := sqliteCode(err); ok {
		return code == codeConstraint
	}
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// withRetry runs fn and retries it once if it fails with a transient error.
// A second transient failure is wrapped in ErrTransient.
func withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if !IsTransient(err) || ctx.Err() != nil {
		return err
	}
	if err = fn(); err != nil {
		if IsTransient(err) {
			observability.RecordStoreRetry(ctx, "failed")
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		observability.RecordStoreRetry(ctx, "failed")
		return err
	}
	observability.RecordStoreRetry(ctx, "recovered")
	return nil
}
