// Package tracker turns periodic team snapshots into session records and
// keeps those records consistent across restarts, missed snapshots and
// unbounded growth.
package tracker

import (
	"context"
	"time"

	"github.com/ernie/teamwatch/internal/domain"
)

// Store is the persistence the tracking engine needs. *storage.Store
// satisfies it.
type Store interface {
	OpenSession(ctx context.Context, sess *domain.Session) error
	CloseSession(ctx context.Context, id int64, end time.Time) (bool, error)
	ClosePlayerSessions(ctx context.Context, tenantID, playerID string, end time.Time) (int64, error)
	CloseAllActive(ctx context.Context, tenantID string, end time.Time) (int64, error)
	CloseStaleSessions(ctx context.Context, startedBefore, end time.Time) (int64, error)
	ActiveSessions(ctx context.Context, tenantID string) ([]domain.Session, error)
	ActiveSessionsForPlayer(ctx context.Context, tenantID, playerID string) ([]domain.Session, error)
	MostRecentClosedSession(ctx context.Context, tenantID, playerID string) (*domain.Session, error)
	ReopenSession(ctx context.Context, id int64) error
	SessionsStartedSince(ctx context.Context, tenantID, playerID string, since time.Time) ([]domain.Session, error)
	SessionPlayers(ctx context.Context, tenantID string, since time.Time) ([]string, error)
	ReplaceSessions(ctx context.Context, deleteIDs []int64, inserts []domain.Session) error

	RecordPosition(ctx context.Context, p *domain.PositionSample) error
	RecordDeath(ctx context.Context, d *domain.DeathEvent) error
	RecordConnection(ctx context.Context, c *domain.ConnectionSnapshot) error
	LastActivity(ctx context.Context, tenantID string) (*time.Time, error)

	DeleteConnectionsBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error)
	TrimTable(ctx context.Context, table string, max int64, batch int) (int64, error)
	RecordMaintenance(ctx context.Context, rec *domain.MaintenanceRecord) error
	ResetTenant(ctx context.Context, tenantID, runID string, now time.Time) (int64, error)
	Optimize(ctx context.Context) error
}

// Source supplies live snapshots. Tenants lists the tenants whose feed is
// currently operational.
type Source interface {
	Tenants() []string
	Latest(tenantID string) (domain.Snapshot, bool)
}
