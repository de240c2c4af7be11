package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ernie/teamwatch/internal/domain"
)

// closeSet sets the end of a session. The end is clamped to the start so
// durations are never negative.
func closeSet(b sq.UpdateBuilder, end time.Time) sq.UpdateBuilder {
	e := unix(end)
	return b.
		Set("end_time", sq.Expr("MAX(?, start_time)", e)).
		Set("duration_seconds", sq.Expr("MAX(?, start_time) - start_time", e)).
		Set("is_active", 0)
}

// OpenSession inserts a new active session and sets its ID. It returns
// ErrActiveSessionExists if the player already has an active session on the
// tenant.
func (s *Store) OpenSession(ctx context.Context, sess *domain.Session) error {
	res, err := s.exec(ctx, `
		INSERT INTO sessions (tenant_id, server_id, player_id, player_name, start_time, is_active)
		VALUES (?, ?, ?, ?, ?, 1)
	`, sess.TenantID, sess.ServerID, sess.PlayerID, sess.PlayerName, unix(sess.StartTime))
	if err != nil {
		if isConstraint(err) {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("opening session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	sess.ID = id
	sess.IsActive = true
	sess.EndTime = nil
	sess.DurationSeconds = nil
	return nil
}

// CloseSession closes one active session. It reports false if the session
// was already closed or does not exist.
func (s *Store) CloseSession(ctx context.Context, id int64, end time.Time) (bool, error) {
	n, err := s.execBuilder(ctx, closeSet(qb.Update("sessions"), end).
		Where(sq.Eq{"id": id, "is_active": 1}))
	if err != nil {
		return false, fmt.Errorf("closing session %d: %w", id, err)
	}
	return n > 0, nil
}

// ClosePlayerSessions closes every active session of a player on a tenant
func (s *Store) ClosePlayerSessions(ctx context.Context, tenantID, playerID string, end time.Time) (int64, error) {
	n, err := s.execBuilder(ctx, closeSet(qb.Update("sessions"), end).
		Where(sq.Eq{"tenant_id": tenantID, "player_id": playerID, "is_active": 1}))
	if err != nil {
		return 0, fmt.Errorf("closing sessions for %s: %w", playerID, err)
	}
	return n, nil
}

// CloseAllActive closes every active session on a tenant
func (s *Store) CloseAllActive(ctx context.Context, tenantID string, end time.Time) (int64, error) {
	n, err := s.execBuilder(ctx, closeSet(qb.Update("sessions"), end).
		Where(sq.Eq{"tenant_id": tenantID, "is_active": 1}))
	if err != nil {
		return 0, fmt.Errorf("closing active sessions: %w", err)
	}
	return n, nil
}

// CloseStaleSessions closes active sessions on any tenant that started
// before the cutoff
func (s *Store) CloseStaleSessions(ctx context.Context, startedBefore, end time.Time) (int64, error) {
	n, err := s.execBuilder(ctx, closeSet(qb.Update("sessions"), end).
		Where(sq.Eq{"is_active": 1}).
		Where(sq.Lt{"start_time": unix(startedBefore)}))
	if err != nil {
		return 0, fmt.Errorf("closing stale sessions: %w", err)
	}
	return n, nil
}

// ReopenSession marks a closed session active again, clearing its end
func (s *Store) ReopenSession(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `
		UPDATE sessions SET end_time = NULL, duration_seconds = NULL, is_active = 1
		WHERE id = ? AND is_active = 0
	`, id)
	if err != nil {
		if isConstraint(err) {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("reopening session %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reopening session %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

func (s *Store) selectSessions(ctx context.Context, b sq.SelectBuilder) ([]domain.Session, error) {
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ActiveSessions returns the active sessions on a tenant
func (s *Store) ActiveSessions(ctx context.Context, tenantID string) ([]domain.Session, error) {
	return s.selectSessions(ctx, qb.Select(sessionColumns...).From("sessions").
		Where(sq.Eq{"tenant_id": tenantID, "is_active": 1}).
		OrderBy("start_time", "id"))
}

// AllActiveSessions returns the active sessions on every tenant
func (s *Store) AllActiveSessions(ctx context.Context) ([]domain.Session, error) {
	return s.selectSessions(ctx, qb.Select(sessionColumns...).From("sessions").
		Where(sq.Eq{"is_active": 1}).
		OrderBy("tenant_id", "start_time", "id"))
}

// ActiveSessionsForPlayer returns a player's active sessions, newest first
func (s *Store) ActiveSessionsForPlayer(ctx context.Context, tenantID, playerID string) ([]domain.Session, error) {
	return s.selectSessions(ctx, qb.Select(sessionColumns...).From("sessions").
		Where(sq.Eq{"tenant_id": tenantID, "player_id": playerID, "is_active": 1}).
		OrderBy("start_time DESC", "id DESC"))
}

// MostRecentClosedSession returns the player's closed session with the
// latest end, or nil if there is none
func (s *Store) MostRecentClosedSession(ctx context.Context, tenantID, playerID string) (*domain.Session, error) {
	sessions, err := s.selectSessions(ctx, qb.Select(sessionColumns...).From("sessions").
		Where(sq.Eq{"tenant_id": tenantID, "player_id": playerID, "is_active": 0}).
		Where(sq.NotEq{"end_time": nil}).
		OrderBy("end_time DESC", "id DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// SessionsStartedSince returns a player's sessions that started at or after
// since, oldest first
func (s *Store) SessionsStartedSince(ctx context.Context, tenantID, playerID string, since time.Time) ([]domain.Session, error) {
	return s.selectSessions(ctx, qb.Select(sessionColumns...).From("sessions").
		Where(sq.Eq{"tenant_id": tenantID, "player_id": playerID}).
		Where(sq.GtOrEq{"start_time": unix(since)}).
		OrderBy("start_time", "id"))
}

// SessionPlayers returns the distinct players with a session starting at or
// after since
func (s *Store) SessionPlayers(ctx context.Context, tenantID string, since time.Time) ([]string, error) {
	rows, err := s.query(ctx, qb.Select("DISTINCT player_id").From("sessions").
		Where(sq.Eq{"tenant_id": tenantID}).
		Where(sq.GtOrEq{"start_time": unix(since)}).
		OrderBy("player_id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		players = append(players, id)
	}
	return players, rows.Err()
}

// ReplaceSessions deletes the given sessions and inserts the replacements in
// one transaction. IDs of the inserted sessions are written back.
func (s *Store) ReplaceSessions(ctx context.Context, deleteIDs []int64, inserts []domain.Session) error {
	if len(deleteIDs) == 0 && len(inserts) == 0 {
		return nil
	}
	deleteSQL, deleteArgs, err := qb.Delete("sessions").Where(sq.Eq{"id": deleteIDs}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if len(deleteIDs) > 0 {
			if _, err := tx.ExecContext(ctx, deleteSQL, deleteArgs...); err != nil {
				return fmt.Errorf("deleting sessions: %w", err)
			}
		}
		for i := range inserts {
			sess := &inserts[i]
			active := 0
			if sess.IsActive {
				active = 1
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO sessions (tenant_id, server_id, player_id, player_name, start_time, end_time, duration_seconds, is_active)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, sess.TenantID, sess.ServerID, sess.PlayerID, sess.PlayerName, unix(sess.StartTime),
				nullableUnix(sess.EndTime), sess.DurationSeconds, active)
			if err != nil {
				return fmt.Errorf("inserting merged session: %w", err)
			}
			if sess.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && isConstraint(err) {
		return ErrActiveSessionExists
	}
	return err
}

// GetSessions returns sessions matching the filter, newest first. The time
// range applies to the session start.
func (s *Store) GetSessions(ctx context.Context, f domain.SessionFilter) ([]domain.Session, error) {
	b := qb.Select(sessionColumns...).From("sessions").
		Where(sq.Eq{"tenant_id": f.TenantID}).
		OrderBy("start_time DESC", "id DESC")
	if f.ServerID != "" {
		b = b.Where(sq.Eq{"server_id": f.ServerID})
	}
	if f.PlayerID != "" {
		b = b.Where(sq.Eq{"player_id": f.PlayerID})
	}
	b = applyRange(b, "start_time", f.Range)
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	sessions, err := s.selectSessions(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	return sessions, nil
}

func applyRange(b sq.SelectBuilder, column string, r domain.TimeRange) sq.SelectBuilder {
	if r.From != nil {
		b = b.Where(sq.GtOrEq{column: unix(*r.From)})
	}
	if r.To != nil {
		b = b.Where(sq.LtOrEq{column: unix(*r.To)})
	}
	return b
}

// errNotFound reports whether err is sql.ErrNoRows
func errNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
