package storage

import (
	"database/sql"
	"time"

	"github.com/ernie/teamwatch/internal/domain"
)

// Null scanner helpers - timestamps are stored as unix seconds

func scanNullTime(ni sql.NullInt64) *time.Time {
	if ni.Valid {
		t := fromUnix(ni.Int64)
		return &t
	}
	return nil
}

func scanNullInt64Ptr(ni sql.NullInt64) *int64 {
	if ni.Valid {
		return &ni.Int64
	}
	return nil
}

func scanNullPosition(x, y sql.NullFloat64) *domain.Position {
	if x.Valid && y.Valid {
		return &domain.Position{X: x.Float64, Y: y.Float64}
	}
	return nil
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

var sessionColumns = []string{
	"id", "tenant_id", "server_id", "player_id", "player_name",
	"start_time", "end_time", "duration_seconds", "is_active",
}

func scanSession(s scanner) (domain.Session, error) {
	var sess domain.Session
	var start int64
	var end, duration sql.NullInt64
	err := s.Scan(&sess.ID, &sess.TenantID, &sess.ServerID, &sess.PlayerID, &sess.PlayerName,
		&start, &end, &duration, &sess.IsActive)
	if err != nil {
		return sess, err
	}
	sess.StartTime = fromUnix(start)
	sess.EndTime = scanNullTime(end)
	sess.DurationSeconds = scanNullInt64Ptr(duration)
	return sess, nil
}

func collectSessions(rows *sql.Rows) ([]domain.Session, error) {
	defer rows.Close()
	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

var positionColumns = []string{"id", "tenant_id", "server_id", "player_id", "x", "y", "timestamp", "is_alive"}

func scanPosition(s scanner) (domain.PositionSample, error) {
	var p domain.PositionSample
	var ts int64
	err := s.Scan(&p.ID, &p.TenantID, &p.ServerID, &p.PlayerID, &p.X, &p.Y, &ts, &p.IsAlive)
	p.Timestamp = fromUnix(ts)
	return p, err
}

var deathColumns = []string{"id", "tenant_id", "server_id", "player_id", "player_name", "x", "y", "death_time"}

func scanDeath(s scanner) (domain.DeathEvent, error) {
	var d domain.DeathEvent
	var x, y sql.NullFloat64
	var ts int64
	err := s.Scan(&d.ID, &d.TenantID, &d.ServerID, &d.PlayerID, &d.PlayerName, &x, &y, &ts)
	d.Position = scanNullPosition(x, y)
	d.DeathTime = fromUnix(ts)
	return d, err
}

var chatColumns = []string{"id", "tenant_id", "server_id", "player_id", "player_name", "message", "timestamp"}

func scanChat(s scanner) (domain.ChatMessage, error) {
	var m domain.ChatMessage
	var ts int64
	err := s.Scan(&m.ID, &m.TenantID, &m.ServerID, &m.PlayerID, &m.PlayerName, &m.Text, &ts)
	m.Timestamp = fromUnix(ts)
	return m, err
}

var commandColumns = []string{"id", "tenant_id", "server_id", "player_id", "player_name", "command", "timestamp"}

func scanCommand(s scanner) (domain.CommandRecord, error) {
	var c domain.CommandRecord
	var ts int64
	err := s.Scan(&c.ID, &c.TenantID, &c.ServerID, &c.PlayerID, &c.PlayerName, &c.Command, &ts)
	c.Timestamp = fromUnix(ts)
	return c, err
}

var connectionColumns = []string{"id", "tenant_id", "server_id", "timestamp", "online_count", "max_count", "queued_count"}

func scanConnection(s scanner) (domain.ConnectionSnapshot, error) {
	var c domain.ConnectionSnapshot
	var ts int64
	err := s.Scan(&c.ID, &c.TenantID, &c.ServerID, &ts, &c.OnlineCount, &c.MaxCount, &c.QueuedCount)
	c.Timestamp = fromUnix(ts)
	return c, err
}

var maintenanceColumns = []string{"id", "run_id", "maintenance_type", "records_affected", "failed", "details", "timestamp"}

func scanMaintenance(s scanner) (domain.MaintenanceRecord, error) {
	var r domain.MaintenanceRecord
	var details sql.NullString
	var ts int64
	err := s.Scan(&r.ID, &r.RunID, &r.Type, &r.RecordsAffected, &r.Failed, &details, &ts)
	r.Details = details.String
	r.Timestamp = fromUnix(ts)
	return r, err
}
