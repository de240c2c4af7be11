package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ernie/teamwatch/internal/domain"
)

// RecordPosition stores one position sample
func (s *Store) RecordPosition(ctx context.Context, p *domain.PositionSample) error {
	res, err := s.exec(ctx, `
		INSERT INTO positions (tenant_id, server_id, player_id, x, y, timestamp, is_alive)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.TenantID, p.ServerID, p.PlayerID, p.X, p.Y, unix(p.Timestamp), p.IsAlive)
	if err != nil {
		return fmt.Errorf("recording position: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// RecordDeath stores a death event
func (s *Store) RecordDeath(ctx context.Context, d *domain.DeathEvent) error {
	var x, y any
	if d.Position != nil {
		x, y = d.Position.X, d.Position.Y
	}
	res, err := s.exec(ctx, `
		INSERT INTO deaths (tenant_id, server_id, player_id, player_name, x, y, death_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.TenantID, d.ServerID, d.PlayerID, d.PlayerName, x, y, unix(d.DeathTime))
	if err != nil {
		return fmt.Errorf("recording death: %w", err)
	}
	d.ID, err = res.LastInsertId()
	return err
}

// RecordChat stores a chat message unconditionally
func (s *Store) RecordChat(ctx context.Context, m *domain.ChatMessage) error {
	res, err := s.exec(ctx, `
		INSERT INTO chat_messages (tenant_id, server_id, player_id, player_name, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.TenantID, m.ServerID, m.PlayerID, m.PlayerName, m.Text, unix(m.Timestamp))
	if err != nil {
		return fmt.Errorf("recording chat: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// UpsertChat stores a chat message unless the same player already has the
// same text within tolerance of its timestamp. It reports whether a row was
// inserted.
func (s *Store) UpsertChat(ctx context.Context, m *domain.ChatMessage, tolerance time.Duration) (bool, error) {
	inserted := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		inserted = false
		var existing int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM chat_messages
			WHERE tenant_id = ? AND player_id = ? AND message = ? AND ABS(timestamp - ?) <= ?
			LIMIT 1
		`, m.TenantID, m.PlayerID, m.Text, unix(m.Timestamp), int64(tolerance/time.Second)).Scan(&existing)
		if err == nil {
			m.ID = existing
			return nil
		}
		if !errNotFound(err) {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (tenant_id, server_id, player_id, player_name, message, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.TenantID, m.ServerID, m.PlayerID, m.PlayerName, m.Text, unix(m.Timestamp))
		if err != nil {
			return err
		}
		m.ID, err = res.LastInsertId()
		inserted = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("upserting chat: %w", err)
	}
	return inserted, nil
}

// RecordConnection stores a population snapshot
func (s *Store) RecordConnection(ctx context.Context, c *domain.ConnectionSnapshot) error {
	res, err := s.exec(ctx, `
		INSERT INTO connection_snapshots (tenant_id, server_id, timestamp, online_count, max_count, queued_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.TenantID, c.ServerID, unix(c.Timestamp), c.OnlineCount, c.MaxCount, c.QueuedCount)
	if err != nil {
		return fmt.Errorf("recording connection: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// LastActivity returns the latest recorded connection snapshot or position
// timestamp for a tenant, or nil if neither exists
func (s *Store) LastActivity(ctx context.Context, tenantID string) (*time.Time, error) {
	var last sql.NullInt64
	err := s.ro.QueryRowContext(ctx, `
		SELECT MAX(ts) FROM (
			SELECT MAX(timestamp) AS ts FROM connection_snapshots WHERE tenant_id = ?
			UNION ALL
			SELECT MAX(timestamp) AS ts FROM positions WHERE tenant_id = ?
		)
	`, tenantID, tenantID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("querying last activity: %w", err)
	}
	return scanNullTime(last), nil
}

// GetPositions returns a player's position samples in time order
func (s *Store) GetPositions(ctx context.Context, tenantID, playerID string, r domain.TimeRange) ([]domain.PositionSample, error) {
	b := qb.Select(positionColumns...).From("positions").
		Where(sq.Eq{"tenant_id": tenantID, "player_id": playerID}).
		OrderBy("timestamp", "id")
	return s.selectPositions(ctx, applyRange(b, "timestamp", r))
}

// GetRecentPositions returns every position on a tenant (optionally one
// server) in a time range, in time order
func (s *Store) GetRecentPositions(ctx context.Context, tenantID, serverID string, r domain.TimeRange) ([]domain.PositionSample, error) {
	b := qb.Select(positionColumns...).From("positions").
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("timestamp", "id")
	if serverID != "" {
		b = b.Where(sq.Eq{"server_id": serverID})
	}
	return s.selectPositions(ctx, applyRange(b, "timestamp", r))
}

func (s *Store) selectPositions(ctx context.Context, b sq.SelectBuilder) ([]domain.PositionSample, error) {
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.PositionSample
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetDeaths returns deaths matching the filter, newest first
func (s *Store) GetDeaths(ctx context.Context, f domain.DeathFilter) ([]domain.DeathEvent, error) {
	b := qb.Select(deathColumns...).From("deaths").
		Where(sq.Eq{"tenant_id": f.TenantID}).
		OrderBy("death_time DESC", "id DESC")
	if f.ServerID != "" {
		b = b.Where(sq.Eq{"server_id": f.ServerID})
	}
	if f.PlayerID != "" {
		b = b.Where(sq.Eq{"player_id": f.PlayerID})
	}
	b = applyRange(b, "death_time", f.Range)
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("querying deaths: %w", err)
	}
	defer rows.Close()

	var deaths []domain.DeathEvent
	for rows.Next() {
		d, err := scanDeath(rows)
		if err != nil {
			return nil, err
		}
		deaths = append(deaths, d)
	}
	return deaths, rows.Err()
}

// CountDeaths counts a player's deaths on a tenant, optionally one server
func (s *Store) CountDeaths(ctx context.Context, tenantID, serverID, playerID string) (int64, error) {
	b := qb.Select("COUNT(*)").From("deaths").
		Where(sq.Eq{"tenant_id": tenantID, "player_id": playerID})
	if serverID != "" {
		b = b.Where(sq.Eq{"server_id": serverID})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.ro.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting deaths: %w", err)
	}
	return n, nil
}

// GetChatHistory returns chat messages matching the filter, newest first
func (s *Store) GetChatHistory(ctx context.Context, f domain.ChatFilter) ([]domain.ChatMessage, error) {
	b := qb.Select(chatColumns...).From("chat_messages").
		Where(sq.Eq{"tenant_id": f.TenantID}).
		OrderBy("timestamp DESC", "id DESC")
	if f.ServerID != "" {
		b = b.Where(sq.Eq{"server_id": f.ServerID})
	}
	if f.PlayerID != "" {
		b = b.Where(sq.Eq{"player_id": f.PlayerID})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("querying chat: %w", err)
	}
	defer rows.Close()

	var messages []domain.ChatMessage
	for rows.Next() {
		m, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// RecordCommand stores one issued command
func (s *Store) RecordCommand(ctx context.Context, c *domain.CommandRecord) error {
	res, err := s.exec(ctx, `
		INSERT INTO command_history (tenant_id, server_id, player_id, player_name, command, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.TenantID, c.ServerID, c.PlayerID, c.PlayerName, c.Command, unix(c.Timestamp))
	if err != nil {
		return fmt.Errorf("recording command: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetCommandHistory returns commands matching the filter, newest first
func (s *Store) GetCommandHistory(ctx context.Context, f domain.CommandFilter) ([]domain.CommandRecord, error) {
	b := qb.Select(commandColumns...).From(TableCommands).
		Where(sq.Eq{"tenant_id": f.TenantID}).
		OrderBy("timestamp DESC", "id DESC")
	if f.ServerID != "" {
		b = b.Where(sq.Eq{"server_id": f.ServerID})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var commands []domain.CommandRecord
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}

// GetConnectionTimeline returns population snapshots in time order
func (s *Store) GetConnectionTimeline(ctx context.Context, tenantID, serverID string, r domain.TimeRange) ([]domain.ConnectionSnapshot, error) {
	b := qb.Select(connectionColumns...).From("connection_snapshots").
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("timestamp", "id")
	if serverID != "" {
		b = b.Where(sq.Eq{"server_id": serverID})
	}
	rows, err := s.query(ctx, applyRange(b, "timestamp", r))
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	defer rows.Close()

	var timeline []domain.ConnectionSnapshot
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		timeline = append(timeline, c)
	}
	return timeline, rows.Err()
}

// FindPlayerIDByName resolves a display name to a player ID using recorded
// sessions first, then deaths. It returns "" when the name is unknown.
func (s *Store) FindPlayerIDByName(ctx context.Context, tenantID, name string) (string, error) {
	for _, table := range []string{"sessions", "deaths"} {
		var id string
		err := s.ro.QueryRowContext(ctx,
			"SELECT player_id FROM "+table+" WHERE tenant_id = ? AND player_name = ? ORDER BY id DESC LIMIT 1",
			tenantID, name).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errNotFound(err) {
			return "", fmt.Errorf("looking up %q: %w", name, err)
		}
	}
	return "", nil
}
