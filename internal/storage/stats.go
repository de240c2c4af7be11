package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ernie/teamwatch/internal/domain"
)

// GetServerStats summarizes sessions that started after since. Playtime and
// average cover completed sessions only.
func (s *Store) GetServerStats(ctx context.Context, tenantID, serverID string, since time.Time) (*domain.ServerStats, error) {
	b := qb.Select(
		"COUNT(DISTINCT player_id)",
		"COUNT(*)",
		"COALESCE(SUM(duration_seconds), 0)",
		"AVG(duration_seconds)",
	).From("sessions").
		Where(sq.Eq{"tenant_id": tenantID}).
		Where(sq.Gt{"start_time": unix(since)})
	if serverID != "" {
		b = b.Where(sq.Eq{"server_id": serverID})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	var stats domain.ServerStats
	var avg sql.NullFloat64
	err = s.ro.QueryRowContext(ctx, query, args...).Scan(
		&stats.UniquePlayers, &stats.TotalSessions, &stats.TotalPlaytimeSeconds, &avg)
	if err != nil {
		return nil, fmt.Errorf("querying server stats: %w", err)
	}
	stats.AvgSessionSeconds = avg.Float64
	return &stats, nil
}
