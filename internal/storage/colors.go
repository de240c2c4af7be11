package storage

import (
	"context"
	"fmt"
	"time"
)

// GetPlayerColor returns the stored color for a player, if any
func (s *Store) GetPlayerColor(ctx context.Context, playerID string) (string, bool, error) {
	var color string
	err := s.ro.QueryRowContext(ctx, "SELECT color FROM player_colors WHERE player_id = ?", playerID).Scan(&color)
	if errNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying color: %w", err)
	}
	return color, true, nil
}

// InsertPlayerColor stores color for a player unless one is already stored,
// and returns the color that ends up persisted
func (s *Store) InsertPlayerColor(ctx context.Context, playerID, color string, now time.Time) (string, error) {
	if _, err := s.exec(ctx, `
		INSERT INTO player_colors (player_id, color, created_at) VALUES (?, ?, ?)
		ON CONFLICT(player_id) DO NOTHING
	`, playerID, color, unix(now)); err != nil {
		return "", fmt.Errorf("storing color: %w", err)
	}

	// Read back on the writer so a concurrent insert that won is seen
	var stored string
	if err := s.db.QueryRowContext(ctx, "SELECT color FROM player_colors WHERE player_id = ?", playerID).Scan(&stored); err != nil {
		return "", fmt.Errorf("reading color: %w", err)
	}
	return stored, nil
}
