package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ernie/teamwatch/internal/domain"
)

// ChatTolerance is how far apart two identical chat lines from one player
// may be and still count as the same message
const ChatTolerance = 2 * time.Second

// unknownPlayer is recorded when a chat author cannot be resolved
const unknownPlayer = "unknown"

// QueryStore is the read side used by Service. *storage.Store satisfies it.
type QueryStore interface {
	GetSessions(ctx context.Context, f domain.SessionFilter) ([]domain.Session, error)
	GetPositions(ctx context.Context, tenantID, playerID string, r domain.TimeRange) ([]domain.PositionSample, error)
	GetRecentPositions(ctx context.Context, tenantID, serverID string, r domain.TimeRange) ([]domain.PositionSample, error)
	GetDeaths(ctx context.Context, f domain.DeathFilter) ([]domain.DeathEvent, error)
	CountDeaths(ctx context.Context, tenantID, serverID, playerID string) (int64, error)
	GetServerStats(ctx context.Context, tenantID, serverID string, since time.Time) (*domain.ServerStats, error)
	GetConnectionTimeline(ctx context.Context, tenantID, serverID string, r domain.TimeRange) ([]domain.ConnectionSnapshot, error)
	GetChatHistory(ctx context.Context, f domain.ChatFilter) ([]domain.ChatMessage, error)
	RecordChat(ctx context.Context, m *domain.ChatMessage) error
	UpsertChat(ctx context.Context, m *domain.ChatMessage, tolerance time.Duration) (bool, error)
	RecordCommand(ctx context.Context, c *domain.CommandRecord) error
	GetCommandHistory(ctx context.Context, f domain.CommandFilter) ([]domain.CommandRecord, error)
	FindPlayerIDByName(ctx context.Context, tenantID, name string) (string, error)
	DatabaseSize(ctx context.Context) (int64, error)
	GetMaintenanceLog(ctx context.Context, limit int) ([]domain.MaintenanceRecord, error)
	Path() string
}

// ColorSource resolves a player's display color
type ColorSource interface {
	ColorFor(ctx context.Context, playerID string) (string, error)
}

// Service answers historical queries. Queries never fail for missing data;
// they return empty slices or zeroed aggregates.
type Service struct {
	store  QueryStore
	colors ColorSource
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the query service
func NewService(store QueryStore, colors ColorSource, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		colors: colors,
		logger: logger.With("component", "query"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock, for tests
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetSessions returns a tenant's sessions, optionally for one player
func (s *Service) GetSessions(ctx context.Context, f domain.SessionFilter) ([]domain.Session, error) {
	sessions, err := s.store.GetSessions(ctx, f)
	if sessions == nil {
		sessions = []domain.Session{}
	}
	return sessions, err
}

// GetPositions returns a player's movement in time order
func (s *Service) GetPositions(ctx context.Context, tenantID, playerID string, r domain.TimeRange) ([]domain.PositionSample, error) {
	positions, err := s.store.GetPositions(ctx, tenantID, playerID, r)
	if positions == nil {
		positions = []domain.PositionSample{}
	}
	return positions, err
}

// GetDeaths returns deaths matching the filter, newest first
func (s *Service) GetDeaths(ctx context.Context, f domain.DeathFilter) ([]domain.DeathEvent, error) {
	deaths, err := s.store.GetDeaths(ctx, f)
	if deaths == nil {
		deaths = []domain.DeathEvent{}
	}
	return deaths, err
}

// GetPlayerStats computes a player's aggregates. Total playtime counts open
// sessions up to now; average and longest use completed sessions only.
func (s *Service) GetPlayerStats(ctx context.Context, tenantID, serverID, playerID string) (*domain.PlayerStats, error) {
	sessions, err := s.store.GetSessions(ctx, domain.SessionFilter{TenantID: tenantID, ServerID: serverID, PlayerID: playerID})
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	deaths, err := s.store.CountDeaths(ctx, tenantID, serverID, playerID)
	if err != nil {
		return nil, fmt.Errorf("counting deaths: %w", err)
	}
	return computePlayerStats(playerID, sessions, deaths, s.now()), nil
}

func computePlayerStats(playerID string, sessions []domain.Session, deaths int64, now time.Time) *domain.PlayerStats {
	stats := &domain.PlayerStats{PlayerID: playerID, TotalSessions: len(sessions), TotalDeaths: deaths}

	var completed, completedTotal int64
	for i := range sessions {
		sess := &sessions[i]
		d := sess.Duration(now)
		stats.TotalPlaytimeSeconds += d
		if sess.IsActive {
			stats.ActiveSessions++
			continue
		}
		completed++
		completedTotal += d
		if d > stats.LongestSessionSeconds {
			stats.LongestSessionSeconds = d
		}
	}
	if completed > 0 {
		stats.AvgSessionSeconds = completedTotal / completed
	}
	if stats.TotalPlaytimeSeconds > 0 {
		stats.DeathsPerHour = float64(deaths) / (float64(stats.TotalPlaytimeSeconds) / 3600)
	}
	return stats
}

// GetTeamStats aggregates player stats over a set of players
func (s *Service) GetTeamStats(ctx context.Context, tenantID, serverID string, playerIDs []string) (*domain.TeamStats, error) {
	team := &domain.TeamStats{PlayerCount: len(playerIDs), Players: make([]domain.PlayerStats, 0, len(playerIDs))}
	for _, id := range playerIDs {
		ps, err := s.GetPlayerStats(ctx, tenantID, serverID, id)
		if err != nil {
			return nil, err
		}
		team.TotalSessions += ps.TotalSessions
		team.TotalPlaytimeSeconds += ps.TotalPlaytimeSeconds
		team.Players = append(team.Players, *ps)
	}
	if team.TotalSessions > 0 {
		team.AvgSessionSeconds = team.TotalPlaytimeSeconds / int64(team.TotalSessions)
	}
	return team, nil
}

// GetServerStats summarizes sessions started in the last days days
func (s *Service) GetServerStats(ctx context.Context, tenantID, serverID string, days int) (*domain.ServerStats, error) {
	if days <= 0 {
		days = 7
	}
	return s.store.GetServerStats(ctx, tenantID, serverID, s.now().Add(-time.Duration(days)*24*time.Hour))
}

// GetConnectionTimeline returns population snapshots in time order
func (s *Service) GetConnectionTimeline(ctx context.Context, tenantID, serverID string, r domain.TimeRange) ([]domain.ConnectionSnapshot, error) {
	timeline, err := s.store.GetConnectionTimeline(ctx, tenantID, serverID, r)
	if timeline == nil {
		timeline = []domain.ConnectionSnapshot{}
	}
	return timeline, err
}

// GetChatHistory returns chat messages, newest first
func (s *Service) GetChatHistory(ctx context.Context, f domain.ChatFilter) ([]domain.ChatMessage, error) {
	messages, err := s.store.GetChatHistory(ctx, f)
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	return messages, err
}

// GetReplay groups a tenant's positions in a range by player, each track
// carrying the player's color
func (s *Service) GetReplay(ctx context.Context, tenantID, serverID string, r domain.TimeRange) ([]domain.ReplayTrack, error) {
	positions, err := s.store.GetRecentPositions(ctx, tenantID, serverID, r)
	if err != nil {
		return nil, err
	}

	tracks := []domain.ReplayTrack{}
	index := make(map[string]int)
	for _, p := range positions {
		i, ok := index[p.PlayerID]
		if !ok {
			color, err := s.ColorFor(ctx, p.PlayerID)
			if err != nil {
				return nil, err
			}
			i = len(tracks)
			index[p.PlayerID] = i
			tracks = append(tracks, domain.ReplayTrack{PlayerID: p.PlayerID, Color: color})
		}
		tracks[i].Positions = append(tracks[i].Positions, domain.ReplayPoint{
			X: p.X, Y: p.Y, Timestamp: p.Timestamp, IsAlive: p.IsAlive,
		})
	}
	return tracks, nil
}

// ColorFor returns a player's stable display color
func (s *Service) ColorFor(ctx context.Context, playerID string) (string, error) {
	return s.colors.ColorFor(ctx, playerID)
}

// Colors resolves colors for several players
func (s *Service) Colors(ctx context.Context, playerIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(playerIDs))
	for _, id := range playerIDs {
		c, err := s.ColorFor(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, nil
}

// RecordChat stores one team chat line. Messages without a timestamp are
// stamped now and always stored; timestamped messages are deduplicated
// within ChatTolerance. A missing player ID is resolved from the name.
func (s *Service) RecordChat(ctx context.Context, m domain.ChatMessage) (bool, error) {
	if m.TenantID == "" {
		return false, errors.New("chat message has no tenant")
	}
	if m.PlayerID == "" {
		id, err := s.store.FindPlayerIDByName(ctx, m.TenantID, m.PlayerName)
		if err != nil {
			return false, err
		}
		if id == "" {
			id = unknownPlayer
		}
		m.PlayerID = id
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
		if err := s.store.RecordChat(ctx, &m); err != nil {
			return false, err
		}
		return true, nil
	}
	return s.store.UpsertChat(ctx, &m, ChatTolerance)
}

// SyncChat re-ingests a transcript of chat lines and reports how many were
// new and how many were already stored. A failing line is logged and
// counted as skipped.
func (s *Service) SyncChat(ctx context.Context, messages []domain.ChatMessage) (synced, skipped int) {
	for _, m := range messages {
		inserted, err := s.RecordChat(ctx, m)
		if err != nil {
			s.logger.Error("syncing chat line", "tenant", m.TenantID, "error", err)
		}
		if inserted {
			synced++
		} else {
			skipped++
		}
	}
	return synced, skipped
}

// RecordCommand stores one issued command, stamping it now when it carries
// no timestamp
func (s *Service) RecordCommand(ctx context.Context, c domain.CommandRecord) error {
	if c.TenantID == "" {
		return errors.New("command has no tenant")
	}
	if c.Command == "" {
		return errors.New("command is empty")
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = s.now()
	}
	return s.store.RecordCommand(ctx, &c)
}

// GetCommandHistory returns issued commands, newest first
func (s *Service) GetCommandHistory(ctx context.Context, f domain.CommandFilter) ([]domain.CommandRecord, error) {
	commands, err := s.store.GetCommandHistory(ctx, f)
	if commands == nil {
		commands = []domain.CommandRecord{}
	}
	return commands, err
}

// Info reports database size and the latest maintenance runs
func (s *Service) Info(ctx context.Context) (*domain.DatabaseInfo, error) {
	size, err := s.store.DatabaseSize(ctx)
	if err != nil {
		return nil, err
	}
	log, err := s.store.GetMaintenanceLog(ctx, 10)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = []domain.MaintenanceRecord{}
	}
	return &domain.DatabaseInfo{SizeBytes: size, Path: s.store.Path(), MaintenanceLog: log}, nil
}
