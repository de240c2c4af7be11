package domain

import "time"

// PlayerStats holds aggregates computed on read from sessions and deaths
type PlayerStats struct {
	PlayerID              string  `json:"player_id"`
	TotalSessions         int     `json:"total_sessions"`
	ActiveSessions        int     `json:"active_sessions"`
	TotalPlaytimeSeconds  int64   `json:"total_playtime_seconds"`
	AvgSessionSeconds     int64   `json:"avg_session_seconds"`
	LongestSessionSeconds int64   `json:"longest_session_seconds"`
	TotalDeaths           int64   `json:"total_deaths"`
	DeathsPerHour         float64 `json:"deaths_per_hour"`
}

// TeamStats aggregates PlayerStats over a set of players
type TeamStats struct {
	PlayerCount          int           `json:"player_count"`
	TotalSessions        int           `json:"total_sessions"`
	TotalPlaytimeSeconds int64         `json:"total_playtime_seconds"`
	AvgSessionSeconds    int64         `json:"avg_session_seconds"`
	Players              []PlayerStats `json:"players"`
}

// ServerStats summarizes session activity on a tenant over a period
type ServerStats struct {
	UniquePlayers        int64   `json:"unique_players"`
	TotalSessions        int64   `json:"total_sessions"`
	TotalPlaytimeSeconds int64   `json:"total_playtime_seconds"`
	AvgSessionSeconds    float64 `json:"avg_session_seconds"`
}

// ReplayPoint is one step on a replay track
type ReplayPoint struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Timestamp time.Time `json:"timestamp"`
	IsAlive   bool      `json:"is_alive"`
}

// ReplayTrack is the movement history for one player
type ReplayTrack struct {
	PlayerID  string        `json:"player_id"`
	Color     string        `json:"color"`
	Positions []ReplayPoint `json:"positions"`
}

// DatabaseInfo reports store size and recent maintenance
type DatabaseInfo struct {
	SizeBytes      int64               `json:"size_bytes"`
	Path           string              `json:"path"`
	MaintenanceLog []MaintenanceRecord `json:"maintenance_log"`
}
