package domain

import "time"

// Position is a map coordinate
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Population is the server-wide player count reported alongside a snapshot
type Population struct {
	Online int `json:"online"`
	Max    int `json:"max"`
	Queued int `json:"queued"`
}

// PlayerSnapshot is one team member's state as reported by the live feed.
// Position is nil when the feed did not report coordinates.
type PlayerSnapshot struct {
	PlayerID string    `json:"player_id"`
	Name     string    `json:"name"`
	Position *Position `json:"position,omitempty"`
	IsOnline bool      `json:"is_online"`
	IsAlive  bool      `json:"is_alive"`
}

// Snapshot is the feed's view of a tenant at one instant
type Snapshot struct {
	TenantID   string           `json:"tenant_id"`
	ServerID   string           `json:"server_id"`
	Players    []PlayerSnapshot `json:"players"`
	Population *Population      `json:"population,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}

// OnlineSet returns the IDs of players reported online
func (s *Snapshot) OnlineSet() map[string]PlayerSnapshot {
	online := make(map[string]PlayerSnapshot, len(s.Players))
	for _, p := range s.Players {
		if p.PlayerID != "" && p.IsOnline {
			online[p.PlayerID] = p
		}
	}
	return online
}
