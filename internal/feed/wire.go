package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ernie/teamwatch/internal/domain"
)

// wirePlayer is one team member as published on the feed. Coordinates are
// optional and only used when both are present.
type wirePlayer struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Online bool     `json:"online"`
	Alive  bool     `json:"alive"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
}

type wirePopulation struct {
	Online int `json:"online"`
	Max    int `json:"max"`
	Queued int `json:"queued"`
}

// wireSnapshot is the payload of <prefix>.snapshot.<tenant>
type wireSnapshot struct {
	ServerID   string          `json:"server_id"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
	Players    []wirePlayer    `json:"players"`
	Population *wirePopulation `json:"population,omitempty"`
}

// wireChat is the payload of <prefix>.chat.<tenant>
type wireChat struct {
	ServerID   string     `json:"server_id"`
	PlayerID   string     `json:"player_id,omitempty"`
	PlayerName string     `json:"player_name"`
	Message    string     `json:"message"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// wireCommand is the payload of <prefix>.command.<tenant>
type wireCommand struct {
	ServerID   string     `json:"server_id"`
	PlayerID   string     `json:"player_id,omitempty"`
	PlayerName string     `json:"player_name,omitempty"`
	Command    string     `json:"command"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

func decodeSnapshot(tenantID string, data []byte) (domain.Snapshot, *time.Time, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.Snapshot{}, nil, fmt.Errorf("decoding snapshot: %w", err)
	}

	snap := domain.Snapshot{
		TenantID: tenantID,
		ServerID: w.ServerID,
		Players:  make([]domain.PlayerSnapshot, 0, len(w.Players)),
	}
	for _, p := range w.Players {
		if p.ID == "" {
			continue
		}
		ps := domain.PlayerSnapshot{PlayerID: p.ID, Name: p.Name, IsOnline: p.Online, IsAlive: p.Alive}
		if p.X != nil && p.Y != nil {
			ps.Position = &domain.Position{X: *p.X, Y: *p.Y}
		}
		snap.Players = append(snap.Players, ps)
	}
	if w.Population != nil {
		snap.Population = &domain.Population{Online: w.Population.Online, Max: w.Population.Max, Queued: w.Population.Queued}
	}
	return snap, w.Timestamp, nil
}

func decodeChat(tenantID string, data []byte) (domain.ChatMessage, error) {
	var w wireChat
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("decoding chat: %w", err)
	}
	if w.Message == "" {
		return domain.ChatMessage{}, fmt.Errorf("decoding chat: empty message")
	}
	m := domain.ChatMessage{
		TenantID:   tenantID,
		ServerID:   w.ServerID,
		PlayerID:   w.PlayerID,
		PlayerName: w.PlayerName,
		Text:       w.Message,
	}
	if w.Timestamp != nil {
		m.Timestamp = w.Timestamp.UTC()
	}
	return m, nil
}

func decodeCommand(tenantID string, data []byte) (domain.CommandRecord, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.CommandRecord{}, fmt.Errorf("decoding command: %w", err)
	}
	if w.Command == "" {
		return domain.CommandRecord{}, fmt.Errorf("decoding command: empty command")
	}
	c := domain.CommandRecord{
		TenantID:   tenantID,
		ServerID:   w.ServerID,
		PlayerID:   w.PlayerID,
		PlayerName: w.PlayerName,
		Command:    w.Command,
	}
	if w.Timestamp != nil {
		c.Timestamp = w.Timestamp.UTC()
	}
	return c, nil
}

func encodeSnapshot(snap domain.Snapshot, at time.Time) ([]byte, error) {
	w := wireSnapshot{ServerID: snap.ServerID, Players: make([]wirePlayer, 0, len(snap.Players))}
	if !at.IsZero() {
		w.Timestamp = &at
	}
	for _, p := range snap.Players {
		wp := wirePlayer{ID: p.PlayerID, Name: p.Name, Online: p.IsOnline, Alive: p.IsAlive}
		if p.Position != nil {
			x, y := p.Position.X, p.Position.Y
			wp.X, wp.Y = &x, &y
		}
		w.Players = append(w.Players, wp)
	}
	if snap.Population != nil {
		w.Population = &wirePopulation{Online: snap.Population.Online, Max: snap.Population.Max, Queued: snap.Population.Queued}
	}
	return json.Marshal(w)
}

func encodeChat(m domain.ChatMessage) ([]byte, error) {
	w := wireChat{ServerID: m.ServerID, PlayerID: m.PlayerID, PlayerName: m.PlayerName, Message: m.Text}
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp
		w.Timestamp = &ts
	}
	return json.Marshal(w)
}

func encodeCommand(c domain.CommandRecord) ([]byte, error) {
	w := wireCommand{ServerID: c.ServerID, PlayerID: c.PlayerID, PlayerName: c.PlayerName, Command: c.Command}
	if !c.Timestamp.IsZero() {
		ts := c.Timestamp
		w.Timestamp = &ts
	}
	return json.Marshal(w)
}
