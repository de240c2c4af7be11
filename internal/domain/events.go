package domain

import "time"

// Event types for WebSocket notifications
const (
	EventSessionOpen    = "session_open"
	EventSessionClose   = "session_close"
	EventSessionResume  = "session_resume"
	EventPlayerDeath    = "player_death"
	EventSessionsMerged = "sessions_merged"
	EventTrackingStart  = "tracking_start"
	EventTrackingStop   = "tracking_stop"
)

// Session close reasons
const (
	CloseOffline   = "offline"
	CloseDeparted  = "departed"
	CloseReconcile = "reconcile"
	CloseDowntime  = "downtime"
	CloseOrphan    = "orphan"
	CloseStale     = "stale"
	CloseStopped   = "stopped"
	CloseDuplicate = "duplicate"
)

// Event represents a real-time event for WebSocket broadcast
type Event struct {
	Type      string      `json:"event"`
	TenantID  string      `json:"tenant_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// SessionEvent is sent when a session opens, closes or resumes
type SessionEvent struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// DeathEventData is sent when a tracked player dies
type DeathEventData struct {
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Position   *Position `json:"position,omitempty"`
}

// MergeEvent is sent after the fragment merge sweep coalesced sessions
type MergeEvent struct {
	Merged int `json:"merged"`
}
