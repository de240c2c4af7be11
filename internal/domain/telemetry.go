package domain

import "time"

// PositionSample is a single recorded map position for a player
type PositionSample struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ServerID  string    `json:"server_id"`
	PlayerID  string    `json:"player_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Timestamp time.Time `json:"timestamp"`
	IsAlive   bool      `json:"is_alive"`
}

// DeathEvent records where and when a player died. Position is nil when the
// player's last location was never reported.
type DeathEvent struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ServerID   string    `json:"server_id"`
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Position   *Position `json:"position,omitempty"`
	DeathTime  time.Time `json:"death_time"`
}

// DeathFilter narrows GetDeaths results
type DeathFilter struct {
	TenantID string
	ServerID string
	PlayerID string
	Range    TimeRange
	Limit    int
}

// ChatMessage is one team chat line
type ChatMessage struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ServerID   string    `json:"server_id"`
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChatFilter narrows GetChatHistory results
type ChatFilter struct {
	TenantID string
	ServerID string
	PlayerID string
	Limit    int
}

// CommandRecord is one in-game command issued by the team. Player fields are
// empty when the issuer is unknown.
type CommandRecord struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ServerID   string    `json:"server_id"`
	PlayerID   string    `json:"player_id,omitempty"`
	PlayerName string    `json:"player_name,omitempty"`
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
}

// CommandFilter narrows GetCommandHistory results
type CommandFilter struct {
	TenantID string
	ServerID string
	Limit    int
}

// ConnectionSnapshot is a server population telemetry point
type ConnectionSnapshot struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ServerID    string    `json:"server_id"`
	Timestamp   time.Time `json:"timestamp"`
	OnlineCount int       `json:"online_count"`
	MaxCount    int       `json:"max_count"`
	QueuedCount int       `json:"queued_count"`
}

// PlayerColor is the stable display color assigned to a player
type PlayerColor struct {
	PlayerID  string    `json:"player_id"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// TenantSecret holds the PIN hash gating a tenant's data
type TenantSecret struct {
	TenantID   string    `json:"tenant_id"`
	SecretHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Maintenance record types
const (
	MaintenanceScheduled   = "scheduled_cleanup"
	MaintenanceTenantReset = "tenant_reset"
)

// MaintenanceRecord is one entry in the retention audit trail
type MaintenanceRecord struct {
	ID              int64     `json:"id"`
	RunID           string    `json:"run_id"`
	Type            string    `json:"type"`
	RecordsAffected int64     `json:"records_affected"`
	Failed          bool      `json:"failed"`
	Details         string    `json:"details,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
