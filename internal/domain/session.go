package domain

import (
	"errors"
	"time"
)

// ErrInvalidConfig is wrapped by every configuration error returned to callers
// of mutating operations (short secrets, bad config values).
var ErrInvalidConfig = errors.New("invalid configuration")

// Session represents one player's continuous presence interval on a tenant
type Session struct {
	ID              int64      `json:"id"`
	TenantID        string     `json:"tenant_id"`
	ServerID        string     `json:"server_id"`
	PlayerID        string     `json:"player_id"`
	PlayerName      string     `json:"player_name"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	IsActive        bool       `json:"is_active"`
}

// Duration returns the session length in seconds. Open sessions are measured
// up to now.
func (s *Session) Duration(now time.Time) int64 {
	if !s.IsActive && s.DurationSeconds != nil {
		return *s.DurationSeconds
	}
	if s.EndTime != nil {
		return s.EndTime.Unix() - s.StartTime.Unix()
	}
	d := now.Unix() - s.StartTime.Unix()
	if d < 0 {
		return 0
	}
	return d
}

// Age returns how long the session has been open (or lasted) as of now
func (s *Session) Age(now time.Time) time.Duration {
	return time.Duration(s.Duration(now)) * time.Second
}

// SessionFilter narrows GetSessions results. Zero values mean "any".
type SessionFilter struct {
	TenantID string
	ServerID string
	PlayerID string
	Range    TimeRange
	Limit    int
}

// TimeRange is an optional closed interval. A nil bound is open-ended.
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

// Between builds a closed time range
func Between(from, to time.Time) TimeRange {
	return TimeRange{From: &from, To: &to}
}

// Since builds a range open on the right
func Since(from time.Time) TimeRange {
	return TimeRange{From: &from}
}

// Contains reports whether t falls inside the range
func (r TimeRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}
