package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the record of one continuous tracking period.
// At most one Session is live in the coordinator at any time.
type Session struct {
	ID        string           `json:"id"`
	StartTime time.Time        `json:"startTime"`
	Settings  TrackingSettings `json:"settings"`
}

// NewSession creates a session with a fresh UUIDv7 identifier.
func NewSession(now time.Time, settings TrackingSettings) Session {
	return Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		StartTime: now,
		Settings:  settings,
	}
}

// Duration returns how long the session has been running at now.
func (s Session) Duration(now time.Time) time.Duration {
	return now.Sub(s.StartTime)
}

// SessionRecord is a journaled session with its intervention outcomes.
type SessionRecord struct {
	SessionID             string     `json:"sessionId"`
	UserID                string     `json:"userId,omitempty"`
	StartedAt             time.Time  `json:"startedAt"`
	EndedAt               *time.Time `json:"endedAt,omitempty"`
	InterventionsRaised   int        `json:"interventionsRaised"`
	InterventionsAnswered int        `json:"interventionsAnswered"`
}

// IsOpen returns true if the session has not been ended.
func (r *SessionRecord) IsOpen() bool {
	return r.EndedAt == nil
}
