// Package store records tracking sessions and intervention outcomes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/engagetrack/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExists        = errors.New("session already exists")
	ErrInterventionNotFound = errors.New("intervention not found")
)

// DefaultHistoryLimit is used when ListSessions is called with limit <= 0.
const DefaultHistoryLimit = 20

// Journal defines the interface for session history storage.
type Journal interface {
	SessionStarted(ctx context.Context, rec models.SessionRecord) error
	SessionEnded(ctx context.Context, sessionID string, endedAt time.Time) error

	InterventionRaised(ctx context.Context, sessionID string, iv models.Intervention) error
	// InterventionResolved records a final outcome: answered, undelivered or discarded.
	InterventionResolved(ctx context.Context, sessionID, interventionID, outcome string, at time.Time) error

	// ListSessions returns the most recent sessions first.
	ListSessions(ctx context.Context, limit int) ([]models.SessionRecord, error)

	Close() error
}
