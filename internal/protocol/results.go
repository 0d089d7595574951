package protocol

import "github.com/wolfeidau/engagetrack/internal/models"

// Result is the uniform success/failure response. Failures always carry Error.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// OK returns a successful Result.
func OK() Result {
	return Result{Success: true}
}

// Failure converts an error into a failed Result.
func Failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

type LoginResult struct {
	Success bool         `json:"success"`
	User    *models.User `json:"user,omitempty"`
}

type StartTrackingResult struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
}

type TrackingStatus struct {
	IsTracking bool   `json:"isTracking"`
	SessionID  string `json:"sessionId,omitempty"`
}

type StartupResult struct {
	Success       bool `json:"success"`
	Authenticated bool `json:"authenticated"`
}

type SessionHistoryResult struct {
	Success  bool                   `json:"success"`
	Sessions []models.SessionRecord `json:"sessions"`
}

// Outbound is a coordinator-initiated message to an extension context.
type Outbound struct {
	Type         MessageType          `json:"type"`
	Intervention *models.Intervention `json:"intervention,omitempty"`
	SessionID    string               `json:"sessionId,omitempty"`
	Data         any                  `json:"data,omitempty"`
}

// EngagementUpdate is the data of an ENGAGEMENT_UPDATE broadcast.
type EngagementUpdate struct {
	Score float64 `json:"score"`
}
