package models

import "time"

// Intervention outcomes recorded in the journal.
const (
	OutcomeRaised      = "raised"
	OutcomeAnswered    = "answered"
	OutcomeUndelivered = "undelivered"
	OutcomeDiscarded   = "discarded" // cleared by stop before an answer arrived
)

// Intervention is a corrective action proposed by the backend when engagement is low.
type Intervention struct {
	ID       string         `json:"id"`
	Kind     string         `json:"type"`
	Payload  map[string]any `json:"content,omitempty"`
	Response map[string]any `json:"response,omitempty"`

	RaisedAt time.Time `json:"raisedAt"`
}
