// Package protocol defines the typed messages exchanged between extension
// contexts and the coordinator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type MessageType string

// Requests issued by extension contexts.
const (
	TypeLogin                MessageType = "LOGIN"
	TypeLogout               MessageType = "LOGOUT"
	TypeGetUserPreferences   MessageType = "GET_USER_PREFERENCES"
	TypeStartTracking        MessageType = "START_TRACKING"
	TypeStopTracking         MessageType = "STOP_TRACKING"
	TypeGetTrackingStatus    MessageType = "GET_TRACKING_STATUS"
	TypeWebcamData           MessageType = "WEBCAM_DATA"
	TypeTrackActivity        MessageType = "TRACK_ACTIVITY"
	TypeInterventionResponse MessageType = "INTERVENTION_RESPONSE"
	TypeGetSessionHistory    MessageType = "GET_SESSION_HISTORY"
)

// Events generated by the host environment or the coordinator itself. They share
// the request dispatch path.
const (
	EventTabActivated MessageType = "TAB_ACTIVATED"
	EventStartup      MessageType = "STARTUP"
)

// Outbound messages sent from the coordinator to extension contexts.
const (
	TypeShowIntervention MessageType = "SHOW_INTERVENTION"
	TypeEngagementUpdate MessageType = "ENGAGEMENT_UPDATE"
	TypeCaptureWebcam    MessageType = "CAPTURE_WEBCAM"
	TypeTrackingStarted  MessageType = "TRACKING_STARTED"
	TypeTrackingStopped  MessageType = "TRACKING_STOPPED"
	TypeResponse         MessageType = "RESPONSE"
)

// IsEvent returns true for internally generated event types.
func (t MessageType) IsEvent() bool {
	return t == EventTabActivated || t == EventStartup
}

// Message is the inbound envelope: a type tag plus an opaque payload.
// RequestID is only set by connection-oriented transports to correlate replies.
type Message struct {
	RequestID string          `json:"requestId,omitempty"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message with the payload marshalled to JSON.
func NewMessage(t MessageType, payload any) (Message, error) {
	msg := Message{Type: t}
	if payload == nil {
		return msg, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	msg.Payload = data

	return msg, nil
}

// ErrInvalidPayload is returned when a payload cannot be decoded or fails validation.
var ErrInvalidPayload = errors.New("invalid payload")

// Decode unmarshals the payload into v. A missing payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, m.Type, err)
	}
	return nil
}

// Reply wraps a dispatch result for connection-oriented transports.
type Reply struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Result    any         `json:"result"`
}
