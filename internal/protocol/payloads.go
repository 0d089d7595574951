package protocol

import (
	"fmt"

	"github.com/wolfeidau/engagetrack/internal/models"
)

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p LoginPayload) Validate() error {
	if p.Email == "" || p.Password == "" {
		return fmt.Errorf("%w: email and password are required", ErrInvalidPayload)
	}
	return nil
}

type StartTrackingPayload struct {
	Settings models.TrackingSettings `json:"settings"`
}

type WebcamDataPayload struct {
	ImageData string `json:"imageData"`
}

func (p WebcamDataPayload) Validate() error {
	if p.ImageData == "" {
		return fmt.Errorf("%w: imageData is required", ErrInvalidPayload)
	}
	return nil
}

type TrackActivityPayload struct {
	ActivityType string         `json:"activityType"`
	Data         map[string]any `json:"data,omitempty"`
}

func (p TrackActivityPayload) Validate() error {
	if p.ActivityType == "" {
		return fmt.Errorf("%w: activityType is required", ErrInvalidPayload)
	}
	return nil
}

type InterventionResponsePayload struct {
	InterventionID string         `json:"interventionId"`
	Response       map[string]any `json:"response,omitempty"`
}

type SessionHistoryPayload struct {
	Limit int `json:"limit,omitempty"`
}

// TabActivatedPayload is the host's tab-activation signal.
type TabActivatedPayload = models.TabInfo
