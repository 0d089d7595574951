package models

import (
	"strings"
	"time"
)

// Activity kinds generated by the coordinator itself.
const (
	ActivityURLChange = "url_change"
)

// Intervention frequencies accepted in TrackingSettings.
const (
	FrequencyLow    = "low"
	FrequencyMedium = "medium"
	FrequencyHigh   = "high"
)

// Activity is a single user activity observation recorded while tracking.
type Activity struct {
	Kind      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TrackingSettings are the caller-supplied options for a tracking session.
type TrackingSettings struct {
	EnableWebcam          bool   `json:"enableWebcam"`
	EnableAudio           bool   `json:"enableAudio"`
	InterventionFrequency string `json:"interventionFrequency,omitempty"`
	URL                   string `json:"url,omitempty"`
}

// Normalize fills defaults for unset fields.
func (s TrackingSettings) Normalize() TrackingSettings {
	switch s.InterventionFrequency {
	case FrequencyLow, FrequencyMedium, FrequencyHigh:
	default:
		s.InterventionFrequency = FrequencyMedium
	}
	return s
}

// TabInfo describes a browser tab reported by the host environment.
type TabInfo struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// DetectPlatform classifies a learning platform from a page URL.
func DetectPlatform(url string) string {
	switch {
	case strings.Contains(url, "youtube.com"):
		return "youtube"
	case strings.Contains(url, "coursera.org"):
		return "coursera"
	case strings.Contains(url, "udemy.com"):
		return "udemy"
	case strings.Contains(url, "pw.live"):
		return "physics_wallah"
	default:
		return "other"
	}
}
