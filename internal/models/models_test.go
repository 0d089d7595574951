package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{name: "youtube", url: "https://www.youtube.com/watch?v=abc", expected: "youtube"},
		{name: "coursera", url: "https://www.coursera.org/learn/ml", expected: "coursera"},
		{name: "udemy", url: "https://www.udemy.com/course/go", expected: "udemy"},
		{name: "physics wallah", url: "https://www.pw.live/study", expected: "physics_wallah"},
		{name: "unknown", url: "https://example.com", expected: "other"},
		{name: "empty", url: "", expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, DetectPlatform(tt.url))
		})
	}
}

func TestTrackingSettingsNormalize(t *testing.T) {
	s := TrackingSettings{EnableWebcam: true}.Normalize()
	require.True(t, s.EnableWebcam)
	require.False(t, s.EnableAudio)
	require.Equal(t, FrequencyMedium, s.InterventionFrequency)

	s = TrackingSettings{InterventionFrequency: FrequencyHigh}.Normalize()
	require.Equal(t, FrequencyHigh, s.InterventionFrequency)

	s = TrackingSettings{InterventionFrequency: "sometimes"}.Normalize()
	require.Equal(t, FrequencyMedium, s.InterventionFrequency)
}

func TestNewSession(t *testing.T) {
	now := time.Now()
	a := NewSession(now, TrackingSettings{})
	b := NewSession(now, TrackingSettings{})

	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, now, a.StartTime)
	require.Equal(t, 5*time.Second, a.Duration(now.Add(5*time.Second)))
}
