package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/engagetrack/internal/router"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{
			name:     "single forwarded IP",
			xff:      "192.168.1.1",
			expected: "192.168.1.1",
		},
		{
			name:     "multiple forwarded IPs (take first)",
			xff:      "203.0.113.1, 198.51.100.1",
			expected: "203.0.113.1",
		},
		{
			name:     "forwarded takes preference over real ip",
			xff:      "203.0.113.1",
			realIP:   "192.168.1.100",
			expected: "203.0.113.1",
		},
		{
			name:     "real ip",
			realIP:   "192.168.1.100",
			expected: "192.168.1.100",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "127.0.0.1:52431",
			expected:   "127.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.remoteAddr != "" {
				r.RemoteAddr = tt.remoteAddr
			}

			require.Equal(t, tt.expected, ExtractClientIP(r))
		})
	}
}

func TestPeerFromRequest(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected router.Peer
	}{
		{
			name:     "content script with tab",
			query:    "?context=content&tab=42",
			expected: router.Peer{Context: ContextContent, TabID: 42, Addr: "192.0.2.1"},
		},
		{
			name:     "host without tab",
			query:    "?context=host",
			expected: router.Peer{Context: ContextHost, Addr: "192.0.2.1"},
		},
		{
			name:     "unknown context falls back to popup",
			query:    "?context=devtools&tab=abc",
			expected: router.Peer{Context: ContextPopup, Addr: "192.0.2.1"},
		},
		{
			name:     "negative tab ignored",
			query:    "?context=content&tab=-1",
			expected: router.Peer{Context: ContextContent, Addr: "192.0.2.1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil)
			require.Equal(t, tt.expected, PeerFromRequest(r))
		})
	}
}
