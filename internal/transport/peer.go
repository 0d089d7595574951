package transport

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/wolfeidau/engagetrack/internal/router"
)

// Extension context names accepted in the context query parameter.
const (
	ContextContent = "content"
	ContextPopup   = "popup"
	ContextHost    = "host"
)

// ExtractClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For header first (for proxied requests), then X-Real-IP, finally RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the list (comma-separated)
		if before, _, ok := strings.Cut(xff, ","); ok {
			return before
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr, stripping port
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}

// PeerFromRequest identifies the extension context from the context and tab
// query parameters. Unknown contexts are reported as popup, which never
// receives tab-addressed messages.
func PeerFromRequest(r *http.Request) router.Peer {
	q := r.URL.Query()

	p := router.Peer{
		Context: q.Get("context"),
		Addr:    ExtractClientIP(r),
	}

	switch p.Context {
	case ContextContent, ContextPopup, ContextHost:
	default:
		p.Context = ContextPopup
	}

	if tab, err := strconv.Atoi(q.Get("tab")); err == nil && tab > 0 {
		p.TabID = tab
	}

	return p
}
