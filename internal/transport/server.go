package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"filippo.io/csrf"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/engagetrack/internal/protocol"
	"github.com/wolfeidau/engagetrack/internal/router"
)

// Handler returns the coordinator's HTTP surface: /ws, /rpc and /healthz.
// The /rpc endpoint is guarded by CORS and cross-origin protection with
// allowedOrigins trusted.
func (h *Hub) Handler(allowedOrigins []string) (http.Handler, error) {
	protection := csrf.New()
	for _, origin := range allowedOrigins {
		if origin == "*" {
			continue
		}
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("invalid trusted origin %q: %w", origin, err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.ServeWS)
	mux.Handle("/rpc", withCORS(allowedOrigins, protection.Handler(http.HandlerFunc(h.serveRPC))))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux, nil
}

// serveRPC dispatches one message and writes its result.
func (h *Hub) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	var msg protocol.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageSize)).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.Failure(fmt.Errorf("%w: %v", protocol.ErrInvalidPayload, err)))
		return
	}

	ctx := router.WithPeer(r.Context(), PeerFromRequest(r))
	result := h.dispatcher.Dispatch(ctx, msg)

	writeJSON(w, http.StatusOK, result)

	log.Debug().
		Str("type", string(msg.Type)).
		Dur("duration", time.Since(start)).
		Msg("rpc served")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

// withCORS adds CORS support for extension origins.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return middleware.Handler(h)
}
