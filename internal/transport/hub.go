// Package transport connects extension contexts to the coordinator over
// WebSocket and one-shot HTTP requests.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/protocol"
	"github.com/wolfeidau/engagetrack/internal/router"
	"github.com/wolfeidau/engagetrack/internal/telemetry"
)

var (
	ErrNoActiveTab = errors.New("no active tab")
	ErrDelivery    = errors.New("delivery failed")
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxMessageSize      = 1 << 20
)

// Dispatcher executes one inbound message and returns its result.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg protocol.Message) any
}

type conn struct {
	id   string
	peer router.Peer
	ws   *websocket.Conn

	mu sync.Mutex // serializes writes
}

func (c *conn) write(v any, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// Hub tracks the connected extension contexts and the active tab.
type Hub struct {
	dispatcher   Dispatcher
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	mu        sync.RWMutex
	conns     map[string]*conn
	tabs      map[int]*conn // most recent content connection per tab
	activeTab *models.TabInfo
}

// NewHub creates a hub. An empty allowedOrigins accepts any origin.
func NewHub(dispatcher Dispatcher, allowedOrigins []string) *Hub {
	return &Hub{
		dispatcher:   dispatcher,
		upgrader:     makeUpgrader(allowedOrigins),
		writeTimeout: defaultWriteTimeout,
		conns:        make(map[string]*conn),
		tabs:         make(map[int]*conn),
	}
}

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// SetActiveTab records the tab the user is looking at.
func (h *Hub) SetActiveTab(tab models.TabInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.activeTab = &tab
}

func (h *Hub) ActiveTab() (models.TabInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.activeTab == nil {
		return models.TabInfo{}, false
	}
	return *h.activeTab, true
}

// SendToActiveTab delivers msg to the content script of the active tab.
func (h *Hub) SendToActiveTab(ctx context.Context, msg protocol.Outbound) error {
	h.mu.RLock()
	var c *conn
	if h.activeTab != nil {
		c = h.tabs[h.activeTab.TabID]
	}
	h.mu.RUnlock()

	if c == nil {
		return ErrNoActiveTab
	}

	timeout := h.writeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	if err := c.write(msg, timeout); err != nil {
		return fmt.Errorf("%w: tab %d: %w", ErrDelivery, c.peer.TabID, err)
	}

	return nil
}

// Broadcast sends msg to every connection. Failures are logged.
func (h *Hub) Broadcast(ctx context.Context, msg protocol.Outbound) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(msg, h.writeTimeout); err != nil {
			log.Debug().Err(err).Str("conn_id", c.id).Str("type", string(msg.Type)).Msg("broadcast write failed")
		}
	}
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// ServeWS upgrades the request and serves messages until the peer disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	peer := PeerFromRequest(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("addr", peer.Addr).Msg("websocket upgrade failed")
		return
	}

	c := &conn{id: uuid.Must(uuid.NewV7()).String(), peer: peer, ws: ws}
	h.register(c)
	defer h.unregister(c)

	ctx, cancel := context.WithCancel(router.WithPeer(context.WithoutCancel(r.Context()), peer))
	defer cancel()

	log.Info().
		Str("conn_id", c.id).
		Str("context", peer.Context).
		Int("tab_id", peer.TabID).
		Msg("extension context connected")

	h.readLoop(ctx, c)
}

func (h *Hub) readLoop(ctx context.Context, c *conn) {
	var inflight sync.WaitGroup
	defer inflight.Wait()

	c.ws.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn_id", c.id).Msg("websocket read failed")
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, "", protocol.Failure(fmt.Errorf("%w: %v", protocol.ErrInvalidPayload, err)))
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			h.reply(c, msg.RequestID, h.dispatcher.Dispatch(ctx, msg))
		}()
	}
}

func (h *Hub) reply(c *conn, requestID string, result any) {
	rep := protocol.Reply{Type: protocol.TypeResponse, RequestID: requestID, Result: result}
	if err := c.write(rep, h.writeTimeout); err != nil {
		log.Debug().Err(err).Str("conn_id", c.id).Str("request_id", requestID).Msg("reply write failed")
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	if c.peer.Context == ContextContent && c.peer.TabID > 0 {
		h.tabs[c.peer.TabID] = c
	}
	h.mu.Unlock()

	telemetry.GetMetrics().ActiveConnections.Add(context.Background(), 1)
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	if h.tabs[c.peer.TabID] == c {
		delete(h.tabs, c.peer.TabID)
	}
	h.mu.Unlock()

	_ = c.ws.Close()
	telemetry.GetMetrics().ActiveConnections.Add(context.Background(), -1)

	log.Info().Str("conn_id", c.id).Msg("extension context disconnected")
}

// Close disconnects every connection. Read loops exit and unregister.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.conns {
		c.mu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.ws.Close()
	}
}
