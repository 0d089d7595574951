package coordinator

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/engagetrack/internal/auth"
	"github.com/wolfeidau/engagetrack/internal/backend"
	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/protocol"
	"github.com/wolfeidau/engagetrack/internal/store/memory"
)

type fakeAuthAPI struct {
	user *models.User
}

func (f *fakeAuthAPI) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	if password != "secret" {
		return "", nil, errors.New("api request failed: status 401: Invalid credentials")
	}
	return "opaque-token", f.user, nil
}

func (f *fakeAuthAPI) Profile(ctx context.Context, token string) (*models.User, error) {
	return f.user, nil
}

type fakeBackend struct {
	mu        sync.Mutex
	started   []backend.StartSessionRequest
	ended     []string
	responses map[string]map[string]any
}

func (f *fakeBackend) StartSession(ctx context.Context, req backend.StartSessionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	return "b-" + req.ClientSessionID, nil
}

func (f *fakeBackend) EndSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, id)
	return nil
}

func (f *fakeBackend) LogActivity(ctx context.Context, id string, batch []models.Activity) error {
	return nil
}

func (f *fakeBackend) SubmitWebcam(ctx context.Context, id, imageData string) error {
	return nil
}

func (f *fakeBackend) CheckIntervention(ctx context.Context, id string) (*models.Intervention, error) {
	return &models.Intervention{ID: "i1", Kind: "break", Payload: map[string]any{"message": "Take a short break"}}, nil
}

func (f *fakeBackend) RecordInterventionResponse(ctx context.Context, id, interventionID string, response map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.responses == nil {
		f.responses = make(map[string]map[string]any)
	}
	f.responses[interventionID] = response
	return nil
}

type lowEngagement struct{}

func (lowEngagement) StartAnalysis(ctx context.Context, req backend.AnalysisStart) error { return nil }
func (lowEngagement) StopAnalysis(ctx context.Context, userID string) error              { return nil }
func (lowEngagement) AnalyzeFace(ctx context.Context, userID, imageData string) (float64, error) {
	return 0.3, nil
}
func (lowEngagement) TrackActivity(ctx context.Context, userID string, batch []models.Activity) error {
	return nil
}
func (lowEngagement) Engagement(ctx context.Context, userID string) (float64, bool, error) {
	return 0.2, true, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeBackend) {
	t.Helper()

	tokens, err := auth.NewFileTokenStore(t.TempDir())
	require.NoError(t, err)

	be := &fakeBackend{}
	cfg := DefaultConfig()
	cfg.Tracker.EngagementPollInterval = 10 * time.Millisecond
	cfg.Tracker.Batch.FlushInterval = 50 * time.Millisecond
	cfg.Intervention.PollInterval = 20 * time.Millisecond
	cfg.Intervention.Cooldown = time.Hour

	c, err := New(cfg, Deps{
		Gateway:  auth.NewGateway(&fakeAuthAPI{user: &models.User{ID: "u1", Name: "Ada", Preferences: map[string]any{"theme": "dark"}}}, tokens),
		Backend:  be,
		Analyzer: lowEngagement{},
		Journal:  memory.NewJournal(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, c.Shutdown(context.Background()))
	})

	return c, be
}

func dispatch(t *testing.T, c *Coordinator, typ protocol.MessageType, payload any) any {
	t.Helper()

	msg, err := protocol.NewMessage(typ, payload)
	require.NoError(t, err)
	return c.Router.Dispatch(context.Background(), msg)
}

func TestCoordinator_RegistersAllTypes(t *testing.T) {
	c, _ := newTestCoordinator(t)

	require.ElementsMatch(t, []protocol.MessageType{
		protocol.TypeLogin,
		protocol.TypeLogout,
		protocol.TypeGetUserPreferences,
		protocol.TypeStartTracking,
		protocol.TypeStopTracking,
		protocol.TypeGetTrackingStatus,
		protocol.TypeWebcamData,
		protocol.TypeTrackActivity,
		protocol.TypeInterventionResponse,
		protocol.TypeGetSessionHistory,
		protocol.EventTabActivated,
		protocol.EventStartup,
	}, c.Router.Types())
}

func TestCoordinator_UnknownMessage(t *testing.T) {
	c, _ := newTestCoordinator(t)

	got := c.Router.Dispatch(context.Background(), protocol.Message{Type: "FOO"})
	require.Equal(t, protocol.Result{Success: false, Error: "unknown message type: FOO"}, got)
}

func TestCoordinator_AuthMessages(t *testing.T) {
	c, _ := newTestCoordinator(t)

	require.Equal(t, protocol.StartupResult{Success: true, Authenticated: false}, c.Startup(context.Background()))

	got := dispatch(t, c, protocol.TypeLogin, protocol.LoginPayload{Email: "ada@example.com", Password: "wrong"})
	res, ok := got.(protocol.Result)
	require.True(t, ok)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "Invalid credentials")

	got = dispatch(t, c, protocol.TypeLogin, protocol.LoginPayload{Email: "ada@example.com", Password: "secret"})
	login, ok := got.(protocol.LoginResult)
	require.True(t, ok)
	require.True(t, login.Success)
	require.Equal(t, "u1", login.User.ID)

	got = dispatch(t, c, protocol.TypeGetUserPreferences, nil)
	require.Equal(t, map[string]any{"theme": "dark"}, got)

	require.Equal(t, protocol.OK(), dispatch(t, c, protocol.TypeLogout, nil))
	require.False(t, c.Gateway.CheckStatus(context.Background()))

	// tracking needs an identity
	got = dispatch(t, c, protocol.TypeStartTracking, protocol.StartTrackingPayload{})
	res, ok = got.(protocol.Result)
	require.True(t, ok)
	require.Contains(t, res.Error, "user not authenticated")
}

func TestCoordinator_StopWithoutSession(t *testing.T) {
	c, _ := newTestCoordinator(t)

	require.Equal(t, protocol.OK(), dispatch(t, c, protocol.TypeStopTracking, nil))
	require.Equal(t, protocol.TrackingStatus{}, dispatch(t, c, protocol.TypeGetTrackingStatus, nil))
}

func TestCoordinator_PayloadValidation(t *testing.T) {
	c, _ := newTestCoordinator(t)

	tests := []struct {
		name    string
		typ     protocol.MessageType
		payload any
		wantErr string
	}{
		{
			name:    "login without password",
			typ:     protocol.TypeLogin,
			payload: map[string]any{"email": "ada@example.com"},
			wantErr: "invalid payload: email and password are required",
		},
		{
			name:    "webcam without image",
			typ:     protocol.TypeWebcamData,
			payload: map[string]any{},
			wantErr: "invalid payload: imageData is required",
		},
		{
			name:    "activity without session",
			typ:     protocol.TypeTrackActivity,
			payload: protocol.TrackActivityPayload{ActivityType: "click"},
			wantErr: "no active session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dispatch(t, c, tt.typ, tt.payload)
			require.Equal(t, protocol.Result{Success: false, Error: tt.wantErr}, got)
		})
	}
}

// TestCoordinator_InterventionScenario follows one session from start to an
// answered intervention with a content script connected to the active tab.
func TestCoordinator_InterventionScenario(t *testing.T) {
	c, be := newTestCoordinator(t)

	handler, err := c.Hub.Handler(nil)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?context=content&tab=7", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return c.Hub.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, protocol.OK(), dispatch(t, c, protocol.EventTabActivated,
		models.TabInfo{TabID: 7, URL: "https://www.youtube.com/watch?v=abc", Title: "Lecture 1"}))

	_ = dispatch(t, c, protocol.TypeLogin, protocol.LoginPayload{Email: "ada@example.com", Password: "secret"})

	got := dispatch(t, c, protocol.TypeStartTracking, protocol.StartTrackingPayload{})
	started, ok := got.(protocol.StartTrackingResult)
	require.True(t, ok, "unexpected result %#v", got)
	require.True(t, started.Success)
	sessionID := started.SessionID

	be.mu.Lock()
	require.Len(t, be.started, 1)
	require.Equal(t, "youtube", be.started[0].Platform)
	be.mu.Unlock()

	// wait for the intervention to reach the tab
	var shown map[string]any
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for shown == nil {
		var frame map[string]any
		require.NoError(t, ws.ReadJSON(&frame))
		if frame["type"] == string(protocol.TypeShowIntervention) {
			shown = frame
		}
	}
	require.Equal(t, sessionID, shown["sessionId"])
	require.Equal(t, "i1", shown["intervention"].(map[string]any)["id"])
	require.NotNil(t, c.Scheduler.Active())

	got = dispatch(t, c, protocol.TypeInterventionResponse, protocol.InterventionResponsePayload{
		InterventionID: "i1",
		Response:       map[string]any{"accepted": true},
	})
	require.Equal(t, protocol.OK(), got)

	require.Equal(t, protocol.TrackingStatus{IsTracking: true, SessionID: sessionID}, dispatch(t, c, protocol.TypeGetTrackingStatus, nil))
	require.Nil(t, c.Scheduler.Active())

	be.mu.Lock()
	require.Equal(t, map[string]any{"accepted": true}, be.responses["i1"])
	be.mu.Unlock()

	// a repeated answer is a no-op
	require.Equal(t, protocol.OK(), dispatch(t, c, protocol.TypeInterventionResponse, protocol.InterventionResponsePayload{InterventionID: "i1"}))

	require.Equal(t, protocol.OK(), dispatch(t, c, protocol.TypeStopTracking, nil))
	require.Equal(t, protocol.TrackingStatus{}, dispatch(t, c, protocol.TypeGetTrackingStatus, nil))

	be.mu.Lock()
	require.Equal(t, []string{"b-" + sessionID}, be.ended)
	be.mu.Unlock()

	got = dispatch(t, c, protocol.TypeGetSessionHistory, protocol.SessionHistoryPayload{Limit: 5})
	history, ok := got.(protocol.SessionHistoryResult)
	require.True(t, ok)
	require.Len(t, history.Sessions, 1)
	require.Equal(t, sessionID, history.Sessions[0].SessionID)
	require.Equal(t, "u1", history.Sessions[0].UserID)
	require.Equal(t, 1, history.Sessions[0].InterventionsRaised)
	require.Equal(t, 1, history.Sessions[0].InterventionsAnswered)
}
