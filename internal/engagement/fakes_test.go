package engagement

import (
	"context"
	"sync"

	"github.com/wolfeidau/engagetrack/internal/backend"
	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/protocol"
)

type staticIdentity struct {
	user *models.User
}

func (s staticIdentity) CurrentUser(ctx context.Context) *models.User {
	return s.user
}

type fakeBackend struct {
	mu         sync.Mutex
	startErr   error
	endErr     error
	webcamErr  error
	started    []backend.StartSessionRequest
	ended      []string
	logged     [][]models.Activity
	webcamSeen int
}

func (f *fakeBackend) StartSession(ctx context.Context, req backend.StartSessionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, req)
	return "b-" + req.ClientSessionID, nil
}

func (f *fakeBackend) EndSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, id)
	return f.endErr
}

func (f *fakeBackend) LogActivity(ctx context.Context, id string, batch []models.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logged = append(f.logged, batch)
	return nil
}

func (f *fakeBackend) SubmitWebcam(ctx context.Context, id, imageData string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webcamSeen++
	return f.webcamErr
}

func (f *fakeBackend) loggedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.logged {
		n += len(b)
	}
	return n
}

type fakeAnalyzer struct {
	mu         sync.Mutex
	faceScore  float64
	engagement float64
	stopped    int
}

func (f *fakeAnalyzer) StartAnalysis(ctx context.Context, req backend.AnalysisStart) error {
	return nil
}

func (f *fakeAnalyzer) StopAnalysis(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeAnalyzer) AnalyzeFace(ctx context.Context, userID, imageData string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faceScore, nil
}

func (f *fakeAnalyzer) TrackActivity(ctx context.Context, userID string, batch []models.Activity) error {
	return nil
}

func (f *fakeAnalyzer) Engagement(ctx context.Context, userID string) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engagement, true, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	sent      []protocol.Outbound
	broadcast []protocol.Outbound
	tab       *models.TabInfo
}

func (f *fakeNotifier) SendToActiveTab(ctx context.Context, msg protocol.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeNotifier) Broadcast(ctx context.Context, msg protocol.Outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, msg)
}

func (f *fakeNotifier) ActiveTab() (models.TabInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tab == nil {
		return models.TabInfo{}, false
	}
	return *f.tab, true
}

func (f *fakeNotifier) sentTypes() []protocol.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]protocol.MessageType, 0, len(f.sent))
	for _, m := range f.sent {
		types = append(types, m.Type)
	}
	return types
}

func (f *fakeNotifier) countSent(t protocol.MessageType) int {
	n := 0
	for _, st := range f.sentTypes() {
		if st == t {
			n++
		}
	}
	return n
}
