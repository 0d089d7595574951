package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/store/memory"
)

type fakeSource struct {
	mu         sync.Mutex
	gate       chan struct{}
	startErr   error
	stopErr    error
	starts     []string
	stops      int
	activities []string
	frames     int
}

func (f *fakeSource) Start(ctx context.Context, sessionID string, settings models.TrackingSettings) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts = append(f.starts, sessionID)
	return nil
}

func (f *fakeSource) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeSource) RecordActivity(ctx context.Context, kind string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, kind)
	return nil
}

func (f *fakeSource) IngestWebcamFrame(ctx context.Context, imageData string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}

func (f *fakeSource) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

type fakeScheduler struct {
	mu      sync.Mutex
	running string
	starts  int
	stops   int
}

func (f *fakeScheduler) StartChecking(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = sessionID
	f.starts++
}

func (f *fakeScheduler) StopChecking() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = ""
	f.stops++
}

type staticIdentity struct{ id string }

func (s staticIdentity) CurrentUser(ctx context.Context) *models.User {
	return &models.User{ID: s.id}
}

func newController(source *fakeSource, sched *fakeScheduler) (*Controller, *memory.Journal) {
	journal := memory.NewJournal()
	return NewController(source, sched, journal, staticIdentity{id: "u1"}, time.Second), journal
}

func TestController_StartStop(t *testing.T) {
	source := &fakeSource{}
	sched := &fakeScheduler{}
	c, journal := newController(source, sched)
	ctx := context.Background()

	require.Equal(t, Status{}, c.Status())

	sess, err := c.Start(ctx, models.TrackingSettings{EnableWebcam: true})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, models.FrequencyMedium, sess.Settings.InterventionFrequency)

	st := c.Status()
	require.True(t, st.IsTracking)
	require.Equal(t, sess.ID, st.SessionID)
	require.Equal(t, sess.ID, sched.running)

	require.NoError(t, c.Stop(ctx))
	require.Equal(t, Status{}, c.Status())
	require.Empty(t, sched.running)
	require.Equal(t, 1, source.stops)

	recs, err := journal.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "u1", recs[0].UserID)
	require.False(t, recs[0].IsOpen())
}

func TestController_StopWithoutSessionIsNoop(t *testing.T) {
	source := &fakeSource{}
	sched := &fakeScheduler{}
	c, _ := newController(source, sched)

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
	require.Zero(t, source.stops)
	require.Zero(t, sched.stops)
}

func TestController_StartIsIdempotent(t *testing.T) {
	source := &fakeSource{}
	sched := &fakeScheduler{}
	c, _ := newController(source, sched)
	ctx := context.Background()

	first, err := c.Start(ctx, models.TrackingSettings{})
	require.NoError(t, err)

	second, err := c.Start(ctx, models.TrackingSettings{EnableWebcam: true})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, source.startCount())
	require.Equal(t, 1, sched.starts)
}

func TestController_ConcurrentStartsShareOutcome(t *testing.T) {
	source := &fakeSource{gate: make(chan struct{})}
	sched := &fakeScheduler{}
	c, _ := newController(source, sched)
	ctx := context.Background()

	const callers = 5
	ids := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := c.Start(ctx, models.TrackingSettings{})
			ids[i], errs[i] = sess.ID, err
		}()
	}

	// let every caller reach the controller before the first start completes
	time.Sleep(20 * time.Millisecond)
	close(source.gate)
	wg.Wait()

	require.Equal(t, 1, source.startCount())
	for i, id := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], id)
	}
}

func TestController_StartFailure(t *testing.T) {
	source := &fakeSource{startErr: errors.New("user not authenticated")}
	sched := &fakeScheduler{}
	c, journal := newController(source, sched)
	ctx := context.Background()

	_, err := c.Start(ctx, models.TrackingSettings{})
	require.ErrorIs(t, err, ErrTrackingStart)
	require.ErrorContains(t, err, "user not authenticated")

	require.False(t, c.Status().IsTracking)
	require.Zero(t, sched.starts)

	recs, err := journal.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, recs)

	// a later start is not blocked by the failed one
	source.mu.Lock()
	source.startErr = nil
	source.mu.Unlock()

	_, err = c.Start(ctx, models.TrackingSettings{})
	require.NoError(t, err)
}

func TestController_StopClearsEvenWhenSourceFails(t *testing.T) {
	source := &fakeSource{stopErr: errors.New("backend unavailable")}
	sched := &fakeScheduler{}
	c, _ := newController(source, sched)
	ctx := context.Background()

	_, err := c.Start(ctx, models.TrackingSettings{})
	require.NoError(t, err)

	err = c.Stop(ctx)
	require.ErrorContains(t, err, "backend unavailable")
	require.False(t, c.Status().IsTracking)
	require.Empty(t, sched.running)
}

func TestController_PassThroughRequiresSession(t *testing.T) {
	source := &fakeSource{}
	c, _ := newController(source, &fakeScheduler{})
	ctx := context.Background()

	require.ErrorIs(t, c.RecordActivity(ctx, "click", nil), ErrNoActiveSession)
	require.ErrorIs(t, c.IngestWebcamFrame(ctx, "data:image/jpeg;base64,AA=="), ErrNoActiveSession)

	_, err := c.Start(ctx, models.TrackingSettings{})
	require.NoError(t, err)

	require.NoError(t, c.RecordActivity(ctx, "click", map[string]any{"x": 1}))
	require.NoError(t, c.IngestWebcamFrame(ctx, "data:image/jpeg;base64,AA=="))
	require.Equal(t, []string{"click"}, source.activities)
	require.Equal(t, 1, source.frames)
}
