// Package engagement is the default engagement source: it registers sessions
// with the backend and AI service, batches activity, ingests webcam frames and
// keeps the current engagement score.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/engagetrack/internal/backend"
	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/protocol"
	"github.com/wolfeidau/engagetrack/internal/telemetry"
)

var (
	ErrNotAuthenticated = errors.New("user not authenticated")
	ErrNotTracking      = errors.New("no active tracking session")
	ErrAlreadyTracking  = errors.New("already tracking")
)

// Identity resolves the signed in user.
type Identity interface {
	CurrentUser(ctx context.Context) *models.User
}

// Backend is the session and activity surface of the backend API.
type Backend interface {
	StartSession(ctx context.Context, req backend.StartSessionRequest) (string, error)
	EndSession(ctx context.Context, backendSessionID string) error
	LogActivity(ctx context.Context, backendSessionID string, batch []models.Activity) error
	SubmitWebcam(ctx context.Context, backendSessionID, imageData string) error
}

// Analyzer is the AI analysis service.
type Analyzer interface {
	StartAnalysis(ctx context.Context, req backend.AnalysisStart) error
	StopAnalysis(ctx context.Context, userID string) error
	AnalyzeFace(ctx context.Context, userID, imageData string) (float64, error)
	TrackActivity(ctx context.Context, userID string, batch []models.Activity) error
	Engagement(ctx context.Context, userID string) (float64, bool, error)
}

// Notifier delivers outbound messages to extension contexts.
type Notifier interface {
	SendToActiveTab(ctx context.Context, msg protocol.Outbound) error
	Broadcast(ctx context.Context, msg protocol.Outbound)
	ActiveTab() (models.TabInfo, bool)
}

type Config struct {
	EngagementPollInterval time.Duration
	WebcamInterval         time.Duration
	Batch                  BatchConfig
	Device                 backend.DeviceInfo
}

func DefaultConfig() Config {
	return Config{
		EngagementPollInterval: 15 * time.Second,
		WebcamInterval:         10 * time.Second,
		Batch:                  DefaultBatchConfig(),
		Device:                 backend.DeviceInfo{Browser: "Chrome", Device: "desktop", OS: "Unknown"},
	}
}

type trackingRun struct {
	sessionID string
	backendID string
	userID    string
	settings  models.TrackingSettings
	batcher   *ActivityBatcher
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Tracker tracks one session at a time.
type Tracker struct {
	cfg      Config
	identity Identity
	backend  Backend
	ai       Analyzer
	notifier Notifier
	now      func() time.Time

	mu    sync.Mutex
	score float64
	run   *trackingRun
}

func NewTracker(cfg Config, identity Identity, be Backend, ai Analyzer, notifier Notifier) *Tracker {
	return &Tracker{
		cfg:      cfg,
		identity: identity,
		backend:  be,
		ai:       ai,
		notifier: notifier,
		now:      time.Now,
	}
}

// Start registers the session and starts the background loops.
func (t *Tracker) Start(ctx context.Context, sessionID string, settings models.TrackingSettings) error {
	settings = settings.Normalize()

	t.mu.Lock()
	busy := t.run != nil
	t.mu.Unlock()
	if busy {
		return ErrAlreadyTracking
	}

	user := t.identity.CurrentUser(ctx)
	if user == nil {
		return ErrNotAuthenticated
	}

	pageURL := settings.URL
	if pageURL == "" {
		if tab, ok := t.notifier.ActiveTab(); ok {
			pageURL = tab.URL
		}
	}

	backendID, err := t.backend.StartSession(ctx, backend.StartSessionRequest{
		ClientSessionID: sessionID,
		URL:             pageURL,
		Platform:        models.DetectPlatform(pageURL),
		DeviceInfo:      t.cfg.Device,
		Settings:        settings,
	})
	if err != nil {
		t.collaboratorError(ctx, "start_session")
		return fmt.Errorf("failed to start backend session: %w", err)
	}

	err = t.ai.StartAnalysis(ctx, backend.AnalysisStart{
		UserID:                user.ID,
		SessionID:             backendID,
		EnableWebcam:          settings.EnableWebcam,
		EnableAudio:           settings.EnableAudio,
		InterventionFrequency: settings.InterventionFrequency,
	})
	if err != nil {
		t.collaboratorError(ctx, "start_analysis")
		log.Warn().Err(err).Str("session_id", sessionID).Msg("AI service did not accept session, continuing")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &trackingRun{
		sessionID: sessionID,
		backendID: backendID,
		userID:    user.ID,
		settings:  settings,
		cancel:    cancel,
	}
	run.batcher = NewActivityBatcher(t.cfg.Batch, func(ctx context.Context, batch []models.Activity) error {
		if err := t.backend.LogActivity(ctx, run.backendID, batch); err != nil {
			t.collaboratorError(ctx, "log_activity")
			return err
		}
		if err := t.ai.TrackActivity(ctx, run.userID, batch); err != nil {
			t.collaboratorError(ctx, "track_activity")
			return err
		}
		return nil
	})

	t.mu.Lock()
	if t.run != nil {
		t.mu.Unlock()
		cancel()
		_ = run.batcher.Stop(ctx)
		if err := t.backend.EndSession(ctx, backendID); err != nil {
			log.Warn().Err(err).Str("backend_session_id", backendID).Msg("failed to end duplicate backend session")
		}
		return ErrAlreadyTracking
	}
	t.run = run
	t.mu.Unlock()

	run.wg.Add(1)
	go t.pollEngagement(runCtx, run)

	if settings.EnableWebcam {
		run.wg.Add(1)
		go t.requestWebcamCapture(runCtx, run)
	}

	t.notify(ctx, protocol.Outbound{Type: protocol.TypeTrackingStarted, SessionID: sessionID, Data: settings})

	log.Info().
		Str("session_id", sessionID).
		Str("backend_session_id", backendID).
		Str("user_id", user.ID).
		Bool("webcam", settings.EnableWebcam).
		Msg("tracking started")

	return nil
}

// Stop ends the session with the backend and resets the score. Local state is
// always cleared; the returned error reports a failed backend end.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	run := t.run
	t.run = nil
	t.score = 0
	t.mu.Unlock()

	if run == nil {
		return nil
	}

	run.cancel()
	run.wg.Wait()

	if err := run.batcher.Stop(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", run.sessionID).Msg("final activity flush failed")
	}

	var errs []error
	if err := t.backend.EndSession(ctx, run.backendID); err != nil {
		t.collaboratorError(ctx, "end_session")
		errs = append(errs, fmt.Errorf("failed to end backend session: %w", err))
	}

	if err := t.ai.StopAnalysis(ctx, run.userID); err != nil {
		t.collaboratorError(ctx, "stop_analysis")
		log.Warn().Err(err).Str("session_id", run.sessionID).Msg("AI service stop failed")
	}

	t.notify(ctx, protocol.Outbound{Type: protocol.TypeTrackingStopped, SessionID: run.sessionID})

	log.Info().Str("session_id", run.sessionID).Msg("tracking stopped")

	return errors.Join(errs...)
}

// Score returns the latest engagement score on a 0-1 scale.
func (t *Tracker) Score() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.score
}

// BackendSessionID maps a coordinator session id to the backend's id.
func (t *Tracker) BackendSessionID(sessionID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.run == nil || t.run.sessionID != sessionID {
		return "", false
	}
	return t.run.backendID, true
}

// RecordActivity buffers an activity entry for the next batch upload.
func (t *Tracker) RecordActivity(ctx context.Context, kind string, data map[string]any) error {
	t.mu.Lock()
	run := t.run
	t.mu.Unlock()

	if run == nil {
		return ErrNotTracking
	}

	return run.batcher.Add(models.Activity{Kind: kind, Data: data, Timestamp: t.now()})
}

// IngestWebcamFrame sends a frame to the backend and the AI service in
// parallel. The AI score becomes the current score.
func (t *Tracker) IngestWebcamFrame(ctx context.Context, imageData string) error {
	t.mu.Lock()
	run := t.run
	t.mu.Unlock()

	if run == nil {
		return ErrNotTracking
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := t.backend.SubmitWebcam(gctx, run.backendID, imageData); err != nil {
			t.collaboratorError(gctx, "submit_webcam")
			return fmt.Errorf("backend webcam: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		score, err := t.ai.AnalyzeFace(gctx, run.userID, imageData)
		if err != nil {
			t.collaboratorError(gctx, "analyze_face")
			return fmt.Errorf("ai face analysis: %w", err)
		}
		t.setScore(ctx, run, score)
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to process webcam data: %w", err)
	}

	return nil
}

func (t *Tracker) pollEngagement(ctx context.Context, run *trackingRun) {
	defer run.wg.Done()

	ticker := time.NewTicker(t.cfg.EngagementPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			score, ok, err := t.ai.Engagement(ctx, run.userID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				t.collaboratorError(ctx, "engagement")
				log.Warn().Err(err).Str("session_id", run.sessionID).Msg("failed to poll engagement")
				continue
			}
			if ok {
				t.setScore(ctx, run, score)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) requestWebcamCapture(ctx context.Context, run *trackingRun) {
	defer run.wg.Done()

	ticker := time.NewTicker(t.cfg.WebcamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.notify(ctx, protocol.Outbound{Type: protocol.TypeCaptureWebcam, SessionID: run.sessionID})
		case <-ctx.Done():
			return
		}
	}
}

// setScore updates the score if run is still current and broadcasts it.
func (t *Tracker) setScore(ctx context.Context, run *trackingRun, score float64) {
	t.mu.Lock()
	if t.run != run {
		t.mu.Unlock()
		return
	}
	t.score = score
	t.mu.Unlock()

	t.notifier.Broadcast(ctx, protocol.Outbound{
		Type: protocol.TypeEngagementUpdate,
		Data: protocol.EngagementUpdate{Score: score},
	})
}

func (t *Tracker) notify(ctx context.Context, msg protocol.Outbound) {
	if err := t.notifier.SendToActiveTab(ctx, msg); err != nil {
		log.Debug().Err(err).Str("type", string(msg.Type)).Msg("active tab notification not delivered")
	}
}

func (t *Tracker) collaboratorError(ctx context.Context, op string) {
	telemetry.GetMetrics().CollaboratorErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
