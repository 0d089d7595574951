// Package intervention polls the engagement score on a fixed cadence and
// raises at most one intervention at a time, gated by a cooldown.
package intervention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/store"
	"github.com/wolfeidau/engagetrack/internal/telemetry"
)

// State is the scheduler's position in its state machine.
type State string

const (
	StateIdle             State = "idle"
	StatePolling          State = "polling"
	StateAwaitingResponse State = "awaiting_response"
)

// ScoreSource supplies the current engagement score on a 0-1 scale.
type ScoreSource interface {
	Score() float64
}

// Detector is the backend collaborator that decides whether an intervention
// is needed and records the user's answer.
type Detector interface {
	CheckIntervention(ctx context.Context, sessionID string) (*models.Intervention, error)
	RecordInterventionResponse(ctx context.Context, sessionID, interventionID string, response map[string]any) error
}

// Deliverer shows an intervention to the user.
type Deliverer interface {
	ShowIntervention(ctx context.Context, sessionID string, iv models.Intervention) error
}

// Config holds the polling cadence and intervention limits.
type Config struct {
	PollInterval time.Duration
	Cooldown     time.Duration
	Threshold    float64
	CallTimeout  time.Duration
}

// DefaultConfig polls every 30s with a 180s cooldown and a 0.4 threshold.
func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		Cooldown:     180 * time.Second,
		Threshold:    0.4,
		CallTimeout:  10 * time.Second,
	}
}

// run is the handle of one polling loop. Only the scheduler cancels it.
type run struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Scheduler polls the detector for one session at a time and tracks the
// single active intervention.
type Scheduler struct {
	cfg       Config
	scores    ScoreSource
	detector  Detector
	deliverer Deliverer
	journal   store.Journal
	now       func() time.Time

	mu     sync.Mutex
	run    *run
	active *models.Intervention
	// process wide, survives stop and start
	lastInterventionTime time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates an idle scheduler.
func New(cfg Config, scores ScoreSource, detector Detector, deliverer Deliverer, journal store.Journal, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		scores:    scores,
		detector:  detector,
		deliverer: deliverer,
		journal:   journal,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartChecking binds the scheduler to sessionID and starts polling. A
// previous loop is cancelled and waited for first, so at most one loop runs.
func (s *Scheduler) StartChecking(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{sessionID: sessionID, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	old := s.run
	discarded := s.takeActiveLocked()
	s.run = r
	s.mu.Unlock()

	if old != nil {
		s.resolve(old.sessionID, discarded, models.OutcomeDiscarded)
		old.cancel()
		<-old.done
	}

	go s.loop(ctx, r)

	log.Info().
		Str("session_id", sessionID).
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("cooldown", s.cfg.Cooldown).
		Msg("intervention checking started")
}

// StopChecking cancels the loop and clears any active intervention. It returns
// after an in-flight tick has finished. Idempotent.
func (s *Scheduler) StopChecking() {
	s.mu.Lock()
	r := s.run
	s.run = nil
	discarded := s.takeActiveLocked()
	s.mu.Unlock()

	if r == nil {
		return
	}

	s.resolve(r.sessionID, discarded, models.OutcomeDiscarded)
	r.cancel()
	<-r.done

	log.Info().Str("session_id", r.sessionID).Msg("intervention checking stopped")
}

// RecordResponse clears the active intervention when interventionID matches
// it and forwards the response to the backend. A stale or unknown id is a no-op.
// The intervention stays cleared even if forwarding fails.
func (s *Scheduler) RecordResponse(ctx context.Context, interventionID string, response map[string]any) error {
	s.mu.Lock()
	if s.active == nil || s.active.ID != interventionID || s.run == nil {
		s.mu.Unlock()
		log.Debug().Str("intervention_id", interventionID).Msg("response for inactive intervention ignored")
		return nil
	}
	iv := s.takeActiveLocked()
	sessionID := s.run.sessionID
	s.mu.Unlock()

	telemetry.GetMetrics().InterventionsAnsweredTotal.Add(ctx, 1)
	s.resolve(sessionID, iv, models.OutcomeAnswered)

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	if err := s.detector.RecordInterventionResponse(cctx, sessionID, interventionID, response); err != nil {
		telemetry.GetMetrics().CollaboratorErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "record_response")))
		return fmt.Errorf("failed to record intervention response: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("intervention_id", interventionID).
		Msg("intervention answered")

	return nil
}

// Active returns a copy of the active intervention, if any.
func (s *Scheduler) Active() *models.Intervention {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil
	}
	iv := *s.active
	return &iv
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.run == nil:
		return StateIdle
	case s.active != nil:
		return StateAwaitingResponse
	default:
		return StatePolling
	}
}

func (s *Scheduler) loop(ctx context.Context, r *run) {
	defer close(r.done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.check(ctx, r)
		case <-ctx.Done():
			return
		}
	}
}

// check runs one tick. Collaborator errors are logged and the tick skipped.
func (s *Scheduler) check(ctx context.Context, r *run) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	if s.active != nil {
		s.mu.Unlock()
		s.skipped(ctx, "awaiting_response")
		return
	}
	if !s.lastInterventionTime.IsZero() && s.now().Sub(s.lastInterventionTime) < s.cfg.Cooldown {
		s.mu.Unlock()
		s.skipped(ctx, "cooldown")
		return
	}
	s.mu.Unlock()

	score := s.scores.Score()
	if score >= s.cfg.Threshold {
		s.skipped(ctx, "engaged")
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	iv, err := s.detector.CheckIntervention(cctx, r.sessionID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		telemetry.GetMetrics().CollaboratorErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "check_intervention")))
		log.Warn().Err(err).Str("session_id", r.sessionID).Msg("intervention check failed, deferring to next tick")
		return
	}
	if iv == nil {
		return
	}

	s.mu.Lock()
	// stopped or replaced while the check was in flight
	if s.run != r || ctx.Err() != nil || s.active != nil {
		s.mu.Unlock()
		return
	}
	now := s.now()
	raised := *iv
	raised.RaisedAt = now
	s.active = &raised
	s.lastInterventionTime = now
	s.mu.Unlock()

	telemetry.GetMetrics().InterventionsRaisedTotal.Add(ctx, 1)
	s.journalRaised(r.sessionID, raised)

	log.Info().
		Str("session_id", r.sessionID).
		Str("intervention_id", raised.ID).
		Str("kind", raised.Kind).
		Float64("score", score).
		Msg("intervention raised")

	dctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	if err := s.deliverer.ShowIntervention(dctx, r.sessionID, raised); err != nil {
		s.mu.Lock()
		if s.active != nil && s.active.ID == raised.ID {
			s.active = nil
		}
		s.mu.Unlock()

		telemetry.GetMetrics().InterventionsUndeliveredTotal.Add(ctx, 1)
		s.resolve(r.sessionID, &raised, models.OutcomeUndelivered)

		log.Warn().
			Err(err).
			Str("session_id", r.sessionID).
			Str("intervention_id", raised.ID).
			Msg("intervention not delivered, cooldown still applies")
	}
}

// takeActiveLocked clears and returns the active intervention. Must be called with lock held.
func (s *Scheduler) takeActiveLocked() *models.Intervention {
	iv := s.active
	s.active = nil
	return iv
}

func (s *Scheduler) skipped(ctx context.Context, reason string) {
	telemetry.GetMetrics().InterventionChecksSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (s *Scheduler) journalRaised(sessionID string, iv models.Intervention) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()

	if err := s.journal.InterventionRaised(ctx, sessionID, iv); err != nil {
		log.Warn().Err(err).Str("intervention_id", iv.ID).Msg("failed to journal intervention")
	}
}

func (s *Scheduler) resolve(sessionID string, iv *models.Intervention, outcome string) {
	if iv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()

	if err := s.journal.InterventionResolved(ctx, sessionID, iv.ID, outcome, s.now()); err != nil {
		log.Warn().Err(err).Str("intervention_id", iv.ID).Str("outcome", outcome).Msg("failed to journal intervention outcome")
	}
}
