// Package session owns the single active tracking session and starts and
// stops the engagement source and intervention scheduler as one unit.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/store"
	"github.com/wolfeidau/engagetrack/internal/telemetry"
)

var (
	ErrTrackingStart   = errors.New("failed to start tracking")
	ErrNoActiveSession = errors.New("no active session")
)

// EngagementSource supplies the engagement score and ingests activity while a session is live.
type EngagementSource interface {
	Start(ctx context.Context, sessionID string, settings models.TrackingSettings) error
	Stop(ctx context.Context) error
	RecordActivity(ctx context.Context, kind string, data map[string]any) error
	IngestWebcamFrame(ctx context.Context, imageData string) error
}

// Scheduler is the intervention loop bound to the session lifetime.
type Scheduler interface {
	StartChecking(sessionID string)
	StopChecking()
}

// Identity resolves the user a session is journaled under.
type Identity interface {
	CurrentUser(ctx context.Context) *models.User
}

// Status is a snapshot of the controller state.
type Status struct {
	IsTracking bool
	SessionID  string
	StartTime  time.Time
}

// transition is a start or stop in progress. Concurrent callers wait on done.
type transition struct {
	starting bool
	done     chan struct{}
	session  models.Session
	err      error
}

type Controller struct {
	source    EngagementSource
	scheduler Scheduler
	journal   store.Journal
	identity  Identity
	timeout   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	session  *models.Session
	inflight *transition
}

func NewController(source EngagementSource, scheduler Scheduler, journal store.Journal, identity Identity, timeout time.Duration) *Controller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Controller{
		source:    source,
		scheduler: scheduler,
		journal:   journal,
		identity:  identity,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Start begins a session. If a session is already live it is returned as is;
// a start racing another start receives that start's outcome.
func (c *Controller) Start(ctx context.Context, settings models.TrackingSettings) (models.Session, error) {
	var t *transition
	for t == nil {
		c.mu.Lock()
		if p := c.inflight; p != nil {
			c.mu.Unlock()
			if err := wait(ctx, p); err != nil {
				return models.Session{}, err
			}
			if p.starting {
				return p.session, p.err
			}
			continue
		}
		if c.session != nil {
			existing := *c.session
			c.mu.Unlock()
			log.Debug().Str("session_id", existing.ID).Msg("start while tracking, returning existing session")
			return existing, nil
		}
		t = &transition{starting: true, done: make(chan struct{})}
		c.inflight = t
		c.mu.Unlock()
	}

	sess := models.NewSession(c.now(), settings.Normalize())

	if err := c.source.Start(ctx, sess.ID, sess.Settings); err != nil {
		c.finish(t, nil, fmt.Errorf("%w: %w", ErrTrackingStart, err))
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("tracking start failed")
		return models.Session{}, t.err
	}

	c.journalStarted(ctx, sess)
	c.scheduler.StartChecking(sess.ID)
	c.finish(t, &sess, nil)

	telemetry.GetMetrics().SessionsStartedTotal.Add(ctx, 1)
	telemetry.GetMetrics().ActiveSessions.Add(ctx, 1)

	log.Info().
		Str("session_id", sess.ID).
		Bool("webcam", sess.Settings.EnableWebcam).
		Str("frequency", sess.Settings.InterventionFrequency).
		Msg("session started")

	return sess, nil
}

// Stop ends the live session. With no session it is a no-op. The session and
// scheduler are cleared even when the engagement source fails to stop.
func (c *Controller) Stop(ctx context.Context) error {
	var (
		t    *transition
		sess models.Session
	)
	for t == nil {
		c.mu.Lock()
		if p := c.inflight; p != nil {
			c.mu.Unlock()
			if err := wait(ctx, p); err != nil {
				return err
			}
			continue
		}
		if c.session == nil {
			c.mu.Unlock()
			return nil
		}
		sess = *c.session
		t = &transition{done: make(chan struct{})}
		c.inflight = t
		c.mu.Unlock()
	}

	c.scheduler.StopChecking()
	err := c.source.Stop(ctx)

	c.finish(t, nil, err)
	telemetry.GetMetrics().ActiveSessions.Add(ctx, -1)

	c.journalEnded(ctx, sess.ID)

	log.Info().
		Str("session_id", sess.ID).
		Dur("duration", sess.Duration(c.now())).
		Msg("session stopped")

	if err != nil {
		return fmt.Errorf("failed to stop engagement source: %w", err)
	}

	return nil
}

// Status never blocks on an in-flight transition.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return Status{}
	}
	return Status{IsTracking: true, SessionID: c.session.ID, StartTime: c.session.StartTime}
}

func (c *Controller) RecordActivity(ctx context.Context, kind string, data map[string]any) error {
	if !c.Status().IsTracking {
		return ErrNoActiveSession
	}
	return c.source.RecordActivity(ctx, kind, data)
}

func (c *Controller) IngestWebcamFrame(ctx context.Context, imageData string) error {
	if !c.Status().IsTracking {
		return ErrNoActiveSession
	}
	return c.source.IngestWebcamFrame(ctx, imageData)
}

// finish publishes the outcome of t and releases waiters.
func (c *Controller) finish(t *transition, sess *models.Session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = sess
	c.inflight = nil
	if sess != nil {
		t.session = *sess
	}
	t.err = err
	close(t.done)
}

func wait(ctx context.Context, t *transition) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) journalStarted(ctx context.Context, sess models.Session) {
	rec := models.SessionRecord{SessionID: sess.ID, StartedAt: sess.StartTime}
	if c.identity != nil {
		if u := c.identity.CurrentUser(ctx); u != nil {
			rec.UserID = u.ID
		}
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if err := c.journal.SessionStarted(jctx, rec); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to journal session start")
	}
}

func (c *Controller) journalEnded(ctx context.Context, sessionID string) {
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if err := c.journal.SessionEnded(jctx, sessionID, c.now()); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to journal session end")
	}
}
