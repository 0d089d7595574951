// Package coordinator wires the router, auth gateway, session controller and
// intervention scheduler into one explicitly constructed unit.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/engagetrack/internal/auth"
	"github.com/wolfeidau/engagetrack/internal/engagement"
	"github.com/wolfeidau/engagetrack/internal/intervention"
	"github.com/wolfeidau/engagetrack/internal/logger"
	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/protocol"
	"github.com/wolfeidau/engagetrack/internal/router"
	"github.com/wolfeidau/engagetrack/internal/session"
	"github.com/wolfeidau/engagetrack/internal/store"
	"github.com/wolfeidau/engagetrack/internal/transport"
)

// Backend is the authenticated backend API surface used by tracking and
// intervention detection.
type Backend interface {
	engagement.Backend
	CheckIntervention(ctx context.Context, backendSessionID string) (*models.Intervention, error)
	RecordInterventionResponse(ctx context.Context, backendSessionID, interventionID string, response map[string]any) error
}

type Config struct {
	Tracker        engagement.Config
	Intervention   intervention.Config
	CallTimeout    time.Duration
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		Tracker:      engagement.DefaultConfig(),
		Intervention: intervention.DefaultConfig(),
		CallTimeout:  10 * time.Second,
	}
}

// Deps are the collaborators constructed by the caller.
type Deps struct {
	Gateway  *auth.Gateway
	Backend  Backend
	Analyzer engagement.Analyzer
	Journal  store.Journal
}

type Coordinator struct {
	Router    *router.Router
	Hub       *transport.Hub
	Gateway   *auth.Gateway
	Tracker   *engagement.Tracker
	Scheduler *intervention.Scheduler
	Sessions  *session.Controller
	Journal   store.Journal
}

func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Gateway == nil || deps.Backend == nil || deps.Analyzer == nil || deps.Journal == nil {
		return nil, errors.New("coordinator requires gateway, backend, analyzer and journal")
	}

	r := router.New(logger.NewDispatchLogger(log.Logger))
	hub := transport.NewHub(r, cfg.AllowedOrigins)

	tracker := engagement.NewTracker(cfg.Tracker, deps.Gateway, deps.Backend, deps.Analyzer, hub)
	scheduler := intervention.New(
		cfg.Intervention,
		tracker,
		&detector{backend: deps.Backend, tracker: tracker},
		&deliverer{hub: hub},
		deps.Journal,
	)
	sessions := session.NewController(tracker, scheduler, deps.Journal, deps.Gateway, cfg.CallTimeout)

	c := &Coordinator{
		Router:    r,
		Hub:       hub,
		Gateway:   deps.Gateway,
		Tracker:   tracker,
		Scheduler: scheduler,
		Sessions:  sessions,
		Journal:   deps.Journal,
	}

	if err := c.registerHandlers(); err != nil {
		return nil, err
	}

	return c, nil
}

// Startup dispatches the STARTUP event through the router.
func (c *Coordinator) Startup(ctx context.Context) protocol.StartupResult {
	res, _ := c.Router.Dispatch(ctx, protocol.Message{Type: protocol.EventStartup}).(protocol.StartupResult)
	return res
}

// Shutdown stops any live session and disconnects all extension contexts.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	var errs []error

	if err := c.Sessions.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop session: %w", err))
	}
	c.Hub.Close()

	if err := c.Journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close journal: %w", err))
	}

	return errors.Join(errs...)
}

// detector resolves the backend session id before calling the backend.
type detector struct {
	backend Backend
	tracker *engagement.Tracker
}

func (d *detector) CheckIntervention(ctx context.Context, sessionID string) (*models.Intervention, error) {
	backendID, ok := d.tracker.BackendSessionID(sessionID)
	if !ok {
		return nil, engagement.ErrNotTracking
	}
	return d.backend.CheckIntervention(ctx, backendID)
}

func (d *detector) RecordInterventionResponse(ctx context.Context, sessionID, interventionID string, response map[string]any) error {
	backendID, ok := d.tracker.BackendSessionID(sessionID)
	if !ok {
		return engagement.ErrNotTracking
	}
	return d.backend.RecordInterventionResponse(ctx, backendID, interventionID, response)
}

type deliverer struct {
	hub *transport.Hub
}

func (d *deliverer) ShowIntervention(ctx context.Context, sessionID string, iv models.Intervention) error {
	return d.hub.SendToActiveTab(ctx, protocol.Outbound{
		Type:         protocol.TypeShowIntervention,
		Intervention: &iv,
		SessionID:    sessionID,
	})
}
