package coordinator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/protocol"
	"github.com/wolfeidau/engagetrack/internal/router"
)

func (c *Coordinator) registerHandlers() error {
	handlers := map[protocol.MessageType]router.Handler{
		protocol.TypeLogin:                c.handleLogin,
		protocol.TypeLogout:               c.handleLogout,
		protocol.TypeGetUserPreferences:   c.handleGetUserPreferences,
		protocol.TypeStartTracking:        c.handleStartTracking,
		protocol.TypeStopTracking:         c.handleStopTracking,
		protocol.TypeGetTrackingStatus:    c.handleGetTrackingStatus,
		protocol.TypeWebcamData:           c.handleWebcamData,
		protocol.TypeTrackActivity:        c.handleTrackActivity,
		protocol.TypeInterventionResponse: c.handleInterventionResponse,
		protocol.TypeGetSessionHistory:    c.handleGetSessionHistory,
		protocol.EventTabActivated:        c.handleTabActivated,
		protocol.EventStartup:             c.handleStartup,
	}

	for t, h := range handlers {
		if err := c.Router.Handle(t, h); err != nil {
			return err
		}
	}

	return nil
}

// decode unmarshals the payload and runs its Validate method when present.
func decode[T any](msg protocol.Message) (T, error) {
	var p T
	if err := msg.Decode(&p); err != nil {
		return p, err
	}
	if v, ok := any(p).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (c *Coordinator) handleLogin(ctx context.Context, msg protocol.Message) (any, error) {
	p, err := decode[protocol.LoginPayload](msg)
	if err != nil {
		return nil, err
	}

	user, err := c.Gateway.Login(ctx, p.Email, p.Password)
	if err != nil {
		return nil, err
	}

	return protocol.LoginResult{Success: true, User: user}, nil
}

func (c *Coordinator) handleLogout(ctx context.Context, msg protocol.Message) (any, error) {
	c.Gateway.Logout()
	return protocol.OK(), nil
}

func (c *Coordinator) handleGetUserPreferences(ctx context.Context, msg protocol.Message) (any, error) {
	return c.Gateway.Preferences(ctx)
}

func (c *Coordinator) handleStartTracking(ctx context.Context, msg protocol.Message) (any, error) {
	p, err := decode[protocol.StartTrackingPayload](msg)
	if err != nil {
		return nil, err
	}

	sess, err := c.Sessions.Start(ctx, p.Settings)
	if err != nil {
		return nil, err
	}

	return protocol.StartTrackingResult{Success: true, SessionID: sess.ID}, nil
}

func (c *Coordinator) handleStopTracking(ctx context.Context, msg protocol.Message) (any, error) {
	if err := c.Sessions.Stop(ctx); err != nil {
		return nil, err
	}
	return protocol.OK(), nil
}

func (c *Coordinator) handleGetTrackingStatus(ctx context.Context, msg protocol.Message) (any, error) {
	st := c.Sessions.Status()
	return protocol.TrackingStatus{IsTracking: st.IsTracking, SessionID: st.SessionID}, nil
}

func (c *Coordinator) handleWebcamData(ctx context.Context, msg protocol.Message) (any, error) {
	p, err := decode[protocol.WebcamDataPayload](msg)
	if err != nil {
		return nil, err
	}

	if err := c.Sessions.IngestWebcamFrame(ctx, p.ImageData); err != nil {
		return nil, err
	}
	return protocol.OK(), nil
}

func (c *Coordinator) handleTrackActivity(ctx context.Context, msg protocol.Message) (any, error) {
	p, err := decode[protocol.TrackActivityPayload](msg)
	if err != nil {
		return nil, err
	}

	if err := c.Sessions.RecordActivity(ctx, p.ActivityType, p.Data); err != nil {
		return nil, err
	}
	return protocol.OK(), nil
}

func (c *Coordinator) handleInterventionResponse(ctx context.Context, msg protocol.Message) (any, error) {
	p, err := decode[protocol.InterventionResponsePayload](msg)
	if err != nil {
		return nil, err
	}

	if err := c.Scheduler.RecordResponse(ctx, p.InterventionID, p.Response); err != nil {
		return nil, err
	}
	return protocol.OK(), nil
}

func (c *Coordinator) handleGetSessionHistory(ctx context.Context, msg protocol.Message) (any, error) {
	p, err := decode[protocol.SessionHistoryPayload](msg)
	if err != nil {
		return nil, err
	}

	sessions, err := c.Journal.ListSessions(ctx, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []models.SessionRecord{}
	}

	return protocol.SessionHistoryResult{Success: true, Sessions: sessions}, nil
}

// handleTabActivated records the active tab, and the navigation as activity
// while a session is live.
func (c *Coordinator) handleTabActivated(ctx context.Context, msg protocol.Message) (any, error) {
	tab, err := decode[protocol.TabActivatedPayload](msg)
	if err != nil {
		return nil, err
	}

	c.Hub.SetActiveTab(tab)

	if !c.Sessions.Status().IsTracking {
		return protocol.OK(), nil
	}

	data := map[string]any{"url": tab.URL, "title": tab.Title, "tabId": tab.TabID}
	if err := c.Sessions.RecordActivity(ctx, models.ActivityURLChange, data); err != nil {
		log.Warn().Err(err).Int("tab_id", tab.TabID).Msg("failed to record tab change")
	}

	return protocol.OK(), nil
}

func (c *Coordinator) handleStartup(ctx context.Context, msg protocol.Message) (any, error) {
	authenticated := c.Gateway.CheckStatus(ctx)

	log.Info().Bool("authenticated", authenticated).Msg("startup identity check")

	return protocol.StartupResult{Success: true, Authenticated: authenticated}, nil
}
