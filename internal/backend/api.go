package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/wolfeidau/engagetrack/internal/models"
)

// Client calls the authenticated backend endpoints with the token supplied by ts.
type Client struct {
	cfg Config
	hc  *http.Client
}

func New(cfg Config, ts oauth2.TokenSource) *Client {
	return &Client{cfg: cfg, hc: newAuthedHTTPClient(ts)}
}

// DeviceInfo describes the machine the coordinator runs on.
type DeviceInfo struct {
	Browser string `json:"browser"`
	Device  string `json:"device"`
	OS      string `json:"os"`
}

// StartSessionRequest registers a tracking session with the backend.
type StartSessionRequest struct {
	ClientSessionID string                  `json:"clientSessionId"`
	URL             string                  `json:"url,omitempty"`
	Platform        string                  `json:"platform"`
	DeviceInfo      DeviceInfo              `json:"deviceInfo"`
	Settings        models.TrackingSettings `json:"settings"`
}

// StartSession returns the backend's id for the new session.
func (c *Client) StartSession(ctx context.Context, req StartSessionRequest) (string, error) {
	var resp struct {
		Session struct {
			ID string `json:"_id"`
		} `json:"session"`
	}

	if err := doJSON(ctx, c.hc, c.cfg.Timeout, http.MethodPost, c.url("/sessions/start"), req, &resp); err != nil {
		return "", err
	}

	if resp.Session.ID == "" {
		return "", fmt.Errorf("start session: no session id returned")
	}

	return resp.Session.ID, nil
}

func (c *Client) EndSession(ctx context.Context, backendSessionID string) error {
	return doJSON(ctx, c.hc, c.cfg.Timeout, http.MethodPost,
		c.url("/sessions/"+url.PathEscape(backendSessionID)+"/end"), nil, nil)
}

// LogActivity uploads a batch of activity entries.
func (c *Client) LogActivity(ctx context.Context, backendSessionID string, batch []models.Activity) error {
	body := map[string]any{
		"sessionId": backendSessionID,
		"type":      "activity_batch",
		"data":      batch,
	}
	return doJSON(ctx, c.hc, c.cfg.Timeout, http.MethodPost, c.url("/engagement/log"), body, nil)
}

func (c *Client) SubmitWebcam(ctx context.Context, backendSessionID, imageData string) error {
	body := map[string]string{
		"sessionId": backendSessionID,
		"imageData": imageData,
	}
	return doJSON(ctx, c.hc, c.cfg.Timeout, http.MethodPost, c.url("/engagement/webcam"), body, nil)
}

// CheckIntervention asks the backend whether the session needs an intervention.
// Returns nil when none is needed.
func (c *Client) CheckIntervention(ctx context.Context, backendSessionID string) (*models.Intervention, error) {
	var resp struct {
		Intervention *models.Intervention `json:"intervention"`
	}

	err := doJSON(ctx, c.hc, c.cfg.Timeout, http.MethodGet,
		c.url("/extension/intervention/"+url.PathEscape(backendSessionID)), nil, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Intervention == nil || resp.Intervention.ID == "" {
		return nil, nil
	}
	resp.Intervention.RaisedAt = time.Now()

	return resp.Intervention, nil
}

// RecordInterventionResponse forwards the user's answer. The response fields
// sit at the top level of the body next to sessionId.
func (c *Client) RecordInterventionResponse(ctx context.Context, backendSessionID, interventionID string, response map[string]any) error {
	body := make(map[string]any, len(response)+1)
	for k, v := range response {
		body[k] = v
	}
	body["sessionId"] = backendSessionID
	return doJSON(ctx, c.hc, c.cfg.Timeout, http.MethodPost,
		c.url("/interventions/"+url.PathEscape(interventionID)+"/response"), body, nil)
}

func (c *Client) url(path string) string {
	return joinURL(c.cfg.BaseURL, path)
}
