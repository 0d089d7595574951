package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"

	"github.com/wolfeidau/engagetrack/internal/models"
)

// DefaultEngagementScore is used when a face analysis carries no score.
const DefaultEngagementScore = 0.5

// AIClient calls the AI analysis service. Responses honour Cache-Control, so
// repeated engagement reads inside the service's max-age are served locally.
type AIClient struct {
	cfg Config
	hc  *http.Client
}

func NewAIClient(cfg Config) *AIClient {
	return &AIClient{cfg: cfg, hc: newCachingHTTPClient(cfg.CacheDir)}
}

func newCachingHTTPClient(cacheDir string) *http.Client {
	if cacheDir == "" {
		return &http.Client{
			Transport: httpcache.NewTransport(httpcache.NewMemoryCache()),
		}
	}

	return &http.Client{
		Transport: httpcache.NewTransport(diskcache.New(cacheDir)),
	}
}

// AnalysisStart tells the AI service a session began.
type AnalysisStart struct {
	UserID                string `json:"userId"`
	SessionID             string `json:"sessionId"`
	EnableWebcam          bool   `json:"enableWebcam"`
	EnableAudio           bool   `json:"enableAudio"`
	InterventionFrequency string `json:"interventionFrequency"`
}

func (c *AIClient) StartAnalysis(ctx context.Context, req AnalysisStart) error {
	return doJSON(ctx, c.hc, c.cfg.Timeout, http.MethodPost, c.url("/analyze/start"), req, nil)
}

func (c *AIClient) StopAnalysis(ctx context.Context, userID string) error {
	return doJSON(ctx, c.hc, c.cfg.Timeout, http.MethodPost, c.url("/analyze/stop"),
		map[string]string{"userId": userID}, nil)
}

// AnalyzeFace returns the engagement score of a webcam frame.
func (c *AIClient) AnalyzeFace(ctx context.Context, userID, imageData string) (float64, error) {
	var resp struct {
		Analysis struct {
			EngagementScore *float64 `json:"engagement_score"`
		} `json:"analysis"`
	}

	err := doJSON(ctx, c.hc, c.cfg.Timeout, http.MethodPost, c.url("/analyze/face"),
		map[string]string{"userId": userID, "imageData": imageData}, &resp)
	if err != nil {
		return 0, err
	}

	// zero is treated as missing, matching the extension
	if resp.Analysis.EngagementScore == nil || *resp.Analysis.EngagementScore == 0 {
		return DefaultEngagementScore, nil
	}

	return *resp.Analysis.EngagementScore, nil
}

func (c *AIClient) TrackActivity(ctx context.Context, userID string, batch []models.Activity) error {
	body := map[string]any{
		"userId": userID,
		"type":   "batch_activity",
		"data":   batch,
	}
	return doJSON(ctx, c.hc, c.cfg.Timeout, http.MethodPost, c.url("/analyze/activity"), body, nil)
}

// Engagement returns the user's overall engagement. ok is false when the
// service has no analysis yet.
func (c *AIClient) Engagement(ctx context.Context, userID string) (score float64, ok bool, err error) {
	var resp struct {
		Analysis *struct {
			OverallEngagement float64 `json:"overall_engagement"`
		} `json:"analysis"`
	}

	err = doJSON(ctx, c.hc, c.cfg.Timeout, http.MethodGet,
		c.url("/analyze/engagement?userId="+url.QueryEscape(userID)), nil, &resp)
	if err != nil {
		return 0, false, err
	}

	if resp.Analysis == nil {
		return 0, false, nil
	}

	return resp.Analysis.OverallEngagement, true, nil
}

func (c *AIClient) url(path string) string {
	return joinURL(c.cfg.AIServiceURL, path)
}
