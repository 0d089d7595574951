// Package backend talks to the learning backend REST API and the AI analysis service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const maxResponseBytes = 1 << 20

// Config holds common client configuration
type Config struct {
	BaseURL      string
	AIServiceURL string
	Timeout      time.Duration
	CacheDir     string // AI response cache, in memory when empty
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://localhost:5000/api",
		AIServiceURL: "http://localhost:5001/api",
		Timeout:      10 * time.Second,
	}
}

// APIError is a non-success response from the backend or AI service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed: status %d", e.Status)
	}
	return fmt.Sprintf("api request failed: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// doJSON sends in as a JSON body (when non-nil) and decodes the response into out.
// Responses with an error status or "success": false become an *APIError.
func doJSON(ctx context.Context, hc *http.Client, timeout time.Duration, method, url string, in, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("api call")

	var env envelope
	_ = json.Unmarshal(data, &env)

	if resp.StatusCode >= http.StatusBadRequest || (env.Success != nil && !*env.Success) {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// tokenHeaderTransport mirrors the bearer token set by oauth2.Transport into
// the "token" header read by the backend's auth middleware.
type tokenHeaderTransport struct {
	base http.RoundTripper
}

func (t *tokenHeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer "); ok {
		req = req.Clone(req.Context())
		req.Header.Set("token", token)
	}
	return t.base.RoundTrip(req)
}

func newAuthedHTTPClient(ts oauth2.TokenSource) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   &tokenHeaderTransport{base: http.DefaultTransport},
		},
	}
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}
