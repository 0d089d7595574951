// Package auth owns the cached identity of the coordinator: the backend token
// and the user it belongs to.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/wolfeidau/engagetrack/internal/models"
)

var (
	// ErrAuthFailed is returned when the backend rejects a login.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotAuthenticated is returned when an operation needs a token and none is cached.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrTokenRejected is wrapped by Backend.Profile when the backend refuses the token.
	ErrTokenRejected = errors.New("token rejected")
)

const defaultTimeout = 10 * time.Second

// Backend is the subset of the backend API used for identity.
type Backend interface {
	Login(ctx context.Context, email, password string) (token string, user *models.User, err error)
	Profile(ctx context.Context, token string) (*models.User, error)
}

// Gateway caches the token and user. Every mutation bumps a generation
// counter so a verification that started before a logout or login cannot
// overwrite the newer state.
type Gateway struct {
	backend Backend
	store   TokenStore
	timeout time.Duration
	now     func() time.Time

	mu    sync.Mutex
	token string
	user  *models.User
	gen   uint64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// NewGateway creates a gateway and loads any persisted token. The user is
// resolved lazily.
func NewGateway(backend Backend, store TokenStore, opts ...Option) *Gateway {
	g := &Gateway{
		backend: backend,
		store:   store,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	token, err := store.Load()
	switch {
	case errors.Is(err, ErrTokenNotFound):
	case err != nil:
		log.Warn().Err(err).Msg("failed to load persisted token")
	default:
		g.token = token
		log.Debug().Str("token_fp", Fingerprint(token)).Msg("loaded persisted token")
	}

	return g
}

// CheckStatus reports whether a verified identity is cached. A token that is
// expired or rejected by the backend is cleared.
func (g *Gateway) CheckStatus(ctx context.Context) bool {
	g.mu.Lock()
	token, gen := g.token, g.gen
	g.mu.Unlock()

	if token == "" {
		return false
	}

	if expired(token, g.now()) {
		log.Info().Str("token_fp", Fingerprint(token)).Msg("cached token expired")
		g.clearIf(gen)
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	user, err := g.backend.Profile(cctx, token)
	if err != nil {
		log.Warn().Err(err).Str("token_fp", Fingerprint(token)).Msg("token verification failed")
		g.clearIf(gen)
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.gen != gen {
		// logged out or logged in again while verifying
		return g.user != nil
	}
	g.user = user

	return true
}

// Login exchanges credentials for a token. On failure the cached state is untouched.
func (g *Gateway) Login(ctx context.Context, email, password string) (*models.User, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	token, user, err := g.backend.Login(cctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no token issued", ErrAuthFailed)
	}

	if user == nil {
		user, err = g.backend.Profile(cctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.token = token
	g.user = user
	g.gen++

	if err := g.store.Save(token); err != nil {
		log.Warn().Err(err).Msg("failed to persist token")
	}

	log.Info().Str("user_id", user.ID).Str("token_fp", Fingerprint(token)).Msg("logged in")

	return cloneUser(user), nil
}

// Logout clears the token and user. It never calls the backend.
func (g *Gateway) Logout() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.clearLocked()
}

// CurrentUser returns the cached user, verifying the cached token once if
// no user is loaded. Returns nil when unauthenticated.
func (g *Gateway) CurrentUser(ctx context.Context) *models.User {
	if u := g.cachedUser(); u != nil {
		return u
	}

	if !g.CheckStatus(ctx) {
		return nil
	}

	return g.cachedUser()
}

// Preferences fetches the user's preferences from a fresh profile read. A
// rejected token is cleared.
func (g *Gateway) Preferences(ctx context.Context) (map[string]any, error) {
	g.mu.Lock()
	token, gen := g.token, g.gen
	g.mu.Unlock()

	if token == "" {
		return nil, ErrNotAuthenticated
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	user, err := g.backend.Profile(cctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenRejected) {
			log.Warn().Err(err).Str("token_fp", Fingerprint(token)).Msg("token rejected by backend")
			g.clearIf(gen)
		}
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}

	g.mu.Lock()
	if g.gen == gen {
		g.user = user
	}
	g.mu.Unlock()

	if user.Preferences == nil {
		return map[string]any{}, nil
	}

	return user.Preferences, nil
}

var _ oauth2.TokenSource = (*Gateway)(nil)

// Token implements oauth2.TokenSource so authenticated backend calls carry
// the cached token.
func (g *Gateway) Token() (*oauth2.Token, error) {
	g.mu.Lock()
	token := g.token
	g.mu.Unlock()

	if token == "" {
		return nil, ErrNotAuthenticated
	}

	t := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
	if exp, ok := tokenExpiry(token); ok {
		t.Expiry = exp
	}

	return t, nil
}

func (g *Gateway) cachedUser() *models.User {
	g.mu.Lock()
	defer g.mu.Unlock()

	return cloneUser(g.user)
}

func (g *Gateway) clearIf(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.gen == gen {
		g.clearLocked()
	}
}

func (g *Gateway) clearLocked() {
	g.token = ""
	g.user = nil
	g.gen++

	if err := g.store.Clear(); err != nil {
		log.Warn().Err(err).Msg("failed to remove persisted token")
	}
}

func cloneUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
