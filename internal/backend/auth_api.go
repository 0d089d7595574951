package backend

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/wolfeidau/engagetrack/internal/auth"
	"github.com/wolfeidau/engagetrack/internal/models"
)

// AuthAPI performs the identity calls. It holds no token of its own.
type AuthAPI struct {
	cfg  Config
	anon *http.Client
}

func NewAuthAPI(cfg Config) *AuthAPI {
	return &AuthAPI{cfg: cfg, anon: &http.Client{}}
}

// wireUser accepts both "id" and "_id" since the backend is inconsistent.
type wireUser struct {
	ID          string         `json:"id"`
	MongoID     string         `json:"_id"`
	Name        string         `json:"name"`
	Email       string         `json:"email"`
	Preferences map[string]any `json:"preferences"`
}

func (u *wireUser) toModel() *models.User {
	if u == nil {
		return nil
	}
	id := u.ID
	if id == "" {
		id = u.MongoID
	}
	return &models.User{ID: id, Name: u.Name, Email: u.Email, Preferences: u.Preferences}
}

// Login exchanges credentials for a token.
func (a *AuthAPI) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	var resp struct {
		Token string    `json:"token"`
		User  *wireUser `json:"user"`
	}

	err := doJSON(ctx, a.anon, a.cfg.Timeout, http.MethodPost, joinURL(a.cfg.BaseURL, "/auth/login"),
		map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return "", nil, err
	}

	return resp.Token, resp.User.toModel(), nil
}

// Profile fetches the user the token belongs to, which also verifies the token.
// A 401 or 403 wraps auth.ErrTokenRejected.
func (a *AuthAPI) Profile(ctx context.Context, token string) (*models.User, error) {
	hc := newAuthedHTTPClient(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	var resp struct {
		User *wireUser `json:"user"`
	}

	if err := doJSON(ctx, hc, a.cfg.Timeout, http.MethodGet, joinURL(a.cfg.BaseURL, "/auth/profile"), nil, &resp); err != nil {
		if IsStatus(err, http.StatusUnauthorized) || IsStatus(err, http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %w", auth.ErrTokenRejected, err)
		}
		return nil, err
	}

	if resp.User == nil {
		return nil, &APIError{Status: http.StatusNotFound, Message: "user not found"}
	}

	return resp.User.toModel(), nil
}
