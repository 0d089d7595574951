package models

// User is the authenticated learner as returned by the backend profile endpoint.
type User struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Email       string         `json:"email,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}
