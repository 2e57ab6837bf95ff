package model

import "time"

// Attempt is the state of one in-progress login within one authentication
// session. It is loaded before and saved after every flow step.
type Attempt struct {
	ID                  string    `json:"id"`
	TabID               string    `json:"tab_id"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	AttemptedUsername   string    `json:"attempted_username"`
	ValidSession        bool      `json:"valid_session"`
	EmailSent           bool      `json:"email_sent"`
	RememberMe          bool      `json:"remember_me"`
	AuthenticatedUserID string    `json:"authenticated_user_id,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// Expired reports whether the attempt can no longer be continued.
func (a *Attempt) Expired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}
