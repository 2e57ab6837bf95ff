package model

import "time"

// Session is a logged-in user session created when a login flow succeeds.
type Session struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	UserID     string    `json:"user_id"`
	ClientID   string    `json:"client_id"`
	RememberMe bool      `json:"remember_me"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}
