package model

import "time"

// RequiredAction is an action a user must complete after their next login.
type RequiredAction string

const (
	ActionUpdateProfile  RequiredAction = "UPDATE_PROFILE"
	ActionUpdatePassword RequiredAction = "UPDATE_PASSWORD"
)

type User struct {
	ID              string           `json:"id"`
	Username        string           `json:"username"`
	Email           string           `json:"email"`
	EmailVerified   bool             `json:"email_verified"`
	Enabled         bool             `json:"enabled"`
	RequiredActions []RequiredAction `json:"required_actions,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Client is the relying application a login is performed for.
type Client struct {
	ID          string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
}
