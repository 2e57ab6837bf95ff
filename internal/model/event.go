package model

import "time"

type EventType string

const (
	EventLogin      EventType = "LOGIN"
	EventLoginError EventType = "LOGIN_ERROR"
	EventRegister   EventType = "REGISTER"
	EventLogout     EventType = "LOGOUT"
	EventSendLink   EventType = "SEND_MAGIC_LINK"
	EventRedeemLink EventType = "REDEEM_MAGIC_LINK"
)

// Event error codes.
const (
	ErrorUserNotFound  = "user_not_found"
	ErrorInvalidEmail  = "invalid_email"
	ErrorUserDisabled  = "user_disabled"
	ErrorInvalidToken  = "invalid_token"
	ErrorTokenConsumed = "token_consumed"
	ErrorExpiredLogin  = "expired_code"
)

// Event is an audit record of something that happened during a login.
type Event struct {
	ID        int64             `json:"id"`
	Type      EventType         `json:"type"`
	Error     string            `json:"error,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	ClientID  string            `json:"client_id,omitempty"`
	AttemptID string            `json:"attempt_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
