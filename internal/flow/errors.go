package flow

import "fmt"

// Code classifies a user-correctable login failure.
type Code string

const (
	CodeUserNotFound Code = "USER_NOT_FOUND"
	CodeInvalidEmail Code = "INVALID_EMAIL"
	CodeUserDisabled Code = "USER_DISABLED"
)

// Error is a login failure reported back to the user as a re-rendered
// challenge. It is never returned from an HTTP handler.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUserNotFound = &Error{Code: CodeUserNotFound, Message: "user not found"}
	ErrInvalidEmail = &Error{Code: CodeInvalidEmail, Message: "user has no usable email address"}
	ErrUserDisabled = &Error{Code: CodeUserDisabled, Message: "user is disabled"}
)
