package flow

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/dukerupert/magiclink/internal/audit"
	"github.com/dukerupert/magiclink/internal/form"
	"github.com/dukerupert/magiclink/internal/model"
)

// Status is the outcome an authenticator reports for one call.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusChallenge
	StatusFailureChallenge
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusChallenge:
		return "challenge"
	case StatusFailureChallenge:
		return "failure_challenge"
	default:
		return "pending"
	}
}

// RealmSettings are the realm-wide login options an authenticator may consult.
type RealmSettings struct {
	RememberMe            bool
	LoginWithEmailAllowed bool
}

// Authenticator is one step of a login flow. Authenticate runs on every pass
// through the flow; Action runs when the user submits the step's form.
type Authenticator interface {
	Authenticate(fc *Context)
	Action(fc *Context)
}

// Context carries one request through an authenticator and collects its
// outcome. Attempt is mutated in place and saved by the Executor afterwards.
type Context struct {
	Ctx     context.Context
	Attempt *model.Attempt
	User    *model.User
	Realm   RealmSettings
	Client  model.Client
	Form    url.Values
	Config  map[string]string
	IP      string
	Events  audit.Recorder
	Logger  *slog.Logger

	status Status
	page   *form.Page
	err    error
}

// SetUser binds the user being authenticated to the flow and its attempt.
func (fc *Context) SetUser(u *model.User) {
	fc.User = u
	if u != nil {
		fc.Attempt.AuthenticatedUserID = u.ID
	} else {
		fc.Attempt.AuthenticatedUserID = ""
	}
}

func (fc *Context) Success() {
	fc.status = StatusSuccess
	fc.page = nil
	fc.err = nil
}

func (fc *Context) Challenge(p *form.Page) {
	fc.status = StatusChallenge
	fc.page = p
	fc.err = nil
}

func (fc *Context) FailureChallenge(err error, p *form.Page) {
	fc.status = StatusFailureChallenge
	fc.page = p
	fc.err = err
}

func (fc *Context) Status() Status   { return fc.status }
func (fc *Context) Page() *form.Page { return fc.page }
func (fc *Context) Err() error       { return fc.err }

// NewEvent returns an event pre-filled with the flow's client, attempt and
// user.
func (fc *Context) NewEvent(t model.EventType) model.Event {
	e := model.Event{
		Type:     t,
		ClientID: fc.Client.ID,
		IP:       fc.IP,
	}
	if fc.Attempt != nil {
		e.AttemptID = fc.Attempt.ID
	}
	if fc.User != nil {
		e.UserID = fc.User.ID
	}
	return e
}

// Record sends e to the flow's audit recorder.
func (fc *Context) Record(e model.Event) {
	if fc.Events == nil {
		return
	}
	fc.Events.Record(fc.Ctx, e)
}
