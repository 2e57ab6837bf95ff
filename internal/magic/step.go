// Package magic implements the passwordless login step: collect an email
// address, mail a one-time link to it, and finish the login once the link is
// redeemed.
package magic

import (
	"context"
	"strings"

	"github.com/dukerupert/magiclink/internal/directory"
	"github.com/dukerupert/magiclink/internal/email"
	"github.com/dukerupert/magiclink/internal/flow"
	"github.com/dukerupert/magiclink/internal/form"
	"github.com/dukerupert/magiclink/internal/model"
	"github.com/dukerupert/magiclink/internal/token"
)

// Challenge messages shown with the username form.
const (
	MsgInvalidUsernameOrEmail = "Invalid username or email."
	MsgInvalidUsername        = "Invalid username."
	MsgAccountDisabled        = "Account is disabled, contact your administrator."
)

type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetOrCreate(ctx context.Context, email string, opts directory.Options) (*model.User, error)
}

type TokenIssuer interface {
	Issue(ctx context.Context, req token.Request) (*token.ActionToken, error)
	Link(t *token.ActionToken) string
}

type MailSender interface {
	SendMagicLink(ctx context.Context, user *model.User, link string) error
}

type FormRenderer interface {
	LoginUsername(d form.LoginData) *form.Page
	EmailSent(email string, rememberMe bool) *form.Page
}

// Step is the magic link authenticator. It holds no per-request state; all
// of it lives on the flow context and its attempt.
type Step struct {
	users  UserDirectory
	tokens TokenIssuer
	mail   MailSender
	forms  FormRenderer
}

func New(users UserDirectory, tokens TokenIssuer, mail MailSender, forms FormRenderer) *Step {
	return &Step{users: users, tokens: tokens, mail: mail, forms: forms}
}

// Authenticate finishes the login once a link was redeemed, otherwise shows
// the username form, sends the link for an identifier a previous step left
// behind, or keeps showing the "check your email" page.
func (s *Step) Authenticate(fc *flow.Context) {
	fc.Logger.Debug("magic link authenticate")
	attempted := s.attemptedUsername(fc)

	switch {
	case fc.Attempt.ValidSession:
		u, err := s.lookup(fc.Ctx, attempted)
		if err != nil {
			fc.Logger.Error("load user for validated session", "error", err)
		}
		if u == nil {
			fc.Record(s.errorEvent(fc, model.EventLogin, model.ErrorUserNotFound))
			fc.FailureChallenge(flow.ErrUserNotFound, s.loginForm(fc, defaultMessage(fc)))
			return
		}
		fc.SetUser(u)
		fc.Success()
	case attempted == "":
		fc.Challenge(s.loginForm(fc, ""))
	case !fc.Attempt.EmailSent:
		fc.Logger.Debug("found attempted username from previous step, skipping login form", "username", attempted)
		s.Action(fc)
	default:
		fc.Challenge(s.forms.EmailSent(attempted, fc.Attempt.RememberMe))
	}
}

// Action sends a magic link to the submitted address, or to the attempted
// identifier when the form is empty.
func (s *Step) Action(fc *flow.Context) {
	fc.Logger.Debug("magic link action")

	addr := strings.TrimSpace(fc.Form.Get("username"))
	if addr == "" {
		addr = s.attemptedUsername(fc)
	}
	if addr == "" {
		fc.Record(s.errorEvent(fc, model.EventLogin, model.ErrorUserNotFound))
		fc.FailureChallenge(flow.ErrUserNotFound, s.loginForm(fc, defaultMessage(fc)))
		return
	}

	opts := ParseOptions(fc.Config)
	u, err := s.users.GetOrCreate(fc.Ctx, addr, directory.Options{
		ForceCreate:    opts.CreateUser,
		UpdateProfile:  opts.UpdateProfile,
		UpdatePassword: opts.UpdatePassword,
		OnRegister: func(u *model.User) {
			e := fc.NewEvent(model.EventRegister)
			e.UserID = u.ID
			e.Details = map[string]string{"email": u.Email, "register_method": "magic_link"}
			fc.Record(e)
		},
	})
	if err != nil {
		fc.Logger.Error("get or create user", "error", err)
		u = nil
	}

	if u == nil || strings.TrimSpace(u.Email) == "" || !email.Valid(u.Email) {
		fc.Record(s.errorEvent(fc, model.EventLoginError, model.ErrorInvalidEmail))
		fc.FailureChallenge(flow.ErrInvalidEmail, s.loginForm(fc, defaultMessage(fc)))
		return
	}
	fc.Logger.Debug("resolved user", "user_id", u.ID, "enabled", u.Enabled)

	if !u.Enabled {
		e := s.errorEvent(fc, model.EventLoginError, model.ErrorUserDisabled)
		e.UserID = u.ID
		fc.Record(e)
		fc.FailureChallenge(flow.ErrUserDisabled, s.loginForm(fc, MsgAccountDisabled))
		return
	}

	s.sendLink(fc, u, opts)

	fc.Attempt.AttemptedUsername = addr
	fc.Attempt.EmailSent = true
	fc.Challenge(s.forms.EmailSent(u.Email, fc.Attempt.RememberMe))
}

// sendLink issues a token and mails it. Failures are logged only: the user
// sees the same page either way.
func (s *Step) sendLink(fc *flow.Context, u *model.User, opts Options) {
	rememberMe := rememberMe(fc)
	fc.Attempt.RememberMe = rememberMe

	tok, err := s.tokens.Issue(fc.Ctx, token.Request{
		UserID:     u.ID,
		Email:      u.Email,
		ClientID:   fc.Client.ID,
		RememberMe: rememberMe,
		AttemptID:  fc.Attempt.ID,
		TabID:      fc.Attempt.TabID,
		Persistent: opts.TokenPersistent,
	})
	if err != nil {
		fc.Logger.Error("issue action token", "user_id", u.ID, "error", err)
		return
	}

	e := fc.NewEvent(model.EventSendLink)
	e.UserID = u.ID
	e.Details = map[string]string{"email": u.Email, "token_id": tok.Claims.ID}

	err = s.mail.SendMagicLink(fc.Ctx, u, s.tokens.Link(tok))
	if err != nil {
		fc.Logger.Error("send magic link email", "user_id", u.ID, "error", err)
		e.Details["sent"] = "false"
	} else {
		fc.Logger.Debug("sent magic link email", "user_id", u.ID)
		e.Details["sent"] = "true"
	}
	fc.Record(e)
}

// attemptedUsername resolves the identifier this attempt is for: the bound
// user's email, else the remembered username as an email or the email of the
// user it names. It returns "" when nothing resolves.
func (s *Step) attemptedUsername(fc *flow.Context) string {
	if fc.User != nil && fc.User.Email != "" {
		return fc.User.Email
	}
	name := strings.TrimSpace(fc.Attempt.AttemptedUsername)
	if name == "" {
		return ""
	}
	if email.Valid(name) {
		return name
	}
	u, err := s.users.GetByUsername(fc.Ctx, name)
	if err != nil {
		fc.Logger.Error("look up attempted username", "error", err)
		return ""
	}
	if u != nil && u.Email != "" {
		return u.Email
	}
	return ""
}

func (s *Step) lookup(ctx context.Context, identifier string) (*model.User, error) {
	if identifier == "" {
		return nil, nil
	}
	if email.Valid(identifier) {
		return s.users.GetByEmail(ctx, identifier)
	}
	return s.users.GetByUsername(ctx, identifier)
}

func (s *Step) loginForm(fc *flow.Context, msg string) *form.Page {
	return s.forms.LoginUsername(form.LoginData{
		Form:              fc.Form,
		Error:             msg,
		RememberMeAllowed: fc.Realm.RememberMe,
		LoginWithEmail:    fc.Realm.LoginWithEmailAllowed,
	})
}

func (s *Step) errorEvent(fc *flow.Context, t model.EventType, code string) model.Event {
	e := fc.NewEvent(t)
	e.Error = code
	return e
}

func rememberMe(fc *flow.Context) bool {
	return fc.Realm.RememberMe && strings.EqualFold(fc.Form.Get("rememberMe"), "on")
}

func defaultMessage(fc *flow.Context) string {
	if fc.Realm.LoginWithEmailAllowed {
		return MsgInvalidUsernameOrEmail
	}
	return MsgInvalidUsername
}
