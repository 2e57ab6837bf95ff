package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/magiclink/internal/audit"
	"github.com/dukerupert/magiclink/internal/flow"
	"github.com/dukerupert/magiclink/internal/form"
	"github.com/dukerupert/magiclink/internal/middleware"
	"github.com/dukerupert/magiclink/internal/model"
	"github.com/dukerupert/magiclink/internal/token"
)

// AttemptCookieName ties a browser to its in-progress login.
const AttemptCookieName = "magiclink_attempt"

type FlowRunner interface {
	Run(ctx context.Context, req flow.Request, entry flow.Entry) (*flow.Result, error)
}

type ClientResolver interface {
	ResolveClient(clientID, redirectURI string) (model.Client, error)
}

type AttemptStore interface {
	Get(ctx context.Context, id string) (*model.Attempt, error)
	Save(ctx context.Context, a *model.Attempt) error
	Delete(ctx context.Context, id string) error
}

type SessionStore interface {
	Create(ctx context.Context, userID, clientID string, rememberMe bool) (*model.Session, error)
	GetByToken(ctx context.Context, token string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	SetEmailVerified(ctx context.Context, id string, verified bool) error
}

type TokenVerifier interface {
	Verify(raw string) (*token.Claims, error)
}

type TokenConsumer interface {
	Consume(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
}

type AttemptNotifier interface {
	Notify(attemptID, msgType string) int
}

type RedeemObserver interface {
	LinkRedeemed(result string)
}

// Paths the login pages link to each other with.
type Paths struct {
	Login   string
	Account string
	Logout  string
}

func DefaultPaths() Paths {
	return Paths{Login: "/login", Account: "/account", Logout: "/logout"}
}

// AuthHandler serves the browser side of the magic link login.
type AuthHandler struct {
	flow       FlowRunner
	clients    ClientResolver
	attempts   AttemptStore
	sessions   SessionStore
	users      UserStore
	tokens     TokenVerifier
	consumed   TokenConsumer
	notifier   AttemptNotifier
	events     audit.Recorder
	observer   RedeemObserver
	forms      *form.Renderer
	paths      Paths
	attemptTTL time.Duration
	logger     *slog.Logger
}

type AuthHandlerDeps struct {
	Flow       FlowRunner
	Clients    ClientResolver
	Attempts   AttemptStore
	Sessions   SessionStore
	Users      UserStore
	Tokens     TokenVerifier
	Consumed   TokenConsumer
	Notifier   AttemptNotifier
	Events     audit.Recorder
	Observer   RedeemObserver
	Forms      *form.Renderer
	Paths      Paths
	AttemptTTL time.Duration
}

func NewAuthHandler(d AuthHandlerDeps, logger *slog.Logger) *AuthHandler {
	if d.Events == nil {
		d.Events = audit.Discard{}
	}
	if d.Paths == (Paths{}) {
		d.Paths = DefaultPaths()
	}
	return &AuthHandler{
		flow:       d.Flow,
		clients:    d.Clients,
		attempts:   d.Attempts,
		sessions:   d.Sessions,
		users:      d.Users,
		tokens:     d.Tokens,
		consumed:   d.Consumed,
		notifier:   d.Notifier,
		events:     d.Events,
		observer:   d.Observer,
		forms:      d.Forms,
		paths:      d.Paths,
		attemptTTL: d.AttemptTTL,
		logger:     logger,
	}
}

// AttemptID returns the login attempt the request's browser owns, or "".
func AttemptID(r *http.Request) string {
	c, err := r.Cookie(AttemptCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// LoginPage starts or resumes a login. A client_id, redirect_uri or
// login_hint in the query always starts a new attempt; otherwise the attempt
// the browser already owns is resumed with the client it was started for.
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := flow.Request{
		AttemptID: AttemptID(r),
		LoginHint: strings.TrimSpace(q.Get("login_hint")),
		IP:        middleware.RealIP(r),
	}
	if q.Has("client_id") || q.Has("redirect_uri") || q.Has("login_hint") {
		req.AttemptID = ""
	}

	if !h.resolveClient(w, r, &req, q.Get("client_id"), q.Get("redirect_uri")) {
		return
	}
	h.run(w, r, req, flow.EntryAuthenticate)
}

// Login handles the username form.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	req := flow.Request{
		AttemptID: AttemptID(r),
		Form:      r.PostForm,
		IP:        middleware.RealIP(r),
	}
	if !h.resolveClient(w, r, &req, "", "") {
		return
	}
	h.run(w, r, req, flow.EntryAction)
}

// resolveClient fills req.Client when the request needs a new attempt. A
// live attempt keeps the client it was started for, so a resumed login never
// depends on the default client. It writes the error page and returns false
// when no client fits.
func (h *AuthHandler) resolveClient(w http.ResponseWriter, r *http.Request, req *flow.Request, clientID, redirectURI string) bool {
	if req.AttemptID != "" {
		a, err := h.attempts.Get(r.Context(), req.AttemptID)
		if err != nil {
			h.logger.Error("load attempt", "attempt_id", req.AttemptID, "error", err)
			h.internalError(w)
			return false
		}
		if a != nil {
			return true
		}
	}

	client, err := h.clients.ResolveClient(clientID, redirectURI)
	if err != nil {
		h.logger.Warn("resolve client", "client_id", clientID, "error", err)
		h.forms.Write(w, h.forms.Info(http.StatusBadRequest, "Invalid request",
			"The application that sent you here is not allowed to sign in.", "", ""))
		return false
	}
	req.Client = client
	return true
}

func (h *AuthHandler) run(w http.ResponseWriter, r *http.Request, req flow.Request, entry flow.Entry) {
	res, err := h.flow.Run(r.Context(), req, entry)
	if err != nil {
		h.logger.Error("run login flow", "entry", entry, "error", err)
		h.internalError(w)
		return
	}

	if res.Status == flow.StatusSuccess {
		h.finishLogin(w, r, res)
		return
	}

	h.setAttemptCookie(w, r, res.Attempt)
	if res.Page == nil {
		h.logger.Error("login flow returned no page", "status", res.Status, "attempt_id", res.Attempt.ID)
		h.internalError(w)
		return
	}
	if res.Err != nil {
		var fe *flow.Error
		if errors.As(res.Err, &fe) {
			h.logger.Info("login challenge failed", "code", fe.Code, "attempt_id", res.Attempt.ID)
		}
	}
	h.forms.Write(w, res.Page)
}

// finishLogin turns a successful attempt into a user session.
func (h *AuthHandler) finishLogin(w http.ResponseWriter, r *http.Request, res *flow.Result) {
	a := res.Attempt
	if res.User == nil {
		h.logger.Error("login succeeded without a user", "attempt_id", a.ID)
		h.internalError(w)
		return
	}

	sess, err := h.sessions.Create(r.Context(), res.User.ID, a.ClientID, a.RememberMe)
	if err != nil {
		h.logger.Error("create session", "user_id", res.User.ID, "error", err)
		h.internalError(w)
		return
	}
	if err := h.attempts.Delete(r.Context(), a.ID); err != nil {
		h.logger.Error("delete finished attempt", "attempt_id", a.ID, "error", err)
	}

	cookie := &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	}
	if sess.RememberMe {
		cookie.Expires = sess.ExpiresAt
	}
	http.SetCookie(w, cookie)
	h.clearAttemptCookie(w, r)

	h.events.Record(r.Context(), model.Event{
		Type:      model.EventLogin,
		UserID:    res.User.ID,
		ClientID:  a.ClientID,
		AttemptID: a.ID,
		IP:        middleware.RealIP(r),
		Details:   map[string]string{"auth_method": "magic_link", "remember_me": boolString(sess.RememberMe)},
	})
	h.logger.Info("user logged in", "user_id", res.User.ID, "client_id", a.ClientID)

	target := a.RedirectURI
	if target == "" {
		target = h.paths.Account
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *AuthHandler) setAttemptCookie(w http.ResponseWriter, r *http.Request, a *model.Attempt) {
	c := &http.Cookie{
		Name:     AttemptCookieName,
		Value:    a.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	}
	if !a.ExpiresAt.IsZero() {
		c.Expires = a.ExpiresAt
	} else if h.attemptTTL > 0 {
		c.MaxAge = int(h.attemptTTL / time.Second)
	}
	http.SetCookie(w, c)
}

func (h *AuthHandler) clearAttemptCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     AttemptCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

func (h *AuthHandler) internalError(w http.ResponseWriter) {
	h.forms.Write(w, h.forms.Info(http.StatusInternalServerError, "Something went wrong",
		"We could not complete your sign in. Please try again.", h.paths.Login, "Back to sign in"))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
