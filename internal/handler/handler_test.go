package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/magiclink/internal/audit"
	"github.com/dukerupert/magiclink/internal/config"
	"github.com/dukerupert/magiclink/internal/database"
	"github.com/dukerupert/magiclink/internal/directory"
	"github.com/dukerupert/magiclink/internal/flow"
	"github.com/dukerupert/magiclink/internal/form"
	"github.com/dukerupert/magiclink/internal/magic"
	"github.com/dukerupert/magiclink/internal/middleware"
	"github.com/dukerupert/magiclink/internal/model"
	"github.com/dukerupert/magiclink/internal/store"
	"github.com/dukerupert/magiclink/internal/token"
)

type capturedMail struct {
	mu    sync.Mutex
	links []string
}

func (m *capturedMail) SendMagicLink(ctx context.Context, u *model.User, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

func (m *capturedMail) last(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.links) == 0 {
		t.Fatal("no magic link was sent")
	}
	u, err := url.Parse(m.links[len(m.links)-1])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return u.RequestURI()
}

type recordingNotifier struct {
	notified []string
}

func (n *recordingNotifier) Notify(attemptID, msgType string) int {
	n.notified = append(n.notified, attemptID+":"+msgType)
	return 1
}

type testEnv struct {
	mux      http.Handler
	users    *store.UserStore
	events   *store.EventStore
	mail     *capturedMail
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, stepConfig map[string]string) *testEnv {
	t.Helper()
	return newTestEnvWithClients(t, stepConfig, []config.Client{
		{ID: "account", RedirectURIs: []string{"/account"}},
		{ID: "shop", RedirectURIs: []string{"https://shop.example.com/*"}},
	})
}

func newTestEnvWithClients(t *testing.T, stepConfig map[string]string, clients []config.Client) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	attempts := store.NewAttemptStore(db, time.Hour)
	sessions := store.NewSessionStore(db)
	events := store.NewEventStore(db)
	recorder := audit.NewLog(events, logger)

	issuer, err := token.NewIssuer("handler-test-secret", "http://id.test", 0)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	renderer, err := form.NewRenderer(logger)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	mail := &capturedMail{}
	step := magic.New(directory.New(users, logger), issuer, mail, renderer)
	exec := flow.NewExecutor(attempts, users, step, flow.Config{
		Realm:         flow.RealmSettings{RememberMe: true, LoginWithEmailAllowed: true},
		Authenticator: stepConfig,
	}, logger, flow.WithEvents(recorder))

	cfg := &config.Config{Clients: clients}
	notifier := &recordingNotifier{}

	h := NewAuthHandler(AuthHandlerDeps{
		Flow:     exec,
		Clients:  cfg,
		Attempts: attempts,
		Sessions: sessions,
		Users:    users,
		Tokens:   issuer,
		Consumed: store.NewConsumedTokenStore(db),
		Notifier: notifier,
		Events:   recorder,
		Forms:    renderer,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", h.LoginPage)
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("GET "+token.RedeemPath, h.Redeem)
	mux.HandleFunc("POST /logout", h.Logout)
	mux.Handle("GET /account", middleware.RequireAuth(sessions, users, "/login")(http.HandlerFunc(h.Account)))

	return &testEnv{mux: mux, users: users, events: events, mail: mail, notifier: notifier}
}

// browser keeps cookies between requests the way a user agent would.
type browser struct {
	env     *testEnv
	cookies map[string]string
}

func (e *testEnv) browser() *browser {
	return &browser{env: e, cookies: map[string]string{}}
}

func (b *browser) do(t *testing.T, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	rec := httptest.NewRecorder()
	b.env.mux.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c.Value
	}
	return rec
}

func (e *testEnv) createUser(t *testing.T, username, email string) *model.User {
	t.Helper()
	u, err := e.users.Create(context.Background(), username, email)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestLoginPageShowsForm(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.browser()

	rec := b.do(t, "GET", "/login", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `name="username"`) {
		t.Error("expected username form")
	}
	if b.cookies[AttemptCookieName] == "" {
		t.Error("expected attempt cookie")
	}
}

func TestLoginPageUnknownClient(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.browser().do(t, "GET", "/login?client_id=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.browser()
	b.do(t, "GET", "/login", nil)

	rec := b.do(t, "POST", "/login", url.Values{"username": {"nobody@example.com"}})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rec.Body.String(), "Invalid username or email.") {
		t.Error("expected inline error")
	}
	if len(env.mail.links) != 0 {
		t.Error("no link should be sent for an unknown user")
	}
}

func TestMagicLinkLoginFromOtherDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	u := env.createUser(t, "alice", "alice@example.com")

	desktop := env.browser()
	desktop.do(t, "GET", "/login", nil)
	attemptID := desktop.cookies[AttemptCookieName]

	rec := desktop.do(t, "POST", "/login", url.Values{"username": {"alice@example.com"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /login status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "Check your email") {
		t.Fatal("expected email-sent page")
	}

	// Reloading keeps showing the waiting page without sending again.
	rec = desktop.do(t, "GET", "/login", nil)
	if !strings.Contains(rec.Body.String(), "Check your email") {
		t.Error("expected email-sent page on reload")
	}
	if len(env.mail.links) != 1 {
		t.Errorf("sent %d links, want 1", len(env.mail.links))
	}

	phone := env.browser()
	rec = phone.do(t, "GET", env.mail.last(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "You are signed in") {
		t.Error("expected return-to-tab page")
	}
	if len(env.notifier.notified) != 1 || !strings.HasPrefix(env.notifier.notified[0], attemptID+":") {
		t.Errorf("notified = %v, want attempt %s", env.notifier.notified, attemptID)
	}
	if _, ok := phone.cookies[middleware.SessionCookieName]; ok {
		t.Error("redeeming browser must not receive the session")
	}

	rec = desktop.do(t, "GET", "/login", nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("continue status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get("Location"); loc != "/account" {
		t.Errorf("Location = %q, want %q", loc, "/account")
	}
	if desktop.cookies[middleware.SessionCookieName] == "" {
		t.Fatal("expected session cookie")
	}
	if _, ok := desktop.cookies[AttemptCookieName]; ok {
		t.Error("attempt cookie should be cleared after login")
	}

	rec = desktop.do(t, "GET", "/account", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "alice@example.com") {
		t.Errorf("account page status = %d", rec.Code)
	}

	got, _ := env.users.GetByID(context.Background(), u.ID)
	if !got.EmailVerified {
		t.Error("redeeming a link should verify the email")
	}

	logins, err := env.events.ListByType(context.Background(), model.EventLogin, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(logins) != 1 || logins[0].UserID != u.ID {
		t.Errorf("login events = %+v", logins)
	}

	rec = desktop.do(t, "POST", "/logout", nil)
	if rec.Code != http.StatusSeeOther {
		t.Errorf("logout status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	rec = desktop.do(t, "GET", "/account", nil)
	if rec.Code != http.StatusSeeOther {
		t.Errorf("account after logout status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
}

func TestMagicLinkSameBrowserContinues(t *testing.T) {
	env := newTestEnv(t, map[string]string{magic.KeyCreateUser: "true"})
	b := env.browser()
	b.do(t, "GET", "/login?client_id=shop&redirect_uri="+url.QueryEscape("https://shop.example.com/cb"), nil)
	b.do(t, "POST", "/login", url.Values{"username": {"new@example.com"}, "rememberMe": {"on"}})

	rec := b.do(t, "GET", env.mail.last(t), nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("redeem = %d %q, want redirect to /login", rec.Code, rec.Header().Get("Location"))
	}

	rec = b.do(t, "GET", "/login", nil)
	if loc := rec.Header().Get("Location"); loc != "https://shop.example.com/cb" {
		t.Errorf("Location = %q, want client redirect", loc)
	}

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			session = c
		}
	}
	if session == nil || session.Expires.IsZero() {
		t.Error("remember-me session cookie should be persistent")
	}

	u, _ := env.users.GetByEmail(context.Background(), "new@example.com")
	if u == nil {
		t.Fatal("expected provisioned user")
	}
}

func TestRedeemSingleUseToken(t *testing.T) {
	env := newTestEnv(t, map[string]string{magic.KeyTokenPersistent: "false"})
	env.createUser(t, "alice", "alice@example.com")
	b := env.browser()
	b.do(t, "GET", "/login", nil)
	b.do(t, "POST", "/login", url.Values{"username": {"alice"}})
	link := env.mail.last(t)

	if rec := env.browser().do(t, "GET", link, nil); rec.Code != http.StatusOK {
		t.Fatalf("first redeem status = %d, want %d", rec.Code, http.StatusOK)
	}
	rec := env.browser().do(t, "GET", link, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second redeem status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "already been used") {
		t.Error("expected consumed message")
	}
}

func TestRedeemInvalidToken(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.browser().do(t, "GET", token.RedeemPath+"?key=garbage", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	evs, _ := env.events.ListByType(context.Background(), model.EventRedeemLink, 10)
	if len(evs) != 1 || evs[0].Error != model.ErrorInvalidToken {
		t.Errorf("events = %+v", evs)
	}
}

func TestRedeemDisabledUser(t *testing.T) {
	env := newTestEnv(t, nil)
	u := env.createUser(t, "alice", "alice@example.com")
	b := env.browser()
	b.do(t, "GET", "/login", nil)
	b.do(t, "POST", "/login", url.Values{"username": {"alice@example.com"}})

	if err := env.users.SetEnabled(context.Background(), u.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	rec := b.do(t, "GET", env.mail.last(t), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestLoginWithWildcardOnlyClient(t *testing.T) {
	env := newTestEnvWithClients(t, nil, []config.Client{
		{ID: "shop", RedirectURIs: []string{"https://shop.example.com/*"}},
	})
	env.createUser(t, "alice", "alice@example.com")
	b := env.browser()

	rec := b.do(t, "GET", "/login?client_id=shop&redirect_uri="+url.QueryEscape("https://shop.example.com/cb"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /login status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = b.do(t, "POST", "/login", url.Values{"username": {"alice@example.com"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /login status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "Check your email") {
		t.Fatal("expected email-sent page")
	}

	if rec := b.do(t, "GET", "/login", nil); rec.Code != http.StatusOK {
		t.Fatalf("waiting page status = %d, want %d", rec.Code, http.StatusOK)
	}

	env.browser().do(t, "GET", env.mail.last(t), nil)

	rec = b.do(t, "GET", "/login", nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("continue status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get("Location"); loc != "https://shop.example.com/cb" {
		t.Errorf("Location = %q, want %q", loc, "https://shop.example.com/cb")
	}
}

func TestLoginWithWildcardOnlyClientNeedsRedirect(t *testing.T) {
	env := newTestEnvWithClients(t, nil, []config.Client{
		{ID: "shop", RedirectURIs: []string{"https://shop.example.com/*"}},
	})

	if rec := env.browser().do(t, "GET", "/login", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("GET /login status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	rec := env.browser().do(t, "POST", "/login", url.Values{"username": {"alice@example.com"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /login status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestLoginHintSendsLink(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createUser(t, "alice", "alice@example.com")
	b := env.browser()

	rec := b.do(t, "GET", "/login?login_hint="+url.QueryEscape("alice@example.com"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "Check your email") {
		t.Fatal("expected email-sent page")
	}
	if len(env.mail.links) != 1 {
		t.Fatalf("sent %d links, want 1", len(env.mail.links))
	}

	env.browser().do(t, "GET", env.mail.last(t), nil)
	rec = b.do(t, "GET", "/login", nil)
	if loc := rec.Header().Get("Location"); loc != "/account" {
		t.Errorf("Location = %q, want %q", loc, "/account")
	}
}

func TestLoginHintByUsername(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createUser(t, "alice", "alice@example.com")

	rec := env.browser().do(t, "GET", "/login?login_hint=alice", nil)
	if !strings.Contains(rec.Body.String(), "alice@example.com") {
		t.Error("email-sent page should name the address the link went to")
	}
	if len(env.mail.links) != 1 {
		t.Errorf("sent %d links, want 1", len(env.mail.links))
	}
}

func TestResendKeepsRememberMe(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createUser(t, "alice", "alice@example.com")
	b := env.browser()
	b.do(t, "GET", "/login", nil)

	rec := b.do(t, "POST", "/login", url.Values{"username": {"alice"}, "rememberMe": {"on"}})
	body := rec.Body.String()
	if !strings.Contains(body, `<input type="hidden" name="username" value="alice@example.com">`) {
		t.Fatal("expected resend form for the user's email")
	}
	if !strings.Contains(body, `<input type="hidden" name="rememberMe" value="on">`) {
		t.Fatal("expected resend form to carry remember me")
	}

	// Submit the resend form as the page renders it.
	b.do(t, "POST", "/login", url.Values{"username": {"alice@example.com"}, "rememberMe": {"on"}})
	if len(env.mail.links) != 2 {
		t.Fatalf("sent %d links, want 2", len(env.mail.links))
	}

	b.do(t, "GET", env.mail.last(t), nil)
	rec = b.do(t, "GET", "/login", nil)

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			session = c
		}
	}
	if session == nil || session.Expires.IsZero() {
		t.Error("session from a resent link should keep remember me")
	}
}
