package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/magiclink/internal/audit"
	"github.com/dukerupert/magiclink/internal/config"
	"github.com/dukerupert/magiclink/internal/directory"
	"github.com/dukerupert/magiclink/internal/email"
	"github.com/dukerupert/magiclink/internal/flow"
	"github.com/dukerupert/magiclink/internal/form"
	"github.com/dukerupert/magiclink/internal/handler"
	"github.com/dukerupert/magiclink/internal/magic"
	"github.com/dukerupert/magiclink/internal/metrics"
	"github.com/dukerupert/magiclink/internal/middleware"
	"github.com/dukerupert/magiclink/internal/model"
	"github.com/dukerupert/magiclink/internal/store"
	"github.com/dukerupert/magiclink/internal/token"
	ws "github.com/dukerupert/magiclink/internal/websocket"
)

const (
	loginPath   = "/login"
	statusPath  = "/login/ws"
	accountPath = "/account"
	logoutPath  = "/logout"
)

type Server struct {
	hub           *ws.Hub
	authH         *handler.AuthHandler
	userStore     *store.UserStore
	sessionStore  *store.SessionStore
	attemptStore  *store.AttemptStore
	consumedStore *store.ConsumedTokenStore
	rateLimiter   *middleware.RateLimiter
	metrics       *metrics.Metrics
	registry      *prometheus.Registry
	originHosts   []string
	proxies       []netip.Prefix
	logger        *slog.Logger
}

// New wires the stores, the magic link step and the HTTP handlers. reg
// receives the service's collectors and backs /metrics.
func New(db *sql.DB, cfg *config.Config, emailClient *email.Client, reg *prometheus.Registry, logger *slog.Logger) (*Server, error) {
	proxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	m := metrics.New(reg)
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	attemptStore := store.NewAttemptStore(db, cfg.Realm.AttemptLifetime)
	sessionStore := store.NewSessionStore(db)
	consumedStore := store.NewConsumedTokenStore(db)
	events := audit.NewLog(store.NewEventStore(db), logger.With("component", "audit"))

	issuer, err := token.NewIssuer(cfg.Token.Secret, cfg.Server.BaseURL, cfg.Token.TTL)
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}
	renderer, err := form.NewRenderer(logger.With("component", "form"), form.WithPaths(loginPath, statusPath))
	if err != nil {
		return nil, fmt.Errorf("form renderer: %w", err)
	}

	mailer := &instrumentedMailer{
		client:  emailClient,
		metrics: m,
		logger:  logger.With("component", "email"),
	}
	step := magic.New(
		directory.New(userStore, logger.With("component", "directory")),
		issuer,
		mailer,
		renderer,
	)
	exec := flow.NewExecutor(attemptStore, userStore, step, flow.Config{
		Realm: flow.RealmSettings{
			RememberMe:            cfg.Realm.RememberMe,
			LoginWithEmailAllowed: cfg.Realm.LoginWithEmail,
		},
		Authenticator: cfg.Authenticator,
	}, logger.With("component", "flow"), flow.WithObserver(m), flow.WithEvents(events))

	authH := handler.NewAuthHandler(handler.AuthHandlerDeps{
		Flow:       exec,
		Clients:    cfg,
		Attempts:   attemptStore,
		Sessions:   sessionStore,
		Users:      userStore,
		Tokens:     issuer,
		Consumed:   consumedStore,
		Notifier:   hub,
		Events:     events,
		Observer:   m,
		Forms:      renderer,
		Paths:      handler.Paths{Login: loginPath, Account: accountPath, Logout: logoutPath},
		AttemptTTL: cfg.Realm.AttemptLifetime,
	}, logger.With("component", "auth"))

	origins := append([]string{}, cfg.Server.AllowedOrigins...)
	if u, err := url.Parse(cfg.Server.BaseURL); err == nil && u.Host != "" {
		origins = append(origins, u.Host)
	}

	return &Server{
		hub:           hub,
		authH:         authH,
		userStore:     userStore,
		sessionStore:  sessionStore,
		attemptStore:  attemptStore,
		consumedStore: consumedStore,
		rateLimiter:   middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window),
		metrics:       m,
		registry:      reg,
		originHosts:   origins,
		proxies:       proxies,
		logger:        logger,
	}, nil
}

func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TrustProxies(s.proxies))
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.logger.With("component", "http"), s.metrics))

	r.Get("/health", handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Get(loginPath, s.authH.LoginPage)
	r.With(middleware.RateLimit(s.rateLimiter, middleware.RealIP)).Post(loginPath, s.authH.Login)
	r.Get(statusPath, ws.HandleStatus(s.hub, handler.AttemptID, s.originHosts, s.logger.With("component", "websocket")))
	r.Get(token.RedeemPath, s.authH.Redeem)
	r.Post(logoutPath, s.authH.Logout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(s.sessionStore, s.userStore, loginPath))
		r.Get(accountPath, s.authH.Account)
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, accountPath, http.StatusSeeOther)
	})

	return r
}

// Cleanup removes expired attempts, consumed token ids, sessions and rate
// limit windows.
func (s *Server) Cleanup(ctx context.Context) {
	if n, err := s.attemptStore.DeleteExpired(ctx); err != nil {
		s.logger.Error("cleanup attempts", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up expired attempts", "count", n)
	}
	if n, err := s.consumedStore.DeleteExpired(ctx); err != nil {
		s.logger.Error("cleanup consumed tokens", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up consumed tokens", "count", n)
	}
	if n, err := s.sessionStore.DeleteExpired(ctx); err != nil {
		s.logger.Error("cleanup sessions", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up expired sessions", "count", n)
	}
	s.rateLimiter.Cleanup()
}

// instrumentedMailer counts deliveries. Without a Postmark token it logs the
// link instead so a development setup stays usable.
type instrumentedMailer struct {
	client  *email.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func (m *instrumentedMailer) SendMagicLink(ctx context.Context, u *model.User, link string) error {
	if m.client == nil || !m.client.Configured() {
		m.logger.Info("email not configured, magic link", "user_id", u.ID, "email", u.Email, "link", link)
		return nil
	}
	err := m.client.SendMagicLink(ctx, u, link)
	m.metrics.LinkSent(err == nil)
	return err
}
