package flow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukerupert/magiclink/internal/audit"
	"github.com/dukerupert/magiclink/internal/form"
	"github.com/dukerupert/magiclink/internal/model"
)

const tracerName = "github.com/dukerupert/magiclink/internal/flow"

// AttemptStore persists attempts between requests. Get returns nil for
// unknown or expired attempts.
type AttemptStore interface {
	Create(ctx context.Context, client model.Client) (*model.Attempt, error)
	Get(ctx context.Context, id string) (*model.Attempt, error)
	Save(ctx context.Context, a *model.Attempt) error
}

type UserGetter interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type Observer interface {
	ObserveFlow(entry, status string, d time.Duration)
}

// Entry selects which authenticator method a run invokes.
type Entry string

const (
	EntryAuthenticate Entry = "authenticate"
	EntryAction       Entry = "action"
)

// Request is one pass of a browser through the flow.
type Request struct {
	AttemptID string
	Client    model.Client
	Form      url.Values
	IP        string
	// LoginHint becomes the attempted username of a newly created attempt.
	LoginHint string
}

// Result is the outcome of a run. Page is nil on success.
type Result struct {
	Attempt *model.Attempt
	Status  Status
	Page    *form.Page
	User    *model.User
	Err     error
}

type Config struct {
	Realm RealmSettings
	// Authenticator holds the step's string-keyed options. It is copied into
	// every run so a step never observes changes mid-request.
	Authenticator map[string]string
}

// Executor drives a single authenticator through a request, loading and
// saving the attempt around it.
type Executor struct {
	attempts AttemptStore
	users    UserGetter
	step     Authenticator
	cfg      Config
	events   audit.Recorder
	observer Observer
	tracer   trace.Tracer
	logger   *slog.Logger
}

type ExecutorOption func(*Executor)

func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

func WithEvents(r audit.Recorder) ExecutorOption {
	return func(e *Executor) { e.events = r }
}

func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

func NewExecutor(attempts AttemptStore, users UserGetter, step Authenticator, cfg Config, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		attempts: attempts,
		users:    users,
		step:     step,
		cfg:      cfg,
		events:   audit.Discard{},
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes entry for the attempt named in req, starting a new attempt for
// req.Client when it is missing or expired. Only storage failures are
// returned as errors; login failures are reported in the Result.
func (e *Executor) Run(ctx context.Context, req Request, entry Entry) (*Result, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "flow."+string(entry))
	defer span.End()

	attempt, err := e.loadAttempt(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load attempt")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("attempt.id", attempt.ID),
		attribute.String("client.id", attempt.ClientID),
	)

	fc := &Context{
		Ctx:     ctx,
		Attempt: attempt,
		Realm:   e.cfg.Realm,
		Client:  model.Client{ID: attempt.ClientID, RedirectURI: attempt.RedirectURI},
		Form:    req.Form,
		Config:  maps.Clone(e.cfg.Authenticator),
		IP:      req.IP,
		Events:  e.events,
		Logger:  e.logger.With("attempt_id", attempt.ID, "tab_id", attempt.TabID),
	}
	if fc.Form == nil {
		fc.Form = url.Values{}
	}
	if attempt.AuthenticatedUserID != "" {
		u, err := e.users.GetByID(ctx, attempt.AuthenticatedUserID)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("load authenticated user: %w", err)
		}
		fc.User = u
	}

	switch entry {
	case EntryAction:
		e.step.Action(fc)
	default:
		e.step.Authenticate(fc)
	}

	if err := e.attempts.Save(ctx, attempt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save attempt")
		return nil, err
	}

	status := fc.Status()
	span.SetAttributes(attribute.String("flow.status", status.String()))
	if fc.Err() != nil {
		span.SetAttributes(attribute.String("flow.error", fc.Err().Error()))
	}
	if e.observer != nil {
		e.observer.ObserveFlow(string(entry), status.String(), time.Since(start))
	}

	if status == StatusPending {
		e.logger.Warn("authenticator finished without an outcome", "entry", entry, "attempt_id", attempt.ID)
	}

	return &Result{
		Attempt: attempt,
		Status:  status,
		Page:    fc.Page(),
		User:    fc.User,
		Err:     fc.Err(),
	}, nil
}

func (e *Executor) loadAttempt(ctx context.Context, req Request) (*model.Attempt, error) {
	if req.AttemptID != "" {
		a, err := e.attempts.Get(ctx, req.AttemptID)
		if err != nil {
			return nil, fmt.Errorf("load attempt: %w", err)
		}
		if a != nil {
			return a, nil
		}
		e.logger.Debug("attempt missing or expired, starting over", "attempt_id", req.AttemptID)
	}
	a, err := e.attempts.Create(ctx, req.Client)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	a.AttemptedUsername = req.LoginHint
	return a, nil
}
