// Package audit records login events.
package audit

import (
	"context"
	"log/slog"

	"github.com/dukerupert/magiclink/internal/model"
)

// Recorder records an audit event. Implementations must not fail the caller;
// recording problems are logged.
type Recorder interface {
	Record(ctx context.Context, e model.Event)
}

type eventInserter interface {
	Insert(ctx context.Context, e model.Event) (int64, error)
}

// Log persists events and mirrors them to the structured log.
type Log struct {
	store  eventInserter
	logger *slog.Logger
}

func NewLog(store eventInserter, logger *slog.Logger) *Log {
	return &Log{store: store, logger: logger}
}

func (l *Log) Record(ctx context.Context, e model.Event) {
	level := slog.LevelInfo
	if e.Error != "" {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "event",
		"type", e.Type,
		"error", e.Error,
		"user_id", e.UserID,
		"client_id", e.ClientID,
		"attempt_id", e.AttemptID,
	)
	if _, err := l.store.Insert(ctx, e); err != nil {
		l.logger.Error("persist event", "type", e.Type, "error", err)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, model.Event) {}
