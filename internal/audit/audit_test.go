package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukerupert/magiclink/internal/model"
)

type fakeInserter struct {
	events []model.Event
	err    error
}

func (f *fakeInserter) Insert(ctx context.Context, e model.Event) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.events = append(f.events, e)
	return int64(len(f.events)), nil
}

func TestLogRecord(t *testing.T) {
	ins := &fakeInserter{}
	l := NewLog(ins, slog.Default())

	l.Record(context.Background(), model.Event{Type: model.EventRegister, UserID: "u1"})

	if len(ins.events) != 1 {
		t.Fatalf("got %d events, want 1", len(ins.events))
	}
	if ins.events[0].UserID != "u1" {
		t.Errorf("user id = %q, want %q", ins.events[0].UserID, "u1")
	}
}

func TestLogRecordStoreError(t *testing.T) {
	l := NewLog(&fakeInserter{err: errors.New("disk full")}, slog.Default())

	// Should not panic or propagate.
	l.Record(context.Background(), model.Event{Type: model.EventLoginError, Error: model.ErrorUserNotFound})
}
