package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/magiclink/internal/model"
)

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Insert(ctx context.Context, e model.Event) (int64, error) {
	details := e.Details
	if details == nil {
		details = map[string]string{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return 0, fmt.Errorf("marshal event details: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (type, error, user_id, client_id, attempt_id, ip, details) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.Type), e.Error, e.UserID, e.ClientID, e.AttemptID, e.IP, string(raw),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// ListByType returns the most recent events of the given type, newest first.
func (s *EventStore) ListByType(ctx context.Context, t model.EventType, limit int) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, error, user_id, client_id, attempt_id, ip, details, created_at
		 FROM events WHERE type = ? ORDER BY id DESC LIMIT ?`,
		string(t), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var typ, details string
		if err := rows.Scan(&e.ID, &typ, &e.Error, &e.UserID, &e.ClientID, &e.AttemptID, &e.IP, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = model.EventType(typ)
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("unmarshal event details: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
