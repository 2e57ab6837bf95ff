package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/magiclink/internal/model"
)

// DefaultAttemptLifetime bounds how long a login may stay in progress,
// including the time spent waiting for the emailed link to be clicked.
const DefaultAttemptLifetime = 30 * time.Minute

// AttemptStore persists in-progress logins between requests.
type AttemptStore struct {
	db       *sql.DB
	lifetime time.Duration
}

func NewAttemptStore(db *sql.DB, lifetime time.Duration) *AttemptStore {
	if lifetime <= 0 {
		lifetime = DefaultAttemptLifetime
	}
	return &AttemptStore{db: db, lifetime: lifetime}
}

func scanAttempt(scanner interface{ Scan(...any) error }) (*model.Attempt, error) {
	var a model.Attempt
	var userID sql.NullString
	err := scanner.Scan(
		&a.ID, &a.TabID, &a.ClientID, &a.RedirectURI, &a.AttemptedUsername,
		&a.ValidSession, &a.EmailSent, &a.RememberMe, &userID,
		&a.ExpiresAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.AuthenticatedUserID = userID.String
	return &a, nil
}

const attemptCols = `id, tab_id, client_id, redirect_uri, attempted_username, valid_session, email_sent, remember_me, authenticated_user_id, expires_at, created_at`

func newTabID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate tab id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create starts a new attempt for the given client.
func (s *AttemptStore) Create(ctx context.Context, client model.Client) (*model.Attempt, error) {
	tabID, err := newTabID()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	expiresAt := time.Now().UTC().Add(s.lifetime)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auth_attempts (id, tab_id, client_id, redirect_uri, expires_at) VALUES (?, ?, ?, ?, ?)`,
		id, tabID, client.ID, client.RedirectURI, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns the attempt, or nil if it does not exist or has expired.
func (s *AttemptStore) Get(ctx context.Context, id string) (*model.Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptCols+` FROM auth_attempts WHERE id = ? AND expires_at > ?`,
		id, time.Now().UTC(),
	)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// Save writes back the mutable state of an attempt.
func (s *AttemptStore) Save(ctx context.Context, a *model.Attempt) error {
	var userID sql.NullString
	if a.AuthenticatedUserID != "" {
		userID = sql.NullString{String: a.AuthenticatedUserID, Valid: true}
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE auth_attempts SET attempted_username = ?, valid_session = ?, email_sent = ?, remember_me = ?, authenticated_user_id = ? WHERE id = ?`,
		a.AttemptedUsername, a.ValidSession, a.EmailSent, a.RememberMe, userID, a.ID,
	)
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("save attempt %s: %w", a.ID, sql.ErrNoRows)
	}
	return nil
}

func (s *AttemptStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_attempts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_attempts WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired attempts: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
