package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/magiclink/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var email sql.NullString
	err := scanner.Scan(&u.ID, &u.Username, &email, &u.EmailVerified, &u.Enabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	return &u, nil
}

const userCols = `id, username, email, email_verified, enabled, created_at, updated_at`

// Create inserts an enabled user. Usernames are stored lowercased; an empty
// email is stored as NULL so several users may lack one.
func (s *UserStore) Create(ctx context.Context, username, email string) (*model.User, error) {
	id := uuid.NewString()
	var e sql.NullString
	if email != "" {
		e = sql.NullString{String: email, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email) VALUES (?, ?, ?)`,
		id, strings.ToLower(username), e,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) get(ctx context.Context, where string, arg any) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	actions, err := s.RequiredActions(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.RequiredActions = actions
	return u, nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.get(ctx, `id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetByEmail matches emails case-insensitively.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := s.get(ctx, `lower(email) = lower(?)`, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := s.get(ctx, `username = lower(?)`, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (s *UserStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("set user enabled: %w", err)
	}
	return nil
}

func (s *UserStore) SetEmailVerified(ctx context.Context, id string, verified bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET email_verified = ? WHERE id = ?`, verified, id)
	if err != nil {
		return fmt.Errorf("set email verified: %w", err)
	}
	return nil
}

// AddRequiredAction is a no-op if the user already has the action.
func (s *UserStore) AddRequiredAction(ctx context.Context, id string, action model.RequiredAction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_required_actions (user_id, action) VALUES (?, ?)`,
		id, string(action),
	)
	if err != nil {
		return fmt.Errorf("add required action: %w", err)
	}
	return nil
}

func (s *UserStore) RequiredActions(ctx context.Context, id string) ([]model.RequiredAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action FROM user_required_actions WHERE user_id = ? ORDER BY action`, id)
	if err != nil {
		return nil, fmt.Errorf("list required actions: %w", err)
	}
	defer rows.Close()

	var actions []model.RequiredAction
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan required action: %w", err)
		}
		actions = append(actions, model.RequiredAction(a))
	}
	return actions, rows.Err()
}

func (s *UserStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
