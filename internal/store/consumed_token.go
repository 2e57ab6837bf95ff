package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ConsumedTokenStore remembers single-use action tokens that have already
// been redeemed, until they would have expired anyway.
type ConsumedTokenStore struct {
	db *sql.DB
}

func NewConsumedTokenStore(db *sql.DB) *ConsumedTokenStore {
	return &ConsumedTokenStore{db: db}
}

// Consume records jti as used. It returns false if it was already used.
func (s *ConsumedTokenStore) Consume(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO consumed_tokens (jti, expires_at) VALUES (?, ?)`,
		jti, expiresAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *ConsumedTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM consumed_tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
