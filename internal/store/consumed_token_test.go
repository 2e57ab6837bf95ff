package store

import (
	"context"
	"testing"
	"time"
)

func TestConsumeOnce(t *testing.T) {
	cs := NewConsumedTokenStore(setupTestDB(t))
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	first, err := cs.Consume(ctx, "jti-1", exp)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !first {
		t.Error("expected first consume to succeed")
	}

	second, err := cs.Consume(ctx, "jti-1", exp)
	if err != nil {
		t.Fatalf("consume again: %v", err)
	}
	if second {
		t.Error("expected second consume to be rejected")
	}
}

func TestConsumedTokenDeleteExpired(t *testing.T) {
	cs := NewConsumedTokenStore(setupTestDB(t))
	ctx := context.Background()

	cs.Consume(ctx, "old", time.Now().Add(-time.Minute))
	cs.Consume(ctx, "fresh", time.Now().Add(time.Hour))

	count, err := cs.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if count != 1 {
		t.Errorf("deleted = %d, want 1", count)
	}
}
