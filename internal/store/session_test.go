package store

import (
	"context"
	"testing"
	"time"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, string) {
	t.Helper()
	db := setupTestDB(t)
	u, err := NewUserStore(db).Create(context.Background(), "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return NewSessionStore(db), u.ID
}

func TestSessionCreate(t *testing.T) {
	ss, userID := setupSessionTestDB(t)

	sess, err := ss.Create(context.Background(), userID, "account", false)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Token) != 64 { // 32 bytes hex-encoded
		t.Errorf("token length = %d, want 64", len(sess.Token))
	}
	if sess.UserID != userID {
		t.Errorf("user_id = %q, want %q", sess.UserID, userID)
	}
	if d := time.Until(sess.ExpiresAt); d > 13*time.Hour {
		t.Errorf("expires in %v, want ~12h", d)
	}
}

func TestSessionRememberMeLifetime(t *testing.T) {
	ss, userID := setupSessionTestDB(t)

	sess, err := ss.Create(context.Background(), userID, "account", true)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if !sess.RememberMe {
		t.Error("expected remember_me")
	}
	if d := time.Until(sess.ExpiresAt); d < 29*24*time.Hour {
		t.Errorf("expires in %v, want ~30 days", d)
	}
}

func TestSessionGetByToken(t *testing.T) {
	ss, userID := setupSessionTestDB(t)
	ctx := context.Background()

	created, _ := ss.Create(ctx, userID, "account", false)

	sess, err := ss.GetByToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.ID != created.ID {
		t.Errorf("id = %q, want %q", sess.ID, created.ID)
	}
}

func TestSessionDelete(t *testing.T) {
	ss, userID := setupSessionTestDB(t)
	ctx := context.Background()

	created, _ := ss.Create(ctx, userID, "account", false)
	if err := ss.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	sess, err := ss.GetByToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if sess != nil {
		t.Error("expected nil after delete")
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	ss, userID := setupSessionTestDB(t)
	ctx := context.Background()

	created, _ := ss.Create(ctx, userID, "account", false)
	ss.db.Exec(`UPDATE user_sessions SET expires_at = ? WHERE id = ?`, time.Now().UTC().Add(-time.Hour), created.ID)

	count, err := ss.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if count != 1 {
		t.Errorf("deleted = %d, want 1", count)
	}
}
