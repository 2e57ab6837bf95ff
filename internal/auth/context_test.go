package auth

import (
	"context"
	"testing"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ac := AuthContext{
		UserID:    "u-1",
		SessionID: "s-1",
		ClientID:  "account",
	}

	ctx := WithAuth(context.Background(), ac)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got != ac {
		t.Errorf("AuthContext = %+v, want %+v", got, ac)
	}
	if id := UserID(ctx); id != "u-1" {
		t.Errorf("UserID = %q, want %q", id, "u-1")
	}
	if id := SessionID(ctx); id != "s-1" {
		t.Errorf("SessionID = %q, want %q", id, "s-1")
	}
}

func TestFromContextMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Error("expected false for missing AuthContext")
	}
	if id := UserID(ctx); id != "" {
		t.Errorf("UserID = %q, want empty", id)
	}
	if id := SessionID(ctx); id != "" {
		t.Errorf("SessionID = %q, want empty", id)
	}
}
