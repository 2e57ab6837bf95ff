package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dukerupert/magiclink/internal/database"
	"github.com/dukerupert/magiclink/internal/store"
)

func TestVersionCmd(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "magiclink dev") {
		t.Errorf("output = %q", out.String())
	}
}

func TestSetEnabled(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	defer db.Close()
	users := store.NewUserStore(db)
	ctx := context.Background()

	u, _ := users.Create(ctx, "alice", "alice@example.com")

	if err := setEnabled(ctx, users, "ALICE@example.com", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ := users.GetByID(ctx, u.ID)
	if got.Enabled {
		t.Error("expected user to be disabled")
	}

	if err := setEnabled(ctx, users, "nobody@example.com", true); err == nil {
		t.Error("expected error for unknown user")
	}
}
