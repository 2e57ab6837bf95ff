package directory

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukerupert/magiclink/internal/database"
	"github.com/dukerupert/magiclink/internal/model"
	"github.com/dukerupert/magiclink/internal/store"
)

func setupDirectory(t *testing.T) (*Directory, *store.UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	us := store.NewUserStore(db)
	return New(us, slog.Default()), us
}

func TestGetOrCreateExistingByEmail(t *testing.T) {
	d, us := setupDirectory(t)
	ctx := context.Background()
	existing, _ := us.Create(ctx, "alice", "alice@example.com")

	registered := 0
	u, err := d.GetOrCreate(ctx, "alice@example.com", Options{
		ForceCreate: true,
		OnRegister:  func(*model.User) { registered++ },
	})
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if u == nil || u.ID != existing.ID {
		t.Fatalf("got %+v, want existing user", u)
	}
	if registered != 0 {
		t.Errorf("OnRegister called %d times, want 0", registered)
	}
}

func TestGetOrCreateExistingByUsername(t *testing.T) {
	d, us := setupDirectory(t)
	ctx := context.Background()
	existing, _ := us.Create(ctx, "bob", "bob@example.com")

	u, err := d.GetOrCreate(ctx, "bob", Options{})
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if u == nil || u.ID != existing.ID {
		t.Fatalf("got %+v, want bob", u)
	}
}

func TestGetOrCreateMissingWithoutForce(t *testing.T) {
	d, _ := setupDirectory(t)

	u, err := d.GetOrCreate(context.Background(), "new@example.com", Options{})
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil user, got %+v", u)
	}
}

func TestGetOrCreateProvisions(t *testing.T) {
	d, _ := setupDirectory(t)
	ctx := context.Background()

	var registered *model.User
	u, err := d.GetOrCreate(ctx, "new@example.com", Options{
		ForceCreate:    true,
		UpdateProfile:  true,
		UpdatePassword: true,
		OnRegister:     func(u *model.User) { registered = u },
	})
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if u == nil {
		t.Fatal("expected provisioned user")
	}
	if u.Email != "new@example.com" || u.Username != "new@example.com" {
		t.Errorf("user = %+v", u)
	}
	if !u.Enabled {
		t.Error("expected provisioned user to be enabled")
	}
	if !u.EmailVerified {
		t.Error("expected provisioned user to have a verified email")
	}
	if len(u.RequiredActions) != 2 {
		t.Errorf("required actions = %v, want both", u.RequiredActions)
	}
	if registered == nil || registered.ID != u.ID {
		t.Error("expected OnRegister with the new user")
	}
}

func TestGetOrCreateInvalidAddress(t *testing.T) {
	d, _ := setupDirectory(t)

	u, err := d.GetOrCreate(context.Background(), "not-an-email", Options{ForceCreate: true})
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil for invalid address, got %+v", u)
	}
}
