// Package directory resolves and provisions the users a login is for.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukerupert/magiclink/internal/email"
	"github.com/dukerupert/magiclink/internal/model"
)

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Create(ctx context.Context, username, email string) (*model.User, error)
	AddRequiredAction(ctx context.Context, id string, action model.RequiredAction) error
	SetEmailVerified(ctx context.Context, id string, verified bool) error
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// Options control GetOrCreate for a user that does not exist yet.
type Options struct {
	ForceCreate    bool
	UpdateProfile  bool
	UpdatePassword bool
	// OnRegister is called once for every user GetOrCreate provisions.
	OnRegister func(u *model.User)
}

type Directory struct {
	users  userStore
	logger *slog.Logger
}

func New(users userStore, logger *slog.Logger) *Directory {
	return &Directory{users: users, logger: logger}
}

func (d *Directory) GetByEmail(ctx context.Context, addr string) (*model.User, error) {
	return d.users.GetByEmail(ctx, addr)
}

func (d *Directory) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return d.users.GetByUsername(ctx, username)
}

// FindByUsernameOrEmail looks a value up as an email first when it contains
// an '@', then as a username.
func (d *Directory) FindByUsernameOrEmail(ctx context.Context, value string) (*model.User, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if strings.Contains(value, "@") {
		u, err := d.users.GetByEmail(ctx, value)
		if err != nil || u != nil {
			return u, err
		}
	}
	return d.users.GetByUsername(ctx, value)
}

// GetOrCreate returns the user known by addr, provisioning one when
// opts.ForceCreate is set and addr is a valid email address. A missing user
// is reported as (nil, nil), never as an error.
func (d *Directory) GetOrCreate(ctx context.Context, addr string, opts Options) (*model.User, error) {
	u, err := d.FindByUsernameOrEmail(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if u != nil || !opts.ForceCreate {
		return u, nil
	}
	if !email.Valid(addr) {
		d.logger.Debug("not provisioning user for invalid address", "value", addr)
		return nil, nil
	}

	u, err = d.users.Create(ctx, addr, addr)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := d.users.SetEmailVerified(ctx, u.ID, true); err != nil {
		return nil, err
	}
	if opts.UpdatePassword {
		if err := d.users.AddRequiredAction(ctx, u.ID, model.ActionUpdatePassword); err != nil {
			return nil, err
		}
	}
	if opts.UpdateProfile {
		if err := d.users.AddRequiredAction(ctx, u.ID, model.ActionUpdateProfile); err != nil {
			return nil, err
		}
	}
	if u, err = d.users.GetByID(ctx, u.ID); err != nil {
		return nil, err
	}
	d.logger.Info("provisioned user", "user_id", u.ID, "required_actions", u.RequiredActions)

	if opts.OnRegister != nil {
		opts.OnRegister(u)
	}
	return u, nil
}
