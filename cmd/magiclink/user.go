package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/magiclink/internal/config"
	"github.com/dukerupert/magiclink/internal/database"
	"github.com/dukerupert/magiclink/internal/email"
	"github.com/dukerupert/magiclink/internal/store"
)

func userCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(userAddCmd(configPath), userEnableCmd(configPath, true), userEnableCmd(configPath, false))
	return cmd
}

func openUsers(configPath string) (*sql.DB, *store.UserStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return db, store.NewUserStore(db), nil
}

func userAddCmd(configPath *string) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "add EMAIL",
		Short: "Create a user who can sign in with EMAIL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := args[0]
			if !email.Valid(addr) {
				return fmt.Errorf("%q is not a valid email address", addr)
			}
			if username == "" {
				username = addr
			}
			db, users, err := openUsers(*configPath)
			if err != nil {
				return err
			}
			defer db.Close()

			u, err := users.Create(cmd.Context(), username, addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", u.ID, u.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (defaults to the email address)")
	return cmd
}

func userEnableCmd(configPath *string, enabled bool) *cobra.Command {
	use, short := "disable EMAIL", "Prevent a user from signing in"
	if enabled {
		use, short = "enable EMAIL", "Allow a disabled user to sign in again"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, users, err := openUsers(*configPath)
			if err != nil {
				return err
			}
			defer db.Close()
			return setEnabled(cmd.Context(), users, args[0], enabled)
		},
	}
}

func setEnabled(ctx context.Context, users *store.UserStore, addr string, enabled bool) error {
	u, err := users.GetByEmail(ctx, addr)
	if err != nil {
		return err
	}
	if u == nil {
		return errors.New("no user with that email")
	}
	return users.SetEnabled(ctx, u.ID, enabled)
}
