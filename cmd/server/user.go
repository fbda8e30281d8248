package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"labelstock/backend/internal/config"
	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/httpapi"
	pgstore "labelstock/backend/internal/store/postgres"
)

func newUserCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage login accounts in DATABASE_URL",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create an admin or staff account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			role, _ := cmd.Flags().GetString("role")

			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required to add users")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			pg, err := pgstore.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer func() { _ = pg.Close() }()

			auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL(), pg)
			if err := auth.CreateUser(ctx, username, password, role); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s created with role %s\n", username, role)
			return nil
		},
	}
	add.Flags().String("username", "", "login name")
	add.Flags().String("password", "", "initial password")
	add.Flags().String("role", domain.RoleStaff, "admin or staff")
	_ = add.MarkFlagRequired("username")
	_ = add.MarkFlagRequired("password")

	user.AddCommand(add)
	return user
}
