// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/tandem/internal/auth"
	"github.com/tomtom215/tandem/internal/validation"
)

func newTokenCmd(a *app) *cobra.Command {
	var user, name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with JWT_SECRET",
		Long: `Mint a bearer token for a user. The secret, issuer and lifetime come from
JWT_SECRET, JWT_ISSUER and TOKEN_TTL, so the server must share them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.GetValidator().Var(user, "required,uuid4"); err != nil {
				return fmt.Errorf("--user must be a UUID, got %q", user)
			}
			manager, err := auth.NewJWTManager(&a.cfg.Security)
			if err != nil {
				return err
			}
			token, err := manager.GenerateToken(user, name)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, token)
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (UUID) to put in the subject claim")
	cmd.Flags().StringVar(&name, "name", "", "display name claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tandemctl version",
		Args:  cobra.NoArgs,
		// No config is needed to print the version.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(a.out, "tandemctl %s\n", version)
			return err
		},
	}
}

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"
