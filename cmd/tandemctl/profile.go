// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package main

import (
	"github.com/spf13/cobra"

	"github.com/tomtom215/tandem/internal/matchapi"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/validation"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Read public profiles and publish your own",
	}
	cmd.AddCommand(newProfileGetCmd(a), newProfilePutCmd(a))
	return cmd
}

func newProfileGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <user-id>",
		Short: "Show the public profile of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			p, err := c.GetProfile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(p)
		},
	}
}

func newProfilePutCmd(a *app) *cobra.Command {
	var req models.UpsertProfileRequest
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or replace your public profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateStruct(req); err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			p, err := c.PutMyProfile(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.print(p)
		},
	}
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&req.AvatarURL, "avatar", "", "avatar URL")
	cmd.Flags().StringVar(&req.Bio, "bio", "", "short bio")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// newHealthCmd needs no token; the readiness probe is public.
func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := matchapi.New(a.cfg.Client).Health(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(status)
		},
	}
}
