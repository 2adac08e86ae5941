// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/tandem/internal/matchapi"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/validation"
)

func newMatchesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "matches",
		Aliases: []string{"match"},
		Short:   "List and modify your matches",
	}
	cmd.AddCommand(
		newMatchesListCmd(a),
		newMatchesCreateCmd(a),
		newMatchesUpdateCmd(a),
		newMatchesDeleteCmd(a),
	)
	return cmd
}

func newMatchesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every match you participate in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			views, err := c.ListMatches(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(views)
		},
	}
}

func newMatchesCreateCmd(a *app) *cobra.Command {
	var req models.CreateMatchRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Propose a match with another user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateStruct(req); err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			created, err := c.CreateMatch(cmd.Context(), models.MatchView{
				Match: models.Match{UserBID: req.CounterpartID, Note: req.Note},
			})
			if err != nil {
				return err
			}
			return a.print(created)
		},
	}
	cmd.Flags().StringVar(&req.CounterpartID, "counterpart", "", "user id of the other party")
	cmd.Flags().StringVar(&req.Note, "note", "", "note attached to the match")
	_ = cmd.MarkFlagRequired("counterpart")
	return cmd
}

func newMatchesUpdateCmd(a *app) *cobra.Command {
	var status, note string
	cmd := &cobra.Command{
		Use:   "update <match-id>",
		Short: "Change the status or note of a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("status") && !cmd.Flags().Changed("note") {
				return fmt.Errorf("nothing to update: pass --status and/or --note")
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			// The client sends status and note together, so start from the
			// current row to leave the other field as it is.
			current, err := findMatch(ctx, c, args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("status") {
				s := models.MatchStatus(status)
				if !s.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				current.Status = s
			}
			if cmd.Flags().Changed("note") {
				current.Note = note
			}
			updated, err := c.UpdateMatch(ctx, current.ID, current)
			if err != nil {
				return err
			}
			return a.print(updated)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, accepted or declined")
	cmd.Flags().StringVar(&note, "note", "", "replacement note")
	return cmd
}

func newMatchesDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <match-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a match",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			if err := c.DeleteMatch(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "deleted %s\n", args[0])
			return err
		},
	}
}

// findMatch returns the match with id from the caller's list.
func findMatch(ctx context.Context, c *matchapi.Client, id string) (models.MatchView, error) {
	views, err := c.ListMatches(ctx)
	if err != nil {
		return models.MatchView{}, err
	}
	for _, v := range views {
		if v.ID == id {
			return v, nil
		}
	}
	return models.MatchView{}, fmt.Errorf("match %s: %w", id, models.ErrNotFound)
}
