// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/tandem/internal/cache"
	"github.com/tomtom215/tandem/internal/lifecycle"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/matchapi"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/optimistic"
	"github.com/tomtom215/tandem/internal/realtime"
)

func newWatchCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a live copy of your matches and print every change",
		Long: `Load your matches, subscribe to the realtime gateway and print each change
as it arrives. The copy is saved to TANDEM_CACHE_PATH on exit and restored on
the next start. With --once the initial snapshot is printed and the command
exits without subscribing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "print the snapshot and exit")
	return cmd
}

func (a *app) watch(ctx context.Context, once bool) (err error) {
	token := a.cfg.Client.Token
	if token == "" {
		return errors.New("no token: pass --token or set TANDEM_TOKEN")
	}
	userID, err := subjectOf(token)
	if err != nil {
		return err
	}

	partitions, err := cache.Open(a.cfg.Client.CachePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := partitions.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var channel lifecycle.Channel
	if !once {
		rt, err := realtime.New(a.cfg.Client)
		if err != nil {
			return err
		}
		channel = rt
	}

	client := matchapi.New(a.cfg.Client)
	manager := lifecycle.New(channel, partitions)
	if err := manager.Add(matchapi.StoreName, a.matchesFactory(client)); err != nil {
		return err
	}
	defer func() {
		if derr := manager.Dispose(); derr != nil && err == nil {
			err = derr
		}
	}()

	if err := manager.UpdateSession(ctx, &lifecycle.Session{UserID: userID, Token: token}); err != nil {
		return err
	}
	engine, ok := lifecycle.Engine[models.MatchView](manager, matchapi.StoreName)
	if !ok {
		return fmt.Errorf("store %s not initialized", matchapi.StoreName)
	}
	if err := a.print(engine.List()); err != nil {
		return err
	}
	if once {
		return nil
	}

	logging.Info().Str("user_id", userID).Int("matches", engine.Len()).Msg("Watching for changes")
	<-ctx.Done()
	return nil
}

// matchesFactory builds the matches store and echoes every pushed change to
// the command output before the engine applies it.
func (a *app) matchesFactory(client *matchapi.Client) lifecycle.Factory {
	return func(session *lifecycle.Session) (lifecycle.Binding, error) {
		if session == nil {
			return lifecycle.Binding{}, errors.New("matches store requires a session")
		}
		engine, err := optimistic.New(matchapi.MatchStoreConfig(client, session.UserID))
		if err != nil {
			return lifecycle.Binding{}, err
		}
		apply := realtime.Bind(engine, matchapi.DecodeChange)
		echo := realtime.ReceiverFunc(func(evt models.ChangeEvent) {
			apply.Receive(evt)
			_, _ = fmt.Fprintf(a.out, "%s %s %s (%d matches)\n", evt.CommittedAt.Format("15:04:05"), evt.Operation, evt.ID, engine.Len())
		})
		return lifecycle.Binding{Store: engine, Table: models.TableMatches, Receiver: echo}, nil
	}
}
