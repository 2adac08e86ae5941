// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/matchapi"
)

// app carries state shared by every subcommand.
type app struct {
	out  io.Writer
	load func() (*config.Config, error)
	cfg  *config.Config

	serverURL string
	token     string
	logLevel  string
}

func newApp(out io.Writer) *app {
	return &app{out: out, load: config.LoadClient}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tandemctl",
		Short:         "Command line client for a Tandem server",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "server URL (overrides TANDEM_SERVER_URL)")
	root.PersistentFlags().StringVar(&a.token, "token", "", "bearer token (overrides TANDEM_TOKEN)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(
		newTokenCmd(a),
		newMatchesCmd(a),
		newProfileCmd(a),
		newWatchCmd(a),
		newHealthCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := a.load()
	if err != nil {
		return err
	}
	if a.serverURL != "" {
		cfg.Client.ServerURL = a.serverURL
	}
	if a.token != "" {
		cfg.Client.Token = a.token
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	// Logs go to stderr so command output stays pipeable.
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: "console",
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})
	return nil
}

// client returns an API client, failing when no token is configured.
func (a *app) client() (*matchapi.Client, error) {
	if a.cfg.Client.Token == "" {
		return nil, errors.New("no token: pass --token or set TANDEM_TOKEN")
	}
	return matchapi.New(a.cfg.Client), nil
}

// print writes v as indented JSON.
func (a *app) print(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

// subjectOf returns the user id carried by token. The signature is not
// checked; the server does that on every request.
func subjectOf(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
