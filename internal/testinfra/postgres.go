// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultPostgresImage is the Postgres image used for LISTEN/NOTIFY tests.
	DefaultPostgresImage = "postgres:17-alpine"

	// DefaultPostgresPort is the server port inside the container.
	DefaultPostgresPort = "5432"
)

// PostgresContainer is a running Postgres server for integration tests.
type PostgresContainer struct {
	testcontainers.Container
	// DSN is a lib/pq connection string for the test database.
	DSN string
}

// PostgresOption configures the Postgres container.
type PostgresOption func(*postgresConfig)

type postgresConfig struct {
	image        string
	database     string
	user         string
	password     string
	startTimeout time.Duration
	t            *testing.T
}

// WithPostgresImage sets a custom Postgres image.
func WithPostgresImage(image string) PostgresOption {
	return func(c *postgresConfig) { c.image = image }
}

// WithStartTimeout sets how long to wait for the server to accept connections.
func WithStartTimeout(timeout time.Duration) PostgresOption {
	return func(c *postgresConfig) { c.startTimeout = timeout }
}

// WithTestLogger routes container logs to t.
func WithTestLogger(t *testing.T) PostgresOption {
	return func(c *postgresConfig) { c.t = t }
}

// NewPostgresContainer starts Postgres and waits until it is ready.
//
//	pg, err := testinfra.NewPostgresContainer(ctx, testinfra.WithTestLogger(t))
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer testinfra.CleanupContainer(t, ctx, pg)
//
//	db, err := database.New(ctx, &config.DatabaseConfig{Driver: "postgres", DSN: pg.DSN, Migrate: true})
func NewPostgresContainer(ctx context.Context, opts ...PostgresOption) (*PostgresContainer, error) {
	cfg := &postgresConfig{
		image:        DefaultPostgresImage,
		database:     "tandem",
		user:         "tandem",
		password:     "tandem",
		startTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        cfg.image,
			ExposedPorts: []string{DefaultPostgresPort + "/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       cfg.database,
				"POSTGRES_USER":     cfg.user,
				"POSTGRES_PASSWORD": cfg.password,
				"TZ":                "UTC",
			},
			// The entrypoint starts the server twice: once for init scripts,
			// then for real.
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort(DefaultPostgresPort+"/tcp"),
			).WithStartupTimeout(cfg.startTimeout),
		},
		Started: true,
	}
	if cfg.t != nil {
		req.Logger = NewContainerLogger(cfg.t)
	}

	container, err := testcontainers.GenericContainer(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, DefaultPostgresPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	return &PostgresContainer{
		Container: container,
		DSN: fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.user, cfg.password, host, port.Port(), cfg.database),
	}, nil
}
