// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tandem/internal/api"
	"github.com/tomtom215/tandem/internal/auth"
	"github.com/tomtom215/tandem/internal/cache"
	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/matchapi"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/websocket"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

const (
	alice = "0f8fad5b-d9cb-469f-a165-70867728950e"
	bob   = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
)

var testSecurity = config.SecurityConfig{
	JWTSecret:         "tandemctl-test-secret-with-32-chars!",
	TokenTTL:          time.Hour,
	Issuer:            "tandem-test",
	RateLimitDisabled: true,
}

// setupServer runs the real API over an in-memory DuckDB and returns its URL.
func setupServer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	db, err := database.New(ctx, &config.DatabaseConfig{Driver: config.DriverDuckDB, Path: ":memory:", MaxOpenConns: 2, Migrate: true})
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.UpsertProfile(ctx, models.Profile{UserID: bob, DisplayName: "Bob"}); err != nil {
		t.Fatal(err)
	}

	sec := testSecurity
	jwtManager, err := auth.NewJWTManager(&sec)
	if err != nil {
		t.Fatal(err)
	}
	handler := api.NewHandler(db, websocket.NewHub(jwtManager), websocket.DefaultClientConfig(),
		config.APIConfig{DefaultPageSize: 50, MaxPageSize: 100}, "test")
	router := api.NewRouter(handler, jwtManager, api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(&sec)))
	server := httptest.NewServer(router.SetupChi())
	t.Cleanup(server.Close)
	return server.URL
}

func testConfig(serverURL, cachePath string) *config.Config {
	return &config.Config{
		Security: testSecurity,
		Client: config.ClientConfig{
			ServerURL:         serverURL,
			CachePath:         cachePath,
			ChunkSize:         10,
			RequestTimeout:    5 * time.Second,
			ReconnectInterval: 100 * time.Millisecond,
			ReconnectBurst:    1,
		},
		Logging: config.LoggingConfig{Level: "error"},
	}
}

// run executes tandemctl with args and returns what it printed.
func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := newApp(&out)
	a.load = func() (*config.Config, error) {
		c := *cfg
		return &c, nil
	}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, cfg *config.Config, args ...string) string {
	t.Helper()
	out, err := run(t, cfg, args...)
	if err != nil {
		t.Fatalf("tandemctl %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	return v
}

func TestTokenCommand(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", "")
	token := strings.TrimSpace(mustRun(t, cfg, "token", "--user", alice, "--name", "Alice"))

	sec := testSecurity
	manager, err := auth.NewJWTManager(&sec)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("minted token does not validate: %v", err)
	}
	if claims.UserID() != alice || claims.DisplayName != "Alice" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := run(t, cfg, "token", "--user", "not-a-uuid"); err == nil {
		t.Error("expected error for non-UUID user")
	}
}

func TestSubjectOf(t *testing.T) {
	sec := testSecurity
	manager, err := auth.NewJWTManager(&sec)
	if err != nil {
		t.Fatal(err)
	}
	token, err := manager.GenerateToken(bob, "")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{name: "valid", token: token, want: bob},
		{name: "garbage", token: "abc", wantErr: true},
		{name: "empty", token: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := subjectOf(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("subjectOf() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("subjectOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMatchesCommands(t *testing.T) {
	cfg := testConfig(setupServer(t), "")
	cfg.Client.Token = strings.TrimSpace(mustRun(t, cfg, "token", "--user", alice))

	created := decode[models.MatchView](t, mustRun(t, cfg, "matches", "create", "--counterpart", bob, "--note", "hello"))
	if created.ID == "" || created.Status != models.MatchPending || created.Note != "hello" {
		t.Fatalf("created = %+v", created)
	}

	list := decode[[]models.MatchView](t, mustRun(t, cfg, "matches", "list"))
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("list = %+v", list)
	}

	updated := decode[models.MatchView](t, mustRun(t, cfg, "matches", "update", created.ID, "--status", "accepted"))
	if updated.Status != models.MatchAccepted || updated.Note != "hello" {
		t.Errorf("update kept note %q status %q", updated.Note, updated.Status)
	}

	if _, err := run(t, cfg, "matches", "update", created.ID); err == nil {
		t.Error("expected error when no field is given")
	}
	if _, err := run(t, cfg, "matches", "update", created.ID, "--status", "maybe"); err == nil {
		t.Error("expected error for unknown status")
	}

	out := mustRun(t, cfg, "matches", "delete", created.ID)
	if !strings.Contains(out, created.ID) {
		t.Errorf("delete output = %q", out)
	}
	if list := decode[[]models.MatchView](t, mustRun(t, cfg, "matches", "list")); len(list) != 0 {
		t.Errorf("list after delete = %+v", list)
	}
}

func TestMatchesCreate_ValidatesLocally(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", "")
	cfg.Client.Token = "unused"
	if _, err := run(t, cfg, "matches", "create", "--counterpart", "bob"); err == nil {
		t.Fatal("expected validation error for non-UUID counterpart")
	}
}

func TestCommandsRequireToken(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", "")
	for _, args := range [][]string{
		{"matches", "list"},
		{"profile", "get", bob},
		{"watch", "--once"},
	} {
		if _, err := run(t, cfg, args...); err == nil {
			t.Errorf("tandemctl %s: expected missing token error", strings.Join(args, " "))
		}
	}
}

func TestProfileAndHealthCommands(t *testing.T) {
	cfg := testConfig(setupServer(t), "")
	cfg.Client.Token = strings.TrimSpace(mustRun(t, cfg, "token", "--user", alice))

	put := decode[models.Profile](t, mustRun(t, cfg, "profile", "put", "--name", "Alice", "--bio", "hi"))
	if put.UserID != alice || put.DisplayName != "Alice" {
		t.Errorf("put = %+v", put)
	}
	got := decode[models.Profile](t, mustRun(t, cfg, "profile", "get", bob))
	if got.DisplayName != "Bob" {
		t.Errorf("get = %+v", got)
	}

	health := decode[models.HealthStatus](t, mustRun(t, cfg, "health"))
	if health.Status != "healthy" {
		t.Errorf("health = %+v", health)
	}
}

func TestWatchOnce_PersistsSnapshot(t *testing.T) {
	cachePath := t.TempDir()
	cfg := testConfig(setupServer(t), cachePath)
	cfg.Client.Token = strings.TrimSpace(mustRun(t, cfg, "token", "--user", alice))
	mustRun(t, cfg, "matches", "create", "--counterpart", bob)

	snapshot := decode[[]models.MatchView](t, mustRun(t, cfg, "watch", "--once"))
	if len(snapshot) != 1 || snapshot[0].UserBID != bob {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	partitions, err := cache.Open(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = partitions.Close() }()
	if _, ok, err := partitions.Load(matchapi.StoreName); err != nil || !ok {
		t.Errorf("cached partition ok=%v err=%v", ok, err)
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	var out bytes.Buffer
	a := newApp(&out)
	a.load = func() (*config.Config, error) {
		t.Fatal("version must not load configuration")
		return nil, nil
	}
	root := newRootCmd(a)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "tandemctl ") {
		t.Errorf("version output = %q", out.String())
	}
}
