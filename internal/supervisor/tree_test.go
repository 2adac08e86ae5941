// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/tandem/internal/config"
)

type countingService struct {
	starts   atomic.Int32
	failures int32
}

func (s *countingService) Serve(ctx context.Context) error {
	n := s.starts.Add(1)
	if n <= s.failures {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSupervisorTreeConstruction(t *testing.T) {
	t.Run("applies defaults for zero config", func(t *testing.T) {
		tree, err := NewSupervisorTree(testLogger(), TreeConfig{})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
		if tree.Root() == nil {
			t.Fatal("root supervisor should not be nil")
		}
		if tree.config != DefaultTreeConfig() {
			t.Errorf("config = %+v, want defaults", tree.config)
		}
	})

	t.Run("maps the config section", func(t *testing.T) {
		got := TreeConfigFrom(config.SupervisorConfig{FailureThreshold: 3, FailureDecay: 10, FailureBackoff: time.Second, ShutdownTimeout: 2 * time.Second})
		want := TreeConfig{FailureThreshold: 3, FailureDecay: 10, FailureBackoff: time.Second, ShutdownTimeout: 2 * time.Second}
		if got != want {
			t.Errorf("TreeConfigFrom = %+v, want %+v", got, want)
		}
	})
}

func TestSupervisorTreeLifecycle(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	hub := &countingService{}
	feed := &countingService{failures: 2}
	api := &countingService{}
	tree.AddMessagingService(hub)
	tree.AddMessagingService(feed)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for feed.starts.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("failing service restarted %d times, want 3 starts", feed.starts.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if hub.starts.Load() != 1 || api.starts.Load() != 1 {
		t.Errorf("siblings restarted: hub %d api %d", hub.starts.Load(), api.starts.Load())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("tree stopped with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
	report, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 0 {
		t.Errorf("unstopped services: %v", report)
	}
}

func TestRemoveMessagingService(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{ShutdownTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	svc := &countingService{}
	token := tree.AddMessagingService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)
	for svc.starts.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	if err := tree.RemoveMessagingService(token); err != nil {
		t.Errorf("RemoveMessagingService: %v", err)
	}
	cancel()
	<-errCh
}
