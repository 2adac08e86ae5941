// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package websocket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/tandem/internal/auth"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Handle is one live transport connection. Send must not block: it enqueues
// the message or fails. Close must be idempotent.
type Handle interface {
	Send(msg models.Message) error
	Close()
}

// owner is the tag attached to a registered handle.
type owner struct {
	userID    string
	browserID string
}

// Hub is the connection registry. It maps each user to their live browser
// connections (at most one handle per browser instance) and fans messages out
// to all of them.
type Hub struct {
	verifier auth.TokenVerifier

	mu     sync.Mutex
	users  map[string]map[string]Handle // user -> browser instance -> handle
	owners map[Handle]owner
	closed bool
}

// NewHub creates a registry that authenticates connections with verifier.
func NewHub(verifier auth.TokenVerifier) *Hub {
	return &Hub{
		verifier: verifier,
		users:    make(map[string]map[string]Handle),
		owners:   make(map[Handle]owner),
	}
}

// Register authenticates handle and installs it as the connection for
// (user, browserID). A previous handle for the same browser instance is
// superseded and closed. The auth_result is enqueued on handle before any
// change can be delivered to it.
//
// On failure an error auth_result is sent, handle is closed and the returned
// error wraps models.ErrAuthentication (or models.ErrValidation for a missing
// browser instance id).
func (h *Hub) Register(handle Handle, token, browserID string) (string, error) {
	userID, err := h.verifier.Verify(token)
	if err != nil {
		metrics.WSAuthResults.WithLabelValues("rejected").Inc()
		rejectHandle(handle, "authentication failed")
		return "", err
	}
	if browserID == "" {
		metrics.WSAuthResults.WithLabelValues("rejected").Inc()
		rejectHandle(handle, "browser_instance_id is required")
		return "", &models.ValidationError{Field: "browser_instance_id", Message: "required"}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		handle.Close()
		return "", fmt.Errorf("register: hub %w", models.ErrDisposed)
	}

	// A handle re-authenticating under another identity leaves its old slot.
	if prev, ok := h.owners[handle]; ok && prev != (owner{userID, browserID}) {
		h.removeLocked(handle, prev)
	}

	browsers, ok := h.users[userID]
	if !ok {
		browsers = make(map[string]Handle)
		h.users[userID] = browsers
	}
	superseded := browsers[browserID]
	if superseded == handle {
		superseded = nil
	}
	if superseded != nil {
		delete(h.owners, superseded)
	}
	browsers[browserID] = handle
	h.owners[handle] = owner{userID: userID, browserID: browserID}

	okMsg, _ := models.NewMessage(models.MessageAuthResult, models.AuthResultPayload{Status: models.AuthStatusOK})
	sendErr := handle.Send(okMsg)
	h.updateGaugesLocked()
	h.mu.Unlock()

	if superseded != nil {
		superseded.Close()
		metrics.WSSupersededConnections.Inc()
		logging.Debug().
			Str("user_id", userID).
			Str("browser_instance_id", browserID).
			Msg("superseded previous connection")
	}
	if sendErr != nil {
		h.Unregister(handle)
		handle.Close()
		return "", fmt.Errorf("register: send auth_result: %w", models.ErrTransport)
	}

	metrics.WSAuthResults.WithLabelValues("ok").Inc()
	logging.Debug().
		Str("user_id", userID).
		Str("browser_instance_id", browserID).
		Msg("websocket connection registered")
	return userID, nil
}

func rejectHandle(handle Handle, reason string) {
	msg, _ := models.NewMessage(models.MessageAuthResult, models.AuthResultPayload{
		Status:  models.AuthStatusError,
		Message: reason,
	})
	_ = handle.Send(msg)
	handle.Close()
}

// Unregister removes handle from the registry. It reports whether handle was
// registered; a superseded or unknown handle is a no-op.
func (h *Hub) Unregister(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	o, ok := h.owners[handle]
	if !ok {
		return false
	}
	h.removeLocked(handle, o)
	h.updateGaugesLocked()
	return true
}

func (h *Hub) removeLocked(handle Handle, o owner) {
	delete(h.owners, handle)
	browsers := h.users[o.userID]
	if browsers[o.browserID] == handle {
		delete(browsers, o.browserID)
	}
	if len(browsers) == 0 {
		delete(h.users, o.userID)
	}
}

// Deliver sends msg to every live connection of userID and returns how many
// accepted it. A user with no connections is not an error. A handle that
// fails to accept is unregistered and closed without affecting the others.
func (h *Hub) Deliver(userID string, msg models.Message) int {
	h.mu.Lock()
	browsers := h.users[userID]
	ids := make([]string, 0, len(browsers))
	for id := range browsers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	handles := make([]Handle, len(ids))
	for i, id := range ids {
		handles[i] = browsers[id]
	}
	h.mu.Unlock()

	sent := 0
	for _, handle := range handles {
		if err := handle.Send(msg); err != nil {
			metrics.WSDeliveries.WithLabelValues("failed").Inc()
			logging.Warn().Err(err).Str("user_id", userID).Msg("dropping connection after failed send")
			h.Unregister(handle)
			handle.Close()
			continue
		}
		metrics.WSDeliveries.WithLabelValues("sent").Inc()
		sent++
	}
	return sent
}

// ConnectionCount returns the number of registered handles.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.owners)
}

// UserCount returns the number of users with at least one connection.
func (h *Hub) UserCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.users)
}

// BrowserCount returns the number of browser instances connected for userID.
func (h *Hub) BrowserCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.users[userID])
}

func (h *Hub) updateGaugesLocked() {
	metrics.SetConnectionGauges(len(h.owners), len(h.users))
}

// RunWithContext keeps the hub open until ctx is done, then closes every
// connection. Designed for suture supervision; a restart reopens the hub.
func (h *Hub) RunWithContext(ctx context.Context) error {
	h.mu.Lock()
	h.closed = false
	h.mu.Unlock()

	<-ctx.Done()

	closed := h.closeAll()
	log := logging.WithComponent("websocket-hub")
	log.Info().
		Str("reason", string(shutdownReason(ctx))).
		Int("connections_closed", closed).
		Msg("websocket hub stopped")
	return ctx.Err()
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	h.closed = true
	handles := make([]Handle, 0, len(h.owners))
	for handle := range h.owners {
		handles = append(handles, handle)
	}
	h.users = make(map[string]map[string]Handle)
	h.owners = make(map[Handle]owner)
	h.updateGaugesLocked()
	h.mu.Unlock()

	for _, handle := range handles {
		handle.Close()
	}
	return len(handles)
}

func shutdownReason(ctx context.Context) ShutdownReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}
