// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package matchapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
)

const breakerName = "matchapi"

// Client calls the CRUD API on behalf of one session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	chunkSize  int
	breaker    *gobreaker.CircuitBreaker[*envelope]

	mu    sync.RWMutex
	token string
}

// envelope is the decoded APIResponse with the payload left raw.
type envelope struct {
	Status string           `json:"status"`
	Data   json.RawMessage  `json:"data"`
	Error  *models.APIError `json:"error,omitempty"`
}

// New creates a client for cfg.ServerURL.
func New(cfg config.ClientConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = 100
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		chunkSize:  chunk,
		token:      cfg.Token,
		breaker:    newBreaker(),
	}
}

// newBreaker trips after five consecutive transport or 5xx failures. Client
// errors (4xx) are answers, not failures.
func newBreaker() *gobreaker.CircuitBreaker[*envelope] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	return gobreaker.NewCircuitBreaker[*envelope](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, models.ErrTransport)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.RecordCircuitBreakerTransition(name, from.String(), to.String())
		},
	})
}

// SetToken swaps the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BreakerState reports the circuit breaker state ("closed", "open", "half-open").
func (c *Client) BreakerState() string { return c.breaker.State().String() }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	env, err := c.breaker.Execute(func() (*envelope, error) {
		return c.roundTrip(ctx, method, path, query, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s %s: %w: %v", method, path, models.ErrTransport, err)
	}
	if err != nil {
		return err
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body interface{}) (*envelope, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s %s: %w: %v", method, path, models.ErrTransport, err)
	}
	defer resp.Body.Close()

	env := &envelope{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(env); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, env.Error)
	}
	return env, nil
}

// statusError maps an HTTP error onto the shared taxonomy.
func statusError(status int, apiErr *models.APIError) error {
	message := http.StatusText(status)
	if apiErr != nil && apiErr.Message != "" {
		message = apiErr.Message
	}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		verr := &models.ValidationError{Message: message}
		if apiErr != nil {
			for field := range apiErr.Details {
				verr.Field = field
				break
			}
		}
		return verr
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", models.ErrAuthentication, message)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", models.ErrForbidden, message)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrNotFound, message)
	case status >= 500 || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: server returned %d: %s", models.ErrTransport, status, message)
	default:
		return fmt.Errorf("unexpected status %d: %s", status, message)
	}
}

// ListChunk fetches one page of the caller's matches.
func (c *Client) ListChunk(ctx context.Context, limit, offset int) ([]models.MatchView, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out []models.MatchView
	if err := c.do(ctx, http.MethodGet, "/api/v1/matches", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMatches fetches every match of the caller, page by page.
func (c *Client) ListMatches(ctx context.Context) ([]models.MatchView, error) {
	var all []models.MatchView
	for offset := 0; ; offset += c.chunkSize {
		page, err := c.ListChunk(ctx, c.chunkSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < c.chunkSize {
			return all, nil
		}
	}
}

// CreateMatch creates a match with draft.UserBID as the counterpart.
func (c *Client) CreateMatch(ctx context.Context, draft models.MatchView) (models.MatchView, error) {
	var out models.MatchView
	err := c.do(ctx, http.MethodPost, "/api/v1/matches", nil, models.CreateMatchRequest{
		CounterpartID: draft.UserBID,
		Note:          draft.Note,
	}, &out)
	return out, err
}

// UpdateMatch sends the mutable fields of v.
func (c *Client) UpdateMatch(ctx context.Context, id string, v models.MatchView) (models.MatchView, error) {
	status, note := v.Status, v.Note
	var out models.MatchView
	err := c.do(ctx, http.MethodPatch, "/api/v1/matches/"+url.PathEscape(id), nil, models.UpdateMatchRequest{
		Status: &status,
		Note:   &note,
	}, &out)
	return out, err
}

// DeleteMatch removes id.
func (c *Client) DeleteMatch(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/matches/"+url.PathEscape(id), nil, nil, nil)
}

// GetProfile fetches a public profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var out models.Profile
	if err := c.do(ctx, http.MethodGet, "/api/v1/profiles/"+url.PathEscape(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutMyProfile creates or replaces the caller's profile.
func (c *Client) PutMyProfile(ctx context.Context, req models.UpsertProfileRequest) (*models.Profile, error) {
	var out models.Profile
	if err := c.do(ctx, http.MethodPut, "/api/v1/profiles/me", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches the readiness probe.
func (c *Client) Health(ctx context.Context) (*models.HealthStatus, error) {
	var out models.HealthStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/health/ready", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
