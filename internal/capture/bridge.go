// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package capture

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tandem/internal/cache"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/metrics"
	"github.com/tomtom215/tandem/internal/models"
)

// RelationshipLookup resolves the full row of a match when a notification
// only carried its id.
type RelationshipLookup interface {
	GetMatch(ctx context.Context, id string) (*models.Match, error)
}

// ProfileLookup resolves the public profile embedded for a recipient's
// counterpart.
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// Deliverer fans a message out to every connection of a user. *websocket.Hub
// implements it.
type Deliverer interface {
	Deliver(userID string, msg models.Message) int
}

// Feed produces raw row changes. Run blocks until ctx is done or the feed
// fails, calling sink once per change in commit order.
type Feed interface {
	Name() string
	Run(ctx context.Context, sink func(context.Context, models.RowChange)) error
}

// Config tunes the bridge.
type Config struct {
	Table           string
	Workers         int
	QueueSize       int
	LookupTimeout   time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	// PartyCache bounds how many rows' participants are remembered for
	// routing deletes whose notification lost them.
	PartyCache int
	PartyTTL   time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Table:           models.TableMatches,
		Workers:         8,
		QueueSize:       256,
		LookupTimeout:   5 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
		PartyCache:      10000,
		PartyTTL:        24 * time.Hour,
	}
}

// Bridge turns row changes into per-recipient change events.
//
// Changes are sharded by row id, so all changes of one row are handled by
// one worker in arrival order while different rows proceed in parallel.
type Bridge struct {
	cfg      Config
	matches  RelationshipLookup
	profiles ProfileLookup
	out      Deliverer

	parties        *cache.LRU[[2]string]
	matchBreaker   *gobreaker.CircuitBreaker[*models.Match]
	profileBreaker *gobreaker.CircuitBreaker[*models.Profile]

	mu     sync.RWMutex // guards shards; held for reading while sending
	shards []chan job
}

type job struct {
	ctx    context.Context
	change models.RowChange
}

// NewBridge creates a bridge delivering to out.
func NewBridge(cfg Config, matches RelationshipLookup, profiles ProfileLookup, out Deliverer) *Bridge {
	def := DefaultConfig()
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if cfg.PartyCache <= 0 {
		cfg.PartyCache = def.PartyCache
	}
	if cfg.PartyTTL <= 0 {
		cfg.PartyTTL = def.PartyTTL
	}

	return &Bridge{
		cfg:            cfg,
		matches:        matches,
		profiles:       profiles,
		out:            out,
		parties:        cache.NewLRU[[2]string](cfg.PartyCache, cfg.PartyTTL),
		matchBreaker:   newBreaker[*models.Match]("capture-match-lookup", cfg),
		profileBreaker: newBreaker[*models.Profile]("capture-profile-lookup", cfg),
	}
}

func newBreaker[T any](name string, cfg Config) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A missing row is an answer, not a datastore failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordCircuitBreakerTransition(name, from.String(), to.String())
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

// Serve starts the workers, runs feed and blocks until either ends. Queued
// changes are drained before Serve returns.
func (b *Bridge) Serve(ctx context.Context, feed Feed) error {
	shards := make([]chan job, b.cfg.Workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan job, b.cfg.QueueSize)
		wg.Add(1)
		go func(q <-chan job) {
			defer wg.Done()
			for j := range q {
				b.Process(j.ctx, j.change)
			}
		}(shards[i])
	}

	b.mu.Lock()
	b.shards = shards
	b.mu.Unlock()

	log := logging.WithComponent("capture-bridge")
	log.Info().
		Str("feed", feed.Name()).
		Int("workers", b.cfg.Workers).
		Msg("change capture started")

	err := feed.Run(ctx, b.Enqueue)

	b.mu.Lock()
	b.shards = nil
	for _, q := range shards {
		close(q)
	}
	b.mu.Unlock()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.CaptureFeedErrors.WithLabelValues(feed.Name()).Inc()
		return fmt.Errorf("change feed %s: %w", feed.Name(), err)
	}
	log.Info().Msg("change capture stopped")
	return err
}

// Enqueue hands change to the worker owning its row. It blocks while that
// worker's queue is full, which backpressures the feed. Without running
// workers the change is processed inline.
func (b *Bridge) Enqueue(ctx context.Context, change models.RowChange) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.shards) == 0 {
		b.Process(ctx, change)
		return
	}
	q := b.shards[shardFor(change.RowID(), len(b.shards))]
	select {
	case q <- job{ctx: context.WithoutCancel(ctx), change: change}:
	case <-ctx.Done():
	}
}

func shardFor(rowID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(rowID))
	return int(h.Sum32() % uint32(n))
}

// Process enriches and delivers one change synchronously and returns the
// number of recipients it was addressed to.
func (b *Bridge) Process(ctx context.Context, change models.RowChange) int {
	start := time.Now()
	defer func() { metrics.CaptureProcessingDuration.Observe(time.Since(start).Seconds()) }()

	if change.Table != b.cfg.Table {
		return 0
	}
	if !change.Operation.Valid() {
		logging.Warn().Str("operation", string(change.Operation)).Msg("dropping change with unknown operation")
		return 0
	}
	metrics.CaptureEvents.WithLabelValues(change.Table, string(change.Operation)).Inc()

	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	ctx = logging.ContextWithLogger(ctx, logging.WithComponent("capture-bridge").With().
		Str("row_id", change.RowID()).
		Str("operation", string(change.Operation)).
		Logger())
	log := logging.Ctx(ctx)

	b.completeRows(ctx, &change)
	b.rememberParties(change)

	recipients := partySet(change.NewRow, change.OldRow)
	if len(recipients) == 0 {
		log.Warn().Err(models.ErrEnrichmentLookup).Msg("no recipients resolved for change")
		return 0
	}

	newRow, err := encodeRow(change.NewRow)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode new row")
		return 0
	}
	oldRow, err := encodeRow(change.OldRow)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode old row")
		return 0
	}

	eventID := models.NewEventID()
	profiles := make(map[string]*models.Profile, 2)
	for _, recipient := range recipients {
		dctx := &models.DeliveryContext{}
		if cp := counterpartOf(recipient, change.NewRow, change.OldRow); cp != "" {
			p, ok := profiles[cp]
			if !ok {
				p, err = b.lookupProfile(ctx, cp)
				if err != nil {
					log.Warn().Err(err).Str("recipient", recipient).Msg("delivering without counterpart profile")
				}
				profiles[cp] = p
			}
			dctx.Counterpart = p
			dctx.Degraded = p == nil
		}

		msg, err := models.NewMessage(models.MessageChange, models.ChangeEvent{
			ID:          eventID,
			Table:       change.Table,
			Operation:   change.Operation,
			NewRow:      newRow,
			OldRow:      oldRow,
			Context:     dctx,
			CommittedAt: change.CommittedAt,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to encode change event")
			continue
		}
		b.out.Deliver(recipient, msg)
		metrics.CaptureRecipients.Inc()
	}
	return len(recipients)
}

// completeRows replaces id-only rows with the stored row where one exists.
// A deleted row can no longer be looked up; its participants come from rows
// seen earlier, or the incomplete old row stays.
func (b *Bridge) completeRows(ctx context.Context, change *models.RowChange) {
	for _, row := range []**models.Match{&change.NewRow, &change.OldRow} {
		if *row == nil || (*row).Complete() || (*row).ID == "" {
			continue
		}
		if row == &change.OldRow && change.NewRow != nil && change.NewRow.Complete() &&
			change.NewRow.ID == change.OldRow.ID {
			// Participants never change on update, so the new row suffices.
			continue
		}
		if change.Operation == models.OpDelete {
			if p, ok := b.parties.Get((*row).ID); ok {
				cp := **row
				cp.UserAID, cp.UserBID = p[0], p[1]
				*row = &cp
				continue
			}
			logging.Ctx(ctx).Warn().
				Err(models.ErrEnrichmentLookup).
				Msg("deleted row notification carried no participants")
			continue
		}
		full, err := b.lookupMatch(ctx, (*row).ID)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("could not resolve participants")
			continue
		}
		*row = full
	}
}

// rememberParties records the participants of complete rows so a later
// delete of the same row can be routed. Deleted rows are forgotten.
func (b *Bridge) rememberParties(change models.RowChange) {
	if change.Operation == models.OpDelete {
		if change.OldRow != nil {
			b.parties.Remove(change.OldRow.ID)
		}
		return
	}
	if r := change.NewRow; r != nil && r.ID != "" && r.Complete() {
		b.parties.Add(r.ID, [2]string{r.UserAID, r.UserBID})
	}
}

func (b *Bridge) lookupMatch(ctx context.Context, id string) (*models.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.LookupTimeout)
	defer cancel()
	m, err := b.matchBreaker.Execute(func() (*models.Match, error) {
		return b.matches.GetMatch(ctx, id)
	})
	if err != nil {
		metrics.CaptureEnrichmentFailures.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("%w: match %s: %v", models.ErrEnrichmentLookup, id, err)
	}
	return m, nil
}

func (b *Bridge) lookupProfile(ctx context.Context, userID string) (*models.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.LookupTimeout)
	defer cancel()
	p, err := b.profileBreaker.Execute(func() (*models.Profile, error) {
		return b.profiles.GetProfile(ctx, userID)
	})
	if err != nil {
		metrics.CaptureEnrichmentFailures.WithLabelValues("profile").Inc()
		return nil, fmt.Errorf("%w: profile %s: %v", models.ErrEnrichmentLookup, userID, err)
	}
	return p, nil
}

// partySet returns the union of participants of both rows, sorted.
func partySet(rows ...*models.Match) []string {
	seen := make(map[string]struct{}, 4)
	for _, r := range rows {
		if r == nil {
			continue
		}
		for _, p := range r.Participants() {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// counterpartOf picks the other party from the newest row that includes
// recipient.
func counterpartOf(recipient string, rows ...*models.Match) string {
	for _, r := range rows {
		if r != nil && r.HasParticipant(recipient) {
			return r.Counterpart(recipient)
		}
	}
	return ""
}

func encodeRow(m *models.Match) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
