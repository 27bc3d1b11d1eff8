// Package syncer drains the local sync queue against the remote store.
//
// A single drain runs at a time. Enqueues that land while a drain is in
// flight set a rerun flag instead of starting a second drain, so the
// running drain picks up the new items before it finishes. Drains are
// triggered by the offline-to-online connectivity edge and by enqueues
// that happen while online.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tidebook/tidebook/internal/apperr"
	"github.com/tidebook/tidebook/internal/domain"
	"github.com/tidebook/tidebook/internal/remote"
	"github.com/tidebook/tidebook/internal/retry"
	"github.com/tidebook/tidebook/internal/store"
)

// DefaultMaxRetries bounds how many failed drains an item survives
// before it is parked for manual intervention.
const DefaultMaxRetries = 3

// State is a point-in-time snapshot of the sync engine, published to
// subscribers whenever it changes.
type State struct {
	Online  bool
	Syncing bool
	Pending int
	Failed  int
}

// Coordinator owns the drain loop and the connectivity flag.
type Coordinator struct {
	local      *store.DB
	applier    applier
	policy     retry.Policy
	maxRetries int
	log        zerolog.Logger

	mu      sync.Mutex
	online  bool
	syncing bool
	rerun   bool

	subMu   sync.Mutex
	nextSub int
	subs    map[int]chan State
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetryPolicy overrides the per-item retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithMaxRetries overrides the cross-drain retry bound.
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) { c.maxRetries = n }
}

// New builds a Coordinator over the local store and a remote. The
// coordinator starts offline; connectivity is reported through SetOnline.
func New(local *store.DB, rem remote.Store, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		local:      local,
		applier:    applier{remote: rem},
		policy:     retry.DefaultPolicy(apperr.Retryable),
		maxRetries: DefaultMaxRetries,
		log:        log.With().Str("component", "syncer").Logger(),
		subs:       make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Online reports the current connectivity flag.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records connectivity. The offline-to-online edge triggers a
// synchronous drain; the reverse edge only flips the flag, so a drain in
// flight fails its current item and parks the rest.
func (c *Coordinator) SetOnline(ctx context.Context, online bool) error {
	c.mu.Lock()
	wasOnline := c.online
	c.online = online
	c.mu.Unlock()

	if online == wasOnline {
		return nil
	}
	c.log.Info().Bool("online", online).Msg("connectivity changed")
	c.publish(ctx)

	if online {
		return c.DrainAll(ctx)
	}
	return nil
}

// Enqueue records a local mutation for replay. The payload must be the
// JSON representation of the entity (nil for deletes). When online, the
// queue is drained immediately so the remote converges without waiting
// for the next connectivity edge. Enqueue succeeds once the item is
// committed locally; failures of the immediate drain are recorded on
// the queue items and resolved by later drains, never returned here.
func (c *Coordinator) Enqueue(ctx context.Context, entityType domain.EntityType, entityID string, op store.Operation, payload []byte) error {
	item := &store.QueueItem{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.local.Enqueue(ctx, item); err != nil {
		return err
	}
	c.log.Debug().
		Str("entity_type", string(entityType)).
		Str("entity_id", entityID).
		Str("operation", string(op)).
		Msg("mutation queued")
	c.publish(ctx)

	if c.Online() {
		if err := c.DrainAll(ctx); err != nil {
			c.log.Warn().Err(err).Str("entity_id", entityID).Msg("immediate drain failed, mutation stays queued")
		}
	}
	return nil
}

// DrainAll processes every eligible queue item in creation order. If a
// drain is already running it sets the rerun flag and returns; the
// running drain loops again before releasing the syncing flag, so no
// enqueue is left behind.
func (c *Coordinator) DrainAll(ctx context.Context) error {
	c.mu.Lock()
	if c.syncing {
		c.rerun = true
		c.mu.Unlock()
		return nil
	}
	c.syncing = true
	c.mu.Unlock()
	c.publish(ctx)

	var firstErr error
	for {
		err := c.drainPass(ctx)
		if firstErr == nil {
			firstErr = err
		}

		c.mu.Lock()
		if c.rerun && err == nil {
			c.rerun = false
			c.mu.Unlock()
			continue
		}
		c.rerun = false
		c.syncing = false
		c.mu.Unlock()
		break
	}
	c.publish(ctx)
	return firstErr
}

// drainPass attempts every currently eligible item once. A network
// failure stops the pass and leaves the item in syncing status, which
// keeps it eligible without burning a retry; any other failure records a
// retry and moves on to the next item.
func (c *Coordinator) drainPass(ctx context.Context) error {
	items, err := c.local.PendingItems(ctx, c.maxRetries)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	c.log.Info().Int("items", len(items)).Msg("draining sync queue")

	for i := range items {
		item := &items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.local.MarkSyncing(ctx, item.ID, time.Now().UTC()); err != nil {
			return err
		}

		applyErr := c.policy.Do(ctx, func(ctx context.Context) error {
			return c.applier.apply(ctx, item)
		})
		if applyErr == nil {
			if err := c.finishItem(ctx, item); err != nil {
				return err
			}
			continue
		}

		if apperr.Retryable(applyErr) {
			// Lost connectivity mid-drain. The item stays in syncing
			// status and will be re-picked by the next drain.
			c.log.Warn().Err(applyErr).Str("item", item.ID).Msg("drain interrupted by network failure")
			return applyErr
		}

		c.log.Error().Err(applyErr).
			Str("item", item.ID).
			Str("entity_id", item.EntityID).
			Int("retry_count", item.RetryCount+1).
			Msg("queue item failed")
		if err := c.local.MarkFailed(ctx, item.ID, applyErr.Error(), time.Now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

// finishItem removes a replayed item and clears the cache's dirty flag
// for the entity so later remote reads can reconcile it.
func (c *Coordinator) finishItem(ctx context.Context, item *store.QueueItem) error {
	if err := c.local.DeleteQueueItem(ctx, item.ID); err != nil {
		return err
	}
	if item.Operation != store.OpDelete && len(item.Payload) > 0 {
		if err := c.local.CacheMarkSynced(ctx, item.EntityType, item.EntityID, item.Payload, time.Now().UTC()); err != nil {
			return err
		}
	}
	c.log.Debug().Str("item", item.ID).Str("entity_id", item.EntityID).Msg("queue item synced")
	return nil
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot(ctx context.Context) (State, error) {
	c.mu.Lock()
	s := State{Online: c.online, Syncing: c.syncing}
	c.mu.Unlock()

	pending, err := c.local.PendingCount(ctx, c.maxRetries)
	if err != nil {
		return s, err
	}
	s.Pending = pending

	failed, err := c.local.FailedItems(ctx, c.maxRetries)
	if err != nil {
		return s, err
	}
	s.Failed = len(failed)
	return s, nil
}

// Subscribe registers a state channel. The channel receives the current
// state on every change; slow subscribers miss intermediate states
// rather than blocking the drain.
func (c *Coordinator) Subscribe() (int, <-chan State) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan State, 8)
	c.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (c *Coordinator) Unsubscribe(id int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if ch, ok := c.subs[id]; ok {
		close(ch)
		delete(c.subs, id)
	}
}

func (c *Coordinator) publish(ctx context.Context) {
	state, err := c.Snapshot(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to snapshot sync state")
		return
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- state:
		default:
		}
	}
}
