// Package lifecycle coordinates document operations across the local
// cache, the sync queue, and the remote store.
//
// When online, writes go straight to the remote with compensating
// rollback on partial failure, and the cache is updated with the clean
// result. When offline, writes land in the sync queue (which writes
// through to the cache) and replay on the next connectivity edge.
// Ledger postings are the exception: they mutate shared balances and
// fail closed while offline.
package lifecycle

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidebook/tidebook/internal/domain"
	"github.com/tidebook/tidebook/internal/remote"
	"github.com/tidebook/tidebook/internal/store"
	"github.com/tidebook/tidebook/internal/syncer"
)

// Coordinator drives document lifecycle operations.
type Coordinator struct {
	local         *store.DB
	remote        remote.Store
	sync          *syncer.Coordinator
	log           zerolog.Logger
	allowNegative bool

	// accountMu serializes ledger postings per account so two documents
	// completing against the same account cannot race the balance check.
	muMu      sync.Mutex
	accountMu map[string]*sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAllowNegativeBalance permits postings that take an account below
// zero instead of failing with ErrInsufficientBalance.
func WithAllowNegativeBalance() Option {
	return func(c *Coordinator) { c.allowNegative = true }
}

// New builds a lifecycle coordinator.
func New(local *store.DB, rem remote.Store, sc *syncer.Coordinator, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		local:     local,
		remote:    rem,
		sync:      sc,
		log:       log.With().Str("component", "lifecycle").Logger(),
		accountMu: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lockAccount returns the mutex for an account, creating it on first use.
func (c *Coordinator) lockAccount(id string) *sync.Mutex {
	c.muMu.Lock()
	defer c.muMu.Unlock()
	mu, ok := c.accountMu[id]
	if !ok {
		mu = &sync.Mutex{}
		c.accountMu[id] = mu
	}
	return mu
}

// cacheClean stores the document as the synced remote representation.
func (c *Coordinator) cacheClean(ctx context.Context, d *domain.Document) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.local.CacheMarkSynced(ctx, domain.EntityDocument, d.ID, payload, time.Now().UTC())
}

// enqueueDocument queues the document for replay and lets the queue's
// write-through keep the cache current.
func (c *Coordinator) enqueueDocument(ctx context.Context, d *domain.Document, op store.Operation) error {
	var payload []byte
	if op != store.OpDelete {
		var err error
		if payload, err = json.Marshal(d); err != nil {
			return err
		}
	}
	return c.sync.Enqueue(ctx, domain.EntityDocument, d.ID, op, payload)
}

// fallbackNumber renders an offline document number. It is unique per
// millisecond, which is enough for a single offline client; the remote
// sequence takes over again once connectivity returns.
func fallbackNumber(t domain.DocumentType) string {
	stamp := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return remote.NumberPrefix(t) + "-" + strings.ToUpper(stamp)
}
