package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tidebook/tidebook/internal/apperr"
	"github.com/tidebook/tidebook/internal/domain"
	"github.com/tidebook/tidebook/internal/remote"
	"github.com/tidebook/tidebook/internal/retry"
	"github.com/tidebook/tidebook/internal/store"
)

func setupCoordinator(t *testing.T) (*Coordinator, *store.DB, *remote.Memory) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("failed to open local db: %v", err)
	}
	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mem := remote.NewMemory()
	policy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Multiplier:  1.0,
		Retryable:   apperr.Retryable,
	}
	coord := New(db, mem, zerolog.Nop(), WithRetryPolicy(policy))
	return coord, db, mem
}

func queuedReceipt(t *testing.T, number string) (*domain.Document, []byte) {
	t.Helper()
	d := &domain.Document{
		ID:        uuid.NewString(),
		CompanyID: "co-1",
		Type:      domain.DocReceipt,
		Number:    number,
		Status:    domain.StatusDraft,
		Currency:  "USD",
		Receipt:   &domain.ReceiptDetails{PayerName: "Acme Ltd"},
		Items: []domain.LineItem{
			{Description: "consulting", Quantity: decimal.NewFromInt(1),
				UnitPrice: decimal.NewFromInt(100), Amount: decimal.NewFromInt(100)},
		},
	}
	d.SetDefaults()
	d.RecomputeTotals()
	payload, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("failed to marshal document: %v", err)
	}
	return d, payload
}

func TestOfflineEnqueueStaysPending(t *testing.T) {
	ctx := context.Background()
	coord, _, mem := setupCoordinator(t)

	d, payload := queuedReceipt(t, "RCT-000001")
	if err := coord.Enqueue(ctx, domain.EntityDocument, d.ID, store.OpCreate, payload); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	state, err := coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if state.Online || state.Syncing {
		t.Errorf("expected offline idle state, got %+v", state)
	}
	if state.Pending != 1 {
		t.Errorf("expected 1 pending item, got %d", state.Pending)
	}
	if mem.DocumentCount() != 0 {
		t.Errorf("remote should be untouched while offline")
	}
}

func TestOnlineEdgeDrainsQueue(t *testing.T) {
	ctx := context.Background()
	coord, db, mem := setupCoordinator(t)

	d, payload := queuedReceipt(t, "RCT-000002")
	if err := coord.Enqueue(ctx, domain.EntityDocument, d.ID, store.OpCreate, payload); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := coord.SetOnline(ctx, true); err != nil {
		t.Fatalf("drain on online edge failed: %v", err)
	}

	got, err := mem.GetDocument(ctx, d.ID)
	if err != nil {
		t.Fatalf("document did not reach remote: %v", err)
	}
	if got.Number != d.Number {
		t.Errorf("remote has wrong document: %s", got.Number)
	}

	state, err := coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if state.Pending != 0 {
		t.Errorf("expected empty queue after drain, got %d pending", state.Pending)
	}

	cached, err := db.CacheGet(ctx, domain.EntityDocument, d.ID)
	if err != nil {
		t.Fatalf("cache lookup failed: %v", err)
	}
	if cached.LocalChanges {
		t.Errorf("cache entry should be clean after sync")
	}
	if cached.SyncedAt == nil {
		t.Errorf("cache entry should record its sync time")
	}
}

func TestEnqueueWhileOnlineDrainsImmediately(t *testing.T) {
	ctx := context.Background()
	coord, _, mem := setupCoordinator(t)

	if err := coord.SetOnline(ctx, true); err != nil {
		t.Fatalf("set online failed: %v", err)
	}

	d, payload := queuedReceipt(t, "RCT-000003")
	if err := coord.Enqueue(ctx, domain.EntityDocument, d.ID, store.OpCreate, payload); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := mem.GetDocument(ctx, d.ID); err != nil {
		t.Fatalf("document did not reach remote: %v", err)
	}
}

func TestDrainReplaysInCreationOrder(t *testing.T) {
	ctx := context.Background()
	coord, _, mem := setupCoordinator(t)

	// Create, update, then delete the same document while offline. The
	// drain must replay them in order, leaving the remote without it.
	d, createPayload := queuedReceipt(t, "RCT-000004")
	if err := coord.Enqueue(ctx, domain.EntityDocument, d.ID, store.OpCreate, createPayload); err != nil {
		t.Fatalf("enqueue create failed: %v", err)
	}

	d.Status = domain.StatusIssued
	d.UpdatedAt = d.UpdatedAt.Add(time.Second)
	updatePayload, _ := json.Marshal(d)
	if err := coord.Enqueue(ctx, domain.EntityDocument, d.ID, store.OpUpdate, updatePayload); err != nil {
		t.Fatalf("enqueue update failed: %v", err)
	}
	if err := coord.Enqueue(ctx, domain.EntityDocument, d.ID, store.OpDelete, nil); err != nil {
		t.Fatalf("enqueue delete failed: %v", err)
	}

	if err := coord.SetOnline(ctx, true); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if _, err := mem.GetDocument(ctx, d.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected document absent after replayed delete, got %v", err)
	}
	state, _ := coord.Snapshot(ctx)
	if state.Pending != 0 {
		t.Errorf("expected empty queue, got %d pending", state.Pending)
	}
}

func TestNetworkFailureParksItemWithoutBurningRetry(t *testing.T) {
	ctx := context.Background()
	coord, db, mem := setupCoordinator(t)

	d, payload := queuedReceipt(t, "RCT-000005")
	if err := coord.Enqueue(ctx, domain.EntityDocument, d.ID, store.OpCreate, payload); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Every in-process attempt of the first drain hits the network fault.
	netErr := apperr.New("UpsertDocument", apperr.ErrNetwork, "injected")
	for i := 0; i < 3; i++ {
		mem.FailNext("UpsertDocument", netErr)
	}

	err := coord.SetOnline(ctx, true)
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("expected network error from drain, got %v", err)
	}

	item, err := db.GetQueueItem(ctx, queueItemID(t, db))
	if err != nil {
		t.Fatalf("queue item lookup failed: %v", err)
	}
	if item.RetryCount != 0 {
		t.Errorf("network failure should not burn a retry, got count %d", item.RetryCount)
	}

	// The next drain finds the remote healthy again.
	if err := coord.DrainAll(ctx); err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if _, err := mem.GetDocument(ctx, d.ID); err != nil {
		t.Errorf("document did not reach remote after recovery: %v", err)
	}
}

func TestNonRetryableFailureParksItemAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	coord, _, mem := setupCoordinator(t)

	d, payload := queuedReceipt(t, "RCT-000006")
	if err := coord.Enqueue(ctx, domain.EntityDocument, d.ID, store.OpCreate, payload); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := coord.SetOnline(ctx, true); err != nil {
		t.Fatalf("initial drain failed: %v", err)
	}
	if err := coord.SetOnline(ctx, false); err != nil {
		t.Fatalf("set offline failed: %v", err)
	}

	// A conflicting document with the same number already exists, so the
	// replay keeps failing with a non-retryable conflict.
	rival, _ := queuedReceipt(t, "RCT-000007")
	if err := mem.UpsertDocument(ctx, rival); err != nil {
		t.Fatalf("rival setup failed: %v", err)
	}
	dup, dupPayload := queuedReceipt(t, "RCT-000007")
	if err := coord.Enqueue(ctx, domain.EntityDocument, dup.ID, store.OpCreate, dupPayload); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	for i := 0; i < DefaultMaxRetries; i++ {
		if err := coord.DrainAll(ctx); err != nil {
			t.Fatalf("drain %d failed: %v", i, err)
		}
	}

	state, err := coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if state.Pending != 0 {
		t.Errorf("parked item should not count as pending, got %d", state.Pending)
	}
	if state.Failed != 1 {
		t.Errorf("expected 1 parked item, got %d", state.Failed)
	}
}

func TestSubscribeReceivesStateChanges(t *testing.T) {
	ctx := context.Background()
	coord, _, _ := setupCoordinator(t)

	id, ch := coord.Subscribe()
	defer coord.Unsubscribe(id)

	if err := coord.SetOnline(ctx, true); err != nil {
		t.Fatalf("set online failed: %v", err)
	}

	select {
	case state := <-ch:
		if !state.Online {
			t.Errorf("expected online state, got %+v", state)
		}
	case <-time.After(time.Second):
		t.Fatal("no state published after connectivity change")
	}
}

func TestOfflineEdgeDoesNotDrain(t *testing.T) {
	ctx := context.Background()
	coord, _, mem := setupCoordinator(t)

	if err := coord.SetOnline(ctx, true); err != nil {
		t.Fatalf("set online failed: %v", err)
	}
	if err := coord.SetOnline(ctx, false); err != nil {
		t.Fatalf("set offline failed: %v", err)
	}

	d, payload := queuedReceipt(t, "RCT-000008")
	if err := coord.Enqueue(ctx, domain.EntityDocument, d.ID, store.OpCreate, payload); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if mem.DocumentCount() != 0 {
		t.Errorf("remote should be untouched after going offline")
	}
}

func TestEnqueueSucceedsWhenImmediateDrainFails(t *testing.T) {
	ctx := context.Background()
	coord, _, mem := setupCoordinator(t)

	if err := coord.SetOnline(ctx, true); err != nil {
		t.Fatalf("set online failed: %v", err)
	}

	// The immediate drain hits a network fault on every attempt. The
	// mutation is committed to the queue, so the caller sees success.
	netErr := apperr.New("UpsertDocument", apperr.ErrNetwork, "injected")
	for i := 0; i < 3; i++ {
		mem.FailNext("UpsertDocument", netErr)
	}

	d, payload := queuedReceipt(t, "RCT-000009")
	if err := coord.Enqueue(ctx, domain.EntityDocument, d.ID, store.OpCreate, payload); err != nil {
		t.Fatalf("enqueue of a committed mutation must not fail: %v", err)
	}

	state, err := coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if state.Pending != 1 {
		t.Errorf("expected 1 pending item awaiting replay, got %d", state.Pending)
	}

	if err := coord.DrainAll(ctx); err != nil {
		t.Fatalf("recovery drain failed: %v", err)
	}
	if _, err := mem.GetDocument(ctx, d.ID); err != nil {
		t.Errorf("document did not reach remote after recovery: %v", err)
	}
}

// blockingRemote parks UpsertDocument calls until release is closed, so
// a drain can be held mid-item while another drain is invoked.
type blockingRemote struct {
	remote.Store
	entered chan struct{}
	release chan struct{}
	upserts atomic.Int32
}

func (b *blockingRemote) UpsertDocument(ctx context.Context, d *domain.Document) error {
	b.upserts.Add(1)
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.Store.UpsertDocument(ctx, d)
}

func TestConcurrentDrainAppliesItemOnce(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("failed to open local db: %v", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mem := remote.NewMemory()
	blocker := &blockingRemote{
		Store:   mem,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	policy := retry.Policy{MaxAttempts: 1, Retryable: apperr.Retryable}
	coord := New(db, blocker, zerolog.Nop(), WithRetryPolicy(policy))

	d, payload := queuedReceipt(t, "RCT-000010")
	if err := coord.Enqueue(ctx, domain.EntityDocument, d.ID, store.OpCreate, payload); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- coord.SetOnline(ctx, true) }()

	select {
	case <-blocker.entered:
	case <-time.After(time.Second):
		t.Fatal("drain never reached the remote")
	}

	// The first drain is parked inside the remote call. A second drain
	// must not pick up the same item.
	if err := coord.DrainAll(ctx); err != nil {
		t.Fatalf("concurrent drain failed: %v", err)
	}
	if got := blocker.upserts.Load(); got != 1 {
		t.Fatalf("second drain replayed the item, %d upserts", got)
	}

	close(blocker.release)
	if err := <-done; err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if got := blocker.upserts.Load(); got != 1 {
		t.Errorf("item applied %d times, want exactly once", got)
	}
	state, err := coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if state.Pending != 0 {
		t.Errorf("expected empty queue after drain, got %d pending", state.Pending)
	}
}

// queueItemID returns the ID of the single item in the queue.
func queueItemID(t *testing.T, db *store.DB) string {
	t.Helper()
	items, err := db.PendingItems(context.Background(), DefaultMaxRetries)
	if err != nil {
		t.Fatalf("failed to list queue: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly 1 queue item, got %d", len(items))
	}
	return items[0].ID
}
