package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidebook/tidebook/internal/apperr"
	"github.com/tidebook/tidebook/internal/domain"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "local.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return db, dbPath
}

func enqueueTestItem(t *testing.T, db *DB, id, entityID string, op Operation, createdAt time.Time) {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{"id": entityID})
	err := db.Enqueue(context.Background(), &QueueItem{
		ID:         id,
		EntityType: domain.EntityDocument,
		EntityID:   entityID,
		Operation:  op,
		Payload:    payload,
		CreatedAt:  createdAt,
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
}

func TestCachePutGet(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	if err := db.CachePut(ctx, domain.EntityDocument, "doc-1", []byte(`{"id":"doc-1"}`)); err != nil {
		t.Fatalf("CachePut failed: %v", err)
	}

	e, err := db.CacheGet(ctx, domain.EntityDocument, "doc-1")
	if err != nil {
		t.Fatalf("CacheGet failed: %v", err)
	}
	if !e.LocalChanges {
		t.Errorf("CachePut must set local_changes")
	}
	if e.SyncedAt != nil {
		t.Errorf("fresh local write must not carry synced_at")
	}

	if _, err := db.CacheGet(ctx, domain.EntityDocument, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing entry, got %v", err)
	}
}

func TestCacheReconcileRespectsLocalChanges(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Dirty entry: reconcile must not overwrite.
	if err := db.CachePut(ctx, domain.EntityDocument, "doc-1", []byte(`{"v":"local"}`)); err != nil {
		t.Fatalf("CachePut failed: %v", err)
	}
	applied, err := db.CacheReconcile(ctx, domain.EntityDocument, "doc-1", []byte(`{"v":"remote"}`), now)
	if err != nil {
		t.Fatalf("CacheReconcile failed: %v", err)
	}
	if applied {
		t.Errorf("reconcile overwrote an entry with unsynced local changes")
	}
	e, _ := db.CacheGet(ctx, domain.EntityDocument, "doc-1")
	if string(e.Data) != `{"v":"local"}` {
		t.Errorf("local data clobbered: %s", e.Data)
	}

	// Clean entry: reconcile applies and stamps synced_at.
	applied, err = db.CacheReconcile(ctx, domain.EntityDocument, "doc-2", []byte(`{"v":"remote"}`), now)
	if err != nil {
		t.Fatalf("CacheReconcile failed: %v", err)
	}
	if !applied {
		t.Errorf("reconcile should apply for an unknown entity")
	}
	e, _ = db.CacheGet(ctx, domain.EntityDocument, "doc-2")
	if e.LocalChanges {
		t.Errorf("reconciled entry must not be marked locally changed")
	}
	if e.SyncedAt == nil || !e.SyncedAt.Equal(now) {
		t.Errorf("synced_at = %v, want %v", e.SyncedAt, now)
	}
}

func TestCacheMarkSyncedClearsFlag(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	if err := db.CachePut(ctx, domain.EntityAccount, "acc-1", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("CachePut failed: %v", err)
	}
	if err := db.CacheMarkSynced(ctx, domain.EntityAccount, "acc-1", []byte(`{"v":2}`), time.Now()); err != nil {
		t.Fatalf("CacheMarkSynced failed: %v", err)
	}
	e, _ := db.CacheGet(ctx, domain.EntityAccount, "acc-1")
	if e.LocalChanges {
		t.Errorf("mark-synced must clear local_changes")
	}
	if string(e.Data) != `{"v":2}` {
		t.Errorf("mark-synced must replace data, got %s", e.Data)
	}
}

func TestCacheGetAll(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("doc-%d", i)
		if err := db.CachePut(ctx, domain.EntityDocument, id, []byte(`{}`)); err != nil {
			t.Fatalf("CachePut failed: %v", err)
		}
	}
	if err := db.CachePut(ctx, domain.EntityBooking, "bk-1", []byte(`{}`)); err != nil {
		t.Fatalf("CachePut failed: %v", err)
	}

	docs, err := db.CacheGetAll(ctx, domain.EntityDocument)
	if err != nil {
		t.Fatalf("CacheGetAll failed: %v", err)
	}
	if len(docs) != 3 {
		t.Errorf("expected 3 documents, got %d", len(docs))
	}
}

func TestEnqueueWritesThroughToCache(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	enqueueTestItem(t, db, "q-1", "doc-1", OpCreate, time.Now())

	e, err := db.CacheGet(ctx, domain.EntityDocument, "doc-1")
	if err != nil {
		t.Fatalf("enqueue did not write through to cache: %v", err)
	}
	if !e.LocalChanges {
		t.Errorf("write-through entry must be marked locally changed")
	}

	count, err := db.PendingCount(ctx, 3)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 pending item, got %d", count)
	}
}

func TestEnqueueDeleteTombstonesCache(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	if err := db.CachePut(ctx, domain.EntityDocument, "doc-1", []byte(`{}`)); err != nil {
		t.Fatalf("CachePut failed: %v", err)
	}
	enqueueTestItem(t, db, "q-1", "doc-1", OpDelete, time.Now())

	if _, err := db.CacheGet(ctx, domain.EntityDocument, "doc-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("delete enqueue must remove the cached entity, got %v", err)
	}
}

func TestPendingItemsOrderedByCreation(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// Insert out of order; drain order must follow created_at.
	enqueueTestItem(t, db, "q-b", "doc-2", OpUpdate, base.Add(2*time.Second))
	enqueueTestItem(t, db, "q-a", "doc-1", OpCreate, base.Add(1*time.Second))
	enqueueTestItem(t, db, "q-c", "doc-3", OpDelete, base.Add(3*time.Second))

	items, err := db.PendingItems(ctx, 3)
	if err != nil {
		t.Fatalf("PendingItems failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	want := []string{"q-a", "q-b", "q-c"}
	for i, w := range want {
		if items[i].ID != w {
			t.Errorf("item %d = %s, want %s", i, items[i].ID, w)
		}
	}
}

func TestRetryBookkeeping(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	maxRetries := 3

	enqueueTestItem(t, db, "q-1", "doc-1", OpCreate, time.Now())

	for i := 1; i <= maxRetries; i++ {
		if err := db.MarkSyncing(ctx, "q-1", time.Now()); err != nil {
			t.Fatalf("MarkSyncing failed: %v", err)
		}
		if err := db.MarkFailed(ctx, "q-1", "connection refused", time.Now()); err != nil {
			t.Fatalf("MarkFailed failed: %v", err)
		}

		item, err := db.GetQueueItem(ctx, "q-1")
		if err != nil {
			t.Fatalf("GetQueueItem failed: %v", err)
		}
		if item.RetryCount != i {
			t.Errorf("retry count = %d, want %d", item.RetryCount, i)
		}
		if item.Error != "connection refused" {
			t.Errorf("error not recorded: %q", item.Error)
		}
		if item.LastAttempt == nil {
			t.Errorf("last_attempt not recorded")
		}
	}

	// Exhausted: no longer drain-eligible, surfaced as permanently failed.
	pending, err := db.PendingItems(ctx, maxRetries)
	if err != nil {
		t.Fatalf("PendingItems failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("exhausted item still drain-eligible")
	}
	failed, err := db.FailedItems(ctx, maxRetries)
	if err != nil {
		t.Fatalf("FailedItems failed: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("expected 1 permanently failed item, got %d", len(failed))
	}
}

func TestStuckSyncingItemIsEligible(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	enqueueTestItem(t, db, "q-1", "doc-1", OpCreate, time.Now())
	if err := db.MarkSyncing(ctx, "q-1", time.Now()); err != nil {
		t.Fatalf("MarkSyncing failed: %v", err)
	}

	// A crash mid-drain leaves the item in syncing; it must be retried.
	items, err := db.PendingItems(ctx, 3)
	if err != nil {
		t.Fatalf("PendingItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("syncing item must remain drain-eligible, got %d items", len(items))
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	db, path := setupTestDB(t)
	ctx := context.Background()

	enqueueTestItem(t, db, "q-1", "doc-1", OpCreate, time.Now())
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db2.Close()
	if err := db2.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema on reopen failed: %v", err)
	}

	count, err := db2.PendingCount(ctx, 3)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("queue item lost across restart")
	}
	if _, err := db2.CacheGet(ctx, domain.EntityDocument, "doc-1"); err != nil {
		t.Errorf("cache entry lost across restart: %v", err)
	}
}
