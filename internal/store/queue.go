package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidebook/tidebook/internal/apperr"
	"github.com/tidebook/tidebook/internal/domain"
)

// Operation is the kind of mutation a queue item replays.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// QueueStatus is the sync state of a queue item.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSyncing QueueStatus = "syncing"
	QueueFailed  QueueStatus = "failed"
)

// QueueItem is one pending mutation. Items are drained in CreatedAt
// ascending order across the whole queue, since a later mutation may
// depend on an earlier create having landed remotely.
type QueueItem struct {
	ID          string
	EntityType  domain.EntityType
	EntityID    string
	Operation   Operation
	Payload     json.RawMessage
	Status      QueueStatus
	RetryCount  int
	Error       string
	CreatedAt   time.Time
	LastAttempt *time.Time
}

// Enqueue appends a queue item and writes its payload through to the
// cache in the same transaction. If the cache write fails the whole
// enqueue fails; the caller must not believe the mutation is queued.
func (db *DB) Enqueue(ctx context.Context, item *QueueItem) error {
	if item.ID == "" {
		return fmt.Errorf("queue item id is required")
	}
	if !item.EntityType.Valid() {
		return fmt.Errorf("unknown entity type %q", item.EntityType)
	}
	if item.Status == "" {
		item.Status = QueuePending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO sync_queue (id, entity_type, entity_id, operation, payload, status, retry_count, created_at)
	VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		item.ID,
		string(item.EntityType),
		item.EntityID,
		string(item.Operation),
		string(item.Payload),
		string(item.Status),
		item.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue item: %w", err)
	}

	// Write-through: deletes tombstone the cache entry, everything else
	// stores the new local representation.
	if item.Operation == OpDelete {
		del := `DELETE FROM cache_entries WHERE entity_type = ? AND entity_id = ?`
		if _, err := tx.ExecContext(ctx, del, string(item.EntityType), item.EntityID); err != nil {
			return fmt.Errorf("failed to remove cached entity: %w", err)
		}
	} else {
		if err := db.cachePut(ctx, tx, item.EntityType, item.EntityID, item.Payload); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return nil
}

// eligiblePredicate selects items a drain should attempt: pending items,
// items stuck in syncing by an interrupted drain, and failed items that
// still have retries left.
const eligiblePredicate = `
	(status = 'pending' OR status = 'syncing'
	 OR (status = 'failed' AND retry_count < ?))
`

// PendingItems returns drain-eligible items in creation order.
func (db *DB) PendingItems(ctx context.Context, maxRetries int) ([]QueueItem, error) {
	query := `
	SELECT id, entity_type, entity_id, operation, payload, status, retry_count, error, created_at, last_attempt
	FROM sync_queue
	WHERE ` + eligiblePredicate + `
	ORDER BY created_at ASC, id ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending items: %w", err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

// PendingCount reports how many mutations are awaiting sync
// (pending plus failed-with-retries-left). Pure read for UI badges.
func (db *DB) PendingCount(ctx context.Context, maxRetries int) (int, error) {
	query := `SELECT COUNT(*) FROM sync_queue WHERE ` + eligiblePredicate
	var count int
	if err := db.conn.QueryRowContext(ctx, query, maxRetries).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending items: %w", err)
	}
	return count, nil
}

// FailedItems returns permanently failed items (retries exhausted) that
// require manual intervention.
func (db *DB) FailedItems(ctx context.Context, maxRetries int) ([]QueueItem, error) {
	query := `
	SELECT id, entity_type, entity_id, operation, payload, status, retry_count, error, created_at, last_attempt
	FROM sync_queue
	WHERE status = 'failed' AND retry_count >= ?
	ORDER BY created_at ASC, id ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed items: %w", err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

// MarkSyncing flags an item as in flight.
func (db *DB) MarkSyncing(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE sync_queue SET status = 'syncing', last_attempt = ? WHERE id = ?`
	if _, err := db.conn.ExecContext(ctx, query, at.Format(time.RFC3339Nano), id); err != nil {
		return fmt.Errorf("failed to mark item %s syncing: %w", id, err)
	}
	return nil
}

// MarkFailed records the failure on the item and increments its retry
// count. The item stays queued for the next drain while retries remain.
func (db *DB) MarkFailed(ctx context.Context, id string, cause string, at time.Time) error {
	query := `
	UPDATE sync_queue
	SET status = 'failed', error = ?, retry_count = retry_count + 1, last_attempt = ?
	WHERE id = ?
	`
	if _, err := db.conn.ExecContext(ctx, query, cause, at.Format(time.RFC3339Nano), id); err != nil {
		return fmt.Errorf("failed to mark item %s failed: %w", id, err)
	}
	return nil
}

// DeleteQueueItem removes a successfully replayed item. Idempotent.
func (db *DB) DeleteQueueItem(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue item %s: %w", id, err)
	}
	return nil
}

// GetQueueItem returns a single queue item by id, or apperr.ErrNotFound.
func (db *DB) GetQueueItem(ctx context.Context, id string) (*QueueItem, error) {
	query := `
	SELECT id, entity_type, entity_id, operation, payload, status, retry_count, error, created_at, last_attempt
	FROM sync_queue
	WHERE id = ?
	`
	rows, err := db.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue item %s: %w", id, err)
	}
	defer rows.Close()
	items, err := scanQueueItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("queue item %s: %w", id, apperr.ErrNotFound)
	}
	return &items[0], nil
}

func scanQueueItems(rows *sql.Rows) ([]QueueItem, error) {
	var items []QueueItem
	for rows.Next() {
		var (
			item        QueueItem
			et, op, st  string
			payload     sql.NullString
			errMsg      sql.NullString
			createdAt   string
			lastAttempt sql.NullString
		)
		err := rows.Scan(&item.ID, &et, &item.EntityID, &op, &payload, &st,
			&item.RetryCount, &errMsg, &createdAt, &lastAttempt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.EntityType = domain.EntityType(et)
		item.Operation = Operation(op)
		item.Status = QueueStatus(st)
		if payload.Valid {
			item.Payload = json.RawMessage(payload.String)
		}
		item.Error = errMsg.String
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		item.CreatedAt = t
		item.LastAttempt = nullStringToTime(lastAttempt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}
	return items, nil
}
