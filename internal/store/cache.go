package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidebook/tidebook/internal/apperr"
	"github.com/tidebook/tidebook/internal/domain"
)

// CachedEntity is one row of the entity cache. LocalChanges means a pull
// from the remote store must not overwrite this record until the matching
// queue item is resolved.
type CachedEntity struct {
	EntityType   domain.EntityType
	EntityID     string
	Data         json.RawMessage
	SyncedAt     *time.Time
	LocalChanges bool
}

// CachePut stores the entity representation and marks it locally changed.
func (db *DB) CachePut(ctx context.Context, entityType domain.EntityType, id string, data []byte) error {
	return db.cachePut(ctx, db.conn, entityType, id, data)
}

// execer covers both *sql.DB and *sql.Tx so cache writes can join the
// enqueue transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) cachePut(ctx context.Context, ex execer, entityType domain.EntityType, id string, data []byte) error {
	query := `
	INSERT INTO cache_entries (entity_type, entity_id, data, local_changes)
	VALUES (?, ?, ?, 1)
	ON CONFLICT(entity_type, entity_id) DO UPDATE SET
		data = excluded.data,
		local_changes = 1
	`
	if _, err := ex.ExecContext(ctx, query, string(entityType), id, string(data)); err != nil {
		return fmt.Errorf("failed to cache %s %s: %w", entityType, id, err)
	}
	return nil
}

// CacheGet returns the cached entity, or apperr.ErrNotFound.
func (db *DB) CacheGet(ctx context.Context, entityType domain.EntityType, id string) (*CachedEntity, error) {
	query := `
	SELECT data, synced_at, local_changes
	FROM cache_entries
	WHERE entity_type = ? AND entity_id = ?
	`
	var (
		data     string
		syncedAt sql.NullString
		dirty    int
	)
	err := db.conn.QueryRowContext(ctx, query, string(entityType), id).Scan(&data, &syncedAt, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache entry %s/%s: %w", entityType, id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s/%s: %w", entityType, id, err)
	}
	return &CachedEntity{
		EntityType:   entityType,
		EntityID:     id,
		Data:         json.RawMessage(data),
		SyncedAt:     nullStringToTime(syncedAt),
		LocalChanges: dirty != 0,
	}, nil
}

// CacheGetAll returns every cached entity of the given type.
func (db *DB) CacheGetAll(ctx context.Context, entityType domain.EntityType) ([]CachedEntity, error) {
	query := `
	SELECT entity_id, data, synced_at, local_changes
	FROM cache_entries
	WHERE entity_type = ?
	ORDER BY entity_id ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries for %s: %w", entityType, err)
	}
	defer rows.Close()

	var entries []CachedEntity
	for rows.Next() {
		var (
			e        CachedEntity
			data     string
			syncedAt sql.NullString
			dirty    int
		)
		if err := rows.Scan(&e.EntityID, &data, &syncedAt, &dirty); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		e.EntityType = entityType
		e.Data = json.RawMessage(data)
		e.SyncedAt = nullStringToTime(syncedAt)
		e.LocalChanges = dirty != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache entries: %w", err)
	}
	return entries, nil
}

// CacheReconcile overwrites the cached entity with the remote
// representation, but only if no unsynced local change exists. Returns
// whether the write was applied.
func (db *DB) CacheReconcile(ctx context.Context, entityType domain.EntityType, id string, data []byte, syncedAt time.Time) (bool, error) {
	query := `
	INSERT INTO cache_entries (entity_type, entity_id, data, synced_at, local_changes)
	VALUES (?, ?, ?, ?, 0)
	ON CONFLICT(entity_type, entity_id) DO UPDATE SET
		data = excluded.data,
		synced_at = excluded.synced_at,
		local_changes = 0
	WHERE cache_entries.local_changes = 0
	`
	res, err := db.conn.ExecContext(ctx, query,
		string(entityType), id, string(data), syncedAt.Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("failed to reconcile %s %s: %w", entityType, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// CacheMarkSynced unconditionally replaces the cached entity with the
// representation that just landed remotely and clears the local-changes
// flag. Used when the matching queue item has been resolved.
func (db *DB) CacheMarkSynced(ctx context.Context, entityType domain.EntityType, id string, data []byte, syncedAt time.Time) error {
	query := `
	INSERT INTO cache_entries (entity_type, entity_id, data, synced_at, local_changes)
	VALUES (?, ?, ?, ?, 0)
	ON CONFLICT(entity_type, entity_id) DO UPDATE SET
		data = excluded.data,
		synced_at = excluded.synced_at,
		local_changes = 0
	`
	if _, err := db.conn.ExecContext(ctx, query,
		string(entityType), id, string(data), syncedAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to mark %s %s synced: %w", entityType, id, err)
	}
	return nil
}

// CacheDelete removes the cached entity. Idempotent.
func (db *DB) CacheDelete(ctx context.Context, entityType domain.EntityType, id string) error {
	query := `DELETE FROM cache_entries WHERE entity_type = ? AND entity_id = ?`
	if _, err := db.conn.ExecContext(ctx, query, string(entityType), id); err != nil {
		return fmt.Errorf("failed to delete cache entry %s/%s: %w", entityType, id, err)
	}
	return nil
}
