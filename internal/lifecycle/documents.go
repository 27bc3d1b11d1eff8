package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tidebook/tidebook/internal/apperr"
	"github.com/tidebook/tidebook/internal/domain"
	"github.com/tidebook/tidebook/internal/store"
)

// CreateDocument validates, numbers, and persists a new document.
//
// Online, the three row groups are written remotely in order (envelope,
// variant, line items) with compensating deletes on partial failure so
// the remote never holds a half-created document. Offline, the whole
// document is queued for replay through the idempotent upsert.
func (c *Coordinator) CreateDocument(ctx context.Context, d *domain.Document) (*domain.Document, error) {
	d = d.Clone()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.SetDefaults()
	d.RecomputeTotals()

	if d.Number == "" {
		if err := c.assignNumber(ctx, d); err != nil {
			return nil, err
		}
	}
	if err := d.Validate(); err != nil {
		return nil, apperr.New("CreateDocument", apperr.ErrValidation, err.Error())
	}

	if !c.sync.Online() {
		if err := c.enqueueDocument(ctx, d, store.OpCreate); err != nil {
			return nil, err
		}
		c.log.Info().Str("document", d.ID).Str("number", d.Number).Msg("document created offline")
		return d, nil
	}

	if err := c.createRemote(ctx, d); err != nil {
		if apperr.Retryable(err) {
			// Connectivity dropped mid-create. The compensations have
			// run; fall back to the offline path.
			if qerr := c.enqueueDocument(ctx, d, store.OpCreate); qerr != nil {
				return nil, qerr
			}
			c.log.Warn().Str("document", d.ID).Msg("remote create failed, document queued")
			return d, nil
		}
		return nil, err
	}

	if err := c.cacheClean(ctx, d); err != nil {
		return nil, err
	}
	c.log.Info().Str("document", d.ID).Str("number", d.Number).Msg("document created")
	return d, nil
}

// assignNumber allocates the next remote sequence number, or derives a
// timestamp-based fallback when the remote is unreachable.
func (c *Coordinator) assignNumber(ctx context.Context, d *domain.Document) error {
	if c.sync.Online() {
		number, err := c.remote.NextDocumentNumber(ctx, d.CompanyID, d.Type)
		if err == nil {
			d.Number = number
			return nil
		}
		if !apperr.Retryable(err) {
			return err
		}
	}
	d.Number = fallbackNumber(d.Type)
	return nil
}

// createRemote runs the three-step creation saga. Steps that succeeded
// before a failure are compensated in reverse order; the envelope is
// removed last so a crash between compensations cannot orphan variant
// or line-item rows behind a missing parent.
func (c *Coordinator) createRemote(ctx context.Context, d *domain.Document) error {
	if err := c.remote.InsertEnvelope(ctx, d); err != nil {
		return err
	}
	if err := c.remote.InsertVariant(ctx, d); err != nil {
		c.compensate(ctx, d.ID, false)
		return err
	}
	if err := c.remote.InsertLineItems(ctx, d.ID, d.Items); err != nil {
		c.compensate(ctx, d.ID, true)
		return err
	}
	return nil
}

// compensate rolls back a partial creation. Failures here are logged
// rather than returned: the original error is the one the caller needs,
// and each delete is idempotent so a later cleanup can finish the job.
func (c *Coordinator) compensate(ctx context.Context, id string, variantWritten bool) {
	if err := c.remote.DeleteLineItems(ctx, id); err != nil {
		c.log.Error().Err(err).Str("document", id).Msg("compensation failed: line items")
	}
	if variantWritten {
		if err := c.remote.DeleteVariant(ctx, id); err != nil {
			c.log.Error().Err(err).Str("document", id).Msg("compensation failed: variant")
		}
	}
	if err := c.remote.DeleteEnvelope(ctx, id); err != nil {
		c.log.Error().Err(err).Str("document", id).Msg("compensation failed: envelope")
	}
}

// GetDocument returns a document, serving cached data while offline and
// reconciling the cache from the remote while online. A cached record
// with local changes is never overwritten by the remote copy.
func (c *Coordinator) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	if !c.sync.Online() {
		return c.cachedDocument(ctx, id)
	}

	remoteDoc, err := c.remote.GetDocument(ctx, id)
	if err != nil {
		if apperr.Retryable(err) {
			return c.cachedDocument(ctx, id)
		}
		return nil, err
	}

	payload, err := json.Marshal(remoteDoc)
	if err != nil {
		return nil, err
	}
	applied, err := c.local.CacheReconcile(ctx, domain.EntityDocument, id, payload, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !applied {
		// Local edits are still queued; they win until synced.
		return c.cachedDocument(ctx, id)
	}
	return remoteDoc, nil
}

func (c *Coordinator) cachedDocument(ctx context.Context, id string) (*domain.Document, error) {
	entry, err := c.local.CacheGet(ctx, domain.EntityDocument, id)
	if err != nil {
		return nil, err
	}
	var d domain.Document
	if err := json.Unmarshal(entry.Data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDocument persists field edits to a draft-editable document.
// The caller passes the UpdatedAt it last read; online updates apply
// only if the remote still matches it, otherwise ErrConflict.
func (c *Coordinator) UpdateDocument(ctx context.Context, d *domain.Document) (*domain.Document, error) {
	d = d.Clone()
	d.RecomputeTotals()
	if err := d.Validate(); err != nil {
		return nil, apperr.New("UpdateDocument", apperr.ErrValidation, err.Error())
	}

	expected := d.UpdatedAt
	d.UpdatedAt = time.Now().UTC()

	if !c.sync.Online() {
		if err := c.enqueueDocument(ctx, d, store.OpUpdate); err != nil {
			return nil, err
		}
		return d, nil
	}

	if err := c.updateRemote(ctx, d, &expected); err != nil {
		if apperr.Retryable(err) {
			if qerr := c.enqueueDocument(ctx, d, store.OpUpdate); qerr != nil {
				return nil, qerr
			}
			c.log.Warn().Str("document", d.ID).Msg("remote update failed, document queued")
			return d, nil
		}
		return nil, err
	}

	if err := c.cacheClean(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// updateRemote applies envelope, variant, and line items. The envelope
// carries the optimistic lock; once it succeeds this client owns the
// revision, so the dependent row swaps restore the previous variant and
// line items on failure instead of losing them.
func (c *Coordinator) updateRemote(ctx context.Context, d *domain.Document, expected *time.Time) error {
	previous, err := c.remote.GetDocument(ctx, d.ID)
	if err != nil {
		return err
	}

	if err := c.remote.UpdateEnvelope(ctx, d, expected); err != nil {
		return err
	}

	if err := c.remote.DeleteVariant(ctx, d.ID); err != nil {
		return err
	}
	if err := c.remote.InsertVariant(ctx, d); err != nil {
		if rerr := c.remote.InsertVariant(ctx, previous); rerr != nil {
			c.log.Error().Err(rerr).Str("document", d.ID).Msg("failed to restore variant")
		}
		return err
	}

	if err := c.remote.DeleteLineItems(ctx, d.ID); err != nil {
		return err
	}
	if err := c.remote.InsertLineItems(ctx, d.ID, d.Items); err != nil {
		if rerr := c.remote.InsertLineItems(ctx, d.ID, previous.Items); rerr != nil {
			c.log.Error().Err(rerr).Str("document", d.ID).Msg("failed to restore line items")
		}
		return err
	}
	return nil
}

// ListDocuments returns a company's documents. Online it serves the
// remote view; offline it assembles the view from the cache.
func (c *Coordinator) ListDocuments(ctx context.Context, companyID string) ([]*domain.Document, error) {
	if c.sync.Online() {
		docs, err := c.remote.ListDocuments(ctx, companyID)
		if err == nil {
			return docs, nil
		}
		if !apperr.Retryable(err) {
			return nil, err
		}
	}

	entries, err := c.local.CacheGetAll(ctx, domain.EntityDocument)
	if err != nil {
		return nil, err
	}
	var docs []*domain.Document
	for _, entry := range entries {
		var d domain.Document
		if err := json.Unmarshal(entry.Data, &d); err != nil {
			c.log.Warn().Err(err).Str("entity_id", entry.EntityID).Msg("skipping unreadable cache entry")
			continue
		}
		if d.CompanyID == companyID {
			docs = append(docs, &d)
		}
	}
	return docs, nil
}
