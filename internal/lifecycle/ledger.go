package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tidebook/tidebook/internal/apperr"
	"github.com/tidebook/tidebook/internal/domain"
	"github.com/tidebook/tidebook/internal/store"
)

// RequestTransition moves a document through the lifecycle state
// machine. Requesting the current status is a no-op and returns the
// document unchanged. The transition to completed posts the document's
// ledger effect to its linked account, which requires connectivity.
func (c *Coordinator) RequestTransition(ctx context.Context, id string, next domain.Status) (*domain.Document, error) {
	if !next.Valid() {
		return nil, apperr.New("RequestTransition", apperr.ErrValidation,
			fmt.Sprintf("unknown status %q", next))
	}

	d, err := c.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.DeletedAt != nil {
		return nil, apperr.New("RequestTransition", apperr.ErrNotFound, "document is deleted")
	}
	if d.Status == next {
		return d, nil
	}
	if !d.Status.CanTransitionTo(next) {
		return nil, apperr.New("RequestTransition", apperr.ErrInvalidStatusTransition,
			fmt.Sprintf("%s -> %s", d.Status, next))
	}

	if next == domain.StatusCompleted {
		if err := c.postCompletion(ctx, d); err != nil {
			return nil, err
		}
	}

	expected := d.UpdatedAt
	d.Status = next
	d.UpdatedAt = time.Now().UTC()
	if err := c.persistEnvelope(ctx, d, &expected); err != nil {
		return nil, err
	}
	c.log.Info().Str("document", d.ID).Str("status", string(next)).Msg("document transitioned")
	return d, nil
}

// postCompletion posts the document's ledger effect exactly once. The
// net effect of the document's existing transactions decides whether a
// posting is still needed, so a crash between posting and the status
// write replays safely.
func (c *Coordinator) postCompletion(ctx context.Context, d *domain.Document) error {
	if d.AccountID == nil {
		return apperr.New("RequestTransition", apperr.ErrValidation,
			"completion requires a linked account")
	}
	if !c.sync.Online() {
		return apperr.New("RequestTransition", apperr.ErrNetwork,
			"ledger postings require connectivity")
	}

	mu := c.lockAccount(*d.AccountID)
	mu.Lock()
	defer mu.Unlock()

	net, err := c.netEffect(ctx, d.ID)
	if err != nil {
		return err
	}
	if !net.IsZero() {
		// Already posted by an earlier attempt.
		return nil
	}
	return c.post(ctx, d, d.Type.LedgerEffect(), "completion of "+d.Number)
}

// netEffect sums the signed amounts of a document's ledger entries.
// Zero means the document currently has no active effect on its account.
func (c *Coordinator) netEffect(ctx context.Context, documentID string) (decimal.Decimal, error) {
	txns, err := c.remote.TransactionsForDocument(ctx, documentID)
	if err != nil {
		return decimal.Zero, err
	}
	net := decimal.Zero
	for i := range txns {
		net = net.Add(txns[i].Signed())
	}
	return net, nil
}

// post writes one ledger entry for the document's total. Caller holds
// the account lock.
func (c *Coordinator) post(ctx context.Context, d *domain.Document, effect domain.TransactionType, description string) error {
	account, err := c.remote.GetAccount(ctx, *d.AccountID)
	if err != nil {
		return err
	}
	if !account.IsActive {
		return apperr.New("post", apperr.ErrValidation, "account is inactive")
	}

	before := account.CurrentBalance
	var after decimal.Decimal
	if effect == domain.TransactionIncrease {
		after = before.Add(d.Total)
	} else {
		after = before.Sub(d.Total)
		if after.Sign() < 0 && !c.allowNegative {
			return apperr.New("post", apperr.ErrInsufficientBalance,
				fmt.Sprintf("balance %s cannot cover %s", before, d.Total))
		}
	}

	now := time.Now().UTC()
	docID := d.ID
	txn := &domain.Transaction{
		ID:              uuid.NewString(),
		AccountID:       *d.AccountID,
		DocumentID:      &docID,
		Type:            effect,
		Amount:          d.Total,
		BalanceBefore:   before,
		BalanceAfter:    after,
		Description:     description,
		TransactionDate: now,
		CreatedAt:       now,
	}
	if err := c.remote.PostTransaction(ctx, txn); err != nil {
		return err
	}
	c.log.Info().
		Str("document", d.ID).
		Str("account", *d.AccountID).
		Str("type", string(effect)).
		Str("amount", d.Total.String()).
		Msg("ledger entry posted")
	return nil
}

// persistEnvelope writes an envelope-only change (status, deletion
// marker). Online it carries the optimistic lock; offline it queues the
// full document for replay.
func (c *Coordinator) persistEnvelope(ctx context.Context, d *domain.Document, expected *time.Time) error {
	if !c.sync.Online() {
		return c.enqueueDocument(ctx, d, store.OpUpdate)
	}
	if err := c.remote.UpdateEnvelope(ctx, d, expected); err != nil {
		if apperr.Retryable(err) {
			return c.enqueueDocument(ctx, d, store.OpUpdate)
		}
		return err
	}
	return c.cacheClean(ctx, d)
}

// SoftDelete marks a document deleted. A document still referenced by
// other active documents cannot be deleted; a completed document's
// ledger effect is reversed first so the account balance stays honest.
// Both checks need the remote, so deletion requires connectivity.
func (c *Coordinator) SoftDelete(ctx context.Context, id string) error {
	if !c.sync.Online() {
		return apperr.New("SoftDelete", apperr.ErrNetwork,
			"deletion requires connectivity")
	}

	d, err := c.remote.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if d.DeletedAt != nil {
		return nil
	}

	refs, err := c.remote.CountActiveReferences(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return apperr.New("SoftDelete", apperr.ErrConflict,
			fmt.Sprintf("document is referenced by %d active documents", refs))
	}

	// Reverse before marking: a crash after the reversal leaves the
	// document active with zero net effect, and the retry skips straight
	// to the deletion marker.
	if d.AccountID != nil {
		mu := c.lockAccount(*d.AccountID)
		mu.Lock()
		net, err := c.netEffect(ctx, id)
		if err == nil && !net.IsZero() {
			err = c.post(ctx, d, d.Type.LedgerEffect().Opposite(), "reversal of "+d.Number)
		}
		mu.Unlock()
		if err != nil {
			return err
		}
	}

	expected := d.UpdatedAt
	now := time.Now().UTC()
	d.DeletedAt = &now
	d.UpdatedAt = now
	if err := c.persistEnvelope(ctx, d, &expected); err != nil {
		return err
	}
	c.log.Info().Str("document", id).Msg("document deleted")
	return nil
}

// Restore clears a document's deletion marker. Restoring a completed
// document re-posts its ledger effect, so restore also requires
// connectivity. Restoring a live document is a no-op.
func (c *Coordinator) Restore(ctx context.Context, id string) (*domain.Document, error) {
	if !c.sync.Online() {
		return nil, apperr.New("Restore", apperr.ErrNetwork,
			"restore requires connectivity")
	}

	d, err := c.remote.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.DeletedAt == nil {
		return d, nil
	}

	// Re-post first for the same replay safety as deletion.
	if d.Status == domain.StatusCompleted && d.AccountID != nil {
		mu := c.lockAccount(*d.AccountID)
		mu.Lock()
		net, err := c.netEffect(ctx, id)
		if err == nil && net.IsZero() {
			err = c.post(ctx, d, d.Type.LedgerEffect(), "restore of "+d.Number)
		}
		mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	expected := d.UpdatedAt
	d.DeletedAt = nil
	d.UpdatedAt = time.Now().UTC()
	if err := c.persistEnvelope(ctx, d, &expected); err != nil {
		return nil, err
	}
	c.log.Info().Str("document", id).Msg("document restored")
	return d, nil
}
