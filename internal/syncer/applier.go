package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidebook/tidebook/internal/apperr"
	"github.com/tidebook/tidebook/internal/domain"
	"github.com/tidebook/tidebook/internal/remote"
	"github.com/tidebook/tidebook/internal/store"
)

// applier replays a single queue item against the remote store.
// Creates and updates replay through the idempotent upsert bundles, so
// re-applying an item after a partial drain is safe.
type applier struct {
	remote remote.Store
}

func (a *applier) apply(ctx context.Context, item *store.QueueItem) error {
	switch item.EntityType {
	case domain.EntityDocument:
		return a.applyDocument(ctx, item)
	case domain.EntityBooking:
		return a.applyBooking(ctx, item)
	case domain.EntityAccount:
		return a.applyAccount(ctx, item)
	case domain.EntityTransaction:
		return a.applyTransaction(ctx, item)
	}
	return apperr.New("apply", apperr.ErrValidation,
		fmt.Sprintf("unknown entity type %q", item.EntityType))
}

func (a *applier) applyDocument(ctx context.Context, item *store.QueueItem) error {
	if item.Operation == store.OpDelete {
		return a.remote.DeleteDocument(ctx, item.EntityID)
	}
	var d domain.Document
	if err := json.Unmarshal(item.Payload, &d); err != nil {
		return apperr.New("apply", apperr.ErrValidation,
			fmt.Sprintf("bad document payload: %v", err))
	}
	return a.remote.UpsertDocument(ctx, &d)
}

func (a *applier) applyBooking(ctx context.Context, item *store.QueueItem) error {
	if item.Operation == store.OpDelete {
		return a.remote.DeleteBooking(ctx, item.EntityID)
	}
	var b domain.Booking
	if err := json.Unmarshal(item.Payload, &b); err != nil {
		return apperr.New("apply", apperr.ErrValidation,
			fmt.Sprintf("bad booking payload: %v", err))
	}
	return a.remote.UpsertBooking(ctx, &b)
}

func (a *applier) applyAccount(ctx context.Context, item *store.QueueItem) error {
	if item.Operation == store.OpDelete {
		return apperr.New("apply", apperr.ErrValidation, "accounts cannot be deleted")
	}
	var acct domain.Account
	if err := json.Unmarshal(item.Payload, &acct); err != nil {
		return apperr.New("apply", apperr.ErrValidation,
			fmt.Sprintf("bad account payload: %v", err))
	}
	return a.remote.UpsertAccount(ctx, &acct)
}

func (a *applier) applyTransaction(ctx context.Context, item *store.QueueItem) error {
	if item.Operation != store.OpCreate {
		return apperr.New("apply", apperr.ErrValidation, "ledger entries are immutable")
	}
	var t domain.Transaction
	if err := json.Unmarshal(item.Payload, &t); err != nil {
		return apperr.New("apply", apperr.ErrValidation,
			fmt.Sprintf("bad transaction payload: %v", err))
	}
	return a.remote.PostTransaction(ctx, &t)
}
