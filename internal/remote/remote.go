// Package remote defines the boundary to the remote durable store and
// provides two implementations: an embedded-SQLite store with real
// uniqueness and foreign-key constraints, and an in-memory store with
// fault injection for tests and offline simulation.
//
// Implementations classify their failures with the apperr sentinels:
// a missing row maps to ErrNotFound, a uniqueness violation to
// ErrConflict, a foreign-key violation to ErrValidation, and transport
// failures to ErrNetwork.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidebook/tidebook/internal/domain"
)

// Store is the row-level contract of the remote durable store.
//
// Documents are stored as three row groups: the shared envelope, the
// type-specific variant record, and the ordered line items. The
// lifecycle coordinator drives those rows individually during its
// creation saga; the sync queue replays whole entities through the
// Upsert/Delete bundle operations, which must be idempotent.
type Store interface {
	// Envelope / variant / line-item rows (lifecycle protocols).
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context, companyID string) ([]*domain.Document, error)
	InsertEnvelope(ctx context.Context, d *domain.Document) error
	UpdateEnvelope(ctx context.Context, d *domain.Document, expectedUpdatedAt *time.Time) error
	DeleteEnvelope(ctx context.Context, id string) error
	InsertVariant(ctx context.Context, d *domain.Document) error
	DeleteVariant(ctx context.Context, documentID string) error
	InsertLineItems(ctx context.Context, documentID string, items []domain.LineItem) error
	DeleteLineItems(ctx context.Context, documentID string) error
	ListLineItems(ctx context.Context, documentID string) ([]domain.LineItem, error)

	// CountActiveReferences reports how many non-deleted documents
	// reference documentID (e.g., a statement of payment referencing a
	// payment voucher).
	CountActiveReferences(ctx context.Context, documentID string) (int, error)

	// Entity bundles (sync queue replay; idempotent).
	UpsertDocument(ctx context.Context, d *domain.Document) error
	DeleteDocument(ctx context.Context, id string) error
	UpsertBooking(ctx context.Context, b *domain.Booking) error
	DeleteBooking(ctx context.Context, id string) error
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)

	// Accounts and ledger.
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	UpsertAccount(ctx context.Context, a *domain.Account) error

	// PostTransaction applies the balance move and inserts the ledger
	// entry as one atomic unit. Replaying a transaction whose ID already
	// exists is a no-op. BalanceBefore must match the account's current
	// balance or the call fails with ErrConflict.
	PostTransaction(ctx context.Context, t *domain.Transaction) error
	TransactionsForDocument(ctx context.Context, documentID string) ([]domain.Transaction, error)

	// NextDocumentNumber allocates the next sequential document number
	// scoped to company and document type.
	NextDocumentNumber(ctx context.Context, companyID string, docType domain.DocumentType) (string, error)
}

// numberPrefixes maps document types to human-readable number prefixes.
var numberPrefixes = map[domain.DocumentType]string{
	domain.DocInvoice:            "INV",
	domain.DocReceipt:            "RCT",
	domain.DocPaymentVoucher:     "PV",
	domain.DocStatementOfPayment: "SOP",
}

// NumberPrefix returns the document-number prefix for a type.
func NumberPrefix(t domain.DocumentType) string {
	if p, ok := numberPrefixes[t]; ok {
		return p
	}
	return "DOC"
}

// FormatNumber renders an allocated sequence value as a document number.
func FormatNumber(t domain.DocumentType, seq int64) string {
	return fmt.Sprintf("%s-%06d", NumberPrefix(t), seq)
}

// marshalVariant serializes the variant payload matching d.Type.
func marshalVariant(d *domain.Document) ([]byte, error) {
	var v any
	switch d.Type {
	case domain.DocInvoice:
		v = d.Invoice
	case domain.DocReceipt:
		v = d.Receipt
	case domain.DocPaymentVoucher:
		v = d.PaymentVoucher
	case domain.DocStatementOfPayment:
		v = d.Statement
	default:
		return nil, fmt.Errorf("unknown document type %q", d.Type)
	}
	if v == nil || (d.Invoice == nil && d.Receipt == nil && d.PaymentVoucher == nil && d.Statement == nil) {
		return nil, fmt.Errorf("document %s has no variant payload for type %q", d.ID, d.Type)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s variant: %w", d.Type, err)
	}
	return data, nil
}

// attachVariant deserializes a stored variant payload onto the document,
// dispatching on the envelope's type tag.
func attachVariant(d *domain.Document, data []byte) error {
	switch d.Type {
	case domain.DocInvoice:
		d.Invoice = &domain.InvoiceDetails{}
		return json.Unmarshal(data, d.Invoice)
	case domain.DocReceipt:
		d.Receipt = &domain.ReceiptDetails{}
		return json.Unmarshal(data, d.Receipt)
	case domain.DocPaymentVoucher:
		d.PaymentVoucher = &domain.PaymentVoucherDetails{}
		return json.Unmarshal(data, d.PaymentVoucher)
	case domain.DocStatementOfPayment:
		d.Statement = &domain.StatementDetails{}
		return json.Unmarshal(data, d.Statement)
	}
	return fmt.Errorf("unknown document type %q", d.Type)
}
