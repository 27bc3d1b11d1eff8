package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidebook/tidebook/internal/apperr"
	"github.com/tidebook/tidebook/internal/domain"
)

// Memory is an in-memory Store with the same constraint behavior as the
// SQLite implementation, plus fault injection. Safe for concurrent use.
type Memory struct {
	mu sync.Mutex

	envelopes map[string]*domain.Document // envelope fields only
	variants  map[string][]byte           // document ID -> variant payload
	items     map[string][]domain.LineItem
	accounts  map[string]*domain.Account
	txns      map[string]*domain.Transaction
	bookings  map[string]*domain.Booking
	sequences map[string]int64 // companyID|docType -> last value

	offline bool
	faults  map[string][]error // method name -> queued injected errors
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		envelopes: make(map[string]*domain.Document),
		variants:  make(map[string][]byte),
		items:     make(map[string][]domain.LineItem),
		accounts:  make(map[string]*domain.Account),
		txns:      make(map[string]*domain.Transaction),
		bookings:  make(map[string]*domain.Booking),
		sequences: make(map[string]int64),
		faults:    make(map[string][]error),
	}
}

// SetOffline makes every subsequent call fail with ErrNetwork until the
// store is set back online.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// FailNext queues err to be returned by the next call to the named
// method. Multiple queued errors are consumed in order.
func (m *Memory) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[method] = append(m.faults[method], err)
}

// fail pops an injected fault for method, or reports the offline state.
// Caller must hold mu.
func (m *Memory) fail(method string) error {
	if m.offline {
		return apperr.New(method, apperr.ErrNetwork, "remote unreachable")
	}
	if q := m.faults[method]; len(q) > 0 {
		err := q[0]
		m.faults[method] = q[1:]
		return err
	}
	return nil
}

// ----- envelope / variant / line items -----

func (m *Memory) InsertEnvelope(ctx context.Context, d *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertEnvelope"); err != nil {
		return err
	}
	if _, ok := m.envelopes[d.ID]; ok {
		return apperr.New("InsertEnvelope", apperr.ErrConflict, "duplicate document id "+d.ID)
	}
	if err := m.checkNumberUnique(d, ""); err != nil {
		return err
	}
	m.envelopes[d.ID] = envelopeOnly(d)
	return nil
}

func (m *Memory) UpdateEnvelope(ctx context.Context, d *domain.Document, expectedUpdatedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateEnvelope"); err != nil {
		return err
	}
	stored, ok := m.envelopes[d.ID]
	if !ok {
		return apperr.New("UpdateEnvelope", apperr.ErrNotFound, d.ID)
	}
	if expectedUpdatedAt != nil && !stored.UpdatedAt.Equal(*expectedUpdatedAt) {
		return apperr.New("UpdateEnvelope", apperr.ErrConflict, "document was modified concurrently")
	}
	if err := m.checkNumberUnique(d, d.ID); err != nil {
		return err
	}
	m.envelopes[d.ID] = envelopeOnly(d)
	return nil
}

func (m *Memory) DeleteEnvelope(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteEnvelope"); err != nil {
		return err
	}
	delete(m.envelopes, id)
	return nil
}

func (m *Memory) InsertVariant(ctx context.Context, d *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertVariant"); err != nil {
		return err
	}
	if _, ok := m.envelopes[d.ID]; !ok {
		return apperr.New("InsertVariant", apperr.ErrValidation, "no envelope for document "+d.ID)
	}
	payload, err := marshalVariant(d)
	if err != nil {
		return apperr.New("InsertVariant", apperr.ErrValidation, err.Error())
	}
	m.variants[d.ID] = payload
	return nil
}

func (m *Memory) DeleteVariant(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteVariant"); err != nil {
		return err
	}
	delete(m.variants, documentID)
	return nil
}

func (m *Memory) InsertLineItems(ctx context.Context, documentID string, items []domain.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertLineItems"); err != nil {
		return err
	}
	if _, ok := m.envelopes[documentID]; !ok {
		return apperr.New("InsertLineItems", apperr.ErrValidation, "no envelope for document "+documentID)
	}
	m.items[documentID] = append([]domain.LineItem(nil), items...)
	return nil
}

func (m *Memory) DeleteLineItems(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteLineItems"); err != nil {
		return err
	}
	delete(m.items, documentID)
	return nil
}

func (m *Memory) ListLineItems(ctx context.Context, documentID string) ([]domain.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListLineItems"); err != nil {
		return nil, err
	}
	return append([]domain.LineItem(nil), m.items[documentID]...), nil
}

func (m *Memory) CountActiveReferences(ctx context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CountActiveReferences"); err != nil {
		return 0, err
	}
	n := 0
	for _, d := range m.envelopes {
		if d.RefDocumentID != nil && *d.RefDocumentID == documentID && d.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetDocument"); err != nil {
		return nil, err
	}
	return m.assemble(id)
}

func (m *Memory) ListDocuments(ctx context.Context, companyID string) ([]*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListDocuments"); err != nil {
		return nil, err
	}
	var docs []*domain.Document
	for id, d := range m.envelopes {
		if d.CompanyID != companyID {
			continue
		}
		full, err := m.assemble(id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, full)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

func (m *Memory) UpsertDocument(ctx context.Context, d *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertDocument"); err != nil {
		return err
	}
	if err := m.checkNumberUnique(d, d.ID); err != nil {
		return err
	}
	payload, err := marshalVariant(d)
	if err != nil {
		return apperr.New("UpsertDocument", apperr.ErrValidation, err.Error())
	}
	m.envelopes[d.ID] = envelopeOnly(d)
	m.variants[d.ID] = payload
	m.items[d.ID] = append([]domain.LineItem(nil), d.Items...)
	return nil
}

func (m *Memory) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteDocument"); err != nil {
		return err
	}
	delete(m.envelopes, id)
	delete(m.variants, id)
	delete(m.items, id)
	return nil
}

// ----- accounts and ledger -----

func (m *Memory) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetAccount"); err != nil {
		return nil, err
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, apperr.New("GetAccount", apperr.ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) UpsertAccount(ctx context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertAccount"); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return apperr.New("UpsertAccount", apperr.ErrValidation, err.Error())
	}
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *Memory) PostTransaction(ctx context.Context, t *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("PostTransaction"); err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return apperr.New("PostTransaction", apperr.ErrValidation, err.Error())
	}
	if _, ok := m.txns[t.ID]; ok {
		return nil
	}
	a, ok := m.accounts[t.AccountID]
	if !ok {
		return apperr.New("PostTransaction", apperr.ErrNotFound, "account "+t.AccountID)
	}
	if !a.CurrentBalance.Equal(t.BalanceBefore) {
		return apperr.New("PostTransaction", apperr.ErrConflict,
			fmt.Sprintf("balance moved: have %s, expected %s", a.CurrentBalance, t.BalanceBefore))
	}
	a.CurrentBalance = t.BalanceAfter
	a.UpdatedAt = time.Now().UTC()
	cp := *t
	m.txns[t.ID] = &cp
	return nil
}

func (m *Memory) TransactionsForDocument(ctx context.Context, documentID string) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("TransactionsForDocument"); err != nil {
		return nil, err
	}
	var txns []domain.Transaction
	for _, t := range m.txns {
		if t.DocumentID != nil && *t.DocumentID == documentID {
			txns = append(txns, *t)
		}
	}
	sort.Slice(txns, func(i, j int) bool {
		if txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].ID < txns[j].ID
		}
		return txns[i].CreatedAt.Before(txns[j].CreatedAt)
	})
	return txns, nil
}

// ----- bookings -----

func (m *Memory) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetBooking"); err != nil {
		return nil, err
	}
	b, ok := m.bookings[id]
	if !ok {
		return nil, apperr.New("GetBooking", apperr.ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) UpsertBooking(ctx context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertBooking"); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return apperr.New("UpsertBooking", apperr.ErrValidation, err.Error())
	}
	if _, ok := m.accounts[b.AccountID]; !ok {
		return apperr.New("UpsertBooking", apperr.ErrValidation, "unknown account "+b.AccountID)
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *Memory) DeleteBooking(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteBooking"); err != nil {
		return err
	}
	delete(m.bookings, id)
	return nil
}

// ----- numbering -----

func (m *Memory) NextDocumentNumber(ctx context.Context, companyID string, docType domain.DocumentType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("NextDocumentNumber"); err != nil {
		return "", err
	}
	key := companyID + "|" + string(docType)
	m.sequences[key]++
	return FormatNumber(docType, m.sequences[key]), nil
}

// ----- test inspection helpers -----

// AccountBalance returns the stored balance, for assertions.
func (m *Memory) AccountBalance(id string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		return a.CurrentBalance
	}
	return decimal.Zero
}

// DocumentCount returns the number of stored envelopes.
func (m *Memory) DocumentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.envelopes)
}

// HasVariant reports whether a variant payload is stored for the document.
func (m *Memory) HasVariant(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.variants[id]
	return ok
}

// ----- internals (callers hold mu) -----

func (m *Memory) assemble(id string) (*domain.Document, error) {
	stored, ok := m.envelopes[id]
	if !ok {
		return nil, apperr.New("GetDocument", apperr.ErrNotFound, id)
	}
	d := stored.Clone()
	if payload, ok := m.variants[id]; ok {
		if err := attachVariant(d, payload); err != nil {
			return nil, fmt.Errorf("GetDocument: %w", err)
		}
	}
	d.Items = append([]domain.LineItem(nil), m.items[id]...)
	return d, nil
}

func (m *Memory) checkNumberUnique(d *domain.Document, selfID string) error {
	for id, other := range m.envelopes {
		if id == selfID {
			continue
		}
		if other.CompanyID == d.CompanyID && other.Type == d.Type && other.Number == d.Number {
			return apperr.New("InsertEnvelope", apperr.ErrConflict,
				fmt.Sprintf("duplicate number %s for %s/%s", d.Number, d.CompanyID, d.Type))
		}
	}
	return nil
}

// envelopeOnly copies the envelope fields, dropping variant and items so
// the stored record mirrors the envelope row of the SQLite store.
func envelopeOnly(d *domain.Document) *domain.Document {
	cp := d.Clone()
	cp.Invoice = nil
	cp.Receipt = nil
	cp.PaymentVoucher = nil
	cp.Statement = nil
	cp.Items = nil
	return cp
}
