package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// testDocument builds a valid receipt with two line items.
func testDocument(t *testing.T) *Document {
	t.Helper()

	rate := decimal.NewFromInt(10)
	doc := &Document{
		ID:        "doc-1",
		CompanyID: "co-1",
		Type:      DocReceipt,
		Number:    "RCT-000001",
		Currency:  "EUR",
		TaxRate:   &rate,
		Items: []LineItem{
			{Description: "Consulting", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(50), Amount: decimal.NewFromInt(100)},
			{Description: "Travel", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(30), Amount: decimal.NewFromInt(30)},
		},
		Receipt: &ReceiptDetails{PayerName: "ACME", PaymentDate: time.Now()},
	}
	doc.SetDefaults()
	doc.RecomputeTotals()
	return doc
}

func TestRecomputeTotals(t *testing.T) {
	doc := testDocument(t)

	if !doc.Subtotal.Equal(decimal.NewFromInt(130)) {
		t.Errorf("subtotal = %s, want 130", doc.Subtotal)
	}
	if !doc.TaxAmount.Equal(decimal.NewFromInt(13)) {
		t.Errorf("tax = %s, want 13", doc.TaxAmount)
	}
	if !doc.Total.Equal(decimal.NewFromInt(143)) {
		t.Errorf("total = %s, want 143", doc.Total)
	}
	if err := doc.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestValidateRejectsBadLineItem(t *testing.T) {
	doc := testDocument(t)
	doc.Items[0].Amount = decimal.NewFromInt(99) // 2 × 50 = 100
	if err := doc.Validate(); err == nil {
		t.Errorf("expected validation error for amount != quantity × unit price")
	}
}

func TestValidateRejectsSubtotalDrift(t *testing.T) {
	doc := testDocument(t)
	doc.Subtotal = decimal.NewFromInt(999)
	if err := doc.Validate(); err == nil {
		t.Errorf("expected validation error for subtotal != sum of items")
	}
}

func TestValidateRejectsVariantMismatch(t *testing.T) {
	doc := testDocument(t)
	doc.Type = DocInvoice // Receipt payload still set
	if err := doc.Validate(); err == nil {
		t.Errorf("expected validation error for variant/type mismatch")
	}

	doc = testDocument(t)
	doc.Invoice = &InvoiceDetails{CustomerName: "X"} // two variants set
	if err := doc.Validate(); err == nil {
		t.Errorf("expected validation error for multiple variants")
	}
}

func TestStatusTransitionTable(t *testing.T) {
	all := []Status{StatusDraft, StatusIssued, StatusPaid, StatusCompleted, StatusCancelled}
	allowed := map[Status][]Status{
		StatusDraft:     {StatusIssued, StatusCancelled},
		StatusIssued:    {StatusPaid, StatusCancelled},
		StatusPaid:      {StatusCompleted, StatusCancelled},
		StatusCompleted: {},
		StatusCancelled: {StatusDraft},
	}

	for _, from := range all {
		for _, to := range all {
			want := from == to
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}

	if !StatusCompleted.Terminal() {
		t.Errorf("completed must be terminal")
	}
}

func TestLedgerEffect(t *testing.T) {
	cases := map[DocumentType]TransactionType{
		DocInvoice:            TransactionIncrease,
		DocReceipt:            TransactionIncrease,
		DocPaymentVoucher:     TransactionDecrease,
		DocStatementOfPayment: TransactionDecrease,
	}
	for dt, want := range cases {
		if got := dt.LedgerEffect(); got != want {
			t.Errorf("LedgerEffect(%s) = %s, want %s", dt, got, want)
		}
	}
}

func TestTransactionValidate(t *testing.T) {
	txn := &Transaction{
		ID:            "tx-1",
		AccountID:     "acc-1",
		Type:          TransactionIncrease,
		Amount:        decimal.NewFromInt(50),
		BalanceBefore: decimal.NewFromInt(100),
		BalanceAfter:  decimal.NewFromInt(150),
	}
	if err := txn.Validate(); err != nil {
		t.Errorf("valid transaction rejected: %v", err)
	}

	txn.Type = TransactionDecrease
	if err := txn.Validate(); err == nil {
		t.Errorf("expected validation error: decrease with increasing balance")
	}

	txn.BalanceAfter = decimal.NewFromInt(50)
	if err := txn.Validate(); err != nil {
		t.Errorf("valid decrease rejected: %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := testDocument(t)
	c := doc.Clone()

	c.Items[0].Description = "changed"
	c.Receipt.PayerName = "changed"
	*c.TaxRate = decimal.NewFromInt(99)

	if doc.Items[0].Description == "changed" {
		t.Errorf("clone shares line items with original")
	}
	if doc.Receipt.PayerName == "changed" {
		t.Errorf("clone shares variant payload with original")
	}
	if doc.TaxRate.Equal(decimal.NewFromInt(99)) {
		t.Errorf("clone shares tax rate pointer with original")
	}
}
