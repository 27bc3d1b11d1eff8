// Package domain provides the entity model for tidebook: documents with
// their typed variants, ledger accounts and transactions, and bookings.
//
// Documents are a tagged union: the Type field selects which of the
// variant detail pointers is populated, and exactly one must be non-nil.
// Monetary values use shopspring decimals; float arithmetic is never
// applied to amounts.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType tags the variant carried by a Document.
type DocumentType string

const (
	DocInvoice            DocumentType = "invoice"
	DocReceipt            DocumentType = "receipt"
	DocPaymentVoucher     DocumentType = "payment_voucher"
	DocStatementOfPayment DocumentType = "statement_of_payment"
)

// DocumentTypes lists every valid document type tag.
var DocumentTypes = []DocumentType{
	DocInvoice, DocReceipt, DocPaymentVoucher, DocStatementOfPayment,
}

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	switch t {
	case DocInvoice, DocReceipt, DocPaymentVoucher, DocStatementOfPayment:
		return true
	}
	return false
}

// LedgerEffect returns the transaction type a completed document of this
// type posts to its linked account. Payer-facing documents (invoices,
// receipts) record money coming in; payee-facing documents (payment
// vouchers, statements of payment) record money going out.
func (t DocumentType) LedgerEffect() TransactionType {
	switch t {
	case DocInvoice, DocReceipt:
		return TransactionIncrease
	default:
		return TransactionDecrease
	}
}

// LineItem is one ordered row of a document.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Validate checks the line-item amount invariant: amount = quantity × unitPrice.
func (li *LineItem) Validate() error {
	if li.Description == "" {
		return fmt.Errorf("line item description is required")
	}
	if li.Quantity.Sign() <= 0 {
		return fmt.Errorf("line item quantity must be positive (got %s)", li.Quantity)
	}
	if want := li.Quantity.Mul(li.UnitPrice); !li.Amount.Equal(want) {
		return fmt.Errorf("line item amount %s does not equal quantity × unit price (%s)", li.Amount, want)
	}
	return nil
}

// InvoiceDetails carries the invoice-specific fields.
type InvoiceDetails struct {
	CustomerName  string    `json:"customer_name"`
	CustomerTaxID string    `json:"customer_tax_id,omitempty"`
	IssueDate     time.Time `json:"issue_date"`
	DueDate       time.Time `json:"due_date"`
}

// ReceiptDetails carries the receipt-specific fields.
type ReceiptDetails struct {
	PayerName     string    `json:"payer_name"`
	PaymentDate   time.Time `json:"payment_date"`
	PaymentMethod string    `json:"payment_method,omitempty"`
}

// PaymentVoucherDetails carries the payment-voucher-specific fields.
type PaymentVoucherDetails struct {
	PayeeName     string    `json:"payee_name"`
	PaymentDate   time.Time `json:"payment_date"`
	BankName      string    `json:"bank_name,omitempty"`
	BankReference string    `json:"bank_reference,omitempty"`
}

// StatementDetails carries the statement-of-payment-specific fields.
// A statement may reference the payment voucher it settles through the
// envelope's RefDocumentID.
type StatementDetails struct {
	PayeeName   string    `json:"payee_name"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// Document is the shared envelope plus exactly one variant payload,
// selected by Type.
type Document struct {
	ID        string       `json:"id"`
	CompanyID string       `json:"company_id"`
	Type      DocumentType `json:"type"`
	Number    string       `json:"number"`
	Status    Status       `json:"status"`

	Currency  string           `json:"currency"`
	Subtotal  decimal.Decimal  `json:"subtotal"`
	TaxRate   *decimal.Decimal `json:"tax_rate,omitempty"` // percent
	TaxAmount decimal.Decimal  `json:"tax_amount"`
	Total     decimal.Decimal  `json:"total"`

	AccountID     *string `json:"account_id,omitempty"`
	RefDocumentID *string `json:"ref_document_id,omitempty"`

	Items []LineItem `json:"items"`

	Invoice        *InvoiceDetails        `json:"invoice,omitempty"`
	Receipt        *ReceiptDetails        `json:"receipt,omitempty"`
	PaymentVoucher *PaymentVoucherDetails `json:"payment_voucher,omitempty"`
	Statement      *StatementDetails      `json:"statement,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// SetDefaults applies default values for optional fields.
func (d *Document) SetDefaults() {
	if d.Status == "" {
		d.Status = StatusDraft
	}
	if d.Currency == "" {
		d.Currency = "EUR"
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
}

// RecomputeTotals derives subtotal, tax amount, and total from the line
// items and tax rate. Call this before Validate after any item change.
func (d *Document) RecomputeTotals() {
	subtotal := decimal.Zero
	for _, li := range d.Items {
		subtotal = subtotal.Add(li.Amount)
	}
	d.Subtotal = subtotal
	if d.TaxRate != nil {
		d.TaxAmount = subtotal.Mul(*d.TaxRate).Div(decimal.NewFromInt(100))
	} else {
		d.TaxAmount = decimal.Zero
	}
	d.Total = d.Subtotal.Add(d.TaxAmount)
}

// Validate checks envelope fields, the variant tag, and the monetary
// invariants: every item amount is quantity × unit price, the subtotal is
// the sum of item amounts, and total = subtotal + taxAmount.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.CompanyID == "" {
		return fmt.Errorf("company_id is required")
	}
	if !d.Type.Valid() {
		return fmt.Errorf("unknown document type %q", d.Type)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("unknown status %q", d.Status)
	}
	if d.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if err := d.validateVariant(); err != nil {
		return err
	}
	if len(d.Items) == 0 {
		return fmt.Errorf("at least one line item is required")
	}
	sum := decimal.Zero
	for i := range d.Items {
		if err := d.Items[i].Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		sum = sum.Add(d.Items[i].Amount)
	}
	if !d.Subtotal.Equal(sum) {
		return fmt.Errorf("subtotal %s does not equal sum of line items (%s)", d.Subtotal, sum)
	}
	if d.TaxRate != nil {
		want := d.Subtotal.Mul(*d.TaxRate).Div(decimal.NewFromInt(100))
		if !d.TaxAmount.Equal(want) {
			return fmt.Errorf("tax amount %s does not match rate %s%% of subtotal", d.TaxAmount, *d.TaxRate)
		}
	}
	if !d.Total.Equal(d.Subtotal.Add(d.TaxAmount)) {
		return fmt.Errorf("total %s does not equal subtotal + tax", d.Total)
	}
	return nil
}

// validateVariant enforces the tagged-union shape: the pointer matching
// Type is set and all others are nil.
func (d *Document) validateVariant() error {
	set := 0
	for _, p := range []bool{d.Invoice != nil, d.Receipt != nil, d.PaymentVoucher != nil, d.Statement != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one variant payload must be set (got %d)", set)
	}
	var ok bool
	switch d.Type {
	case DocInvoice:
		ok = d.Invoice != nil
	case DocReceipt:
		ok = d.Receipt != nil
	case DocPaymentVoucher:
		ok = d.PaymentVoucher != nil
	case DocStatementOfPayment:
		ok = d.Statement != nil
	}
	if !ok {
		return fmt.Errorf("variant payload does not match document type %q", d.Type)
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := *d
	c.Items = append([]LineItem(nil), d.Items...)
	if d.TaxRate != nil {
		r := *d.TaxRate
		c.TaxRate = &r
	}
	if d.AccountID != nil {
		v := *d.AccountID
		c.AccountID = &v
	}
	if d.RefDocumentID != nil {
		v := *d.RefDocumentID
		c.RefDocumentID = &v
	}
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	if d.Invoice != nil {
		v := *d.Invoice
		c.Invoice = &v
	}
	if d.Receipt != nil {
		v := *d.Receipt
		c.Receipt = &v
	}
	if d.PaymentVoucher != nil {
		v := *d.PaymentVoucher
		c.PaymentVoucher = &v
	}
	if d.Statement != nil {
		v := *d.Statement
		c.Statement = &v
	}
	return &c
}
