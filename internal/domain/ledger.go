package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the signed direction of a ledger entry.
type TransactionType string

const (
	TransactionIncrease TransactionType = "increase"
	TransactionDecrease TransactionType = "decrease"
)

// Opposite returns the reversing direction.
func (t TransactionType) Opposite() TransactionType {
	if t == TransactionIncrease {
		return TransactionDecrease
	}
	return TransactionIncrease
}

// Account holds a running balance in a single currency. Its balance is
// mutated only through ledger transactions, never by direct overwrite
// from document code paths.
type Account struct {
	ID             string          `json:"id"`
	CompanyID      string          `json:"company_id"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks required account fields.
func (a *Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.CompanyID == "" {
		return fmt.Errorf("company_id is required")
	}
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if a.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	return nil
}

// Transaction is an immutable ledger entry. The account's current balance
// at any point equals the BalanceAfter of its most recent transaction.
type Transaction struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	DocumentID      *string         `json:"document_id,omitempty"`
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceBefore   decimal.Decimal `json:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	Description     string          `json:"description"`
	TransactionDate time.Time       `json:"transaction_date"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Signed returns the transaction's effect on the balance: +Amount for an
// increase, -Amount for a decrease.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Type == TransactionIncrease {
		return t.Amount
	}
	return t.Amount.Neg()
}

// Validate checks the balance arithmetic invariant:
// balanceAfter = balanceBefore ± amount, consistent with the type.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if t.Type != TransactionIncrease && t.Type != TransactionDecrease {
		return fmt.Errorf("unknown transaction type %q", t.Type)
	}
	if t.Amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive (got %s)", t.Amount)
	}
	if want := t.BalanceBefore.Add(t.Signed()); !t.BalanceAfter.Equal(want) {
		return fmt.Errorf("balance_after %s does not equal balance_before %s %s %s",
			t.BalanceAfter, t.BalanceBefore, t.Type, t.Amount)
	}
	return nil
}

// Booking is a period-scoped posting against an account. Bookings are
// synced and cached like any other entity but carry no lifecycle state.
type Booking struct {
	ID          string          `json:"id"`
	CompanyID   string          `json:"company_id"`
	AccountID   string          `json:"account_id"`
	DocumentID  *string         `json:"document_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Memo        string          `json:"memo,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Validate checks required booking fields.
func (b *Booking) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if b.CompanyID == "" {
		return fmt.Errorf("company_id is required")
	}
	if b.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if b.PeriodEnd.Before(b.PeriodStart) {
		return fmt.Errorf("period_end precedes period_start")
	}
	return nil
}
