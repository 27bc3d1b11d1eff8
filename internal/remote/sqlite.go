package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidebook/tidebook/internal/apperr"
	"github.com/tidebook/tidebook/internal/domain"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLite is the canonical remote store implementation, backed by an
// embedded SQLite database with enforced uniqueness and foreign-key
// constraints. It runs in WAL mode for concurrent reads.
type SQLite struct {
	conn *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if necessary) the remote database at path.
// The caller MUST call Close() when done.
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{conn: conn, path: path}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// InitSchema creates the remote tables if they don't exist. Idempotent.
func (s *SQLite) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id              TEXT PRIMARY KEY,
		company_id      TEXT NOT NULL,
		name            TEXT NOT NULL,
		currency        TEXT NOT NULL,
		current_balance TEXT NOT NULL,
		is_active       INTEGER NOT NULL DEFAULT 1,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id              TEXT PRIMARY KEY,
		company_id      TEXT NOT NULL,
		type            TEXT NOT NULL,
		number          TEXT NOT NULL,
		status          TEXT NOT NULL,
		currency        TEXT NOT NULL,
		subtotal        TEXT NOT NULL,
		tax_rate        TEXT,
		tax_amount      TEXT NOT NULL,
		total           TEXT NOT NULL,
		account_id      TEXT REFERENCES accounts(id),
		ref_document_id TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		deleted_at      TEXT,
		UNIQUE (company_id, type, number)
	);

	CREATE TABLE IF NOT EXISTS document_variants (
		document_id TEXT PRIMARY KEY REFERENCES documents(id),
		doc_type    TEXT NOT NULL,
		payload     TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS line_items (
		document_id TEXT NOT NULL REFERENCES documents(id),
		position    INTEGER NOT NULL,
		description TEXT NOT NULL,
		quantity    TEXT NOT NULL,
		unit_price  TEXT NOT NULL,
		amount      TEXT NOT NULL,
		PRIMARY KEY (document_id, position)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id               TEXT PRIMARY KEY,
		account_id       TEXT NOT NULL REFERENCES accounts(id),
		document_id      TEXT,
		type             TEXT NOT NULL,
		amount           TEXT NOT NULL,
		balance_before   TEXT NOT NULL,
		balance_after    TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		transaction_date TEXT NOT NULL,
		created_at       TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id           TEXT PRIMARY KEY,
		company_id   TEXT NOT NULL,
		account_id   TEXT NOT NULL REFERENCES accounts(id),
		document_id  TEXT,
		amount       TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end   TEXT NOT NULL,
		memo         TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_numbers (
		company_id TEXT NOT NULL,
		doc_type   TEXT NOT NULL,
		last_value INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (company_id, doc_type)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_company ON documents(company_id, type);
	CREATE INDEX IF NOT EXISTS idx_documents_ref ON documents(ref_document_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_document ON transactions(document_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize remote schema: %w", err)
	}
	return nil
}

// classify maps driver errors onto the apperr taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apperr.New(op, apperr.ErrNotFound, "")
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return apperr.New(op, apperr.ErrConflict, err.Error())
	case strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
		return apperr.New(op, apperr.ErrValidation, err.Error())
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ----- envelope / variant / line items -----

// InsertEnvelope inserts the shared envelope row only.
func (s *SQLite) InsertEnvelope(ctx context.Context, d *domain.Document) error {
	query := `
	INSERT INTO documents (id, company_id, type, number, status, currency,
		subtotal, tax_rate, tax_amount, total, account_id, ref_document_id,
		created_at, updated_at, deleted_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		d.ID, d.CompanyID, string(d.Type), d.Number, string(d.Status), d.Currency,
		d.Subtotal.String(), decimalToNull(d.TaxRate), d.TaxAmount.String(), d.Total.String(),
		stringToNull(d.AccountID), stringToNull(d.RefDocumentID),
		d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano),
		timeToNull(d.DeletedAt),
	)
	return classify("InsertEnvelope", err)
}

// UpdateEnvelope updates the envelope row with an optimistic-lock check:
// when expectedUpdatedAt is non-nil the update only applies if the stored
// updated_at still matches, otherwise the call fails with ErrConflict.
func (s *SQLite) UpdateEnvelope(ctx context.Context, d *domain.Document, expectedUpdatedAt *time.Time) error {
	query := `
	UPDATE documents SET
		number = ?, status = ?, currency = ?,
		subtotal = ?, tax_rate = ?, tax_amount = ?, total = ?,
		account_id = ?, ref_document_id = ?, updated_at = ?, deleted_at = ?
	WHERE id = ?
	`
	args := []any{
		d.Number, string(d.Status), d.Currency,
		d.Subtotal.String(), decimalToNull(d.TaxRate), d.TaxAmount.String(), d.Total.String(),
		stringToNull(d.AccountID), stringToNull(d.RefDocumentID),
		d.UpdatedAt.Format(time.RFC3339Nano), timeToNull(d.DeletedAt),
		d.ID,
	}
	if expectedUpdatedAt != nil {
		query += " AND updated_at = ?"
		args = append(args, expectedUpdatedAt.Format(time.RFC3339Nano))
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return classify("UpdateEnvelope", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateEnvelope: %w", err)
	}
	if n == 0 {
		var exists int
		row := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, d.ID)
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("UpdateEnvelope: %w", err)
		}
		if exists == 0 {
			return apperr.New("UpdateEnvelope", apperr.ErrNotFound, d.ID)
		}
		return apperr.New("UpdateEnvelope", apperr.ErrConflict, "document was modified concurrently")
	}
	return nil
}

// DeleteEnvelope removes the envelope row. Idempotent.
func (s *SQLite) DeleteEnvelope(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return classify("DeleteEnvelope", err)
}

// InsertVariant inserts the type-specific variant row for the document.
func (s *SQLite) InsertVariant(ctx context.Context, d *domain.Document) error {
	payload, err := marshalVariant(d)
	if err != nil {
		return apperr.New("InsertVariant", apperr.ErrValidation, err.Error())
	}
	query := `INSERT INTO document_variants (document_id, doc_type, payload) VALUES (?, ?, ?)`
	_, err = s.conn.ExecContext(ctx, query, d.ID, string(d.Type), string(payload))
	return classify("InsertVariant", err)
}

// DeleteVariant removes the variant row. Idempotent.
func (s *SQLite) DeleteVariant(ctx context.Context, documentID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM document_variants WHERE document_id = ?`, documentID)
	return classify("DeleteVariant", err)
}

// InsertLineItems inserts the ordered line items in one transaction.
func (s *SQLite) InsertLineItems(ctx context.Context, documentID string, items []domain.LineItem) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertLineItems: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO line_items (document_id, position, description, quantity, unit_price, amount)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	for i, li := range items {
		_, err := tx.ExecContext(ctx, query, documentID, i,
			li.Description, li.Quantity.String(), li.UnitPrice.String(), li.Amount.String())
		if err != nil {
			return classify("InsertLineItems", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("InsertLineItems: %w", err)
	}
	return nil
}

// DeleteLineItems removes all line items of a document. Idempotent.
func (s *SQLite) DeleteLineItems(ctx context.Context, documentID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM line_items WHERE document_id = ?`, documentID)
	return classify("DeleteLineItems", err)
}

// ListLineItems returns a document's line items in order.
func (s *SQLite) ListLineItems(ctx context.Context, documentID string) ([]domain.LineItem, error) {
	query := `
	SELECT description, quantity, unit_price, amount
	FROM line_items
	WHERE document_id = ?
	ORDER BY position ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, classify("ListLineItems", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var (
			li                  domain.LineItem
			qty, price, amount  string
		)
		if err := rows.Scan(&li.Description, &qty, &price, &amount); err != nil {
			return nil, fmt.Errorf("ListLineItems: %w", err)
		}
		if li.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("ListLineItems: bad quantity %q: %w", qty, err)
		}
		if li.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("ListLineItems: bad unit price %q: %w", price, err)
		}
		if li.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ListLineItems: bad amount %q: %w", amount, err)
		}
		items = append(items, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListLineItems: %w", err)
	}
	return items, nil
}

// CountActiveReferences counts non-deleted documents referencing documentID.
func (s *SQLite) CountActiveReferences(ctx context.Context, documentID string) (int, error) {
	query := `SELECT COUNT(*) FROM documents WHERE ref_document_id = ? AND deleted_at IS NULL`
	var n int
	if err := s.conn.QueryRowContext(ctx, query, documentID).Scan(&n); err != nil {
		return 0, classify("CountActiveReferences", err)
	}
	return n, nil
}

// GetDocument assembles the full document: envelope, variant, and items.
func (s *SQLite) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	query := envelopeColumns + ` FROM documents WHERE id = ?`
	d, err := scanEnvelope(s.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify("GetDocument", err)
	}

	var payload string
	row := s.conn.QueryRowContext(ctx, `SELECT payload FROM document_variants WHERE document_id = ?`, id)
	if err := row.Scan(&payload); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetDocument: %w", err)
	} else if err == nil {
		if err := attachVariant(d, []byte(payload)); err != nil {
			return nil, fmt.Errorf("GetDocument: %w", err)
		}
	}

	if d.Items, err = s.ListLineItems(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDocuments returns all documents for a company, assembled.
func (s *SQLite) ListDocuments(ctx context.Context, companyID string) ([]*domain.Document, error) {
	query := envelopeColumns + ` FROM documents WHERE company_id = ? ORDER BY created_at ASC`
	rows, err := s.conn.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, classify("ListDocuments", err)
	}
	defer rows.Close()

	var ids []string
	var docs []*domain.Document
	for rows.Next() {
		d, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("ListDocuments: %w", err)
		}
		docs = append(docs, d)
		ids = append(ids, d.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListDocuments: %w", err)
	}

	for i, id := range ids {
		full, err := s.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		docs[i] = full
	}
	return docs, nil
}

// UpsertDocument writes the whole document bundle idempotently, for sync
// queue replay. Envelope, variant, and line items are replaced in one
// transaction.
func (s *SQLite) UpsertDocument(ctx context.Context, d *domain.Document) error {
	payload, err := marshalVariant(d)
	if err != nil {
		return apperr.New("UpsertDocument", apperr.ErrValidation, err.Error())
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("UpsertDocument: %w", err)
	}
	defer tx.Rollback()

	envelope := `
	INSERT INTO documents (id, company_id, type, number, status, currency,
		subtotal, tax_rate, tax_amount, total, account_id, ref_document_id,
		created_at, updated_at, deleted_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		number = excluded.number,
		status = excluded.status,
		currency = excluded.currency,
		subtotal = excluded.subtotal,
		tax_rate = excluded.tax_rate,
		tax_amount = excluded.tax_amount,
		total = excluded.total,
		account_id = excluded.account_id,
		ref_document_id = excluded.ref_document_id,
		updated_at = excluded.updated_at,
		deleted_at = excluded.deleted_at
	`
	_, err = tx.ExecContext(ctx, envelope,
		d.ID, d.CompanyID, string(d.Type), d.Number, string(d.Status), d.Currency,
		d.Subtotal.String(), decimalToNull(d.TaxRate), d.TaxAmount.String(), d.Total.String(),
		stringToNull(d.AccountID), stringToNull(d.RefDocumentID),
		d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano),
		timeToNull(d.DeletedAt),
	)
	if err != nil {
		return classify("UpsertDocument", err)
	}

	variant := `
	INSERT INTO document_variants (document_id, doc_type, payload)
	VALUES (?, ?, ?)
	ON CONFLICT(document_id) DO UPDATE SET
		doc_type = excluded.doc_type,
		payload = excluded.payload
	`
	if _, err := tx.ExecContext(ctx, variant, d.ID, string(d.Type), string(payload)); err != nil {
		return classify("UpsertDocument", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE document_id = ?`, d.ID); err != nil {
		return classify("UpsertDocument", err)
	}
	itemQuery := `
	INSERT INTO line_items (document_id, position, description, quantity, unit_price, amount)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	for i, li := range d.Items {
		_, err := tx.ExecContext(ctx, itemQuery, d.ID, i,
			li.Description, li.Quantity.String(), li.UnitPrice.String(), li.Amount.String())
		if err != nil {
			return classify("UpsertDocument", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("UpsertDocument: %w", err)
	}
	return nil
}

// DeleteDocument removes the whole bundle. Idempotent.
func (s *SQLite) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("DeleteDocument: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM line_items WHERE document_id = ?`,
		`DELETE FROM document_variants WHERE document_id = ?`,
		`DELETE FROM documents WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return classify("DeleteDocument", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("DeleteDocument: %w", err)
	}
	return nil
}

// ----- accounts and ledger -----

// GetAccount returns the account, or ErrNotFound.
func (s *SQLite) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	query := `
	SELECT id, company_id, name, currency, current_balance, is_active, created_at, updated_at
	FROM accounts WHERE id = ?
	`
	var (
		a                    domain.Account
		balance              string
		active               int
		createdAt, updatedAt string
	)
	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.CompanyID, &a.Name, &a.Currency, &balance, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, classify("GetAccount", err)
	}
	if a.CurrentBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("GetAccount: bad balance %q: %w", balance, err)
	}
	a.IsActive = active != 0
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		a.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		a.UpdatedAt = t
	}
	return &a, nil
}

// UpsertAccount inserts or updates an account row. Idempotent.
func (s *SQLite) UpsertAccount(ctx context.Context, a *domain.Account) error {
	if err := a.Validate(); err != nil {
		return apperr.New("UpsertAccount", apperr.ErrValidation, err.Error())
	}
	query := `
	INSERT INTO accounts (id, company_id, name, currency, current_balance, is_active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		currency = excluded.currency,
		current_balance = excluded.current_balance,
		is_active = excluded.is_active,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.ExecContext(ctx, query,
		a.ID, a.CompanyID, a.Name, a.Currency, a.CurrentBalance.String(),
		boolToInt(a.IsActive),
		a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano))
	return classify("UpsertAccount", err)
}

// PostTransaction applies the balance move and inserts the ledger entry
// atomically. A transaction whose ID already exists is a no-op, which
// makes queue replay idempotent. BalanceBefore must match the account's
// stored balance.
func (s *SQLite) PostTransaction(ctx context.Context, t *domain.Transaction) error {
	if err := t.Validate(); err != nil {
		return apperr.New("PostTransaction", apperr.ErrValidation, err.Error())
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("PostTransaction: %w", err)
	}
	defer tx.Rollback()

	var dup int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE id = ?`, t.ID).Scan(&dup); err != nil {
		return fmt.Errorf("PostTransaction: %w", err)
	}
	if dup > 0 {
		return nil
	}

	var balance string
	err = tx.QueryRowContext(ctx, `SELECT current_balance FROM accounts WHERE id = ?`, t.AccountID).Scan(&balance)
	if err != nil {
		return classify("PostTransaction", err)
	}
	current, err := decimal.NewFromString(balance)
	if err != nil {
		return fmt.Errorf("PostTransaction: bad balance %q: %w", balance, err)
	}
	if !current.Equal(t.BalanceBefore) {
		return apperr.New("PostTransaction", apperr.ErrConflict,
			fmt.Sprintf("balance moved: have %s, expected %s", current, t.BalanceBefore))
	}

	update := `UPDATE accounts SET current_balance = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update,
		t.BalanceAfter.String(), time.Now().UTC().Format(time.RFC3339Nano), t.AccountID); err != nil {
		return classify("PostTransaction", err)
	}

	insert := `
	INSERT INTO transactions (id, account_id, document_id, type, amount,
		balance_before, balance_after, description, transaction_date, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insert,
		t.ID, t.AccountID, stringToNull(t.DocumentID), string(t.Type), t.Amount.String(),
		t.BalanceBefore.String(), t.BalanceAfter.String(), t.Description,
		t.TransactionDate.Format(time.RFC3339Nano), t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return classify("PostTransaction", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("PostTransaction: %w", err)
	}
	return nil
}

// TransactionsForDocument returns a document's ledger entries in posting order.
func (s *SQLite) TransactionsForDocument(ctx context.Context, documentID string) ([]domain.Transaction, error) {
	query := `
	SELECT id, account_id, document_id, type, amount, balance_before, balance_after,
	       description, transaction_date, created_at
	FROM transactions
	WHERE document_id = ?
	ORDER BY created_at ASC, id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, classify("TransactionsForDocument", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var (
			t                                 domain.Transaction
			docID                             sql.NullString
			typ                               string
			amount, before, after             string
			txDate, createdAt                 string
		)
		err := rows.Scan(&t.ID, &t.AccountID, &docID, &typ, &amount, &before, &after,
			&t.Description, &txDate, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("TransactionsForDocument: %w", err)
		}
		if docID.Valid {
			v := docID.String
			t.DocumentID = &v
		}
		t.Type = domain.TransactionType(typ)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("TransactionsForDocument: bad amount: %w", err)
		}
		if t.BalanceBefore, err = decimal.NewFromString(before); err != nil {
			return nil, fmt.Errorf("TransactionsForDocument: bad balance_before: %w", err)
		}
		if t.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, fmt.Errorf("TransactionsForDocument: bad balance_after: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, txDate); err == nil {
			t.TransactionDate = ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			t.CreatedAt = ts
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("TransactionsForDocument: %w", err)
	}
	return txns, nil
}

// ----- bookings -----

// GetBooking returns the booking, or ErrNotFound.
func (s *SQLite) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	query := `
	SELECT id, company_id, account_id, document_id, amount, period_start, period_end, memo, created_at, updated_at
	FROM bookings WHERE id = ?
	`
	var (
		b                                            domain.Booking
		docID                                        sql.NullString
		amount, start, end, createdAt, updatedAt     string
	)
	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.CompanyID, &b.AccountID, &docID, &amount, &start, &end, &b.Memo, &createdAt, &updatedAt)
	if err != nil {
		return nil, classify("GetBooking", err)
	}
	if docID.Valid {
		v := docID.String
		b.DocumentID = &v
	}
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("GetBooking: bad amount: %w", err)
	}
	for _, p := range []struct {
		src string
		dst *time.Time
	}{{start, &b.PeriodStart}, {end, &b.PeriodEnd}, {createdAt, &b.CreatedAt}, {updatedAt, &b.UpdatedAt}} {
		if t, err := time.Parse(time.RFC3339Nano, p.src); err == nil {
			*p.dst = t
		}
	}
	return &b, nil
}

// UpsertBooking inserts or updates a booking row. Idempotent.
func (s *SQLite) UpsertBooking(ctx context.Context, b *domain.Booking) error {
	if err := b.Validate(); err != nil {
		return apperr.New("UpsertBooking", apperr.ErrValidation, err.Error())
	}
	query := `
	INSERT INTO bookings (id, company_id, account_id, document_id, amount,
		period_start, period_end, memo, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		account_id = excluded.account_id,
		document_id = excluded.document_id,
		amount = excluded.amount,
		period_start = excluded.period_start,
		period_end = excluded.period_end,
		memo = excluded.memo,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.ExecContext(ctx, query,
		b.ID, b.CompanyID, b.AccountID, stringToNull(b.DocumentID), b.Amount.String(),
		b.PeriodStart.Format(time.RFC3339Nano), b.PeriodEnd.Format(time.RFC3339Nano),
		b.Memo, b.CreatedAt.Format(time.RFC3339Nano), b.UpdatedAt.Format(time.RFC3339Nano))
	return classify("UpsertBooking", err)
}

// DeleteBooking removes a booking row. Idempotent.
func (s *SQLite) DeleteBooking(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	return classify("DeleteBooking", err)
}

// ----- numbering -----

// NextDocumentNumber atomically increments the per-scope sequence and
// returns the formatted number.
func (s *SQLite) NextDocumentNumber(ctx context.Context, companyID string, docType domain.DocumentType) (string, error) {
	query := `
	INSERT INTO document_numbers (company_id, doc_type, last_value)
	VALUES (?, ?, 1)
	ON CONFLICT(company_id, doc_type) DO UPDATE SET last_value = last_value + 1
	RETURNING last_value
	`
	var seq int64
	if err := s.conn.QueryRowContext(ctx, query, companyID, string(docType)).Scan(&seq); err != nil {
		return "", classify("NextDocumentNumber", err)
	}
	return FormatNumber(docType, seq), nil
}

// ----- scan helpers -----

const envelopeColumns = `
	SELECT id, company_id, type, number, status, currency,
	       subtotal, tax_rate, tax_amount, total, account_id, ref_document_id,
	       created_at, updated_at, deleted_at`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (*domain.Document, error) {
	var (
		d                             domain.Document
		typ, status                   string
		subtotal, taxAmount, total    string
		taxRate                       sql.NullString
		accountID, refID              sql.NullString
		createdAt, updatedAt          string
		deletedAt                     sql.NullString
	)
	err := row.Scan(&d.ID, &d.CompanyID, &typ, &d.Number, &status, &d.Currency,
		&subtotal, &taxRate, &taxAmount, &total, &accountID, &refID,
		&createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	d.Type = domain.DocumentType(typ)
	d.Status = domain.Status(status)
	if d.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("bad subtotal %q: %w", subtotal, err)
	}
	if d.TaxAmount, err = decimal.NewFromString(taxAmount); err != nil {
		return nil, fmt.Errorf("bad tax_amount %q: %w", taxAmount, err)
	}
	if d.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("bad total %q: %w", total, err)
	}
	if taxRate.Valid {
		r, err := decimal.NewFromString(taxRate.String)
		if err != nil {
			return nil, fmt.Errorf("bad tax_rate %q: %w", taxRate.String, err)
		}
		d.TaxRate = &r
	}
	if accountID.Valid {
		v := accountID.String
		d.AccountID = &v
	}
	if refID.Valid {
		v := refID.String
		d.RefDocumentID = &v
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		d.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		d.UpdatedAt = t
	}
	if deletedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, deletedAt.String); err == nil {
			d.DeletedAt = &t
		}
	}
	return &d, nil
}

func stringToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func timeToNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func decimalToNull(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
