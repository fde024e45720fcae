package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payment_intents (
			id TEXT PRIMARY KEY,
			amount_sats INTEGER NOT NULL,
			memo TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			bolt11 TEXT NOT NULL DEFAULT '',
			payment_hash TEXT NOT NULL DEFAULT '',
			invoice_created_at DATETIME,
			paid INTEGER NOT NULL DEFAULT 0,
			paid_at DATETIME,
			created_at DATETIME NOT NULL
		)
	`)
	return err
}

func (s *SQLiteStore) SaveIntent(ctx context.Context, intent *PaymentIntent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_intents
			(id, amount_sats, memo, provider, bolt11, payment_hash, invoice_created_at, paid, paid_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, intent.ID, intent.AmountSats, intent.Memo, intent.Provider, intent.Bolt11, intent.PaymentHash,
		nullTime(intent.InvoiceCreatedAt), intent.Paid, nullTime(intent.PaidAt), intent.CreatedAt)
	return err
}

func (s *SQLiteStore) GetIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, amount_sats, memo, provider, bolt11, payment_hash, invoice_created_at, paid, paid_at, created_at
		FROM payment_intents WHERE id = ?
	`, id)
	return scanIntent(row)
}

func (s *SQLiteStore) UpdateInvoice(ctx context.Context, id, provider, bolt11, paymentHash string, createdAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET provider = ?, bolt11 = ?, payment_hash = ?, invoice_created_at = ?
		WHERE id = ?
	`, provider, bolt11, paymentHash, createdAt, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *SQLiteStore) MarkPaid(ctx context.Context, id string, paidAt time.Time) error {
	// Keep an existing paid timestamp if one was already stamped.
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET paid = 1, paid_at = COALESCE(paid_at, ?)
		WHERE id = ?
	`, paidAt, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *SQLiteStore) ListUnpaid(ctx context.Context) ([]*PaymentIntent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount_sats, memo, provider, bolt11, payment_hash, invoice_created_at, paid, paid_at, created_at
		FROM payment_intents WHERE paid = 0
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []*PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntent(row rowScanner) (*PaymentIntent, error) {
	var intent PaymentIntent
	var paid int
	var invoiceCreatedAt, paidAt sql.NullTime
	err := row.Scan(&intent.ID, &intent.AmountSats, &intent.Memo, &intent.Provider, &intent.Bolt11,
		&intent.PaymentHash, &invoiceCreatedAt, &paid, &paidAt, &intent.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	intent.Paid = paid == 1
	if invoiceCreatedAt.Valid {
		intent.InvoiceCreatedAt = invoiceCreatedAt.Time
	}
	if paidAt.Valid {
		intent.PaidAt = paidAt.Time
	}
	return &intent, nil
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
