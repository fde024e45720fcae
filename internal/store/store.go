package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// PaymentIntent is a billable thing awaiting payment. An intent owns at most
// one invoice reference at a time; the invoice manager rotates that reference
// but never deletes the intent.
type PaymentIntent struct {
	ID         string
	AmountSats int64
	Memo       string

	// Provider is pinned when the first invoice is created ("lnd" or
	// "lnbits") and is not re-evaluated on later checks.
	Provider         string
	Bolt11           string
	PaymentHash      string // lookup handle at the provider
	InvoiceCreatedAt time.Time

	Paid      bool
	PaidAt    time.Time // zero until paid
	CreatedAt time.Time
}

// Store persists payment intents.
type Store interface {
	SaveIntent(ctx context.Context, intent *PaymentIntent) error
	GetIntent(ctx context.Context, id string) (*PaymentIntent, error)
	// UpdateInvoice replaces the intent's invoice reference (rotation).
	UpdateInvoice(ctx context.Context, id, provider, bolt11, paymentHash string, createdAt time.Time) error
	MarkPaid(ctx context.Context, id string, paidAt time.Time) error
	ListUnpaid(ctx context.Context) ([]*PaymentIntent, error)
	Close() error
}
