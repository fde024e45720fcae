package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lnbridge/internal/lnd"
	"lnbridge/internal/logging"
	"lnbridge/internal/store"
	"lnbridge/internal/syncutil"
)

const (
	// invoiceStaleAfter is how long a stored invoice is trusted when its
	// provider cannot be reached for a state lookup. Inside the window the
	// invoice is served as-is; past it the invoice is rotated.
	invoiceStaleAfter = 2 * time.Minute

	ensureTimeout = 20 * time.Second
)

// PaymentCallback is called when an intent transitions to paid.
type PaymentCallback func(intentID string)

// IntentView is the externally visible state of a payment intent.
type IntentView struct {
	ID          string    `json:"id"`
	AmountSats  int64     `json:"amount_sats"`
	Memo        string    `json:"memo,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Bolt11      string    `json:"bolt11,omitempty"`
	PaymentHash string    `json:"payment_hash,omitempty"`
	State       string    `json:"state"`
	Rotated     bool      `json:"rotated,omitempty"`
	Paid        bool      `json:"paid"`
	PaidAt      time.Time `json:"paid_at,omitzero"`
}

// Manager owns the invoice lifecycle of payment intents. It creates invoices
// lazily, rotates dead ones, and stamps settlements exactly once.
type Manager struct {
	store    store.Store
	primary  Provider // nil when no node is configured
	fallback Provider // nil when no hosted wallet is configured
	flight   *syncutil.Flight

	onPayment PaymentCallback
	now       func() time.Time
}

func NewManager(st store.Store, primary, fallback Provider) *Manager {
	return &Manager{
		store:    st,
		primary:  primary,
		fallback: fallback,
		flight:   syncutil.NewFlight(),
		now:      time.Now,
	}
}

// SetPaymentCallback registers a callback fired once per intent when a
// settlement is first observed.
func (m *Manager) SetPaymentCallback(cb PaymentCallback) {
	m.onPayment = cb
}

// CreateIntent records a new payment intent and immediately attaches its
// first invoice.
func (m *Manager) CreateIntent(ctx context.Context, amountSats int64, memo string) (*IntentView, error) {
	if amountSats <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", amountSats)
	}

	intent := &store.PaymentIntent{
		ID:         uuid.NewString(),
		AmountSats: amountSats,
		Memo:       memo,
		CreatedAt:  m.now().UTC(),
	}
	if err := m.store.SaveIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to save intent: %w", err)
	}
	return m.EnsureActiveInvoice(ctx, intent.ID)
}

// EnsureActiveInvoice guarantees the intent carries a payable invoice and
// returns the current view. Concurrent calls for the same intent share one
// pass; the underlying work runs to completion even if every caller leaves.
func (m *Manager) EnsureActiveInvoice(ctx context.Context, intentID string) (*IntentView, error) {
	v, err := m.flight.Do("ensure|"+intentID, func() (interface{}, error) {
		// Detached so a shared execution is not cut short by whichever
		// caller's context happens to be driving it.
		ensureCtx, cancel := context.WithTimeout(context.Background(), ensureTimeout)
		defer cancel()
		return m.ensureLocked(ensureCtx, intentID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*IntentView), nil
}

func (m *Manager) ensureLocked(ctx context.Context, intentID string) (*IntentView, error) {
	intent, err := m.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	if intent.Paid {
		return viewOf(intent, lnd.InvoiceStateSettled, false), nil
	}

	// First invoice: pick a provider and pin it.
	if intent.PaymentHash == "" {
		if err := m.attachInvoice(ctx, intent); err != nil {
			return nil, err
		}
		return viewOf(intent, lnd.InvoiceStateOpen, true), nil
	}

	provider, err := m.providerFor(intent.Provider)
	if err != nil {
		return nil, err
	}

	state, lookupErr := provider.LookupState(ctx, intent.PaymentHash)
	if lookupErr != nil {
		age := m.now().Sub(intent.InvoiceCreatedAt)
		if age < invoiceStaleAfter {
			// The invoice is recent enough to keep serving; the real state
			// is simply unknown right now.
			logging.Invoices.WithField("intent", intent.ID).
				Warnf("invoice lookup failed, serving current invoice (age %s): %v", age.Round(time.Second), lookupErr)
			return viewOf(intent, lnd.InvoiceStateUnknown, false), nil
		}
		logging.Invoices.WithField("intent", intent.ID).
			Warnf("invoice lookup failed past the trust window, rotating: %v", lookupErr)
		if err := m.rotateInvoice(ctx, intent, provider); err != nil {
			return nil, err
		}
		return viewOf(intent, lnd.InvoiceStateOpen, true), nil
	}

	switch state {
	case lnd.InvoiceStateSettled:
		m.settle(ctx, intent)
		return viewOf(intent, lnd.InvoiceStateSettled, false), nil
	case lnd.InvoiceStateOpen, lnd.InvoiceStateAccepted:
		return viewOf(intent, state, false), nil
	default:
		// CANCELED or a state this code does not know. Either way the
		// current invoice is not payable.
		logging.Invoices.WithField("intent", intent.ID).
			Infof("invoice state %s is not payable, rotating", state)
		if err := m.rotateInvoice(ctx, intent, provider); err != nil {
			return nil, err
		}
		return viewOf(intent, lnd.InvoiceStateOpen, true), nil
	}
}

// RefreshIntent re-checks settlement without ever rotating the invoice. It is
// safe to call repeatedly; a settlement is stamped at most once.
func (m *Manager) RefreshIntent(ctx context.Context, intentID string) (*IntentView, error) {
	intent, err := m.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	if intent.Paid {
		return viewOf(intent, lnd.InvoiceStateSettled, false), nil
	}
	if intent.PaymentHash == "" {
		return viewOf(intent, lnd.InvoiceStateUnknown, false), nil
	}

	provider, err := m.providerFor(intent.Provider)
	if err != nil {
		return nil, err
	}

	state, lookupErr := provider.LookupState(ctx, intent.PaymentHash)
	if lookupErr != nil {
		return viewOf(intent, lnd.InvoiceStateUnknown, false), nil
	}
	if state == lnd.InvoiceStateSettled {
		m.settle(ctx, intent)
	}
	return viewOf(intent, state, false), nil
}

// SweepSettlements checks every unpaid intent with an attached invoice and
// stamps the ones that settled. It is meant to run on a timer.
func (m *Manager) SweepSettlements(ctx context.Context) {
	intents, err := m.store.ListUnpaid(ctx)
	if err != nil {
		logging.Invoices.Errorf("settlement sweep: failed to list unpaid intents: %v", err)
		return
	}

	for _, intent := range intents {
		if intent.PaymentHash == "" {
			continue
		}
		provider, err := m.providerFor(intent.Provider)
		if err != nil {
			continue
		}
		state, err := provider.LookupState(ctx, intent.PaymentHash)
		if err != nil {
			continue
		}
		if state == lnd.InvoiceStateSettled {
			m.settle(ctx, intent)
		}
	}
}

// attachInvoice creates the first invoice for an intent, preferring the node
// and falling back to the hosted wallet. The provider that succeeds is pinned.
func (m *Manager) attachInvoice(ctx context.Context, intent *store.PaymentIntent) error {
	var lastErr error
	for _, provider := range []Provider{m.primary, m.fallback} {
		if provider == nil {
			continue
		}
		inv, err := provider.CreateInvoice(ctx, intent.AmountSats, intent.Memo)
		if err != nil {
			logging.Invoices.WithField("intent", intent.ID).
				Warnf("provider %s failed to create invoice: %v", provider.Name(), err)
			lastErr = err
			continue
		}
		return m.storeInvoice(ctx, intent, provider.Name(), inv)
	}
	if lastErr == nil {
		return fmt.Errorf("no invoice provider configured")
	}
	return fmt.Errorf("failed to create invoice: %w", lastErr)
}

// rotateInvoice replaces a dead invoice with a fresh one at the pinned
// provider.
func (m *Manager) rotateInvoice(ctx context.Context, intent *store.PaymentIntent, provider Provider) error {
	inv, err := provider.CreateInvoice(ctx, intent.AmountSats, intent.Memo)
	if err != nil {
		return fmt.Errorf("failed to rotate invoice: %w", err)
	}
	return m.storeInvoice(ctx, intent, provider.Name(), inv)
}

func (m *Manager) storeInvoice(ctx context.Context, intent *store.PaymentIntent, providerName string, inv *Invoice) error {
	createdAt := m.now().UTC()
	if err := m.store.UpdateInvoice(ctx, intent.ID, providerName, inv.Bolt11, inv.PaymentHash, createdAt); err != nil {
		return fmt.Errorf("failed to persist invoice: %w", err)
	}
	intent.Provider = providerName
	intent.Bolt11 = inv.Bolt11
	intent.PaymentHash = inv.PaymentHash
	intent.InvoiceCreatedAt = createdAt
	return nil
}

func (m *Manager) settle(ctx context.Context, intent *store.PaymentIntent) {
	paidAt := m.now().UTC()
	if err := m.store.MarkPaid(ctx, intent.ID, paidAt); err != nil {
		logging.Invoices.Errorf("CRITICAL: failed to mark intent %s paid after settlement: %v", intent.ID, err)
		return
	}
	wasPaid := intent.Paid
	intent.Paid = true
	if intent.PaidAt.IsZero() {
		intent.PaidAt = paidAt
	}

	if cb := m.onPayment; cb != nil && !wasPaid {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Internal.Errorf("payment callback panic for intent %s: %v", intent.ID, r)
				}
			}()
			cb(intent.ID)
		}()
	}
}

func (m *Manager) providerFor(name string) (Provider, error) {
	if m.primary != nil && m.primary.Name() == name {
		return m.primary, nil
	}
	if m.fallback != nil && m.fallback.Name() == name {
		return m.fallback, nil
	}
	return nil, fmt.Errorf("invoice provider %q is not configured", name)
}

func viewOf(intent *store.PaymentIntent, state string, rotated bool) *IntentView {
	return &IntentView{
		ID:          intent.ID,
		AmountSats:  intent.AmountSats,
		Memo:        intent.Memo,
		Provider:    intent.Provider,
		Bolt11:      intent.Bolt11,
		PaymentHash: intent.PaymentHash,
		State:       state,
		Rotated:     rotated,
		Paid:        intent.Paid,
		PaidAt:      intent.PaidAt,
	}
}
