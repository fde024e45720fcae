package invoices

import (
	"context"
	"encoding/hex"

	"lnbridge/internal/lnd"
)

// invoiceExpirySecs is the expiry requested on every invoice we create.
const invoiceExpirySecs = 3600

// Invoice is a freshly created payment request.
type Invoice struct {
	Bolt11      string
	PaymentHash string
}

// Provider creates and inspects invoices at one backend. An intent is pinned
// to the provider that created its first invoice and stays there for every
// later rotation and lookup.
type Provider interface {
	Name() string
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error)
	// LookupState reports the invoice state using the lnd state names. A
	// failed lookup returns an error; the caller decides whether the current
	// invoice is still trustworthy.
	LookupState(ctx context.Context, paymentHash string) (string, error)
}

// NodeInvoiceClient is the slice of the node client the node-backed provider
// needs.
type NodeInvoiceClient interface {
	AddInvoice(ctx context.Context, req *lnd.AddInvoiceRequest) (*lnd.AddInvoiceResponse, error)
	LookupInvoice(ctx context.Context, hashHex string) (*lnd.InvoiceDetails, error)
}

// NodeProvider issues invoices on the operator's own node.
type NodeProvider struct {
	client NodeInvoiceClient
}

func NewNodeProvider(client NodeInvoiceClient) *NodeProvider {
	return &NodeProvider{client: client}
}

func (p *NodeProvider) Name() string { return "lnd" }

func (p *NodeProvider) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error) {
	resp, err := p.client.AddInvoice(ctx, &lnd.AddInvoiceRequest{
		Memo:   memo,
		Value:  amountSats,
		Expiry: invoiceExpirySecs,
	})
	if err != nil {
		return nil, err
	}
	return &Invoice{
		Bolt11:      resp.PaymentRequest,
		PaymentHash: hex.EncodeToString(resp.RHash),
	}, nil
}

func (p *NodeProvider) LookupState(ctx context.Context, paymentHash string) (string, error) {
	details, err := p.client.LookupInvoice(ctx, paymentHash)
	if err != nil {
		return lnd.InvoiceStateUnknown, err
	}
	if details.State != "" {
		return details.State, nil
	}
	// Old node versions omit the state field.
	if details.Settled {
		return lnd.InvoiceStateSettled, nil
	}
	return lnd.InvoiceStateOpen, nil
}
