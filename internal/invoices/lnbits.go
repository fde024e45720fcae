package invoices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lnbridge/internal/lnd"
	"lnbridge/internal/logging"
)

// LNbitsClient implements Provider against a hosted LNbits wallet. It is the
// fallback when no node is configured.
type LNbitsClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type lnbitsCreateRequest struct {
	Out    bool   `json:"out"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo,omitempty"`
	Expiry int64  `json:"expiry,omitempty"`
}

type lnbitsCreateResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	Bolt11         string `json:"bolt11"`
}

type lnbitsPaymentResponse struct {
	Paid    bool `json:"paid"`
	Details struct {
		Expiry int64 `json:"expiry"`
	} `json:"details"`
}

// NewLNbitsClient creates a client for the wallet at baseURL authenticated by
// an invoice-only API key.
func NewLNbitsClient(baseURL, apiKey string) (*LNbitsClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	return &LNbitsClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (c *LNbitsClient) Name() string { return "lnbits" }

func (c *LNbitsClient) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error) {
	logging.LNbits.Debugf("creating invoice for %d sats", amountSats)

	reqBody := lnbitsCreateRequest{
		Out:    false,
		Amount: amountSats,
		Memo:   memo,
		Expiry: invoiceExpirySecs,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp lnbitsCreateResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", bytes.NewReader(jsonBody), &resp); err != nil {
		return nil, err
	}

	bolt11 := resp.PaymentRequest
	if bolt11 == "" {
		bolt11 = resp.Bolt11
	}
	if resp.PaymentHash == "" || bolt11 == "" {
		return nil, fmt.Errorf("wallet returned an incomplete invoice")
	}

	logging.LNbits.Infof("created invoice %s for %d sats", resp.PaymentHash[:16], amountSats)
	return &Invoice{Bolt11: bolt11, PaymentHash: resp.PaymentHash}, nil
}

func (c *LNbitsClient) LookupState(ctx context.Context, paymentHash string) (string, error) {
	var resp lnbitsPaymentResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+paymentHash, nil, &resp); err != nil {
		return lnd.InvoiceStateUnknown, err
	}
	if resp.Paid {
		return lnd.InvoiceStateSettled, nil
	}
	return lnd.InvoiceStateOpen, nil
}

func (c *LNbitsClient) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("wallet returned status %d: %s", resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
