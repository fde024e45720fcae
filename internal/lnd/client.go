package lnd

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"lnbridge/internal/logging"
)

// DefaultTimeout bounds every REST call. Timeouts are classified as their own
// error kind, distinct from generic network failures.
const DefaultTimeout = 8 * time.Second

const maxResponseBytes = 64 << 20 // the full graph can be tens of MB

// Client talks to the node's REST API. Every call fetches the current runtime
// config, dials a fresh TLS connection pinned to the configured trust anchor,
// and classifies failures into the stable code taxonomy. The client never
// retries: retry policy belongs to the managers above it, where it composes
// with single-flight and cooldown instead of defeating them.
type Client struct {
	source  ConfigSource
	timeout time.Duration
}

// NewClient creates a client reading connection material from source.
func NewClient(source ConfigSource) *Client {
	return &Client{source: source, timeout: DefaultTimeout}
}

// Configured reports whether a runtime config is currently available, without
// touching the network.
func (c *Client) Configured(ctx context.Context) bool {
	cfg, err := c.source.NodeConfig(ctx)
	return err == nil && cfg != nil && cfg.Validate() == nil
}

// Network returns the configured chain network, or "" when not configured.
func (c *Client) Network(ctx context.Context) string {
	cfg, err := c.source.NodeConfig(ctx)
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Network
}

// call performs one authenticated REST request. body (if non-nil) is sent as
// JSON; out (if non-nil) receives the decoded JSON response.
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	cfg, err := c.source.NodeConfig(ctx)
	if err != nil {
		var coded *Error
		if errors.As(err, &coded) {
			return err
		}
		return E(CodeNodeNotConfigured, "connect a Lightning node first", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Fail closed: without a pinned trust anchor we refuse to connect rather
	// than fall back to unverified TLS.
	certPEM := strings.TrimSpace(cfg.TLSCertPEM)
	if certPEM == "" {
		return E(CodeTLSUntrusted, "upload the node's tls.cert so the connection can be verified", nil)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(certPEM)) {
		return E(CodeTLSUntrusted, "the uploaded TLS certificate could not be parsed", nil)
	}

	endpoint, err := url.JoinPath(cfg.RESTURL, path)
	if err != nil {
		return Errorf(CodeNodeNotConfigured, "check the node REST URL", "join %q and %q: %v", cfg.RESTURL, path, err)
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Grpc-Metadata-macaroon", strings.TrimSpace(cfg.MacaroonHex))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Fresh connection per call; the call rates here are discovery and
	// maintenance, not bulk transfer, so pooling is not worth keeping state.
	httpClient := &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{RootCAs: pool},
			DisableKeepAlives: true,
		},
	}

	logging.LND.WithField("method", method).WithField("path", path).Debug("rest call")

	resp, err := httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransport(err)
	}

	if resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return E(CodeBadJSON,
				"response was not JSON; check that the REST port is configured, not the gRPC port",
				fmt.Errorf("decode %s %s: %w", method, path, err))
		}
	}
	return nil
}

// classifyTransport maps a transport-level failure into the stable taxonomy.
// Classification happens exactly once, here.
func classifyTransport(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return E(CodeRequestTimeout,
			"node did not answer in time; check host, port and that the node is running", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var unknownAuthority x509.UnknownAuthorityError
	var certErr x509.CertificateInvalidError
	if errors.As(err, &unknownAuthority) || errors.As(err, &certErr) ||
		strings.Contains(err.Error(), "x509") || strings.Contains(err.Error(), "self-signed") {
		return E(CodeTLSUntrusted,
			"certificate not trusted; upload the node's current tls.cert", err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return E(CodeConnectRefused, "nothing is listening on that port", err)
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.EOF) ||
		strings.Contains(err.Error(), "EOF") {
		return E(CodeConnectionReset,
			"connection dropped mid-request; this usually means the gRPC port was configured instead of REST", err)
	}

	return E(CodeConnectFailed, "could not reach the node", err)
}

type restErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// classifyStatus maps an HTTP error status plus the node's error body into
// the taxonomy. Status-independent string matching for wallet state is done
// here because the node reports it with a 500.
func classifyStatus(status int, raw []byte) error {
	var body restErrorBody
	_ = json.Unmarshal(raw, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "wallet locked") || strings.Contains(lower, "wallet is encrypted"):
		return Errorf(CodeWalletLocked, "unlock the node wallet", "HTTP %d: %s", status, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		strings.Contains(lower, "macaroon"):
		return Errorf(CodeMacaroonInvalidFormat,
			"the node rejected the macaroon; upload a current one", "HTTP %d: %s", status, msg)
	case status == http.StatusNotFound:
		return Errorf(CodeHTTPError, "endpoint not found; check the node version and REST URL path",
			"HTTP %d: %s", status, msg)
	default:
		return Errorf(CodeHTTPError, "the node rejected the request", "HTTP %d: %s", status, msg)
	}
}

// GetInfo fetches GET /v1/getinfo.
func (c *Client) GetInfo(ctx context.Context) (*NodeInfo, error) {
	var info NodeInfo
	if err := c.call(ctx, http.MethodGet, "/v1/getinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetWalletBalance fetches GET /v1/balance/blockchain.
func (c *Client) GetWalletBalance(ctx context.Context) (*WalletBalance, error) {
	var bal WalletBalance
	if err := c.call(ctx, http.MethodGet, "/v1/balance/blockchain", nil, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// ListChannels fetches GET /v1/channels.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	var resp listChannelsResponse
	if err := c.call(ctx, http.MethodGet, "/v1/channels", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// GetPendingChannels fetches GET /v1/channels/pending.
func (c *Client) GetPendingChannels(ctx context.Context) (*PendingChannels, error) {
	var resp PendingChannels
	if err := c.call(ctx, http.MethodGet, "/v1/channels/pending", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenChannel submits POST /v1/channels.
func (c *Client) OpenChannel(ctx context.Context, req *OpenChannelRequest) (*OpenChannelResponse, error) {
	var resp OpenChannelResponse
	if err := c.call(ctx, http.MethodPost, "/v1/channels", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CloseChannel submits DELETE /v1/channels/{txid}/{index}. The response
// stream is drained and discarded; callers poll pending channels for
// progress.
func (c *Client) CloseChannel(ctx context.Context, fundingTxid string, outputIndex uint32, force bool) error {
	path := fmt.Sprintf("/v1/channels/%s/%d", fundingTxid, outputIndex)
	if force {
		path += "?force=true"
	}
	return c.call(ctx, http.MethodDelete, path, nil, nil)
}

// DescribeGraph fetches GET /v1/graph, the node's full visible network graph.
func (c *Client) DescribeGraph(ctx context.Context) (*Graph, error) {
	var g Graph
	if err := c.call(ctx, http.MethodGet, "/v1/graph", nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetNodeInfo fetches GET /v1/graph/node/{pubkey}.
func (c *Client) GetNodeInfo(ctx context.Context, pubkey string) (*GraphNodeInfo, error) {
	var info GraphNodeInfo
	if err := c.call(ctx, http.MethodGet, "/v1/graph/node/"+url.PathEscape(pubkey), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListPeers fetches GET /v1/peers.
func (c *Client) ListPeers(ctx context.Context) ([]Peer, error) {
	var resp listPeersResponse
	if err := c.call(ctx, http.MethodGet, "/v1/peers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// ConnectPeer submits POST /v1/peers. The node itself enforces timeoutSec on
// the dial.
func (c *Client) ConnectPeer(ctx context.Context, pubkey, host string, timeoutSec uint64) error {
	req := connectPeerRequest{
		Addr:    connectPeerAddr{Pubkey: pubkey, Host: host},
		Timeout: timeoutSec,
	}
	return c.call(ctx, http.MethodPost, "/v1/peers", &req, nil)
}

// AddInvoice submits POST /v1/invoices.
func (c *Client) AddInvoice(ctx context.Context, req *AddInvoiceRequest) (*AddInvoiceResponse, error) {
	var resp AddInvoiceResponse
	if err := c.call(ctx, http.MethodPost, "/v1/invoices", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LookupInvoice fetches GET /v1/invoice/{hash} by hex payment hash.
func (c *Client) LookupInvoice(ctx context.Context, hashHex string) (*InvoiceDetails, error) {
	var resp InvoiceDetails
	if err := c.call(ctx, http.MethodGet, "/v1/invoice/"+url.PathEscape(hashHex), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
