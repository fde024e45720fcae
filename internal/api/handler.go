package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"lnbridge/internal/channels"
	"lnbridge/internal/invoices"
	"lnbridge/internal/lnd"
	"lnbridge/internal/logging"
	"lnbridge/internal/peers"
	"lnbridge/internal/store"
)

const (
	probeRequestTimeout   = 20 * time.Second
	connectRequestTimeout = 30 * time.Second
)

// IntentService is the invoice lifecycle surface the handler uses.
type IntentService interface {
	CreateIntent(ctx context.Context, amountSats int64, memo string) (*invoices.IntentView, error)
	EnsureActiveInvoice(ctx context.Context, intentID string) (*invoices.IntentView, error)
	RefreshIntent(ctx context.Context, intentID string) (*invoices.IntentView, error)
}

// PeerService is the peer connectivity surface the handler uses.
type PeerService interface {
	ProbePeer(ctx context.Context, pubkey, hostPort string, timeout time.Duration) (peers.ProbeResult, error)
	EnsureConnected(ctx context.Context, pubkey, hostPort string, timeout time.Duration) error
	Suggestions(ctx context.Context, limit, probeTop int) ([]peers.Suggestion, peers.SuggestionsMeta, error)
}

// ChannelService is the channel lifecycle surface the handler uses.
type ChannelService interface {
	Open(ctx context.Context, peerPubkey string, capacitySats int64, hostPort string) (*channels.OpenResult, error)
	Close(ctx context.Context, channelPoint string, force bool) error
	GetStatus(ctx context.Context, pointOrPubkey string) (*channels.Status, error)
	GetSummary(ctx context.Context) (*channels.Summary, error)
}

// NodeService is the node status surface the handler uses.
type NodeService interface {
	GetReadiness(ctx context.Context) *lnd.Readiness
	GetWalletBalance(ctx context.Context) (*lnd.WalletBalance, error)
}

// Handler handles HTTP requests.
type Handler struct {
	intents        IntentService
	peers          PeerService
	channels       ChannelService
	node           NodeService
	pendingLimiter *PendingIntentLimiter
	mux            *http.ServeMux
}

// NewHandler creates a new HTTP handler. If pendingLimiter is nil, no
// unpaid-intent limit is enforced.
func NewHandler(intents IntentService, peerSvc PeerService, channelSvc ChannelService, node NodeService, pendingLimiter *PendingIntentLimiter) *Handler {
	h := &Handler{
		intents:        intents,
		peers:          peerSvc,
		channels:       channelSvc,
		node:           node,
		pendingLimiter: pendingLimiter,
		mux:            http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /api/invoices", h.handleCreateIntent)
	h.mux.HandleFunc("GET /api/invoices/{id}", h.handleGetIntent)
	h.mux.HandleFunc("POST /api/invoices/{id}/refresh", h.handleRefreshIntent)

	h.mux.HandleFunc("GET /api/peers/suggestions", h.handleSuggestions)
	h.mux.HandleFunc("POST /api/peers/probe", h.handleProbe)
	h.mux.HandleFunc("POST /api/peers/connect", h.handleConnect)

	h.mux.HandleFunc("POST /api/channels", h.handleOpenChannel)
	h.mux.HandleFunc("GET /api/channels/summary", h.handleChannelSummary)
	h.mux.HandleFunc("GET /api/channels/{query}", h.handleChannelStatus)
	h.mux.HandleFunc("DELETE /api/channels/{txid}/{index}", h.handleCloseChannel)

	h.mux.HandleFunc("GET /api/node/readiness", h.handleReadiness)
	h.mux.HandleFunc("GET /api/node/balances", h.handleBalances)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// CreateIntentRequest is the request body for creating a payment intent.
type CreateIntentRequest struct {
	AmountSats int64  `json:"amount_sats"`
	Memo       string `json:"memo,omitempty"`
}

func (h *Handler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	ip := extractIP(r)

	if h.pendingLimiter != nil && !h.pendingLimiter.CanCreate(ip) {
		count := h.pendingLimiter.PendingCount(ip)
		max := h.pendingLimiter.MaxPending()
		msg := fmt.Sprintf("pending invoice limit reached: you have %d unpaid invoice(s) (max %d). "+
			"Pay or wait for existing invoices to expire before creating more.", count, max)
		http.Error(w, msg, http.StatusTooManyRequests)
		return
	}

	var req CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AmountSats <= 0 {
		http.Error(w, "amount_sats must be positive", http.StatusBadRequest)
		return
	}
	if len(req.Memo) > 256 {
		http.Error(w, "memo too long (max 256)", http.StatusBadRequest)
		return
	}

	view, err := h.intents.CreateIntent(r.Context(), req.AmountSats, req.Memo)
	if err != nil {
		logging.Internal.Printf("failed to create intent: %v", err)
		http.Error(w, "failed to create invoice", http.StatusInternalServerError)
		return
	}

	if h.pendingLimiter != nil && ip != "" {
		h.pendingLimiter.TrackIntent(ip, view.ID)
	}

	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "invalid intent id", http.StatusBadRequest)
		return
	}

	view, err := h.intents.EnsureActiveInvoice(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "intent not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Internal.Printf("failed to resolve intent %s: %v", id, err)
		http.Error(w, "failed to resolve invoice", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleRefreshIntent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "invalid intent id", http.StatusBadRequest)
		return
	}

	view, err := h.intents.RefreshIntent(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "intent not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Internal.Printf("failed to refresh intent %s: %v", id, err)
		http.Error(w, "failed to refresh invoice", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// SuggestionsResponse is the scored peer list with probe metadata.
type SuggestionsResponse struct {
	Suggestions []peers.Suggestion    `json:"suggestions"`
	Meta        peers.SuggestionsMeta `json:"meta"`
}

func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 25, 1, 100)
	probeTop := queryInt(r, "probe", 0, 0, 5)

	suggestions, meta, err := h.peers.Suggestions(r.Context(), limit, probeTop)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SuggestionsResponse{Suggestions: suggestions, Meta: meta})
}

// PeerRequest identifies a peer by pubkey and address.
type PeerRequest struct {
	Pubkey string `json:"pubkey"`
	Host   string `json:"host"`
}

func (h *Handler) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req PeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.peers.ProbePeer(r.Context(), req.Pubkey, req.Host, probeRequestTimeout)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req PeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.peers.EnsureConnected(r.Context(), req.Pubkey, req.Host, connectRequestTimeout); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

// OpenChannelRequest is the request body for opening a channel.
type OpenChannelRequest struct {
	PeerPubkey   string `json:"peer_pubkey"`
	Host         string `json:"host"`
	CapacitySats int64  `json:"capacity_sats"`
}

func (h *Handler) handleOpenChannel(w http.ResponseWriter, r *http.Request) {
	var req OpenChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.channels.Open(r.Context(), req.PeerPubkey, req.CapacitySats, req.Host)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleCloseChannel(w http.ResponseWriter, r *http.Request) {
	point := r.PathValue("txid") + ":" + r.PathValue("index")
	force := r.URL.Query().Get("force") == "true"

	if err := h.channels.Close(r.Context(), point, force); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"closing": true})
}

func (h *Handler) handleChannelStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.channels.GetStatus(r.Context(), r.PathValue("query"))
	if err != nil {
		writeError(w, err)
		return
	}

	code := http.StatusOK
	if status.Status == "not_found" {
		code = http.StatusNotFound
	}
	writeJSON(w, code, status)
}

func (h *Handler) handleChannelSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.channels.GetSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.node.GetReadiness(r.Context()))
}

// BalancesResponse combines on-chain and channel liquidity.
type BalancesResponse struct {
	Wallet   *lnd.WalletBalance `json:"wallet"`
	Channels *channels.Summary  `json:"channels"`
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.node.GetWalletBalance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := h.channels.GetSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalancesResponse{Wallet: wallet, Channels: summary})
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := lnd.CodeOf(err)
	resp := ErrorResponse{
		Error: err.Error(),
		Code:  string(code),
		Hint:  lnd.HintOf(err),
	}
	writeJSON(w, httpStatusFor(code), resp)
}

func httpStatusFor(code lnd.Code) int {
	switch code {
	case lnd.CodeInvalidPubkey, lnd.CodeInvalidHostPort, lnd.CodeInvalidChannelPoint, lnd.CodeMinChanSize:
		return http.StatusBadRequest
	case lnd.CodeChannelNotFound:
		return http.StatusNotFound
	case lnd.CodePeerNotReady, lnd.CodePeerOffline, lnd.CodePeerRejected,
		lnd.CodeAlreadyClosing, lnd.CodeInsufficientFunds:
		return http.StatusConflict
	case lnd.CodeNodeNotConfigured, lnd.CodeMacaroonMissing, lnd.CodeMacaroonInvalidFormat,
		lnd.CodeTLSRequired, lnd.CodeTLSUntrusted, lnd.CodeWalletLocked, lnd.CodeNotSynced:
		return http.StatusServiceUnavailable
	case lnd.CodeConnectTimeout, lnd.CodeConnectRefused, lnd.CodeConnectFailed,
		lnd.CodeConnectionReset, lnd.CodeRequestTimeout, lnd.CodeHTTPError, lnd.CodeBadJSON:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Internal.Printf("failed to encode response: %v", err)
	}
}

func queryInt(r *http.Request, name string, def, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
