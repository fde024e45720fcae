// Package channels drives channel lifecycle against the node: open, close
// and status, with upstream error text remapped into the stable taxonomy.
package channels

import (
	"context"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lnbridge/internal/lnd"
	"lnbridge/internal/logging"
	"lnbridge/internal/syncutil"
)

const (
	// MinCapacitySats is the floor below which an open request is rejected
	// locally, before any network call.
	MinCapacitySats = 20_000

	// Displayed expectation; actual confirmation time depends on the chain.
	openConfirmations = 3

	// UX estimate only: the real fee depends on chain conditions when the
	// funding transaction confirms.
	estimatedOpenFeeSats = 500

	ensureConnectedTimeout = 30 * time.Second

	// openTimeout bounds one whole submission: connect, membership poll and
	// the funding request itself.
	openTimeout = 60 * time.Second
)

// NodeClient is the slice of the node client the channel manager needs.
type NodeClient interface {
	ListChannels(ctx context.Context) ([]lnd.Channel, error)
	GetPendingChannels(ctx context.Context) (*lnd.PendingChannels, error)
	OpenChannel(ctx context.Context, req *lnd.OpenChannelRequest) (*lnd.OpenChannelResponse, error)
	CloseChannel(ctx context.Context, fundingTxid string, outputIndex uint32, force bool) error
}

// PeerConnector establishes peer connectivity before a funding attempt.
type PeerConnector interface {
	EnsureConnected(ctx context.Context, pubkey, hostPort string, timeout time.Duration) error
}

// Manager opens and closes channels. Open submissions are single-flighted per
// peer so concurrent requests cannot double-fund.
type Manager struct {
	client NodeClient
	peers  PeerConnector
	flight *syncutil.Flight
	// minFundingByPeer overrides the global capacity floor for peers that
	// advertise a higher minimum (typically LSPs).
	minFundingByPeer map[string]int64
}

// NewManager creates a channel manager. minFundingByPeer may be nil.
func NewManager(client NodeClient, peers PeerConnector, minFundingByPeer map[string]int64) *Manager {
	normalized := make(map[string]int64, len(minFundingByPeer))
	for k, v := range minFundingByPeer {
		normalized[strings.ToLower(k)] = v
	}
	return &Manager{
		client:           client,
		peers:            peers,
		flight:           syncutil.NewFlight(),
		minFundingByPeer: normalized,
	}
}

// ChannelPoint identifies a channel by its funding output.
type ChannelPoint struct {
	Txid        string `json:"txid"`
	OutputIndex uint32 `json:"output_index"`
}

func (p ChannelPoint) String() string {
	return p.Txid + ":" + strconv.FormatUint(uint64(p.OutputIndex), 10)
}

var channelPointPattern = regexp.MustCompile(`^([0-9a-fA-F]{64}):([0-9]+)$`)

// ParseChannelPoint parses "txid:outputIndex" strictly: exactly 64 hex chars,
// a colon, and a decimal index.
func ParseChannelPoint(s string) (ChannelPoint, error) {
	m := channelPointPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ChannelPoint{}, lnd.Errorf(lnd.CodeInvalidChannelPoint,
			"channel point must look like <64-hex-txid>:<index>", "invalid channel point %q", s)
	}
	index, err := strconv.ParseUint(m[2], 10, 32)
	if err != nil {
		return ChannelPoint{}, lnd.Errorf(lnd.CodeInvalidChannelPoint,
			"channel output index out of range", "invalid channel point %q", s)
	}
	return ChannelPoint{Txid: strings.ToLower(m[1]), OutputIndex: uint32(index)}, nil
}

// OpenResult is what the billing layer renders after submitting an open.
type OpenResult struct {
	ChannelID             string `json:"channel_id"`
	Pending               bool   `json:"pending"`
	EstimatedFeeSats      int64  `json:"estimated_fee_sats"`
	ExpectedConfirmations int    `json:"expected_confirmations"`
}

// Open validates and submits a channel open to peer at hostPort. The peer is
// connected first; connectivity failures surface as PEER_NOT_READY because
// that is the actionable concept at this call site.
func (m *Manager) Open(ctx context.Context, peerPubkey string, capacitySats int64, hostPort string) (*OpenResult, error) {
	peerPubkey = strings.ToLower(strings.TrimSpace(peerPubkey))
	if !lnd.ValidPubkey(peerPubkey) {
		return nil, lnd.Errorf(lnd.CodeInvalidPubkey, "peer public key must be 66 hex chars", "invalid pubkey %q", peerPubkey)
	}
	if !lnd.ValidHostPort(hostPort) {
		return nil, lnd.Errorf(lnd.CodeInvalidHostPort, "address must be host:port", "invalid host %q", hostPort)
	}

	floor := int64(MinCapacitySats)
	if min, ok := m.minFundingByPeer[peerPubkey]; ok && min > floor {
		floor = min
	}
	if capacitySats < floor {
		return nil, lnd.Errorf(lnd.CodeMinChanSize,
			"this peer requires at least "+strconv.FormatInt(floor, 10)+" sats",
			"capacity %d below minimum %d", capacitySats, floor)
	}

	v, err := m.flight.Do("open|"+peerPubkey, func() (interface{}, error) {
		// Detached from the caller's context: a funding request aborted
		// client-side may still go through on the node, and a retry after
		// that would fund a second channel. Once a submission starts it
		// runs to completion and every waiter shares its outcome.
		openCtx, cancel := context.WithTimeout(context.Background(), openTimeout)
		defer cancel()
		return m.openLocked(openCtx, peerPubkey, capacitySats, hostPort)
	})
	if err != nil {
		return nil, err
	}
	return v.(*OpenResult), nil
}

func (m *Manager) openLocked(ctx context.Context, peerPubkey string, capacitySats int64, hostPort string) (*OpenResult, error) {
	if err := m.peers.EnsureConnected(ctx, peerPubkey, hostPort, ensureConnectedTimeout); err != nil {
		if lnd.CodeOf(err) == lnd.CodePeerNotReady {
			return nil, err
		}
		return nil, lnd.E(lnd.CodePeerNotReady, "could not reach the peer before funding", err)
	}

	resp, err := m.client.OpenChannel(ctx, &lnd.OpenChannelRequest{
		NodePubkeyString:   peerPubkey,
		LocalFundingAmount: capacitySats,
	})
	if err != nil {
		return nil, mapOpenError(err)
	}

	channelID := channelIDFromFunding(resp, peerPubkey)
	logging.Channels.WithField("peer", peerPubkey[:8]).WithField("channel", channelID).Info("channel open submitted")

	return &OpenResult{
		ChannelID:             channelID,
		Pending:               true,
		EstimatedFeeSats:      estimatedOpenFeeSats,
		ExpectedConfirmations: openConfirmations,
	}, nil
}

// channelIDFromFunding derives "txid:index" from the open response. The txid
// arrives either as a string or as byte-reversed raw bytes; if neither is
// usable yet, a per-peer pending placeholder stands in.
func channelIDFromFunding(resp *lnd.OpenChannelResponse, peerPubkey string) string {
	if resp.FundingTxidStr != "" {
		return resp.FundingTxidStr + ":" + strconv.FormatUint(uint64(resp.OutputIndex), 10)
	}
	if len(resp.FundingTxidBytes) == 32 {
		reversed := make([]byte, 32)
		for i, b := range resp.FundingTxidBytes {
			reversed[31-i] = b
		}
		return hex.EncodeToString(reversed) + ":" + strconv.FormatUint(uint64(resp.OutputIndex), 10)
	}
	return peerPubkey[:8] + ":pending"
}

// mapOpenError turns the node's open-channel failure text into the channel
// error taxonomy.
func mapOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not enough witness outputs") ||
		strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "not enough funds"):
		return lnd.E(lnd.CodeInsufficientFunds, "the node wallet needs more confirmed on-chain funds", err)
	case strings.Contains(msg, "chan size") || strings.Contains(msg, "channel too small"):
		return lnd.E(lnd.CodeMinChanSize, "the peer rejected the channel as too small", err)
	case strings.Contains(msg, "not synced") || strings.Contains(msg, "still syncing"):
		return lnd.E(lnd.CodeNotSynced, "wait for the node to finish syncing", err)
	case strings.Contains(msg, "peer is not online") || strings.Contains(msg, "peer not online") ||
		strings.Contains(msg, "not connected"):
		return lnd.E(lnd.CodePeerNotReady, "the peer dropped before funding; retry", err)
	case strings.Contains(msg, "disconnected") || strings.Contains(msg, "rejected"):
		return lnd.E(lnd.CodePeerRejected, "the peer rejected the channel", err)
	case strings.Contains(msg, "wallet locked"):
		return lnd.E(lnd.CodeWalletLocked, "unlock the node wallet", err)
	default:
		if lnd.CodeOf(err) != lnd.CodeUnknown {
			return err
		}
		return lnd.E(lnd.CodeUnknown, "channel open failed; check the node logs", err)
	}
}

// Close submits a cooperative (or forced) close for the given channel point.
func (m *Manager) Close(ctx context.Context, channelPoint string, force bool) error {
	point, err := ParseChannelPoint(channelPoint)
	if err != nil {
		return err
	}

	if err := m.client.CloseChannel(ctx, point.Txid, point.OutputIndex, force); err != nil {
		return mapCloseError(err, force)
	}
	logging.Channels.WithField("channel", point.String()).WithField("force", force).Info("channel close submitted")
	return nil
}

func mapCloseError(err error, force bool) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unable to find") || strings.Contains(msg, "channel not found") ||
		strings.Contains(msg, "no channel"):
		return lnd.E(lnd.CodeChannelNotFound, "no channel with that point exists on the node", err)
	case strings.Contains(msg, "already") && strings.Contains(msg, "clos"):
		return lnd.E(lnd.CodeAlreadyClosing, "a close for this channel is already in progress", err)
	case strings.Contains(msg, "peer is offline") || strings.Contains(msg, "not online") ||
		strings.Contains(msg, "not connected"):
		hint := "the peer is offline; a cooperative close needs both sides"
		if !force {
			hint += " (force close is available but locks funds for the timelock period)"
		}
		return lnd.E(lnd.CodePeerOffline, hint, err)
	default:
		if lnd.CodeOf(err) != lnd.CodeUnknown {
			return err
		}
		return lnd.E(lnd.CodeUnknown, "channel close failed; check the node logs", err)
	}
}

// Status is the caller-facing view of one channel.
type Status struct {
	Status       string `json:"status"` // open | pending | not_found
	PendingType  string `json:"pending_type,omitempty"`
	ChannelPoint string `json:"channel_point,omitempty"`
	RemotePubkey string `json:"remote_pubkey,omitempty"`
	CapacitySat  int64  `json:"capacity_sat"`
	LocalSat     int64  `json:"local_sat"`
	RemoteSat    int64  `json:"remote_sat"`
	Active       bool   `json:"active"`
	Private      bool   `json:"private"`
}

// GetStatus resolves a channel by channel point or by remote pubkey, scanning
// the open list and all four pending categories.
func (m *Manager) GetStatus(ctx context.Context, pointOrPubkey string) (*Status, error) {
	byPubkey := lnd.ValidPubkey(pointOrPubkey)
	var point ChannelPoint
	if !byPubkey {
		var err error
		if point, err = ParseChannelPoint(pointOrPubkey); err != nil {
			return nil, err
		}
	}
	want := strings.ToLower(strings.TrimSpace(pointOrPubkey))

	open, err := m.client.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	for _, ch := range open {
		if (byPubkey && strings.ToLower(ch.RemotePubkey) == want) ||
			(!byPubkey && ch.ChannelPoint == point.String()) {
			return &Status{
				Status:       "open",
				ChannelPoint: ch.ChannelPoint,
				RemotePubkey: ch.RemotePubkey,
				CapacitySat:  ch.Capacity,
				LocalSat:     ch.LocalBalance,
				RemoteSat:    ch.RemoteBalance,
				Active:       ch.Active,
				Private:      ch.Private,
			}, nil
		}
	}

	pending, err := m.client.GetPendingChannels(ctx)
	if err != nil {
		return nil, err
	}
	for _, category := range lnd.PendingCategories {
		for _, ch := range pending.Category(category) {
			if (byPubkey && strings.ToLower(ch.RemoteNodePub) == want) ||
				(!byPubkey && ch.ChannelPoint == point.String()) {
				return &Status{
					Status:       "pending",
					PendingType:  category,
					ChannelPoint: ch.ChannelPoint,
					RemotePubkey: ch.RemoteNodePub,
					CapacitySat:  ch.Capacity,
					LocalSat:     ch.LocalBalance,
					RemoteSat:    ch.RemoteBalance,
					Private:      ch.Private,
				}, nil
			}
		}
	}

	return &Status{Status: "not_found"}, nil
}

// Summary aggregates liquidity over open and pending channels.
type Summary struct {
	ActiveChannels   int   `json:"active_channels"`
	InactiveChannels int   `json:"inactive_channels"`
	PendingChannels  int   `json:"pending_channels"`
	LocalSat         int64 `json:"local_sat"`
	RemoteSat        int64 `json:"remote_sat"`
	CapacitySat      int64 `json:"capacity_sat"`
}

// GetSummary computes the channel liquidity totals the dashboard shows.
func (m *Manager) GetSummary(ctx context.Context) (*Summary, error) {
	open, err := m.client.ListChannels(ctx)
	if err != nil {
		return nil, err
	}

	s := &Summary{}
	for _, ch := range open {
		if ch.Active {
			s.ActiveChannels++
		} else {
			s.InactiveChannels++
		}
		s.LocalSat += ch.LocalBalance
		s.RemoteSat += ch.RemoteBalance
		s.CapacitySat += ch.Capacity
	}

	pending, err := m.client.GetPendingChannels(ctx)
	if err != nil {
		// Open-channel figures are still useful on their own.
		logging.Channels.WithError(err).Debug("pending channels unavailable for summary")
		return s, nil
	}
	for _, category := range lnd.PendingCategories {
		s.PendingChannels += len(pending.Category(category))
	}
	return s, nil
}
