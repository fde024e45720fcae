package lnd

import (
	"context"

	"lnbridge/internal/logging"
)

// Readiness is the receive-readiness summary the billing layer renders: can
// this node take a Lightning payment right now, and if not, what should the
// operator do about it.
type Readiness struct {
	Configured     bool     `json:"configured"`
	NodeReachable  bool     `json:"node_reachable"`
	Synced         bool     `json:"synced"`
	WalletSat      int64    `json:"wallet_sat"`
	ActiveChannels int      `json:"active_channels"`
	InboundSat     int64    `json:"inbound_sat"`
	ReceiveReady   bool     `json:"receive_ready"`
	Hints          []string `json:"hints"`
}

// GetReadiness probes the node and composes a readiness report. It never
// returns an error: every failure becomes a hint, because the report is
// rendered to the operator either way.
func (c *Client) GetReadiness(ctx context.Context) *Readiness {
	r := &Readiness{}

	if !c.Configured(ctx) {
		r.Hints = append(r.Hints, "connect a Lightning node to accept payments over Lightning")
		return r
	}
	r.Configured = true

	info, err := c.GetInfo(ctx)
	if err != nil {
		logging.LND.WithError(err).Debug("readiness: getinfo failed")
		if hint := HintOf(err); hint != "" {
			r.Hints = append(r.Hints, hint)
		} else {
			r.Hints = append(r.Hints, "node unreachable")
		}
		return r
	}
	r.NodeReachable = true
	r.Synced = info.SyncedToChain

	if !info.SyncedToChain {
		r.Hints = append(r.Hints, "node is still syncing to chain; invoices may misreport until it catches up")
	}

	if bal, err := c.GetWalletBalance(ctx); err == nil {
		r.WalletSat = bal.TotalBalance
	} else if hint := HintOf(err); hint != "" {
		r.Hints = append(r.Hints, hint)
	}

	channels, err := c.ListChannels(ctx)
	if err != nil {
		if hint := HintOf(err); hint != "" {
			r.Hints = append(r.Hints, hint)
		}
		return r
	}
	for _, ch := range channels {
		if !ch.Active {
			continue
		}
		r.ActiveChannels++
		r.InboundSat += ch.RemoteBalance
	}

	if r.ActiveChannels == 0 {
		r.Hints = append(r.Hints, "no active channels; open a channel to a well-connected peer")
	} else if r.InboundSat == 0 {
		r.Hints = append(r.Hints, "no inbound liquidity; spend from a channel or buy inbound capacity")
	}

	r.ReceiveReady = r.NodeReachable && r.Synced && r.ActiveChannels > 0 && r.InboundSat > 0
	return r
}
