package lnd

// Wire types for the node's REST surface. 64-bit numeric fields arrive as
// JSON strings (the REST gateway encodes int64/uint64 that way), hence the
// ",string" tags; 32-bit fields are plain numbers.

// NodeInfo is the GET /v1/getinfo response.
type NodeInfo struct {
	IdentityPubkey     string   `json:"identity_pubkey"`
	Alias              string   `json:"alias"`
	Version            string   `json:"version"`
	SyncedToChain      bool     `json:"synced_to_chain"`
	SyncedToGraph      bool     `json:"synced_to_graph"`
	BlockHeight        uint32   `json:"block_height"`
	NumActiveChannels  uint32   `json:"num_active_channels"`
	NumPendingChannels uint32   `json:"num_pending_channels"`
	NumPeers           uint32   `json:"num_peers"`
	URIs               []string `json:"uris"`
}

// WalletBalance is the GET /v1/balance/blockchain response.
type WalletBalance struct {
	TotalBalance       int64 `json:"total_balance,string"`
	ConfirmedBalance   int64 `json:"confirmed_balance,string"`
	UnconfirmedBalance int64 `json:"unconfirmed_balance,string"`
}

// Channel is one entry of the GET /v1/channels response.
type Channel struct {
	Active        bool   `json:"active"`
	RemotePubkey  string `json:"remote_pubkey"`
	ChannelPoint  string `json:"channel_point"`
	ChanID        uint64 `json:"chan_id,string"`
	Capacity      int64  `json:"capacity,string"`
	LocalBalance  int64  `json:"local_balance,string"`
	RemoteBalance int64  `json:"remote_balance,string"`
	Private       bool   `json:"private"`
}

type listChannelsResponse struct {
	Channels []Channel `json:"channels"`
}

// PendingChannel is the common channel block inside the pending categories.
type PendingChannel struct {
	RemoteNodePub string `json:"remote_node_pub"`
	ChannelPoint  string `json:"channel_point"`
	Capacity      int64  `json:"capacity,string"`
	LocalBalance  int64  `json:"local_balance,string"`
	RemoteBalance int64  `json:"remote_balance,string"`
	Private       bool   `json:"private"`
}

type PendingChannelWrapper struct {
	Channel PendingChannel `json:"channel"`
}

// PendingChannels is the GET /v1/channels/pending response.
type PendingChannels struct {
	PendingOpen         []PendingChannelWrapper `json:"pending_open_channels"`
	PendingClosing      []PendingChannelWrapper `json:"pending_closing_channels"`
	PendingForceClosing []PendingChannelWrapper `json:"pending_force_closing_channels"`
	WaitingClose        []PendingChannelWrapper `json:"waiting_close_channels"`
}

// Category returns the channels of one pending category by name.
func (p *PendingChannels) Category(name string) []PendingChannel {
	var wrapped []PendingChannelWrapper
	switch name {
	case "opening":
		wrapped = p.PendingOpen
	case "closing":
		wrapped = p.PendingClosing
	case "force_closing":
		wrapped = p.PendingForceClosing
	case "waiting_close":
		wrapped = p.WaitingClose
	}
	out := make([]PendingChannel, 0, len(wrapped))
	for _, w := range wrapped {
		out = append(out, w.Channel)
	}
	return out
}

// PendingCategories lists the four pending-channel categories in the order
// they are scanned.
var PendingCategories = []string{"opening", "closing", "force_closing", "waiting_close"}

// OpenChannelRequest is the POST /v1/channels body.
type OpenChannelRequest struct {
	NodePubkeyString   string `json:"node_pubkey_string"`
	LocalFundingAmount int64  `json:"local_funding_amount,string"`
	Private            bool   `json:"private,omitempty"`
	SatPerVbyte        int64  `json:"sat_per_vbyte,string,omitempty"`
}

// OpenChannelResponse is the POST /v1/channels response. The funding txid
// arrives either as a plain string or as byte-reversed base64, depending on
// the node version.
type OpenChannelResponse struct {
	FundingTxidBytes []byte `json:"funding_txid_bytes"`
	FundingTxidStr   string `json:"funding_txid_str"`
	OutputIndex      uint32 `json:"output_index"`
}

// GraphNodeAddress is one advertised address of a graph node.
type GraphNodeAddress struct {
	Network string `json:"network"`
	Addr    string `json:"addr"`
}

// GraphNode is one node of the GET /v1/graph response.
type GraphNode struct {
	PubKey     string             `json:"pub_key"`
	Alias      string             `json:"alias"`
	Addresses  []GraphNodeAddress `json:"addresses"`
	LastUpdate uint32             `json:"last_update"`
}

// GraphEdge is one edge of the GET /v1/graph response.
type GraphEdge struct {
	ChannelID string `json:"channel_id"`
	Node1Pub  string `json:"node1_pub"`
	Node2Pub  string `json:"node2_pub"`
	Capacity  int64  `json:"capacity,string"`
}

// Graph is the GET /v1/graph response.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphNodeInfo is the GET /v1/graph/node/{pubkey} response.
type GraphNodeInfo struct {
	Node          GraphNode `json:"node"`
	NumChannels   uint32    `json:"num_channels"`
	TotalCapacity int64     `json:"total_capacity,string"`
}

// Peer is one entry of the GET /v1/peers response.
type Peer struct {
	PubKey  string `json:"pub_key"`
	Address string `json:"address"`
	Inbound bool   `json:"inbound"`
}

type listPeersResponse struct {
	Peers []Peer `json:"peers"`
}

type connectPeerRequest struct {
	Addr    connectPeerAddr `json:"addr"`
	Perm    bool            `json:"perm"`
	Timeout uint64          `json:"timeout,string,omitempty"`
}

type connectPeerAddr struct {
	Pubkey string `json:"pubkey"`
	Host   string `json:"host"`
}

// AddInvoiceRequest is the POST /v1/invoices body.
type AddInvoiceRequest struct {
	Memo   string `json:"memo,omitempty"`
	Value  int64  `json:"value,string"`
	Expiry int64  `json:"expiry,string,omitempty"`
}

// AddInvoiceResponse is the POST /v1/invoices response. RHash is raw bytes
// (base64 on the wire).
type AddInvoiceResponse struct {
	RHash          []byte `json:"r_hash"`
	PaymentRequest string `json:"payment_request"`
	AddIndex       uint64 `json:"add_index,string"`
}

// Invoice states as reported by GET /v1/invoice/{hash}.
const (
	InvoiceStateOpen     = "OPEN"
	InvoiceStateSettled  = "SETTLED"
	InvoiceStateCanceled = "CANCELED"
	InvoiceStateAccepted = "ACCEPTED"
	// InvoiceStateUnknown is not a node state: it marks a lookup that itself
	// failed, so the real state is unknowable right now.
	InvoiceStateUnknown = "UNKNOWN"
)

// InvoiceDetails is the GET /v1/invoice/{hash} response.
type InvoiceDetails struct {
	Memo           string `json:"memo"`
	RHash          []byte `json:"r_hash"`
	Value          int64  `json:"value,string"`
	Settled        bool   `json:"settled"`
	CreationDate   int64  `json:"creation_date,string"`
	SettleDate     int64  `json:"settle_date,string"`
	PaymentRequest string `json:"payment_request"`
	State          string `json:"state"`
}
