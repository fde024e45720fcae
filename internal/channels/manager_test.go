package channels

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"lnbridge/internal/lnd"
)

const (
	peerKey  = "02" + "aa11223344556677889900aabbccddeeff11223344556677889900aabbccddee"
	otherKey = "03" + "bb11223344556677889900aabbccddeeff11223344556677889900aabbccddee"
	testTxid = "aa11bb22cc33dd44ee55ff6600112233445566778899aabbccddeeff00112233"
)

type fakeNodeClient struct {
	channels   []lnd.Channel
	pending    *lnd.PendingChannels
	openResp   *lnd.OpenChannelResponse
	openErr    error
	closeErr   error
	openCalls  int32
	closeCalls int32
	openBlock  chan struct{} // when set, OpenChannel waits on it
}

func (f *fakeNodeClient) ListChannels(ctx context.Context) ([]lnd.Channel, error) {
	return f.channels, nil
}

func (f *fakeNodeClient) GetPendingChannels(ctx context.Context) (*lnd.PendingChannels, error) {
	if f.pending == nil {
		return &lnd.PendingChannels{}, nil
	}
	return f.pending, nil
}

func (f *fakeNodeClient) OpenChannel(ctx context.Context, req *lnd.OpenChannelRequest) (*lnd.OpenChannelResponse, error) {
	atomic.AddInt32(&f.openCalls, 1)
	if f.openBlock != nil {
		select {
		case <-f.openBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.openResp != nil {
		return f.openResp, nil
	}
	return &lnd.OpenChannelResponse{FundingTxidStr: testTxid, OutputIndex: 1}, nil
}

func (f *fakeNodeClient) CloseChannel(ctx context.Context, fundingTxid string, outputIndex uint32, force bool) error {
	atomic.AddInt32(&f.closeCalls, 1)
	return f.closeErr
}

type fakeConnector struct {
	err   error
	calls int32
}

func (f *fakeConnector) EnsureConnected(ctx context.Context, pubkey, hostPort string, timeout time.Duration) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func TestParseChannelPoint(t *testing.T) {
	point, err := ParseChannelPoint(testTxid + ":7")
	if err != nil {
		t.Fatalf("expected valid point, got %v", err)
	}
	if point.Txid != testTxid || point.OutputIndex != 7 {
		t.Errorf("bad parse: %+v", point)
	}
	if point.String() != testTxid+":7" {
		t.Errorf("round trip mismatch: %s", point.String())
	}

	invalid := []string{
		"",
		testTxid,                     // no index
		testTxid + ":",               // empty index
		testTxid + ":x",              // non-numeric index
		testTxid[:63] + ":0",         // short txid
		testTxid + "ff:0",            // long txid
		"zz" + testTxid[2:] + ":0",   // non-hex txid
		testTxid + ":1:2",            // trailing junk
		testTxid + ":99999999999999", // index overflow
	}
	for _, s := range invalid {
		if _, err := ParseChannelPoint(s); lnd.CodeOf(err) != lnd.CodeInvalidChannelPoint {
			t.Errorf("expected INVALID_CHANNEL_POINT for %q, got %v", s, err)
		}
	}
}

func TestOpen_BelowFloorMakesNoUpstreamCalls(t *testing.T) {
	client := &fakeNodeClient{}
	connector := &fakeConnector{}
	m := NewManager(client, connector, nil)

	_, err := m.Open(context.Background(), peerKey, 10_000, "1.1.1.1:9735")
	if lnd.CodeOf(err) != lnd.CodeMinChanSize {
		t.Fatalf("expected MIN_CHAN_SIZE, got %v", err)
	}
	if atomic.LoadInt32(&client.openCalls) != 0 || atomic.LoadInt32(&connector.calls) != 0 {
		t.Error("expected zero upstream calls for a local validation failure")
	}
}

func TestOpen_PerPeerMinimumOverridesFloor(t *testing.T) {
	m := NewManager(&fakeNodeClient{}, &fakeConnector{}, map[string]int64{peerKey: 1_000_000})

	_, err := m.Open(context.Background(), peerKey, 500_000, "1.1.1.1:9735")
	if lnd.CodeOf(err) != lnd.CodeMinChanSize {
		t.Fatalf("expected MIN_CHAN_SIZE from policy table, got %v", err)
	}
	if !strings.Contains(lnd.HintOf(err), "1000000") {
		t.Errorf("expected hint to carry the peer minimum, got %q", lnd.HintOf(err))
	}
}

func TestOpen_Success(t *testing.T) {
	client := &fakeNodeClient{}
	m := NewManager(client, &fakeConnector{}, nil)

	res, err := m.Open(context.Background(), peerKey, 100_000, "1.1.1.1:9735")
	if err != nil {
		t.Fatal(err)
	}
	if res.ChannelID != testTxid+":1" {
		t.Errorf("bad channel id %s", res.ChannelID)
	}
	if !res.Pending || res.ExpectedConfirmations != openConfirmations || res.EstimatedFeeSats <= 0 {
		t.Errorf("bad result %+v", res)
	}
}

func TestOpen_ReversedTxidBytes(t *testing.T) {
	raw, _ := hex.DecodeString(testTxid)
	reversed := make([]byte, 32)
	for i, b := range raw {
		reversed[31-i] = b
	}

	client := &fakeNodeClient{openResp: &lnd.OpenChannelResponse{FundingTxidBytes: reversed, OutputIndex: 0}}
	m := NewManager(client, &fakeConnector{}, nil)

	res, err := m.Open(context.Background(), peerKey, 100_000, "1.1.1.1:9735")
	if err != nil {
		t.Fatal(err)
	}
	if res.ChannelID != testTxid+":0" {
		t.Errorf("expected byte-reversed txid decoded, got %s", res.ChannelID)
	}
}

func TestOpen_PlaceholderWhenTxidUnavailable(t *testing.T) {
	client := &fakeNodeClient{openResp: &lnd.OpenChannelResponse{}}
	m := NewManager(client, &fakeConnector{}, nil)

	res, err := m.Open(context.Background(), peerKey, 100_000, "1.1.1.1:9735")
	if err != nil {
		t.Fatal(err)
	}
	if res.ChannelID != peerKey[:8]+":pending" {
		t.Errorf("expected pending placeholder, got %s", res.ChannelID)
	}
}

func TestOpen_SharedSubmissionSurvivesCallerCancel(t *testing.T) {
	release := make(chan struct{})
	client := &fakeNodeClient{openBlock: release}
	m := NewManager(client, &fakeConnector{}, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	results := make(chan error, 2)
	go func() {
		_, err := m.Open(ctxA, peerKey, 100_000, "1.1.1.1:9735")
		results <- err
	}()
	time.Sleep(50 * time.Millisecond) // first submission now blocked upstream
	go func() {
		_, err := m.Open(context.Background(), peerKey, 100_000, "1.1.1.1:9735")
		results <- err
	}()
	time.Sleep(50 * time.Millisecond) // second caller joined the same submission

	// The initiating caller disconnecting must not abort the funding request
	// the other waiter shares.
	cancelA()
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Errorf("open %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&client.openCalls); got != 1 {
		t.Errorf("openCalls = %d, want 1 shared submission", got)
	}
}

func TestOpen_ConnectivityFailureBecomesPeerNotReady(t *testing.T) {
	connector := &fakeConnector{err: lnd.E(lnd.CodeConnectRefused, "nothing listening", nil)}
	client := &fakeNodeClient{}
	m := NewManager(client, connector, nil)

	_, err := m.Open(context.Background(), peerKey, 100_000, "1.1.1.1:9735")
	if lnd.CodeOf(err) != lnd.CodePeerNotReady {
		t.Fatalf("expected PEER_NOT_READY, got %v", err)
	}
	if atomic.LoadInt32(&client.openCalls) != 0 {
		t.Error("expected no open submission when the peer is unreachable")
	}
}

func TestOpen_ErrorMapping(t *testing.T) {
	cases := []struct {
		msg  string
		want lnd.Code
	}{
		{"not enough witness outputs to create funding transaction", lnd.CodeInsufficientFunds},
		{"chan size of 0.0001 BTC is below min chan size", lnd.CodeMinChanSize},
		{"server is still in the process of starting, not synced", lnd.CodeNotSynced},
		{"peer is not online", lnd.CodePeerNotReady},
		{"funding request rejected by peer", lnd.CodePeerRejected},
		{"wallet locked, unlock it", lnd.CodeWalletLocked},
		{"something else entirely", lnd.CodeUnknown},
	}
	for _, tc := range cases {
		client := &fakeNodeClient{openErr: errors.New(tc.msg)}
		m := NewManager(client, &fakeConnector{}, nil)
		_, err := m.Open(context.Background(), peerKey, 100_000, "1.1.1.1:9735")
		if lnd.CodeOf(err) != tc.want {
			t.Errorf("open error %q mapped to %v, want %s", tc.msg, err, tc.want)
		}
	}
}

func TestClose_InvalidPointRejectedLocally(t *testing.T) {
	client := &fakeNodeClient{}
	m := NewManager(client, &fakeConnector{}, nil)

	err := m.Close(context.Background(), "not-a-point", false)
	if lnd.CodeOf(err) != lnd.CodeInvalidChannelPoint {
		t.Fatalf("expected INVALID_CHANNEL_POINT, got %v", err)
	}
	if atomic.LoadInt32(&client.closeCalls) != 0 {
		t.Error("expected no upstream call for invalid point")
	}
}

func TestClose_ErrorMapping(t *testing.T) {
	cases := []struct {
		msg  string
		want lnd.Code
	}{
		{"unable to find channel", lnd.CodeChannelNotFound},
		{"channel is already closing", lnd.CodeAlreadyClosing},
		{"peer is offline", lnd.CodePeerOffline},
		{"mystery failure", lnd.CodeUnknown},
	}
	for _, tc := range cases {
		client := &fakeNodeClient{closeErr: errors.New(tc.msg)}
		m := NewManager(client, &fakeConnector{}, nil)
		err := m.Close(context.Background(), testTxid+":0", false)
		if lnd.CodeOf(err) != tc.want {
			t.Errorf("close error %q mapped to %v, want %s", tc.msg, err, tc.want)
		}
	}
}

func TestGetStatus_OpenByPointAndPubkey(t *testing.T) {
	client := &fakeNodeClient{channels: []lnd.Channel{{
		Active:        true,
		RemotePubkey:  peerKey,
		ChannelPoint:  testTxid + ":0",
		Capacity:      200_000,
		LocalBalance:  120_000,
		RemoteBalance: 70_000,
	}}}
	m := NewManager(client, &fakeConnector{}, nil)

	for _, query := range []string{testTxid + ":0", peerKey} {
		st, err := m.GetStatus(context.Background(), query)
		if err != nil {
			t.Fatalf("status(%s): %v", query, err)
		}
		if st.Status != "open" || st.LocalSat != 120_000 || st.RemoteSat != 70_000 {
			t.Errorf("status(%s) = %+v", query, st)
		}
	}
}

func TestGetStatus_PendingCategories(t *testing.T) {
	pending := &lnd.PendingChannels{
		PendingForceClosing: []lnd.PendingChannelWrapper{
			{Channel: lnd.PendingChannel{RemoteNodePub: peerKey, ChannelPoint: testTxid + ":2", Capacity: 50_000}},
		},
	}

	client := &fakeNodeClient{pending: pending}
	m := NewManager(client, &fakeConnector{}, nil)

	st, err := m.GetStatus(context.Background(), peerKey)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != "pending" || st.PendingType != "force_closing" {
		t.Errorf("expected pending/force_closing, got %+v", st)
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	m := NewManager(&fakeNodeClient{}, &fakeConnector{}, nil)

	st, err := m.GetStatus(context.Background(), otherKey)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != "not_found" {
		t.Errorf("expected not_found, got %+v", st)
	}
}

func TestGetSummary(t *testing.T) {
	client := &fakeNodeClient{channels: []lnd.Channel{
		{Active: true, Capacity: 100, LocalBalance: 60, RemoteBalance: 30},
		{Active: false, Capacity: 50, LocalBalance: 10, RemoteBalance: 35},
	}}
	m := NewManager(client, &fakeConnector{}, nil)

	s, err := m.GetSummary(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.ActiveChannels != 1 || s.InactiveChannels != 1 || s.CapacitySat != 150 || s.LocalSat != 70 || s.RemoteSat != 65 {
		t.Errorf("bad summary %+v", s)
	}
}
