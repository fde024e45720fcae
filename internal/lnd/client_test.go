package lnd

import (
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient starts a TLS server running handler and returns a client
// pinned to that server's certificate, standing in for the node's REST
// surface.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	ts := httptest.NewTLSServer(handler)
	t.Cleanup(ts.Close)

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: ts.Certificate().Raw,
	})

	src := &StaticSource{Config: &RuntimeConfig{
		RESTURL:     ts.URL,
		Network:     "regtest",
		MacaroonHex: "0201036c6e64",
		TLSCertPEM:  string(certPEM),
	}}
	return NewClient(src), ts
}

func TestClient_GetInfoSendsMacaroon(t *testing.T) {
	var gotMacaroon atomic.Value
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/getinfo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotMacaroon.Store(r.Header.Get("Grpc-Metadata-macaroon"))
		w.Write([]byte(`{
			"identity_pubkey": "02abc",
			"synced_to_chain": true,
			"block_height": 800000,
			"num_active_channels": 3
		}`))
	}))

	info, err := c.GetInfo(context.Background())
	if err != nil {
		t.Fatalf("getinfo failed: %v", err)
	}
	if gotMacaroon.Load().(string) != "0201036c6e64" {
		t.Error("macaroon header not sent")
	}
	if !info.SyncedToChain || info.BlockHeight != 800000 || info.NumActiveChannels != 3 {
		t.Errorf("bad decode: %+v", info)
	}
}

func TestClient_DecodesStringInt64(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_balance":"150000","confirmed_balance":"140000","unconfirmed_balance":"10000"}`))
	}))

	bal, err := c.GetWalletBalance(context.Background())
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if bal.TotalBalance != 150000 || bal.ConfirmedBalance != 140000 {
		t.Errorf("bad decode: %+v", bal)
	}
}

func TestClient_FailsClosedWithoutTrustAnchor(t *testing.T) {
	var calls int32
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer ts.Close()

	src := &StaticSource{Config: &RuntimeConfig{
		RESTURL:     ts.URL,
		MacaroonHex: "0201",
	}}
	c := NewClient(src)

	_, err := c.GetInfo(context.Background())
	if CodeOf(err) != CodeTLSUntrusted {
		t.Fatalf("expected TLS_UNTRUSTED, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("expected no request without a trust anchor")
	}
}

func TestClient_RejectsPlainHTTP(t *testing.T) {
	src := &StaticSource{Config: &RuntimeConfig{
		RESTURL:     "http://127.0.0.1:8080",
		MacaroonHex: "0201",
		TLSCertPEM:  "-----BEGIN CERTIFICATE-----\nx\n-----END CERTIFICATE-----",
	}}
	c := NewClient(src)

	_, err := c.GetInfo(context.Background())
	if CodeOf(err) != CodeTLSRequired {
		t.Fatalf("expected TLS_REQUIRED, got %v", err)
	}
}

func TestClient_MacaroonValidation(t *testing.T) {
	cases := []struct {
		name     string
		macaroon string
		want     Code
	}{
		{"missing", "", CodeMacaroonMissing},
		{"odd length", "abc", CodeMacaroonInvalidFormat},
		{"not hex", "zzzz", CodeMacaroonInvalidFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &StaticSource{Config: &RuntimeConfig{
				RESTURL:     "https://127.0.0.1:8080",
				MacaroonHex: tc.macaroon,
			}}
			_, err := NewClient(src).GetInfo(context.Background())
			if CodeOf(err) != tc.want {
				t.Errorf("got %v, want %s", err, tc.want)
			}
		})
	}
}

func TestClient_UntrustedCertClassified(t *testing.T) {
	// Pin the cert of one server but call another: verification must fail
	// and classify as TLS_UNTRUSTED.
	other := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer other.Close()
	otherPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: other.Certificate().Raw})

	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	src := &StaticSource{Config: &RuntimeConfig{
		RESTURL:     ts.URL,
		MacaroonHex: "0201",
		TLSCertPEM:  string(otherPEM),
	}}

	_, err := NewClient(src).GetInfo(context.Background())
	if CodeOf(err) != CodeTLSUntrusted {
		t.Fatalf("expected TLS_UNTRUSTED, got %v", err)
	}
}

func TestClient_TimeoutIsDistinct(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	c.timeout = 50 * time.Millisecond

	_, err := c.GetInfo(context.Background())
	if CodeOf(err) != CodeRequestTimeout {
		t.Fatalf("expected REQUEST_TIMEOUT, got %v", err)
	}
}

func TestClient_WalletLockedFromStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"wallet locked, unlock it to enable full RPC access"}`))
	}))

	_, err := c.GetInfo(context.Background())
	if CodeOf(err) != CodeWalletLocked {
		t.Fatalf("expected WALLET_LOCKED, got %v", err)
	}
}

func TestClient_UnauthorizedMapsToMacaroon(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"permission denied"}`))
	}))

	_, err := c.GetInfo(context.Background())
	if CodeOf(err) != CodeMacaroonInvalidFormat {
		t.Fatalf("expected macaroon error, got %v", err)
	}
}

func TestClient_NonJSONResponse(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))

	_, err := c.GetInfo(context.Background())
	if CodeOf(err) != CodeBadJSON {
		t.Fatalf("expected BAD_JSON, got %v", err)
	}
	if HintOf(err) == "" {
		t.Error("expected a hint on JSON parse failure")
	}
}

func TestClient_CloseChannelPath(t *testing.T) {
	var gotPath, gotQuery atomic.Value
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotQuery.Store(r.URL.RawQuery)
		w.Write([]byte(`{}`))
	}))

	txid := "aa11bb22cc33dd44ee55ff6600112233445566778899aabbccddeeff00112233"
	if err := c.CloseChannel(context.Background(), txid, 1, true); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if gotPath.Load().(string) != "/v1/channels/"+txid+"/1" {
		t.Errorf("bad path %s", gotPath.Load())
	}
	if gotQuery.Load().(string) != "force=true" {
		t.Errorf("expected force=true, got %s", gotQuery.Load())
	}
}

func TestValidPubkey(t *testing.T) {
	valid := "02" + "11223344556677889900aabbccddeeff11223344556677889900aabbccddeeff"
	if !ValidPubkey(valid) {
		t.Error("expected valid compressed key to pass")
	}
	for _, s := range []string{
		"",
		"02abc",
		"04" + "11223344556677889900aabbccddeeff11223344556677889900aabbccddeeff", // uncompressed prefix
		valid + "00",
	} {
		if ValidPubkey(s) {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}

func TestValidHostPort(t *testing.T) {
	for _, s := range []string{"1.2.3.4:9735", "example.com:9735", "abcdef.onion:9735"} {
		if !ValidHostPort(s) {
			t.Errorf("expected %q valid", s)
		}
	}
	for _, s := range []string{"", "example.com", "host:notaport", ":9735", "host:99999"} {
		if ValidHostPort(s) {
			t.Errorf("expected %q invalid", s)
		}
	}
}

func TestIsOnion(t *testing.T) {
	if !IsOnion("abcdefghijklmnop.onion:9735") {
		t.Error("expected onion address detected")
	}
	if IsOnion("example.com:9735") {
		t.Error("expected clearnet address not flagged")
	}
}
