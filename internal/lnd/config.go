package lnd

import (
	"context"
	"encoding/hex"
	"net/url"
	"strings"
)

// RuntimeConfig is the connection material for the node's REST API. It is
// fetched from the ConfigSource at the start of every logical operation and
// never held longer than that, because the operator can change it between
// calls.
type RuntimeConfig struct {
	RESTURL     string // https://host:8080
	Network     string // mainnet, testnet, regtest
	MacaroonHex string // hex-encoded admin or invoice macaroon
	TLSCertPEM  string // pinned trust anchor; empty means fail closed
}

// ConfigSource yields the current runtime config. The encrypted credential
// store behind it is an external collaborator; this core only validates the
// shape of what it returns.
type ConfigSource interface {
	NodeConfig(ctx context.Context) (*RuntimeConfig, error)
}

// StaticSource is a ConfigSource that always returns the same config.
// Used by cmd/server for env-provided credentials and by tests.
type StaticSource struct {
	Config *RuntimeConfig
}

func (s *StaticSource) NodeConfig(ctx context.Context) (*RuntimeConfig, error) {
	if s.Config == nil {
		return nil, E(CodeNodeNotConfigured, "connect a Lightning node first", nil)
	}
	return s.Config, nil
}

// Validate checks the shape of the config without touching the network.
// Deep validation (is the macaroon accepted, does the key match) only happens
// on a real call.
func (c *RuntimeConfig) Validate() error {
	if c == nil || strings.TrimSpace(c.RESTURL) == "" {
		return E(CodeNodeNotConfigured, "set the node REST URL", nil)
	}

	u, err := url.Parse(c.RESTURL)
	if err != nil || u.Host == "" {
		return Errorf(CodeNodeNotConfigured, "check the node REST URL", "invalid REST URL %q", c.RESTURL)
	}
	if u.Scheme != "https" {
		return Errorf(CodeTLSRequired, "the node REST API is only served over https", "unsupported scheme %q", u.Scheme)
	}

	mac := strings.TrimSpace(c.MacaroonHex)
	if mac == "" {
		return E(CodeMacaroonMissing, "upload an invoice or admin macaroon", nil)
	}
	if len(mac)%2 != 0 {
		return E(CodeMacaroonInvalidFormat, "macaroon must be hex encoded", nil)
	}
	if _, err := hex.DecodeString(mac); err != nil {
		return Errorf(CodeMacaroonInvalidFormat, "macaroon must be hex encoded", "decode macaroon: %v", err)
	}

	if cert := strings.TrimSpace(c.TLSCertPEM); cert != "" {
		if !strings.Contains(cert, "-----BEGIN CERTIFICATE-----") {
			return E(CodeTLSUntrusted, "the TLS certificate must be PEM encoded", nil)
		}
	}

	return nil
}
