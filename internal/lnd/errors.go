package lnd

import (
	"errors"
	"fmt"
)

// Code is a stable, caller-facing error code. Transport codes are assigned
// once at the REST client boundary; domain codes are assigned by the managers
// when they remap upstream failures into the concept actionable at their call
// site.
type Code string

const (
	// Connectivity.
	CodeConnectTimeout           Code = "CONNECT_TIMEOUT"
	CodeConnectRefused           Code = "CONNECT_REFUSED"
	CodeConnectFailed            Code = "CONNECT_FAILED"
	CodeConnectCooldown          Code = "CONNECT_COOLDOWN"
	CodeNotConnectedAfterConnect Code = "NOT_CONNECTED_AFTER_CONNECT"

	// Credentials and configuration.
	CodeNodeNotConfigured     Code = "NODE_NOT_CONFIGURED"
	CodeMacaroonMissing       Code = "NODE_MACAROON_MISSING"
	CodeMacaroonInvalidFormat Code = "NODE_MACAROON_INVALID_FORMAT"
	CodeNodeKeyMismatch       Code = "NODE_KEY_MISMATCH"

	// Transport and TLS.
	CodeTLSRequired     Code = "TLS_REQUIRED"
	CodeTLSUntrusted    Code = "TLS_UNTRUSTED"
	CodeConnectionReset Code = "CONNECTION_RESET"
	CodeRequestTimeout  Code = "REQUEST_TIMEOUT"
	CodeHTTPError       Code = "HTTP_ERROR"
	CodeBadJSON         Code = "BAD_JSON"

	// Domain.
	CodeInvalidPubkey       Code = "INVALID_PUBKEY"
	CodeInvalidHostPort     Code = "INVALID_HOSTPORT"
	CodeInvalidChannelPoint Code = "INVALID_CHANNEL_POINT"
	CodePeerNotReady        Code = "PEER_NOT_READY"
	CodePeerOffline         Code = "PEER_OFFLINE"
	CodePeerRejected        Code = "PEER_REJECTED"
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeMinChanSize         Code = "MIN_CHAN_SIZE"
	CodeNotSynced           Code = "NOT_SYNCED"
	CodeWalletLocked        Code = "WALLET_LOCKED"
	CodeChannelNotFound     Code = "CHANNEL_NOT_FOUND"
	CodeAlreadyClosing      Code = "ALREADY_CLOSING"
	CodeUnknown             Code = "UNKNOWN"
)

// Error carries a stable code plus a short human hint so the caller layer can
// render actionable guidance without re-deriving it from raw upstream text.
type Error struct {
	Code Code
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Hint)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a coded error wrapping err.
func E(code Code, hint string, err error) *Error {
	return &Error{Code: code, Hint: hint, Err: err}
}

// Errorf builds a coded error from a format string.
func Errorf(code Code, hint string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Hint: hint, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the code from err, or CodeUnknown if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HintOf extracts the human hint from err, if any.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}
