package lnd

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

// A node identity key is a 33-byte compressed secp256k1 point, hex encoded:
// 66 hex chars starting 02 or 03.
var pubkeyPattern = regexp.MustCompile(`^0[23][0-9a-f]{64}$`)

// ValidPubkey reports whether s is a well-formed compressed public key.
func ValidPubkey(s string) bool {
	return pubkeyPattern.MatchString(strings.ToLower(s))
}

// ValidHostPort reports whether s is a host:port with a numeric port.
// Onion addresses are accepted.
func ValidHostPort(s string) bool {
	host, port, err := net.SplitHostPort(s)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n > 0 && n <= 65535
}

// IsOnion reports whether addr points into the tor network.
func IsOnion(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return strings.HasSuffix(host, ".onion")
}
