package api

import (
	"net/http/httptest"
	"testing"
)

func TestExtractIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"forwarded chain uses first hop", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "1.2.3.4"},
		{"single forwarded entry", "10.0.0.1:80", map[string]string{"X-Forwarded-For": " 1.2.3.4 "}, "1.2.3.4"},
		{"real-ip fallback", "10.0.0.1:80", map[string]string{"X-Real-IP": "5.6.7.8"}, "5.6.7.8"},
		{"remote addr strips port", "9.9.9.9:54321", nil, "9.9.9.9"},
		{"ipv6 remote addr", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"portless remote addr kept", "9.9.9.9", nil, "9.9.9.9"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/node/readiness", nil)
			r.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := extractIP(r); got != tc.want {
				t.Errorf("extractIP = %q, want %q", got, tc.want)
			}
		})
	}
}
