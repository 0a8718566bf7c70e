package util

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10", " "})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name    string
		remote  string
		xff     []string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{
			name:   "untrusted peer ignores headers",
			remote: "198.51.100.10:4431",
			xff:    []string{"203.0.113.5"},
			realIP: "203.0.113.6",
			want:   "198.51.100.10",
		},
		{
			name:    "trusted peer uses forwarded client",
			remote:  "10.1.2.3:4431",
			xff:     []string{"203.0.113.5"},
			trusted: trusted,
			want:    "203.0.113.5",
		},
		{
			name:    "repeated headers are one chain",
			remote:  "192.168.1.10:80",
			xff:     []string{"203.0.113.9", "203.0.113.5, 10.0.0.7"},
			trusted: trusted,
			want:    "203.0.113.5",
		},
		{
			name:    "x-real-ip when chain is garbage",
			remote:  "10.1.2.3:4431",
			xff:     []string{"not-an-ip"},
			realIP:  "203.0.113.7",
			trusted: trusted,
			want:    "203.0.113.7",
		},
		{
			name:    "fully trusted chain returns first hop",
			remote:  "10.1.2.3:4431",
			xff:     []string{"10.0.0.5, 10.0.0.10"},
			trusted: trusted,
			want:    "10.0.0.5",
		},
		{
			name:   "ipv6 peer",
			remote: "[2001:db8::1]:9000",
			want:   "2001:db8::1",
		},
		{
			name:   "unparsable peer is echoed",
			remote: "pipe",
			want:   "pipe",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://manutai.local/api/reports", nil)
			req.RemoteAddr = tc.remote
			for _, v := range tc.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	tp, err := NewTrustedProxies([]string{"10.0.0.0/8", "::ffff:192.168.1.1"})
	if err != nil {
		t.Fatalf("valid entries: %v", err)
	}
	if !tp.Contains(netip.MustParseAddr("192.168.1.1")) {
		t.Fatalf("mapped ipv4 entry should match plain ipv4")
	}
	if tp.Contains(netip.MustParseAddr("192.168.1.2")) {
		t.Fatalf("single address entry must not match neighbours")
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatalf("expected parse error for invalid entry")
	}
	if tp, err := NewTrustedProxies(nil); err != nil || tp != nil {
		t.Fatalf("empty input = %v, %v; want nil, nil", tp, err)
	}
}
