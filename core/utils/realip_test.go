package utils

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted []string
		want    string
	}{
		{name: "direct peer", remote: "203.0.113.9:4431", want: "203.0.113.9"},
		{name: "untrusted peer ignores xff", remote: "203.0.113.9:4431", xff: "198.51.100.7", want: "203.0.113.9"},
		{name: "trusted proxy uses xff", remote: "10.0.0.5:80", xff: "198.51.100.7", trusted: []string{"10.0.0.0/8"}, want: "198.51.100.7"},
		{name: "xff chain skips trusted hops", remote: "10.0.0.5:80", xff: "198.51.100.7, 10.0.0.9", trusted: []string{"10.0.0.0/8"}, want: "198.51.100.7"},
		{name: "xff garbage falls back to real ip", remote: "10.0.0.5:80", xff: "not-an-ip", realIP: "198.51.100.8", trusted: []string{"10.0.0.5"}, want: "198.51.100.8"},
		{name: "trusted proxy without headers", remote: "10.0.0.5:80", trusted: []string{"10.0.0.0/8"}, want: "10.0.0.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				r.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(r, tc.trusted); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsTrustedProxy(t *testing.T) {
	trusted := []string{"192.0.2.1", "10.0.0.0/8", " ", "bogus"}
	if !IsTrustedProxy("192.0.2.1", trusted) {
		t.Fatal("exact match should be trusted")
	}
	if !IsTrustedProxy("10.200.3.4", trusted) {
		t.Fatal("cidr member should be trusted")
	}
	if IsTrustedProxy("203.0.113.9", trusted) {
		t.Fatal("unlisted ip should not be trusted")
	}
	if IsTrustedProxy("not-an-ip", trusted) {
		t.Fatal("unparseable ip should not be trusted")
	}
}
