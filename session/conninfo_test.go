package session

import (
	"testing"

	"github.com/sqlcoord/sessioncore"
)

func TestParseConnectionURLTCP(t *testing.T) {
	info, err := ParseConnectionURL("lealone:tcp://db1.example.com:9210/orders?LOCK_TIMEOUT=500&SCHEMA=sales")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Transport != TransportTCP {
		t.Fatalf("expected tcp transport, got %q", info.Transport)
	}
	if info.Host != "db1.example.com" || info.Port != 9210 {
		t.Fatalf("unexpected host/port %s:%d", info.Host, info.Port)
	}
	if info.Database != "orders" {
		t.Fatalf("unexpected database %q", info.Database)
	}
	if info.Params["LOCK_TIMEOUT"] != "500" || info.Params["SCHEMA"] != "sales" {
		t.Fatalf("unexpected params %v", info.Params)
	}
	if got := info.PeerAddress(); got != "db1.example.com:9210" {
		t.Fatalf("unexpected peer address %q", got)
	}
}

func TestParseConnectionURLMemAndEmbed(t *testing.T) {
	for _, tc := range []struct {
		url       string
		transport Transport
	}{
		{"lealone:mem:/scratch", TransportMem},
		{"lealone:embed:/local", TransportEmbed},
	} {
		info, err := ParseConnectionURL(tc.url)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.url, err)
		}
		if info.Transport != tc.transport {
			t.Fatalf("%s: expected transport %q, got %q", tc.url, tc.transport, info.Transport)
		}
		if info.PeerAddress() != "" {
			t.Fatalf("%s: expected no peer address", tc.url)
		}
	}
}

func TestParseConnectionURLRejectsMalformed(t *testing.T) {
	for _, url := range []string{
		"",
		"jdbc:tcp://h:1/db",
		"lealone:udp://h:1/db",
		"lealone:tcp://h:1",
		"lealone:tcp://h:notaport/db",
		"lealone:tcp://h:1/db?missingvalue",
		"lealone:mem:/",
	} {
		_, err := ParseConnectionURL(url)
		if err == nil {
			t.Fatalf("expected %q rejected", url)
		}
		se, ok := err.(sqlcoord.Error)
		if !ok || se.Code != sqlcoord.InvalidValue {
			t.Fatalf("expected INVALID_VALUE for %q, got %v", url, err)
		}
	}
}
