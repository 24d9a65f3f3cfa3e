package discovery

import (
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	id := uuid.MustParse("8d5c3e3a-55a1-4c4f-9a52-0f3c2b6d7e11")

	entry := func(mutate func(*zeroconf.ServiceEntry)) *zeroconf.ServiceEntry {
		e := zeroconf.NewServiceEntry("HOST-A", ServiceType, ServiceDomain)
		e.HostName = "host-a.local."
		e.Port = 50051
		e.AddrIPv4 = []net.IP{net.ParseIP("192.168.4.16")}
		e.Text = []string{"id=" + id.String(), "version=1.2.0"}
		if mutate != nil {
			mutate(e)
		}
		return e
	}

	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantOK   bool
		wantIP   string
		wantName string
	}{
		{
			name:     "valid entry with IPv4",
			entry:    entry(nil),
			wantOK:   true,
			wantIP:   "192.168.4.16",
			wantName: "HOST-A",
		},
		{
			name: "IPv6 only",
			entry: entry(func(e *zeroconf.ServiceEntry) {
				e.AddrIPv4 = nil
				e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
			}),
			wantOK:   true,
			wantIP:   "fe80::1",
			wantName: "HOST-A",
		},
		{
			name: "prefers IPv4",
			entry: entry(func(e *zeroconf.ServiceEntry) {
				e.AddrIPv6 = []net.IP{net.ParseIP("fe80::2")}
			}),
			wantOK:   true,
			wantIP:   "192.168.4.16",
			wantName: "HOST-A",
		},
		{
			name: "falls back to hostname",
			entry: entry(func(e *zeroconf.ServiceEntry) {
				e.Instance = ""
			}),
			wantOK:   true,
			wantIP:   "192.168.4.16",
			wantName: "host-a",
		},
		{
			name: "missing id",
			entry: entry(func(e *zeroconf.ServiceEntry) {
				e.Text = []string{"version=1.2.0"}
			}),
		},
		{
			name: "invalid id",
			entry: entry(func(e *zeroconf.ServiceEntry) {
				e.Text = []string{"id=not-a-uuid"}
			}),
		},
		{
			name: "no address",
			entry: entry(func(e *zeroconf.ServiceEntry) {
				e.AddrIPv4 = nil
			}),
		},
		{
			name: "no port",
			entry: entry(func(e *zeroconf.ServiceEntry) {
				e.Port = 0
			}),
		},
		{
			name:  "nil entry",
			entry: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ip, ok := parseServiceEntry(tt.entry)
			if ok != tt.wantOK {
				t.Fatalf("parseServiceEntry() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if a.ID != id {
				t.Errorf("ID = %v, want %v", a.ID, id)
			}
			if ip != tt.wantIP {
				t.Errorf("ip = %v, want %v", ip, tt.wantIP)
			}
			if a.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", a.Name, tt.wantName)
			}
			if a.APIPort != 50051 {
				t.Errorf("APIPort = %d, want 50051", a.APIPort)
			}
			if a.Version != "1.2.0" {
				t.Errorf("Version = %q, want 1.2.0", a.Version)
			}
			if a.Type != AnnouncementType {
				t.Errorf("Type = %q, want %q", a.Type, AnnouncementType)
			}
		})
	}
}

func TestParseTXT(t *testing.T) {
	got := parseTXT([]string{"id=abc", "flag", "version=1.0", "path=/a=b"})

	want := map[string]string{
		"id":      "abc",
		"flag":    "",
		"version": "1.0",
		"path":    "/a=b",
	}
	if len(got) != len(want) {
		t.Errorf("parseTXT() has %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("parseTXT()[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestNewBrowser(t *testing.T) {
	b := NewBrowser(nil)
	if b.Timeout != DefaultBrowseTimeout {
		t.Errorf("Timeout = %v, want %v", b.Timeout, DefaultBrowseTimeout)
	}
}

func TestAdvertiser_ShutdownNil(t *testing.T) {
	var a *Advertiser
	a.Shutdown()
}
