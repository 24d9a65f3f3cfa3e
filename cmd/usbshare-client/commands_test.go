package main

import (
	"testing"

	"github.com/muurk/usbshare/internal/discovery"
)

func TestParseServerAddr(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"bare ip", "10.0.0.5", "10.0.0.5", 50051, false},
		{"ip and port", "10.0.0.5:8051", "10.0.0.5", 8051, false},
		{"hostname", "usb-host", "usb-host", 50051, false},
		{"bracketed ipv6 with port", "[fe80::1]:9000", "fe80::1", 9000, false},
		{"bracketed ipv6", "[fe80::1]", "fe80::1", 50051, false},
		{"bad port", "10.0.0.5:abc", "", 0, true},
		{"port out of range", "10.0.0.5:70000", "", 0, true},
		{"missing host", ":8051", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := parseServerAddr(tt.addr, 50051)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseServerAddr(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if host != tt.wantHost || port != tt.wantPort {
				t.Errorf("parseServerAddr(%q) = %q, %d; want %q, %d", tt.addr, host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestFilterServers(t *testing.T) {
	servers := []discovery.ServerRecord{
		{Hostname: "LAB-BENCH"},
		{Hostname: "desk-pc"},
		{Hostname: "lab-rack"},
	}

	tests := []struct {
		filter string
		want   int
	}{
		{"", 3},
		{"lab", 2},
		{"DESK", 1},
		{"nothing", 0},
	}

	for _, tt := range tests {
		t.Run("filter="+tt.filter, func(t *testing.T) {
			if got := filterServers(servers, tt.filter); len(got) != tt.want {
				t.Errorf("filterServers(%q) returned %d servers, want %d", tt.filter, len(got), tt.want)
			}
		})
	}
}
