package discovery

import (
	"net"
	"testing"
)

func TestSubnetBroadcast(t *testing.T) {
	tests := []struct {
		name string
		ip   net.IP
		mask net.IPMask
		want string
	}{
		{"class C", net.ParseIP("192.168.1.42"), net.CIDRMask(24, 32), "192.168.1.255"},
		{"/16", net.ParseIP("10.20.30.40"), net.CIDRMask(16, 32), "10.20.255.255"},
		{"/30", net.ParseIP("10.0.0.5"), net.CIDRMask(30, 32), "10.0.0.7"},
		{"/32", net.ParseIP("10.0.0.5"), net.CIDRMask(32, 32), "10.0.0.5"},
		{"16-byte mask", net.ParseIP("172.16.5.1"), net.CIDRMask(120, 128), "172.16.5.255"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SubnetBroadcast(tt.ip, tt.mask)
			if got.String() != tt.want {
				t.Errorf("SubnetBroadcast() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := SubnetBroadcast(net.ParseIP("fe80::1"), net.CIDRMask(64, 128)); got != nil {
		t.Errorf("SubnetBroadcast(IPv6) = %v, want nil", got)
	}
}

func TestBroadcastTargets(t *testing.T) {
	targets := broadcastTargets(50050, false)
	if len(targets) != 1 {
		t.Fatalf("broadcastTargets() = %v, want only the limited broadcast", targets)
	}
	if !targets[0].IP.Equal(net.IPv4bcast) || targets[0].Port != 50050 {
		t.Errorf("broadcastTargets()[0] = %v", targets[0])
	}

	seen := map[string]bool{}
	for _, target := range broadcastTargets(50050, true) {
		if seen[target.IP.String()] {
			t.Errorf("duplicate target %v", target)
		}
		seen[target.IP.String()] = true
		if target.Port != 50050 {
			t.Errorf("target %v has wrong port", target)
		}
	}
}

func TestSourceIP(t *testing.T) {
	if got := sourceIP(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 1234}); got != "10.0.0.5" {
		t.Errorf("sourceIP() = %q", got)
	}
	if got := sourceIP(&net.UDPAddr{IP: net.ParseIP("fe80::1")}); got != "fe80::1" {
		t.Errorf("sourceIP(IPv6) = %q", got)
	}
	if got := sourceIP(nil); got != "" {
		t.Errorf("sourceIP(nil) = %q", got)
	}
}

func TestPrimaryIPv4(t *testing.T) {
	if ip := PrimaryIPv4(); ip.To4() == nil {
		t.Errorf("PrimaryIPv4() = %v, want an IPv4 address", ip)
	}
}
