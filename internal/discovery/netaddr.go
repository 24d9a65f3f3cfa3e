package discovery

import (
	"net"
)

// SubnetBroadcast returns the directed broadcast address for an IPv4 address
// and mask, or nil for non-IPv4 input.
func SubnetBroadcast(ip net.IP, mask net.IPMask) net.IP {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}

	broadcast := make(net.IP, net.IPv4len)
	for i := range ip4 {
		broadcast[i] = ip4[i] | ^mask[i]
	}
	return broadcast
}

// InterfaceBroadcastAddrs returns the directed broadcast address of every
// IPv4 network on interfaces that are up, broadcast-capable and not loopback.
func InterfaceBroadcastAddrs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var result []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if b := SubnetBroadcast(ipNet.IP, ipNet.Mask); b != nil {
				result = append(result, b)
			}
		}
	}
	return result, nil
}

// PrimaryIPv4 returns the first non-loopback IPv4 address of an interface
// that is up, or the loopback address if there is none.
func PrimaryIPv4() net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return net.IPv4(127, 0, 0, 1)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipNet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
					return ip4
				}
			}
		}
	}
	return net.IPv4(127, 0, 0, 1)
}

// broadcastTargets returns the limited broadcast address and, when subnet is
// set, every interface's directed broadcast address, all on port.
func broadcastTargets(port int, subnet bool) []*net.UDPAddr {
	targets := []*net.UDPAddr{{IP: net.IPv4bcast, Port: port}}
	if !subnet {
		return targets
	}

	addrs, err := InterfaceBroadcastAddrs()
	if err != nil {
		return targets
	}
	seen := map[string]bool{net.IPv4bcast.String(): true}
	for _, ip := range addrs {
		if seen[ip.String()] {
			continue
		}
		seen[ip.String()] = true
		targets = append(targets, &net.UDPAddr{IP: ip, Port: port})
	}
	return targets
}

// sourceIP normalizes the sender address of a datagram.
func sourceIP(addr *net.UDPAddr) string {
	if addr == nil {
		return ""
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		return ip4.String()
	}
	return addr.IP.String()
}
