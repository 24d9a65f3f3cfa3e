package usbip

import (
	"bufio"
	"net"
	"strconv"
	"strings"
)

// Port is one imported device as listed by "usbip port".
type Port struct {
	// Number is the local virtual port, the argument to "usbip detach -p"
	Number int
	// Speed as printed after "at", e.g. "Full Speed(12Mbps)"
	Speed string
	// BusID is the device's bus ID on the server
	BusID string
	// RemoteHost is the server address the device was imported from
	RemoteHost string
}

// ParsePorts reads "usbip port" output. Ports without a recognisable remote
// device line are skipped.
func ParsePorts(output string) []Port {
	var ports []Port
	var current *Port

	flush := func() {
		if current != nil && current.BusID != "" {
			ports = append(ports, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if rest, ok := strings.CutPrefix(line, "Port "); ok {
			flush()
			number, speed, ok := parsePortLine(rest)
			if ok {
				current = &Port{Number: number, Speed: speed}
			}
			continue
		}
		if current == nil || current.BusID != "" {
			continue
		}

		if busID, host, ok := parseImportedLine(line); ok {
			current.BusID = busID
			current.RemoteHost = host
			continue
		}
		if busID, host, ok := parseURLLine(line); ok {
			current.BusID = busID
			current.RemoteHost = host
		}
	}
	flush()

	return ports
}

// FindPort returns the port holding busID. When host is an IP address the
// remote host has to match it too; usbip prints addresses, so a host name
// cannot narrow the match.
func FindPort(ports []Port, busID, host string) (Port, bool) {
	hostIP := net.ParseIP(host)
	for _, p := range ports {
		if p.BusID != busID {
			continue
		}
		if hostIP != nil && !hostIP.Equal(net.ParseIP(p.RemoteHost)) {
			continue
		}
		return p, true
	}
	return Port{}, false
}

// parsePortLine reads "00: <Port in Use> at Full Speed(12Mbps)".
func parsePortLine(rest string) (int, string, bool) {
	numStr, tail, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", false
	}
	number, err := strconv.Atoi(strings.TrimSpace(numStr))
	if err != nil || number < 0 {
		return 0, "", false
	}
	var speed string
	if _, after, found := strings.Cut(tail, " at "); found {
		speed = strings.TrimSpace(after)
	}
	return number, speed, true
}

// parseImportedLine reads "Imported USB device 1-2 from 10.0.0.5".
func parseImportedLine(line string) (string, string, bool) {
	rest, ok := strings.CutPrefix(line, "Imported USB device ")
	if !ok {
		return "", "", false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", false
	}
	var host string
	if len(fields) >= 3 && fields[1] == "from" {
		host = fields[2]
	}
	return fields[0], host, true
}

// parseURLLine reads "1-1 -> usbip://10.0.0.5:3240/1-2".
func parseURLLine(line string) (string, string, bool) {
	_, target, ok := strings.Cut(line, "-> usbip://")
	if !ok {
		return "", "", false
	}
	hostPort, busID, ok := strings.Cut(strings.TrimSpace(target), "/")
	if !ok || busID == "" {
		return "", "", false
	}
	host := hostPort
	if i := strings.LastIndex(hostPort, ":"); i > 0 && !strings.HasSuffix(hostPort, "]") {
		host = hostPort[:i]
	}
	return busID, strings.Trim(host, "[]"), true
}
