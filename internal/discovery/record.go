package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ServerRecord is the registry's view of one announcing server.
//
// Records are values: the registry replaces the whole record on every
// update, so a copy handed to a caller never changes underneath it.
type ServerRecord struct {
	// ServerID is the announced server identifier (registry key)
	ServerID uuid.UUID `json:"id"`

	// Hostname is the announced display name (e.g., "HOST-A")
	Hostname string `json:"hostname"`

	// IPAddress is the UDP source address of the last announcement.
	// It is never taken from the payload.
	IPAddress string `json:"ipAddress"`

	// APIPort is the server's HTTP API port
	APIPort uint16 `json:"apiPort"`

	// Version is the server software version
	Version string `json:"version"`

	// IsOnline is false once the server has been silent longer than the liveness timeout
	IsOnline bool `json:"isOnline"`

	// LastSeen is when the last valid announcement arrived
	LastSeen time.Time `json:"lastSeen"`
}

// String returns a human-readable string representation of the server
func (r ServerRecord) String() string {
	state := "online"
	if !r.IsOnline {
		state = "offline"
	}
	return fmt.Sprintf("USB server %s (%s) at %s:%d [%s]", r.Hostname, r.ServerID, r.IPAddress, r.APIPort, state)
}

// BaseURL returns the HTTP base URL for the server's API
func (r ServerRecord) BaseURL() string {
	return "http://" + net.JoinHostPort(r.IPAddress, strconv.Itoa(int(r.APIPort)))
}

// Age returns how long ago the server was last heard from
func (r ServerRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.LastSeen)
}
