package devicestate

import (
	"context"
	"fmt"
)

// UsbDevice is one USB device as seen by the server.
type UsbDevice struct {
	// BusID identifies the port the device is plugged into (e.g., "1-1")
	BusID string `json:"busId"`

	// VendorID and ProductID are 4 upper-case hex digits (e.g., "046D")
	VendorID  string `json:"vendorId"`
	ProductID string `json:"productId"`

	Description string `json:"description"`
	DeviceClass string `json:"deviceClass,omitempty"`

	// IsShared is true when the device is bound for sharing
	IsShared bool `json:"isShared"`

	// IsAttached is true when a client has the device attached.
	// AttachedClientIP is always set when IsAttached is true.
	IsAttached       bool   `json:"isAttached"`
	AttachedClientIP string `json:"attachedClientIp,omitempty"`
}

// VIDPID returns "VVVV:PPPP"
func (d UsbDevice) VIDPID() string {
	return d.VendorID + ":" + d.ProductID
}

// String returns a human-readable string representation of the device
func (d UsbDevice) String() string {
	return fmt.Sprintf("%s %s %s", d.BusID, d.VIDPID(), d.Description)
}

// Collaborator lists and controls the host's USB devices.
type Collaborator interface {
	ListDevices(ctx context.Context) ([]UsbDevice, error)
	Bind(ctx context.Context, busID string) error
	Unbind(ctx context.Context, busID string) error
	Attach(ctx context.Context, busID, clientIP string) error
	Detach(ctx context.Context, busID string) error
}

// normalize enforces the snapshot invariants on collaborator output:
// bus IDs are unique (first wins) and an attached device always names its
// client.
func normalize(devices []UsbDevice) []UsbDevice {
	result := make([]UsbDevice, 0, len(devices))
	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d.BusID == "" || seen[d.BusID] {
			continue
		}
		seen[d.BusID] = true
		if d.IsAttached && d.AttachedClientIP == "" {
			d.IsAttached = false
		}
		if !d.IsAttached {
			d.AttachedClientIP = ""
		}
		result = append(result, d)
	}
	return result
}

func equalDevices(a, b []UsbDevice) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Counts returns how many devices are shared and attached.
func Counts(devices []UsbDevice) (shared, attached int) {
	for _, d := range devices {
		if d.IsShared {
			shared++
		}
		if d.IsAttached {
			attached++
		}
	}
	return shared, attached
}
