package usbipd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/muurk/usbshare/internal/devicestate"
)

const maxParseErrorOutput = 512

// stateOutput is the root object of "usbipd state". Field matching is
// case-insensitive.
type stateOutput struct {
	Devices []stateDevice `json:"Devices"`
}

type stateDevice struct {
	BusID           string  `json:"BusId"`
	ClientIPAddress *string `json:"ClientIPAddress"`
	ClientID        *string `json:"ClientId"`
	Description     string  `json:"Description"`
	InstanceID      string  `json:"InstanceId"`
	IsForced        bool    `json:"IsForced"`
	PersistedGUID   *string `json:"PersistedGuid"`
	StubInstanceID  *string `json:"StubInstanceId"`
	VendorID        int     `json:"VendorId"`
	ProductID       int     `json:"ProductId"`
}

// ParseState converts "usbipd state" output to devices. Blank output is an
// empty list.
func ParseState(output string) ([]devicestate.UsbDevice, error) {
	if strings.TrimSpace(output) == "" {
		return []devicestate.UsbDevice{}, nil
	}

	var state stateOutput
	if err := json.Unmarshal([]byte(output), &state); err != nil {
		return nil, newParseError(output, err)
	}

	devices := make([]devicestate.UsbDevice, 0, len(state.Devices))
	for _, d := range state.Devices {
		device, err := d.toDevice()
		if err != nil {
			return nil, newParseError(output, err)
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func newParseError(output string, err error) *ParseError {
	if len(output) > maxParseErrorOutput {
		output = output[:maxParseErrorOutput] + "..."
	}
	return &ParseError{Output: output, Err: err}
}

func (d stateDevice) toDevice() (devicestate.UsbDevice, error) {
	vendorID, err := formatID(d.VendorID)
	if err != nil {
		return devicestate.UsbDevice{}, fmt.Errorf("device %s vendor ID: %w", d.BusID, err)
	}
	productID, err := formatID(d.ProductID)
	if err != nil {
		return devicestate.UsbDevice{}, fmt.Errorf("device %s product ID: %w", d.BusID, err)
	}

	device := devicestate.UsbDevice{
		BusID:       d.BusID,
		VendorID:    vendorID,
		ProductID:   productID,
		Description: d.Description,
		IsShared:    d.PersistedGUID != nil || d.IsForced,
		IsAttached:  d.ClientIPAddress != nil,
	}
	if d.ClientIPAddress != nil {
		device.AttachedClientIP = *d.ClientIPAddress
	}
	return device, nil
}

// formatID renders a USB vendor or product ID as 4 upper-case hex digits.
// IDs are 16-bit; anything else is rejected.
func formatID(id int) (string, error) {
	if id < 0 || id > 0xFFFF {
		return "", fmt.Errorf("%d is outside 0..0xFFFF", id)
	}
	return fmt.Sprintf("%04X", id), nil
}
