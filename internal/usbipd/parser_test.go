package usbipd

import (
	"errors"
	"testing"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   int
	}{
		{"blank output", "  \n", 0},
		{"empty device list", `{"Devices": []}`, 0},
		{"null device list", `{"Devices": null}`, 0},
		{"lower-case keys", `{"devices":[{"busid":"1-1","description":"x","vendorid":1,"productid":2}]}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devices, err := ParseState(tt.output)
			if err != nil {
				t.Fatalf("ParseState() error = %v", err)
			}
			if devices == nil {
				t.Fatal("ParseState() = nil, want non-nil list")
			}
			if len(devices) != tt.want {
				t.Errorf("ParseState() returned %d devices, want %d", len(devices), tt.want)
			}
		})
	}
}

func TestParseState_SingleDevice(t *testing.T) {
	output := `{
	  "Devices": [
	    {
	      "BusId": "1-1",
	      "ClientIPAddress": null,
	      "ClientId": null,
	      "Description": "USB Input Device",
	      "InstanceId": "USB\\VID_046D&PID_C534\\5&2A8F8A4&0&1",
	      "IsForced": false,
	      "PersistedGuid": null,
	      "StubInstanceId": null,
	      "VendorId": 1133,
	      "ProductId": 50484
	    }
	  ]
	}`

	devices, err := ParseState(output)
	if err != nil {
		t.Fatalf("ParseState() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("ParseState() returned %d devices, want 1", len(devices))
	}

	d := devices[0]
	if d.BusID != "1-1" {
		t.Errorf("BusID = %q, want 1-1", d.BusID)
	}
	if d.VendorID != "046D" || d.ProductID != "C534" {
		t.Errorf("VID:PID = %s, want 046D:C534", d.VIDPID())
	}
	if d.Description != "USB Input Device" {
		t.Errorf("Description = %q", d.Description)
	}
	if d.IsShared || d.IsAttached || d.AttachedClientIP != "" {
		t.Errorf("device should be neither shared nor attached: %+v", d)
	}
	if d.DeviceClass != "" {
		t.Errorf("DeviceClass = %q, want empty", d.DeviceClass)
	}
}

func TestParseState_SharedAndAttached(t *testing.T) {
	output := `{
	  "Devices": [
	    {
	      "BusId": "1-1",
	      "ClientIPAddress": null,
	      "Description": "Device 1",
	      "InstanceId": "USB\\VID_0001&PID_0001\\1",
	      "IsForced": false,
	      "PersistedGuid": null,
	      "VendorId": 1,
	      "ProductId": 1
	    },
	    {
	      "BusId": "2-1",
	      "ClientIPAddress": "192.168.1.50",
	      "Description": "Device 2",
	      "InstanceId": "USB\\VID_0002&PID_0002\\2",
	      "IsForced": true,
	      "PersistedGuid": "{AAAAAAAA-AAAA-AAAA-AAAA-AAAAAAAAAAAA}",
	      "StubInstanceId": "ROOT\\VHCI\\0001",
	      "VendorId": 2,
	      "ProductId": 2
	    },
	    {
	      "BusId": "3-1",
	      "ClientIPAddress": null,
	      "Description": "Forced only",
	      "InstanceId": "X",
	      "IsForced": true,
	      "PersistedGuid": null,
	      "VendorId": 4660,
	      "ProductId": 22136
	    }
	  ]
	}`

	devices, err := ParseState(output)
	if err != nil {
		t.Fatalf("ParseState() error = %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("ParseState() returned %d devices, want 3", len(devices))
	}

	if devices[0].BusID != "1-1" || devices[1].BusID != "2-1" {
		t.Errorf("device order not preserved: %v", devices)
	}
	if !devices[1].IsShared || !devices[1].IsAttached || devices[1].AttachedClientIP != "192.168.1.50" {
		t.Errorf("attached device = %+v", devices[1])
	}
	if !devices[2].IsShared {
		t.Error("IsForced device should count as shared")
	}
	if devices[2].VIDPID() != "1234:5678" {
		t.Errorf("VIDPID() = %q, want 1234:5678", devices[2].VIDPID())
	}
}

func TestParseState_Invalid(t *testing.T) {
	_, err := ParseState("usbipd: error: unknown command")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("ParseState() error = %v, want *ParseError", err)
	}
	if parseErr.Output == "" {
		t.Error("ParseError should carry the output")
	}
}

func TestParseState_IDOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"negative vendor", `{"Devices":[{"BusId":"1-1","VendorId":-1,"ProductId":2}]}`},
		{"vendor above 16 bits", `{"Devices":[{"BusId":"1-1","VendorId":65536,"ProductId":2}]}`},
		{"product above 16 bits", `{"Devices":[{"BusId":"1-1","VendorId":1133,"ProductId":70000}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devices, err := ParseState(tt.output)
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("ParseState() error = %v, want *ParseError", err)
			}
			if devices != nil {
				t.Errorf("ParseState() = %v, want nil on error", devices)
			}
		})
	}
}

func TestFormatID(t *testing.T) {
	tests := []struct {
		id      int
		want    string
		wantErr bool
	}{
		{1133, "046D", false},
		{50484, "C534", false},
		{0, "0000", false},
		{0xFFFF, "FFFF", false},
		{-1, "", true},
		{0x10000, "", true},
	}
	for _, tt := range tests {
		got, err := formatID(tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("formatID(%d) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("formatID(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
