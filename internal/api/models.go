package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/muurk/usbshare/internal/devicestate"
)

// Error codes carried in ErrorResponse.Code
const (
	CodeDeviceNotFound     = "DEVICE_NOT_FOUND"
	CodeDeviceNotShared    = "DEVICE_NOT_SHARED"
	CodeDeviceNotAttached  = "DEVICE_NOT_ATTACHED"
	CodeInvalidClientIP    = "INVALID_CLIENT_IP"
	CodeDevicesUnavailable = "DEVICES_UNAVAILABLE"
	CodeOperationFailed    = "OPERATION_FAILED"
	CodeInternal           = "INTERNAL_ERROR"
)

// Health status values
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// EventTypeDevices is the only event type sent on /api/events.
const EventTypeDevices = "devices"

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status              string `json:"status"`
	Version             string `json:"version"`
	Hostname            string `json:"hostname"`
	UsbipdAvailable     bool   `json:"usbipdAvailable"`
	UsbipdVersion       string `json:"usbipdVersion,omitempty"`
	DeviceCount         int    `json:"deviceCount"`
	SharedDeviceCount   int    `json:"sharedDeviceCount"`
	AttachedDeviceCount int    `json:"attachedDeviceCount"`
	Stale               bool   `json:"stale"`
}

// ServerInfo describes the server answering a device list request.
type ServerInfo struct {
	ID        uuid.UUID `json:"id"`
	Hostname  string    `json:"hostname"`
	IPAddress string    `json:"ipAddress"`
	APIPort   uint16    `json:"apiPort"`
	Version   string    `json:"version"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
}

// DeviceListResponse is returned by GET /api/devices
type DeviceListResponse struct {
	Devices    []devicestate.UsbDevice `json:"devices"`
	ServerInfo ServerInfo              `json:"serverInfo"`

	// Stale is true when the list could not be refreshed and the last good
	// list is being served.
	Stale bool `json:"stale"`
}

// AttachResponse is returned by the attach and detach routes.
type AttachResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Device  *devicestate.UsbDevice `json:"device,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventMessage is one message on the /api/events stream.
type EventMessage struct {
	Type        string                  `json:"type"`
	Devices     []devicestate.UsbDevice `json:"devices"`
	RefreshedAt time.Time               `json:"refreshedAt"`
}
