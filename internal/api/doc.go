// Package api implements the usbshare HTTP API server and its client.
//
// The server exposes the device state cache over JSON and streams device
// list changes over a WebSocket. Clients find a server through discovery and
// then talk to it with Client.
//
// # Routes
//
//	GET  /api/health                    server status and device counts
//	GET  /api/devices                   device list and server info
//	POST /api/devices/{busId}/share     bind a device for sharing
//	POST /api/devices/{busId}/unshare   unbind a device
//	POST /api/devices/{busId}/attach    attach a shared device to the caller
//	POST /api/devices/{busId}/detach    detach a device
//	GET  /api/events                    WebSocket stream of device list updates
//
// Errors are returned as ErrorResponse with a machine-readable code such as
// DEVICE_NOT_FOUND or DEVICE_NOT_SHARED.
//
// # Stale Data
//
// When usbipd fails but an earlier device list exists, list responses carry
// "stale": true and the last good list instead of failing.
//
// # Client
//
//	client := api.NewClient("192.168.1.20", 50051)
//	list, err := client.Devices(ctx)
//	if err != nil {
//	    fmt.Println(api.GetShortErrorMessage(err))
//	}
//
// Read requests are retried with exponential backoff for retryable errors
// (timeouts, refused connections, HTTP 5xx). Control requests are sent once.
package api
