// Package devicestate caches the USB device list of the local server.
//
// The list comes from a Collaborator (the usbipd CLI in production). Reads go
// through Cache.Devices, which refreshes synchronously once the snapshot is
// older than the staleness window. All refreshes, whether triggered by a
// read, a share/attach operation or the background Scheduler, are serialized
// by one lock, and callers that queue behind an in-flight refresh reuse its
// result instead of calling the collaborator again.
//
// A failed refresh keeps the previous snapshot. Devices then returns that
// snapshot together with a *StaleError so callers can tell stale data from
// no data.
package devicestate
