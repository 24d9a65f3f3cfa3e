// Package logging provides structured logging for the usbshare server and client.
//
// This package wraps a package-global zap logger with convenience functions.
// Long-lived components (broadcaster, registry, device cache) accept an injected
// *zap.Logger and fall back to Named(component) when none is given.
//
// # Log Levels
//
//   - Debug: Datagram dumps, routine registry refreshes, HTTP request lines
//   - Info: Component start/stop, server discovered, device shared/attached
//   - Warn: Non-fatal issues (send failures, server timeouts, dropped events)
//   - Error: Startup failures, collaborator failures surfaced to callers
//
// # Configuration
//
// Initialize logging at process startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When no level is given and USBSHARE_LOG_LEVEL is unset the logger is a no-op,
// which keeps client CLI output clean.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use once Initialize has returned.
package logging
