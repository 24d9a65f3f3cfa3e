// Package ui renders terminal output for the usbshare CLIs.
//
// Output is "run once and exit": a Header describing the command, a table of
// servers or devices, and a Result box for control operations. Styles come
// from Lipgloss and adapt to the terminal width reported by x/term.
//
// # Components
//
//   - Header: command banner with ordered parameters
//   - ServerTable / DeviceTable: aligned columns, last column truncated to fit
//   - Result: success, warning or failure box with optional troubleshooting tips
//   - Confirm: y/N prompt before disruptive operations
//
// # Logging Integration
//
// The client CLI keeps zap silent unless USBSHARE_LOG_LEVEL is set, so the
// rendered output is not interleaved with log lines.
package ui
