package usbip

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"

	"github.com/muurk/usbshare/internal/urls"
)

// CommandError represents a failed usbip invocation.
type CommandError struct {
	// Args are the arguments passed to usbip
	Args []string
	// ExitCode is the process exit code (-1 if it never ran)
	ExitCode int
	// Stderr is the process stderr output
	Stderr string
	// Underlying error if any
	Err error
}

func (e *CommandError) Error() string {
	cmd := "usbip " + strings.Join(e.Args, " ")
	stderr := strings.TrimSpace(e.Stderr)
	switch {
	case e.Err != nil && stderr != "":
		return fmt.Sprintf("%s failed (exit code %d): %v: %s", cmd, e.ExitCode, e.Err, stderr)
	case e.Err != nil:
		return fmt.Sprintf("%s failed (exit code %d): %v", cmd, e.ExitCode, e.Err)
	default:
		return fmt.Sprintf("%s failed (exit code %d): %s", cmd, e.ExitCode, stderr)
	}
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidArgument is returned before running usbip when a required
	// argument is empty.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotAttached is returned by Detach when no local port holds the device.
	ErrNotAttached = errors.New("device is not attached to this machine")
)

// TroubleshootingHints returns suggestions for a failed local usbip step,
// or nil if err did not come from this package.
func TroubleshootingHints(err error) []string {
	if errors.Is(err, ErrNotAttached) {
		return []string{"Run 'usbip port' to see the devices imported on this machine"}
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return nil
	}
	if errors.Is(cmdErr.Err, exec.ErrNotFound) || errors.Is(cmdErr.Err, fs.ErrNotExist) {
		return []string{
			"Install the usbip client tools (linux-tools or usbip package)",
			"Pass --usbip with the path to the binary if it is not on PATH",
			"WSL setup: " + urls.ConnectUSBGuide,
		}
	}
	return []string{
		"usbip attach and detach usually need root; try again with sudo",
		"Load the virtual host controller: sudo modprobe vhci-hcd",
		"Check that port 3240 on the server is reachable from this machine",
	}
}
