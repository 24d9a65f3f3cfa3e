package usbipd

import (
	"errors"
	"fmt"
	"strings"
)

// CommandError represents a failed usbipd invocation.
type CommandError struct {
	// Args are the arguments passed to usbipd
	Args []string
	// ExitCode is the process exit code (-1 if it never ran)
	ExitCode int
	// Stderr is the process stderr output
	Stderr string
	// Underlying error if any
	Err error
}

func (e *CommandError) Error() string {
	cmd := "usbipd " + strings.Join(e.Args, " ")
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

// TimeoutError represents a usbipd invocation that exceeded its timeout.
type TimeoutError struct {
	// Args are the arguments passed to usbipd
	Args []string
	// Timeout is the duration that was exceeded
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("usbipd %s timed out after %s", strings.Join(e.Args, " "), e.Timeout)
}

// ParseError represents usbipd output that could not be parsed.
type ParseError struct {
	// Output is the text that failed to parse (truncated)
	Output string
	// Underlying error
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse usbipd state output: %v\nOutput: %s", e.Err, e.Output)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ErrInvalidArgument is returned before running usbipd when a required
// argument is empty.
var ErrInvalidArgument = errors.New("invalid argument")
