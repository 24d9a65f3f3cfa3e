package usbip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/logging"
)

// Config holds the configuration for usbip execution.
type Config struct {
	// Path is the usbip binary.
	// Default: "usbip" (searches PATH)
	Path string

	// Timeout is the maximum time a single command may run.
	// Default: 30 seconds
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:    "usbip",
		Timeout: 30 * time.Second,
	}
}

// Client runs the local usbip client tool via os/exec.
type Client struct {
	config Config
	logger *zap.Logger
}

// NewClient creates a usbip client. Zero config fields take their defaults.
// A nil logger uses the global logger.
func NewClient(config Config, logger *zap.Logger) *Client {
	defaults := DefaultConfig()
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = logging.Named("usbip")
	}
	return &Client{config: config, logger: logger}
}

// Attach imports the device at busID from the server at host.
func (c *Client) Attach(ctx context.Context, host, busID string) error {
	if err := requireArg("server address", host); err != nil {
		return err
	}
	if err := requireArg("bus id", busID); err != nil {
		return err
	}
	c.logger.Info("Importing device", zap.String("bus_id", busID), zap.String("server", host))
	_, err := c.run(ctx, "attach", "-r", host, "-b", busID)
	return err
}

// Detach releases the local port holding busID. host narrows the match when
// the same bus ID is imported from several servers (see FindPort).
// ErrNotAttached is returned when no port holds the device.
func (c *Client) Detach(ctx context.Context, host, busID string) error {
	if err := requireArg("bus id", busID); err != nil {
		return err
	}

	ports, err := c.Ports(ctx)
	if err != nil {
		return err
	}
	port, ok := FindPort(ports, busID, host)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAttached, busID)
	}

	c.logger.Info("Releasing device", zap.String("bus_id", busID), zap.Int("port", port.Number))
	_, err = c.run(ctx, "detach", "-p", strconv.Itoa(port.Number))
	return err
}

// Ports lists the devices imported on this machine.
func (c *Client) Ports(ctx context.Context) ([]Port, error) {
	stdout, err := c.run(ctx, "port")
	if err != nil {
		return nil, err
	}
	return ParsePorts(stdout), nil
}

// run executes usbip with args and returns its stdout.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(timeoutCtx, c.config.Path, args...)
	cmd.WaitDelay = time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	err := cmd.Run()

	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	exitCode := 0
	var exitErr *exec.ExitError
	if err != nil {
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	c.logger.Debug("usbip command complete",
		zap.Strings("args", args),
		zap.Duration("duration", time.Since(start)),
		zap.Int("exit_code", exitCode),
		zap.String("stderr", stderr),
	)

	if err == nil {
		return stdout, nil
	}

	cmdErr := &CommandError{Args: args, ExitCode: exitCode, Stderr: stderr}
	switch {
	case ctx.Err() != nil:
		cmdErr.Err = ctx.Err()
	case timeoutCtx.Err() == context.DeadlineExceeded:
		cmdErr.Err = fmt.Errorf("timed out after %s", c.config.Timeout)
	case exitErr == nil:
		cmdErr.Err = err
	}
	return stdout, cmdErr
}

func requireArg(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidArgument, name)
	}
	return nil
}
