package usbipd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/devicestate"
	"github.com/muurk/usbshare/internal/logging"
)

// Config holds the configuration for usbipd execution.
type Config struct {
	// Path is the usbipd binary.
	// Default: "usbipd" (searches PATH)
	Path string

	// Timeout is the maximum time a single command may run.
	// Default: 30 seconds
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:    "usbipd",
		Timeout: 30 * time.Second,
	}
}

// Client runs usbipd commands via os/exec.
type Client struct {
	config Config
	logger *zap.Logger
}

var _ devicestate.Collaborator = (*Client)(nil)

// NewClient creates a usbipd client. Zero config fields take their defaults.
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
		logger = logging.Named("usbipd")
	}
	return &Client{config: config, logger: logger}
}

// ListDevices runs "usbipd state" and parses the device list.
func (c *Client) ListDevices(ctx context.Context) ([]devicestate.UsbDevice, error) {
	stdout, err := c.run(ctx, "state")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(stdout) == "" {
		c.logger.Warn("usbipd state returned empty output")
	}
	return ParseState(stdout)
}

// Bind shares the device at busID.
func (c *Client) Bind(ctx context.Context, busID string) error {
	if err := requireArg("bus id", busID); err != nil {
		return err
	}
	c.logger.Info("Binding device", zap.String("bus_id", busID))
	_, err := c.run(ctx, "bind", "--busid", busID)
	return err
}

// Unbind stops sharing the device at busID.
func (c *Client) Unbind(ctx context.Context, busID string) error {
	if err := requireArg("bus id", busID); err != nil {
		return err
	}
	c.logger.Info("Unbinding device", zap.String("bus_id", busID))
	_, err := c.run(ctx, "unbind", "--busid", busID)
	return err
}

// Attach attaches the device at busID to the client at clientIP.
func (c *Client) Attach(ctx context.Context, busID, clientIP string) error {
	if err := requireArg("bus id", busID); err != nil {
		return err
	}
	if err := requireArg("client ip", clientIP); err != nil {
		return err
	}
	c.logger.Info("Attaching device", zap.String("bus_id", busID), zap.String("client_ip", clientIP))
	_, err := c.run(ctx, "attach", "--busid", busID, "--client", clientIP)
	return err
}

// Detach detaches the device at busID from its client.
func (c *Client) Detach(ctx context.Context, busID string) error {
	if err := requireArg("bus id", busID); err != nil {
		return err
	}
	c.logger.Info("Detaching device", zap.String("bus_id", busID))
	_, err := c.run(ctx, "detach", "--busid", busID)
	return err
}

// Version returns the trimmed output of "usbipd --version".
func (c *Client) Version(ctx context.Context) (string, error) {
	stdout, err := c.run(ctx, "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout), nil
}

// run executes usbipd with args and returns its stdout.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(timeoutCtx, c.config.Path, args...)
	// Children that inherit the output pipes must not hold Run open past
	// the kill.
	cmd.WaitDelay = time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	err := cmd.Run()

	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	c.logger.Debug("usbipd command complete",
		zap.Strings("args", args),
		zap.Duration("duration", time.Since(start)),
		zap.Int("exit_code", exitCode),
		zap.Int("stdout_size", len(stdout)),
		zap.String("stderr", stderr),
	)

	if timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return stdout, &TimeoutError{Args: args, Timeout: c.config.Timeout.String()}
	}

	if err != nil {
		cmdErr := &CommandError{Args: args, ExitCode: exitCode, Stderr: stderr}
		// Exit status is already captured; keep only errors that say more.
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			cmdErr.Err = err
		}
		if ctx.Err() != nil {
			cmdErr.Err = ctx.Err()
		}
		c.logger.Error("usbipd command failed",
			zap.Strings("args", args),
			zap.Int("exit_code", exitCode),
			zap.String("stderr", strings.TrimSpace(stderr)),
		)
		return stdout, cmdErr
	}

	return stdout, nil
}

func requireArg(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidArgument, name)
	}
	return nil
}
