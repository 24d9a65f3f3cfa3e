package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/usbshare/internal/devicestate"
)

const (
	// DefaultTimeout is the default HTTP request timeout. Control requests
	// wait on usbipd, so this is longer than a plain read needs.
	DefaultTimeout = 35 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for failed reads
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the default delay between retry attempts
	DefaultRetryDelay = 1 * time.Second

	// DefaultMaxRetryDelay is the maximum delay for exponential backoff
	DefaultMaxRetryDelay = 30 * time.Second

	maxResponseSize = 1 << 20
)

// Client talks to one usbshare server's HTTP API
type Client struct {
	// BaseURL is the server's base URL (e.g., "http://192.168.1.20:50051")
	BaseURL string

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	// Dialer opens the event stream
	Dialer *websocket.Dialer

	// MaxRetries is the maximum number of retry attempts for failed reads
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts
	RetryDelay time.Duration

	// MaxRetryDelay is the maximum delay for exponential backoff
	MaxRetryDelay time.Duration

	// UseExponentialBackoff doubles RetryDelay after each attempt
	UseExponentialBackoff bool
}

// NewClient creates a client for the server at ip:port
func NewClient(ip string, port int) *Client {
	return NewClientWithURL("http://" + net.JoinHostPort(ip, strconv.Itoa(port)))
}

// NewClientWithURL creates a client with a full base URL
func NewClientWithURL(baseURL string) *Client {
	return &Client{
		BaseURL:               strings.TrimRight(baseURL, "/"),
		HTTPClient:            &http.Client{Timeout: DefaultTimeout},
		Dialer:                &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		MaxRetries:            DefaultMaxRetries,
		RetryDelay:            DefaultRetryDelay,
		MaxRetryDelay:         DefaultMaxRetryDelay,
		UseExponentialBackoff: true,
	}
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// SetRetry configures retry behavior
func (c *Client) SetRetry(maxRetries int, retryDelay time.Duration) {
	c.MaxRetries = maxRetries
	c.RetryDelay = retryDelay
}

// Health fetches the server's health report
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/api/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Devices fetches the server's device list
func (c *Client) Devices(ctx context.Context) (*DeviceListResponse, error) {
	var resp DeviceListResponse
	if err := c.get(ctx, "/api/devices", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Share binds a device for sharing and returns its updated state
func (c *Client) Share(ctx context.Context, busID string) (*devicestate.UsbDevice, error) {
	var device devicestate.UsbDevice
	if err := c.post(ctx, devicePath(busID, "share"), &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// Unshare unbinds a device and returns its updated state
func (c *Client) Unshare(ctx context.Context, busID string) (*devicestate.UsbDevice, error) {
	var device devicestate.UsbDevice
	if err := c.post(ctx, devicePath(busID, "unshare"), &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// Attach attaches a shared device to this machine. The server uses the
// address the request arrives from.
func (c *Client) Attach(ctx context.Context, busID string) (*AttachResponse, error) {
	var resp AttachResponse
	if err := c.post(ctx, devicePath(busID, "attach"), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Detach detaches a device from its client
func (c *Client) Detach(ctx context.Context, busID string) (*AttachResponse, error) {
	var resp AttachResponse
	if err := c.post(ctx, devicePath(busID, "detach"), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Watch streams device list updates to fn until ctx is cancelled or the
// connection fails. It returns nil on cancellation.
func (c *Client) Watch(ctx context.Context, fn func(EventMessage)) error {
	wsURL, err := c.eventsURL()
	if err != nil {
		return err
	}

	conn, resp, err := c.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return NewHTTPError(resp.StatusCode, "", "event stream rejected")
		}
		return ClassifyNetworkError(err, c.host())
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	})
	defer stop()

	for {
		var msg EventMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				return NewParseError("invalid event message", err)
			}
			return ClassifyNetworkError(err, c.host())
		}
		if msg.Type != EventTypeDevices {
			continue
		}
		fn(msg)
	}
}

func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.BaseURL + "/api/events")
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", c.BaseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// get performs a read with retries for retryable errors.
func (c *Client) get(ctx context.Context, path string, out any) error {
	var lastErr error
	currentDelay := c.RetryDelay

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(currentDelay):
			case <-ctx.Done():
				return ctx.Err()
			}

			if c.UseExponentialBackoff {
				currentDelay *= 2
				if currentDelay > c.MaxRetryDelay {
					currentDelay = c.MaxRetryDelay
				}
			}
		}

		err := c.do(ctx, http.MethodGet, path, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
	}

	return lastErr
}

// post sends a control request once. Control requests change device state
// and are not retried.
func (c *Client) post(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodPost, path, out)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ClassifyNetworkError(err, c.host())
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return ClassifyNetworkError(err, c.host())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Code != "" {
			return NewHTTPError(resp.StatusCode, errResp.Code, errResp.Message)
		}
		return NewHTTPError(resp.StatusCode, "", fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewParseError("failed to decode response", err)
	}
	return nil
}

// ServerHost returns the server's host name or IP without the port, the
// address a local usbip client imports devices from.
func (c *Client) ServerHost() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (c *Client) host() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL
	}
	return u.Host
}

func devicePath(busID, action string) string {
	return "/api/devices/" + url.PathEscape(busID) + "/" + action
}
