package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/devicestate"
	"github.com/muurk/usbshare/internal/discovery"
	"github.com/muurk/usbshare/internal/logging"
)

const (
	// DefaultPort is the default HTTP API port
	DefaultPort = 50051

	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// DeviceService is the device state the API serves. *devicestate.Cache
// implements it.
type DeviceService interface {
	Devices(ctx context.Context) ([]devicestate.UsbDevice, error)
	Device(ctx context.Context, busID string) (devicestate.UsbDevice, error)
	Share(ctx context.Context, busID string) error
	Unshare(ctx context.Context, busID string) error
	Attach(ctx context.Context, busID, clientIP string) error
	Detach(ctx context.Context, busID string) error
	Subscribe(buffer int) (<-chan devicestate.Update, func())
}

// ToolStatus reports on the device-control tool for health checks. The tool
// counts as available when Version succeeds with a non-empty result.
// *usbipd.Client implements it.
type ToolStatus interface {
	Version(ctx context.Context) (string, error)
}

// Config holds the API server configuration
type Config struct {
	Host string
	Port int

	// ServerID, Hostname and Version are reported in ServerInfo and health
	ServerID uuid.UUID
	Hostname string
	Version  string

	// IPAddress is reported in ServerInfo. Defaults to the primary IPv4 address.
	IPAddress string

	ShutdownTimeout time.Duration
}

// Server serves the HTTP API
type Server struct {
	config  Config
	devices DeviceService
	tool    ToolStatus
	logger  *zap.Logger

	handler    http.Handler
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	streams  map[string]*websocket.Conn
	wg       sync.WaitGroup
}

// New creates an API server over devices. tool may be nil, in which case
// health reports usbipd as unavailable. A nil logger uses the global logger.
func New(config Config, devices DeviceService, tool ToolStatus, logger *zap.Logger) (*Server, error) {
	if devices == nil {
		return nil, fmt.Errorf("device service is required")
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("api port %d out of range", config.Port)
	}
	if config.Hostname == "" {
		config.Hostname, _ = os.Hostname()
	}
	if config.IPAddress == "" {
		if ip := discovery.PrimaryIPv4(); ip != nil {
			config.IPAddress = ip.String()
		}
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = logging.Named("api")
	}

	s := &Server{
		config:  config,
		devices: devices,
		tool:    tool,
		logger:  logger,
		streams: make(map[string]*websocket.Conn),
	}
	s.handler = logRequests(s.routes())
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("POST /api/devices/{busId}/share", s.handleShare)
	mux.HandleFunc("POST /api/devices/{busId}/unshare", s.handleUnshare)
	mux.HandleFunc("POST /api/devices/{busId}/attach", s.handleAttach)
	mux.HandleFunc("POST /api/devices/{busId}/detach", s.handleDetach)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	return mux
}

// Handler returns the API handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the listening address, or nil before Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully. It returns an error if the listener cannot be opened or the
// server fails.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = httpServer
	s.mu.Unlock()

	s.logger.Info("API server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("server_id", s.config.ServerID.String()),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	}
}

// Shutdown stops accepting requests, closes event streams and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")

	s.mu.Lock()
	httpServer := s.httpServer
	for addr, conn := range s.streams {
		s.logger.Debug("Closing event stream", zap.String("remote_addr", addr))
		_ = conn.Close()
	}
	s.mu.Unlock()

	var err error
	if httpServer != nil {
		if err = httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("Shutdown timeout, forcing close", zap.Error(err))
			_ = httpServer.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("API server stopped")
	case <-ctx.Done():
		s.logger.Warn("Event streams did not close before shutdown deadline")
	}
	return err
}

// ActiveStreams returns the number of open event streams
func (s *Server) ActiveStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func (s *Server) trackStream(addr string, conn *websocket.Conn) {
	s.mu.Lock()
	s.streams[addr] = conn
	s.mu.Unlock()
	logging.LogConnection(addr, "event_stream_opened")
}

func (s *Server) untrackStream(addr string) {
	s.mu.Lock()
	delete(s.streams, addr)
	s.mu.Unlock()
	logging.LogConnection(addr, "event_stream_closed")
}
