package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/logging"
)

const (
	// DefaultTimeout is how long a server may stay silent before it is marked offline
	DefaultTimeout = 30 * time.Second

	// DefaultSweepInterval is how often the registry checks for silent servers
	DefaultSweepInterval = 5 * time.Second

	// DefaultReadTimeout bounds each socket read so the receive loop observes Stop
	DefaultReadTimeout = 1 * time.Second

	defaultSubscriberBuffer = 16
)

// EventKind identifies a registry state transition.
type EventKind int

const (
	// EventDiscovered fires the first time a server ID is seen
	EventDiscovered EventKind = iota
	// EventReconnected fires when an offline server announces again
	EventReconnected
	// EventOffline fires when a server exceeds the liveness timeout
	EventOffline
)

// String returns a human-readable name for the event kind
func (k EventKind) String() string {
	switch k {
	case EventDiscovered:
		return "discovered"
	case EventReconnected:
		return "reconnected"
	case EventOffline:
		return "offline"
	default:
		return fmt.Sprintf("EventKind(%d)", k)
	}
}

// Event is delivered to subscribers on every state transition.
type Event struct {
	Kind   EventKind
	Server ServerRecord
}

// RegistryConfig holds the registry configuration
type RegistryConfig struct {
	// Port is the UDP port to listen on. Zero picks an ephemeral port.
	Port int

	// Timeout after which a silent server is marked offline
	Timeout time.Duration

	// SweepInterval between liveness checks
	SweepInterval time.Duration

	// ReadTimeout bounds each blocking read
	ReadTimeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultRegistryConfig returns a config listening on DefaultPort with the
// default timings.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Port:          DefaultPort,
		Timeout:       DefaultTimeout,
		SweepInterval: DefaultSweepInterval,
		ReadTimeout:   DefaultReadTimeout,
	}
}

// Registry listens for server announcements and tracks which servers are
// online. Records are keyed by server ID.
type Registry struct {
	config RegistryConfig
	logger *zap.Logger

	// notifyMu serializes state transitions with their notifications so
	// subscribers see events in transition order.
	notifyMu sync.Mutex

	mu      sync.RWMutex
	servers map[uuid.UUID]ServerRecord

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int

	lifecycleMu sync.Mutex
	conn        *net.UDPConn
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
}

// NewRegistry creates a registry. Zero durations take their defaults. A nil
// logger uses the global logger.
func NewRegistry(config RegistryConfig, logger *zap.Logger) (*Registry, error) {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("discovery port %d out of range", config.Port)
	}
	if config.Timeout < 0 || config.SweepInterval < 0 || config.ReadTimeout < 0 {
		return nil, fmt.Errorf("registry durations must be positive")
	}
	if config.Timeout <= config.SweepInterval {
		return nil, fmt.Errorf("timeout %s must exceed sweep interval %s", config.Timeout, config.SweepInterval)
	}
	if logger == nil {
		logger = logging.Named("registry")
	}

	return &Registry{
		config:      config,
		logger:      logger,
		servers:     make(map[uuid.UUID]ServerRecord),
		subscribers: make(map[int]chan Event),
	}, nil
}

// Start binds the discovery port and launches the receive and sweep loops.
// It returns a *BindError if the port cannot be bound.
func (r *Registry) Start() error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.running {
		return fmt.Errorf("registry already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	addr := fmt.Sprintf("0.0.0.0:%d", r.config.Port)
	conn, err := listenDiscovery(ctx, addr)
	if err != nil {
		cancel()
		r.logger.Error("Failed to bind discovery port", zap.String("addr", addr), zap.Error(err))
		return err
	}

	r.conn = conn
	r.cancel = cancel
	r.running = true

	r.wg.Add(2)
	go r.receiveLoop(ctx, conn)
	go r.sweepLoop(ctx)

	r.logger.Info("Discovery registry started",
		zap.String("addr", conn.LocalAddr().String()),
		zap.Duration("timeout", r.config.Timeout),
		zap.Duration("sweep_interval", r.config.SweepInterval),
	)
	return nil
}

// Stop halts both loops and releases the socket. It is idempotent and safe
// to call without Start.
func (r *Registry) Stop() {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if !r.running {
		return
	}

	r.cancel()
	_ = r.conn.SetReadDeadline(time.Now())
	r.wg.Wait()
	_ = r.conn.Close()

	r.conn = nil
	r.cancel = nil
	r.running = false
	r.logger.Info("Discovery registry stopped")
}

// LocalAddr returns the bound socket address, or nil when not running.
func (r *Registry) LocalAddr() *net.UDPAddr {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()
	if r.conn == nil {
		return nil
	}
	addr, _ := r.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

func (r *Registry) receiveLoop(ctx context.Context, conn *net.UDPConn) {
	defer r.wg.Done()

	// One extra byte so oversized datagrams are detected instead of truncated.
	buf := make([]byte, MaxAnnouncementSize+1)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout)); err != nil {
			r.logger.Debug("Failed to set read deadline", zap.Error(err))
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			r.logger.Warn("Discovery read failed", zap.Error(err))
			continue
		}

		r.handleDatagram(buf[:n], addr)
	}
}

func (r *Registry) handleDatagram(data []byte, addr *net.UDPAddr) {
	logging.LogDatagram(r.logger, "received", addr.String(), data)

	announcement, err := DecodeAnnouncement(data)
	if err != nil {
		r.logger.Debug("Dropped discovery datagram",
			zap.String("from", addr.String()),
			zap.Error(err),
		)
		return
	}

	r.Observe(announcement, sourceIP(addr))
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.config.Now())
		}
	}
}

// Observe records an announcement received from ip. The first announcement
// of an ID emits EventDiscovered, one from an offline server emits
// EventReconnected, and a refresh of an online server is silent.
func (r *Registry) Observe(a ServerAnnouncement, ip string) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	record := ServerRecord{
		ServerID:  a.ID,
		Hostname:  a.Name,
		IPAddress: ip,
		APIPort:   a.APIPort,
		Version:   a.Version,
		IsOnline:  true,
		LastSeen:  r.config.Now(),
	}

	r.mu.Lock()
	previous, known := r.servers[a.ID]
	r.servers[a.ID] = record
	r.mu.Unlock()

	switch {
	case !known:
		r.logger.Info("Discovered USB server",
			zap.String("server_id", a.ID.String()),
			zap.String("hostname", a.Name),
			zap.String("ip", ip),
			zap.Uint16("api_port", a.APIPort),
		)
		r.publish(Event{Kind: EventDiscovered, Server: record})
	case !previous.IsOnline:
		r.logger.Info("USB server back online",
			zap.String("server_id", a.ID.String()),
			zap.String("hostname", a.Name),
			zap.String("ip", ip),
		)
		r.publish(Event{Kind: EventReconnected, Server: record})
	}
}

// Sweep marks every online server last seen more than Timeout before now as
// offline. It returns the servers that transitioned.
func (r *Registry) Sweep(now time.Time) []ServerRecord {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	var expired []ServerRecord

	r.mu.Lock()
	for id, record := range r.servers {
		if record.IsOnline && now.Sub(record.LastSeen) > r.config.Timeout {
			record.IsOnline = false
			r.servers[id] = record
			expired = append(expired, record)
		}
	}
	r.mu.Unlock()

	sortRecords(expired)
	for _, record := range expired {
		r.logger.Info("USB server offline",
			zap.String("server_id", record.ServerID.String()),
			zap.String("hostname", record.Hostname),
			zap.Duration("silent_for", now.Sub(record.LastSeen)),
		)
		r.publish(Event{Kind: EventOffline, Server: record})
	}
	return expired
}

// Snapshot returns every known server, online or not, sorted by hostname
// then ID.
func (r *Registry) Snapshot() []ServerRecord {
	r.mu.RLock()
	result := make([]ServerRecord, 0, len(r.servers))
	for _, record := range r.servers {
		result = append(result, record)
	}
	r.mu.RUnlock()

	sortRecords(result)
	return result
}

// Online returns only the servers currently online.
func (r *Registry) Online() []ServerRecord {
	all := r.Snapshot()
	result := all[:0]
	for _, record := range all {
		if record.IsOnline {
			result = append(result, record)
		}
	}
	return result
}

// Get returns the record for id.
func (r *Registry) Get(id uuid.UUID) (ServerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.servers[id]
	return record, ok
}

// Clear removes every record. Servers that announce again are rediscovered.
func (r *Registry) Clear() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	r.servers = make(map[uuid.UUID]ServerRecord)
	r.mu.Unlock()
}

// Forget removes one record and reports whether it existed.
func (r *Registry) Forget(id uuid.UUID) bool {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.servers[id]
	delete(r.servers, id)
	return ok
}

// Subscribe returns a channel receiving every subsequent event and a cancel
// function that unsubscribes and closes the channel. When the channel is
// full, events for that subscriber are dropped.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subscribers, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (r *Registry) publish(event Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for id, ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			r.logger.Warn("Subscriber channel full, dropping event",
				zap.Int("subscriber", id),
				zap.String("event", event.Kind.String()),
				zap.String("server_id", event.Server.ServerID.String()),
			)
		}
	}
}

func sortRecords(records []ServerRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := strings.ToLower(records[i].Hostname), strings.ToLower(records[j].Hostname)
		if a != b {
			return a < b
		}
		return records[i].ServerID.String() < records[j].ServerID.String()
	})
}
