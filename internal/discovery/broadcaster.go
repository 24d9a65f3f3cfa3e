package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/logging"
)

const (
	// DefaultPort is the default UDP port for discovery broadcasts
	DefaultPort = 50050

	// DefaultBroadcastInterval is how often a server announces itself
	DefaultBroadcastInterval = 5 * time.Second

	// MinBroadcastInterval and MaxBroadcastInterval bound the configurable interval
	MinBroadcastInterval = 1 * time.Second
	MaxBroadcastInterval = 60 * time.Second
)

// AnnouncementSource produces the announcement to send on each tick.
type AnnouncementSource func() ServerAnnouncement

// BroadcasterConfig holds the broadcaster configuration
type BroadcasterConfig struct {
	ServerID uuid.UUID
	Name     string
	APIPort  uint16
	Version  string

	// Interval between announcements (1s-60s)
	Interval time.Duration

	// Port is the discovery port announcements are sent to
	Port int

	// SubnetBroadcast also sends to each interface's directed broadcast address
	SubnetBroadcast bool

	// Targets replaces the computed broadcast destinations when non-empty
	// (unicast seed peers on other subnets, or loopback in tests).
	Targets []*net.UDPAddr
}

// Validate checks the configuration ranges.
func (c BroadcasterConfig) Validate() error {
	if c.ServerID == uuid.Nil {
		return fmt.Errorf("server id must be set")
	}
	if c.APIPort == 0 {
		return fmt.Errorf("api port must be set")
	}
	if c.Interval < MinBroadcastInterval || c.Interval > MaxBroadcastInterval {
		return fmt.Errorf("broadcast interval %s out of range (%s-%s)", c.Interval, MinBroadcastInterval, MaxBroadcastInterval)
	}
	if len(c.Targets) == 0 && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("discovery port %d out of range", c.Port)
	}
	return nil
}

// Broadcaster periodically announces this server on the local network.
type Broadcaster struct {
	config BroadcasterConfig
	logger *zap.Logger

	mu     sync.RWMutex
	source AnnouncementSource

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewBroadcaster creates a broadcaster. A nil logger uses the global logger.
func NewBroadcaster(config BroadcasterConfig, logger *zap.Logger) (*Broadcaster, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid broadcaster config: %w", err)
	}
	if logger == nil {
		logger = logging.Named("broadcaster")
	}

	b := &Broadcaster{
		config: config,
		logger: logger,
	}
	b.source = b.staticAnnouncement
	return b, nil
}

// SetSource replaces the announcement source. The next tick picks it up.
func (b *Broadcaster) SetSource(source AnnouncementSource) {
	if source == nil {
		source = b.staticAnnouncement
	}
	b.mu.Lock()
	b.source = source
	b.mu.Unlock()
}

// BuildAnnouncement returns the announcement the next tick would send.
func (b *Broadcaster) BuildAnnouncement() ServerAnnouncement {
	b.mu.RLock()
	source := b.source
	b.mu.RUnlock()
	return source()
}

func (b *Broadcaster) staticAnnouncement() ServerAnnouncement {
	return NewAnnouncement(b.config.ServerID, b.config.Name, b.config.APIPort, b.config.Version)
}

// Stats returns the number of datagrams sent and failed so far.
func (b *Broadcaster) Stats() (sent, failed uint64) {
	return b.sent.Load(), b.failed.Load()
}

// Run announces until ctx is cancelled. It returns a *BindError if the send
// socket cannot be opened and nil on cancellation. Send failures are logged
// and retried on the next tick.
func (b *Broadcaster) Run(ctx context.Context) error {
	conn, err := listenBroadcast(ctx)
	if err != nil {
		b.logger.Error("Failed to open broadcast socket", zap.Error(err))
		return err
	}
	defer func() {
		_ = conn.Close()
		b.logger.Info("Discovery broadcaster stopped")
	}()

	b.logger.Info("Discovery broadcaster started",
		zap.String("server_id", b.config.ServerID.String()),
		zap.String("name", b.config.Name),
		zap.Int("discovery_port", b.config.Port),
		zap.Uint16("api_port", b.config.APIPort),
		zap.Duration("interval", b.config.Interval),
	)

	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	for {
		b.announce(ctx, conn)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// announce encodes the current announcement and sends one datagram per target.
func (b *Broadcaster) announce(ctx context.Context, conn *net.UDPConn) {
	announcement := b.BuildAnnouncement()
	data, err := EncodeAnnouncement(announcement)
	if err != nil {
		b.failed.Add(1)
		b.logger.Warn("Failed to encode announcement", zap.Error(err))
		return
	}

	for _, target := range b.targets() {
		if ctx.Err() != nil {
			return
		}
		if _, err := conn.WriteToUDP(data, target); err != nil {
			b.failed.Add(1)
			b.logger.Warn("Failed to send broadcast announcement",
				zap.String("target", target.String()),
				zap.Error(err),
			)
			continue
		}
		b.sent.Add(1)
		logging.LogDatagram(b.logger, "sent", target.String(), data)
	}

	b.logger.Debug("Broadcast sent",
		zap.String("name", announcement.Name),
		zap.Uint16("api_port", announcement.APIPort),
	)
}

func (b *Broadcaster) targets() []*net.UDPAddr {
	if len(b.config.Targets) > 0 {
		return b.config.Targets
	}
	return broadcastTargets(b.config.Port, b.config.SubnetBroadcast)
}
