package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/logging"
)

const (
	// ServiceType is the mDNS service type USB servers advertise
	ServiceType = "_usbshare._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultBrowseTimeout is the default duration of an mDNS browse
	DefaultBrowseTimeout = 3 * time.Second

	txtKeyID      = "id"
	txtKeyVersion = "version"
)

// Observer receives announcements found by a browse.
// *Registry satisfies it.
type Observer interface {
	Observe(a ServerAnnouncement, ip string)
}

// Advertiser publishes this server over mDNS.
type Advertiser struct {
	server *zeroconf.Server
	logger *zap.Logger
}

// Advertise registers the server as an mDNS service. The UDP broadcast stays
// authoritative; mDNS only helps clients on networks that filter broadcasts.
func Advertise(a ServerAnnouncement, logger *zap.Logger) (*Advertiser, error) {
	if logger == nil {
		logger = logging.Named("mdns")
	}

	text := []string{
		txtKeyID + "=" + a.ID.String(),
		txtKeyVersion + "=" + a.Version,
	}
	server, err := zeroconf.Register(a.Name, ServiceType, ServiceDomain, int(a.APIPort), text, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logger.Info("mDNS service registered",
		zap.String("instance", a.Name),
		zap.String("service", ServiceType),
		zap.Uint16("port", a.APIPort),
	)
	return &Advertiser{server: server, logger: logger}, nil
}

// Shutdown withdraws the mDNS registration.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.logger.Info("mDNS service withdrawn")
}

// Browser looks up USB servers over mDNS.
type Browser struct {
	// Timeout is the maximum time to browse
	Timeout time.Duration

	logger *zap.Logger
}

// NewBrowser creates an mDNS browser with default settings
func NewBrowser(logger *zap.Logger) *Browser {
	if logger == nil {
		logger = logging.Named("mdns")
	}
	return &Browser{
		Timeout: DefaultBrowseTimeout,
		logger:  logger,
	}
}

// Browse queries the network until the timeout or ctx expires and hands
// every server found to observer. It returns how many entries were accepted.
func (b *Browser) Browse(ctx context.Context, observer Observer) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return 0, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	found := 0
	for {
		select {
		case <-ctx.Done():
			return found, nil
		case entry, ok := <-entries:
			if !ok {
				return found, nil
			}
			announcement, ip, ok := parseServiceEntry(entry)
			if !ok {
				b.logger.Debug("Ignoring mDNS entry", zap.String("instance", entry.Instance))
				continue
			}
			found++
			observer.Observe(announcement, ip)
		}
	}
}

// parseServiceEntry converts a zeroconf entry into an announcement and the
// address to reach it on. ok is false when the entry lacks a server ID or an
// address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) (ServerAnnouncement, string, bool) {
	if entry == nil || entry.Port < 1 || entry.Port > 65535 {
		return ServerAnnouncement{}, "", false
	}

	txt := parseTXT(entry.Text)
	id, err := uuid.Parse(txt[txtKeyID])
	if err != nil {
		return ServerAnnouncement{}, "", false
	}

	// Prefer IPv4
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return ServerAnnouncement{}, "", false
	}

	name := entry.Instance
	if name == "" {
		name = strings.TrimSuffix(strings.TrimSuffix(entry.HostName, "."), ".local")
	}

	return NewAnnouncement(id, name, uint16(entry.Port), txt[txtKeyVersion]), ip, true
}

// parseTXT splits "key=value" TXT records. Keys without a value map to "".
func parseTXT(records []string) map[string]string {
	result := make(map[string]string, len(records))
	for _, record := range records {
		key, value, _ := strings.Cut(record, "=")
		result[key] = value
	}
	return result
}
