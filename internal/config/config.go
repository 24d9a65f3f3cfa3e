package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the configuration file format version.
const CurrentVersion = 1

const (
	DefaultAPIPort                  = 50051
	DefaultDiscoveryPort            = 50050
	DefaultBroadcastIntervalSeconds = 5
	DefaultClientTimeoutSeconds     = 30
	DefaultStalenessSeconds         = 5
	DefaultRefreshIntervalSeconds   = 10
	DefaultLogLevel                 = "info"

	minBroadcastIntervalSeconds = 1
	maxBroadcastIntervalSeconds = 60
)

// ServerConfig is the server configuration file.
type ServerConfig struct {
	Version int `yaml:"version"`

	// ServerID is the UUID announced on the network. Generated on first run.
	ServerID string `yaml:"server_id,omitempty"`

	// ServerName is the announced display name. Empty means the hostname.
	ServerName string `yaml:"server_name,omitempty"`

	APIPort       int `yaml:"api_port"`
	DiscoveryPort int `yaml:"discovery_port"`

	// BroadcastIntervalSeconds is the announcement period (1-60)
	BroadcastIntervalSeconds int `yaml:"broadcast_interval_seconds"`

	// ClientTimeoutSeconds is how long clients wait before marking a server offline
	ClientTimeoutSeconds int `yaml:"client_timeout_seconds"`

	// SubnetBroadcast also announces to each interface's directed broadcast address
	SubnetBroadcast bool `yaml:"subnet_broadcast"`

	// MDNS also advertises the server over mDNS
	MDNS bool `yaml:"mdns"`

	// StalenessSeconds is the maximum device list age served without refreshing
	StalenessSeconds int `yaml:"staleness_seconds"`

	// RefreshIntervalSeconds is the background device refresh period
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds"`

	// UsbipdPath overrides the usbipd binary location
	UsbipdPath string `yaml:"usbipd_path,omitempty"`

	AutoShareDevices []AutoShareDevice `yaml:"auto_share_devices,omitempty"`

	LogLevel string `yaml:"log_level"`
}

// AutoShareDevice selects a device to share at startup, by bus ID or by a
// "VID:PID" filter such as "046D:*".
type AutoShareDevice struct {
	BusID               string `yaml:"bus_id,omitempty"`
	VendorProductFilter string `yaml:"vendor_product_filter,omitempty"`
	AutoShare           bool   `yaml:"auto_share"`
}

// Default returns a configuration with default values and no server ID.
func Default() *ServerConfig {
	return &ServerConfig{
		Version:                  CurrentVersion,
		APIPort:                  DefaultAPIPort,
		DiscoveryPort:            DefaultDiscoveryPort,
		BroadcastIntervalSeconds: DefaultBroadcastIntervalSeconds,
		ClientTimeoutSeconds:     DefaultClientTimeoutSeconds,
		StalenessSeconds:         DefaultStalenessSeconds,
		RefreshIntervalSeconds:   DefaultRefreshIntervalSeconds,
		LogLevel:                 DefaultLogLevel,
	}
}

// applyDefaults fills zero values left out of a hand-edited file.
func (c *ServerConfig) applyDefaults() {
	d := Default()
	if c.APIPort == 0 {
		c.APIPort = d.APIPort
	}
	if c.DiscoveryPort == 0 {
		c.DiscoveryPort = d.DiscoveryPort
	}
	if c.BroadcastIntervalSeconds == 0 {
		c.BroadcastIntervalSeconds = d.BroadcastIntervalSeconds
	}
	if c.ClientTimeoutSeconds == 0 {
		c.ClientTimeoutSeconds = d.ClientTimeoutSeconds
	}
	if c.StalenessSeconds == 0 {
		c.StalenessSeconds = d.StalenessSeconds
	}
	if c.RefreshIntervalSeconds == 0 {
		c.RefreshIntervalSeconds = d.RefreshIntervalSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate checks ranges and returns every problem found.
func (c *ServerConfig) Validate() error {
	var errs []error

	if c.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion))
	}
	if c.ServerID != "" {
		if _, err := uuid.Parse(c.ServerID); err != nil {
			errs = append(errs, fmt.Errorf("server_id %q is not a UUID", c.ServerID))
		}
	}
	if !validPort(c.APIPort) {
		errs = append(errs, fmt.Errorf("api_port %d out of range (1-65535)", c.APIPort))
	}
	if !validPort(c.DiscoveryPort) {
		errs = append(errs, fmt.Errorf("discovery_port %d out of range (1-65535)", c.DiscoveryPort))
	}
	if c.APIPort == c.DiscoveryPort {
		errs = append(errs, fmt.Errorf("api_port and discovery_port must differ (both %d)", c.APIPort))
	}
	if c.BroadcastIntervalSeconds < minBroadcastIntervalSeconds || c.BroadcastIntervalSeconds > maxBroadcastIntervalSeconds {
		errs = append(errs, fmt.Errorf("broadcast_interval_seconds %d out of range (%d-%d)",
			c.BroadcastIntervalSeconds, minBroadcastIntervalSeconds, maxBroadcastIntervalSeconds))
	}
	if c.ClientTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("client_timeout_seconds must be positive"))
	}
	if c.StalenessSeconds <= 0 {
		errs = append(errs, fmt.Errorf("staleness_seconds must be positive"))
	}
	if c.RefreshIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("refresh_interval_seconds must be positive"))
	}
	for i, d := range c.AutoShareDevices {
		if d.BusID == "" && d.VendorProductFilter == "" {
			errs = append(errs, fmt.Errorf("auto_share_devices[%d] needs bus_id or vendor_product_filter", i))
		}
		if d.VendorProductFilter != "" && !strings.Contains(d.VendorProductFilter, ":") {
			errs = append(errs, fmt.Errorf("auto_share_devices[%d] filter %q is not VID:PID", i, d.VendorProductFilter))
		}
	}

	return errors.Join(errs...)
}

// Warnings returns advisory problems that do not stop the server.
func (c *ServerConfig) Warnings() []string {
	var warnings []string
	if c.ClientTimeoutSeconds < 5*c.BroadcastIntervalSeconds {
		warnings = append(warnings, fmt.Sprintf(
			"client_timeout_seconds (%d) is less than 5x broadcast_interval_seconds (%d); servers may flap offline",
			c.ClientTimeoutSeconds, c.BroadcastIntervalSeconds))
	}
	return warnings
}

// EnsureServerID generates a server ID if none is set and reports whether it
// did.
func (c *ServerConfig) EnsureServerID() bool {
	if c.ServerID != "" {
		return false
	}
	c.ServerID = uuid.NewString()
	return true
}

// ID returns the parsed server ID.
func (c *ServerConfig) ID() (uuid.UUID, error) {
	return uuid.Parse(c.ServerID)
}

// Name returns the announced name, falling back to the hostname.
func (c *ServerConfig) Name() string {
	if c.ServerName != "" {
		return c.ServerName
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "usbshare-server"
	}
	return hostname
}

func (c *ServerConfig) BroadcastInterval() time.Duration {
	return time.Duration(c.BroadcastIntervalSeconds) * time.Second
}

func (c *ServerConfig) ClientTimeout() time.Duration {
	return time.Duration(c.ClientTimeoutSeconds) * time.Second
}

func (c *ServerConfig) Staleness() time.Duration {
	return time.Duration(c.StalenessSeconds) * time.Second
}

func (c *ServerConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// EnabledAutoShare returns the auto-share entries with AutoShare set.
func (c *ServerConfig) EnabledAutoShare() []AutoShareDevice {
	var result []AutoShareDevice
	for _, d := range c.AutoShareDevices {
		if d.AutoShare {
			result = append(result, d)
		}
	}
	return result
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}
