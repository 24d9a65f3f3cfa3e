package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	}

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if !strings.Contains(configDir, "usbshare") {
		t.Errorf("GetConfigDir() = %v, should contain 'usbshare'", configDir)
	}

	switch runtime.GOOS {
	case "windows":
	case "darwin":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("macOS config dir should contain '.config', got: %v", configDir)
		}
	default:
		if configDir != filepath.Join("/tmp/xdg-test", "usbshare") {
			t.Errorf("GetConfigDir() = %v, want XDG_CONFIG_HOME based path", configDir)
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "server.yaml" {
		t.Errorf("GetConfigPath() should end with 'server.yaml', got: %v", configPath)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.APIPort != 50051 || cfg.DiscoveryPort != 50050 {
		t.Errorf("ports = %d/%d, want 50051/50050", cfg.APIPort, cfg.DiscoveryPort)
	}
	if cfg.BroadcastInterval() != 5*time.Second {
		t.Errorf("BroadcastInterval() = %v, want 5s", cfg.BroadcastInterval())
	}
	if cfg.ClientTimeout() != 30*time.Second {
		t.Errorf("ClientTimeout() = %v, want 30s", cfg.ClientTimeout())
	}
	if cfg.Staleness() != 5*time.Second {
		t.Errorf("Staleness() = %v, want 5s", cfg.Staleness())
	}
	if cfg.RefreshInterval() != 10*time.Second {
		t.Errorf("RefreshInterval() = %v, want 10s", cfg.RefreshInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
	if w := cfg.Warnings(); len(w) != 0 {
		t.Errorf("Default().Warnings() = %v, want none", w)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{"valid", func(c *ServerConfig) {}, ""},
		{"interval 1", func(c *ServerConfig) { c.BroadcastIntervalSeconds = 1 }, ""},
		{"interval 60", func(c *ServerConfig) { c.BroadcastIntervalSeconds = 60 }, ""},
		{"interval 0", func(c *ServerConfig) { c.BroadcastIntervalSeconds = 0 }, "broadcast_interval_seconds"},
		{"interval 61", func(c *ServerConfig) { c.BroadcastIntervalSeconds = 61 }, "broadcast_interval_seconds"},
		{"api port 0", func(c *ServerConfig) { c.APIPort = 0 }, "api_port"},
		{"discovery port too large", func(c *ServerConfig) { c.DiscoveryPort = 70000 }, "discovery_port"},
		{"same ports", func(c *ServerConfig) { c.APIPort = 50050 }, "must differ"},
		{"bad version", func(c *ServerConfig) { c.Version = 2 }, "version"},
		{"bad server id", func(c *ServerConfig) { c.ServerID = "nope" }, "server_id"},
		{"timeout zero", func(c *ServerConfig) { c.ClientTimeoutSeconds = 0 }, "client_timeout_seconds"},
		{"empty auto-share rule", func(c *ServerConfig) {
			c.AutoShareDevices = []AutoShareDevice{{AutoShare: true}}
		}, "auto_share_devices[0]"},
		{"bad filter", func(c *ServerConfig) {
			c.AutoShareDevices = []AutoShareDevice{{VendorProductFilter: "046D", AutoShare: true}}
		}, "VID:PID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := Default()
	cfg.ClientTimeoutSeconds = 10
	if w := cfg.Warnings(); len(w) != 1 {
		t.Errorf("Warnings() = %v, want one liveness warning", w)
	}
}

func TestEnsureServerID(t *testing.T) {
	cfg := Default()
	if !cfg.EnsureServerID() {
		t.Fatal("EnsureServerID() = false on a fresh config")
	}
	id, err := cfg.ID()
	if err != nil || id == uuid.Nil {
		t.Fatalf("ID() = %v, %v", id, err)
	}
	before := cfg.ServerID
	if cfg.EnsureServerID() || cfg.ServerID != before {
		t.Error("EnsureServerID() should keep an existing ID")
	}
}

func TestName(t *testing.T) {
	cfg := Default()
	cfg.ServerName = "HOST-A"
	if cfg.Name() != "HOST-A" {
		t.Errorf("Name() = %q, want HOST-A", cfg.Name())
	}
	cfg.ServerName = ""
	if cfg.Name() == "" {
		t.Error("Name() should fall back to the hostname")
	}
}

func TestEnabledAutoShare(t *testing.T) {
	cfg := Default()
	cfg.AutoShareDevices = []AutoShareDevice{
		{BusID: "1-1", AutoShare: true},
		{BusID: "1-2", AutoShare: false},
		{VendorProductFilter: "046D:*", AutoShare: true},
	}
	if got := cfg.EnabledAutoShare(); len(got) != 2 {
		t.Errorf("EnabledAutoShare() = %v, want 2 entries", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != DefaultAPIPort {
		t.Errorf("Load() of a missing file should return defaults, got %+v", cfg)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.yaml")

	cfg := Default()
	cfg.EnsureServerID()
	cfg.ServerName = "HOST-A"
	cfg.BroadcastIntervalSeconds = 3
	cfg.AutoShareDevices = []AutoShareDevice{{VendorProductFilter: "046D:*", AutoShare: true}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ServerID != cfg.ServerID || loaded.ServerName != "HOST-A" || loaded.BroadcastIntervalSeconds != 3 {
		t.Errorf("Load() = %+v, want saved values", loaded)
	}
	if len(loaded.AutoShareDevices) != 1 || loaded.AutoShareDevices[0].VendorProductFilter != "046D:*" {
		t.Errorf("AutoShareDevices = %+v", loaded.AutoShareDevices)
	}

	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "# usbshare server configuration") {
		t.Error("saved file is missing its header comment")
	}
}

func TestLoad_PartialFileGetsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("api_port: 6000\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != 6000 {
		t.Errorf("APIPort = %d, want 6000", cfg.APIPort)
	}
	if cfg.DiscoveryPort != DefaultDiscoveryPort || cfg.BroadcastIntervalSeconds != DefaultBroadcastIntervalSeconds {
		t.Errorf("missing fields should take defaults: %+v", cfg)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "api_port: [unterminated"},
		{"future version", "version: 9\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "server.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestLoadOrInit_PersistsServerID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")

	first, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit() error = %v", err)
	}
	if first.ServerID == "" {
		t.Fatal("LoadOrInit() did not generate a server ID")
	}

	second, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit() error = %v", err)
	}
	if second.ServerID != first.ServerID {
		t.Errorf("server ID changed across loads: %s -> %s", first.ServerID, second.ServerID)
	}
}
