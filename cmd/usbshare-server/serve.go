package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/usbshare/internal/api"
	"github.com/muurk/usbshare/internal/config"
	"github.com/muurk/usbshare/internal/devicestate"
	"github.com/muurk/usbshare/internal/discovery"
	"github.com/muurk/usbshare/internal/logging"
	"github.com/muurk/usbshare/internal/usbipd"
	"github.com/muurk/usbshare/internal/version"
)

// Serve command flags. Zero values leave the config file setting in place.
var (
	serveHost            string
	serveAPIPort         int
	serveDiscoveryPort   int
	serveInterval        int
	serveName            string
	serveLogLevel        string
	serveUsbipdPath      string
	serveMDNS            bool
	serveSubnetBroadcast bool
	serveNoAutoShare     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the USB sharing server",
	Long: `Start the server: refresh the device list from usbipd in the background,
serve the HTTP API and broadcast announcements on the discovery port.

Settings come from server.yaml in the OS config directory; flags override the
file for this run only. A server ID is generated and saved on first start.`,
	Example: `  # Start with settings from server.yaml
  usbshare-server serve

  # Announce every 2 seconds with debug logging
  usbshare-server serve --interval 2 --log-level debug

  # Custom ports, also advertise over mDNS
  usbshare-server serve --api-port 8051 --discovery-port 8050 --mdns`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveHost, "host", "", "Address to bind the API to (empty = all interfaces)")
	f.IntVar(&serveAPIPort, "api-port", 0, "HTTP API port (default from config, 50051)")
	f.IntVar(&serveDiscoveryPort, "discovery-port", 0, "UDP discovery port (default from config, 50050)")
	f.IntVar(&serveInterval, "interval", 0, "Broadcast interval in seconds, 1-60 (default from config, 5)")
	f.StringVar(&serveName, "name", "", "Announced server name (default: hostname)")
	f.StringVar(&serveLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&serveUsbipdPath, "usbipd", "", "Path to the usbipd executable")
	f.BoolVar(&serveMDNS, "mdns", false, "Also advertise the server over mDNS")
	f.BoolVar(&serveSubnetBroadcast, "subnet-broadcast", false, "Also announce to each interface's subnet broadcast address")
	f.BoolVar(&serveNoAutoShare, "no-auto-share", false, "Skip sharing the devices listed in auto_share_devices")
}

// applyServeFlags overlays explicitly set flags on the loaded config.
func applyServeFlags(cmd *cobra.Command, cfg *config.ServerConfig) {
	flags := cmd.Flags()
	if flags.Changed("api-port") {
		cfg.APIPort = serveAPIPort
	}
	if flags.Changed("discovery-port") {
		cfg.DiscoveryPort = serveDiscoveryPort
	}
	if flags.Changed("interval") {
		cfg.BroadcastIntervalSeconds = serveInterval
	}
	if flags.Changed("name") {
		cfg.ServerName = serveName
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = serveLogLevel
	}
	if flags.Changed("usbipd") {
		cfg.UsbipdPath = serveUsbipdPath
	}
	if flags.Changed("mdns") {
		cfg.MDNS = serveMDNS
	}
	if flags.Changed("subnet-broadcast") {
		cfg.SubnetBroadcast = serveSubnetBroadcast
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrInit(configPath)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	serverID, err := cfg.ID()
	if err != nil {
		return fmt.Errorf("invalid server_id: %w", err)
	}

	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer logging.Sync()
	logger := logging.GetLogger()

	for _, w := range cfg.Warnings() {
		logger.Warn("Configuration warning", zap.String("warning", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	usbipdConfig := usbipd.DefaultConfig()
	if cfg.UsbipdPath != "" {
		usbipdConfig.Path = cfg.UsbipdPath
	}
	tool := usbipd.NewClient(usbipdConfig, logging.Named("usbipd"))
	if v, err := tool.Version(ctx); err != nil {
		logger.Warn("usbipd is not available; device list will be empty until it is installed", zap.Error(err))
	} else {
		logger.Info("Found usbipd", zap.String("version", v))
	}

	cache := devicestate.New(tool, devicestate.Config{Staleness: cfg.Staleness()}, logging.Named("devicestate"))

	scheduler, err := devicestate.NewScheduler(cache, cfg.RefreshInterval(), logging.Named("scheduler"))
	if err != nil {
		return err
	}

	name := cfg.Name()
	broadcaster, err := discovery.NewBroadcaster(discovery.BroadcasterConfig{
		ServerID:        serverID,
		Name:            name,
		APIPort:         uint16(cfg.APIPort),
		Version:         version.Version,
		Interval:        cfg.BroadcastInterval(),
		Port:            cfg.DiscoveryPort,
		SubnetBroadcast: cfg.SubnetBroadcast,
	}, logging.Named("broadcaster"))
	if err != nil {
		return err
	}

	apiServer, err := api.New(api.Config{
		Host:     serveHost,
		Port:     cfg.APIPort,
		ServerID: serverID,
		Hostname: name,
		Version:  version.Version,
	}, cache, tool, logging.Named("api"))
	if err != nil {
		return err
	}

	logger.Info("Starting usbshare server",
		zap.String("server_id", serverID.String()),
		zap.String("name", name),
		zap.Int("api_port", cfg.APIPort),
		zap.Int("discovery_port", cfg.DiscoveryPort),
		zap.Duration("broadcast_interval", cfg.BroadcastInterval()),
		zap.String("version", version.Version),
	)

	if cfg.MDNS {
		advertiser, err := discovery.Advertise(broadcaster.BuildAnnouncement(), logging.Named("mdns"))
		if err != nil {
			logger.Warn("mDNS advertisement failed; continuing with UDP broadcast only", zap.Error(err))
		}
		defer advertiser.Shutdown()
	}

	if !serveNoAutoShare {
		autoShare(ctx, cache, cfg, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return broadcaster.Run(gctx) })
	g.Go(func() error { return apiServer.Start(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}

	sent, failed := broadcaster.Stats()
	logger.Info("Server stopped", zap.Uint64("announcements_sent", sent), zap.Uint64("announcements_failed", failed))
	return nil
}

// autoShare shares the configured devices once at startup. Failures are
// logged; the server still starts.
func autoShare(ctx context.Context, cache *devicestate.Cache, cfg *config.ServerConfig, logger *zap.Logger) {
	entries := cfg.EnabledAutoShare()
	if len(entries) == 0 {
		return
	}

	rules := make([]usbipd.Rule, 0, len(entries))
	for _, e := range entries {
		rules = append(rules, usbipd.Rule{BusID: e.BusID, VIDPID: e.VendorProductFilter})
	}

	shareCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	shared, err := usbipd.AutoShare(shareCtx, cache, rules, logging.Named("autoshare"))
	if err != nil {
		logger.Warn("Some devices could not be auto-shared", zap.Error(err))
	}
	if len(shared) > 0 {
		logger.Info("Auto-shared devices", zap.Strings("bus_ids", shared))
	}
}
