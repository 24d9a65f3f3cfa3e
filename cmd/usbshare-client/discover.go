package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/discovery"
	"github.com/muurk/usbshare/internal/logging"
	"github.com/muurk/usbshare/internal/ui"
)

// Discovery flags, shared by every command that may need to find a server.
var (
	discoveryPort  int
	discoverWait   int
	clientTimeout  int
	discoverMDNS   bool
	discoverWatch  bool
	discoverJSON   bool
	discoverFilter string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVar(&discoveryPort, "discovery-port", discovery.DefaultPort, "UDP discovery port")
	pf.IntVar(&discoverWait, "wait", 6, "Seconds to listen for server announcements")
	pf.BoolVar(&discoverMDNS, "mdns", false, "Also browse for servers over mDNS")

	f := discoverCmd.Flags()
	f.IntVar(&clientTimeout, "client-timeout", int(discovery.DefaultTimeout/time.Second), "Seconds of silence before a server is shown offline (with --watch)")
	f.BoolVar(&discoverWatch, "watch", false, "Keep listening and print servers as they come and go")
	f.BoolVar(&discoverJSON, "json", false, "Print JSON instead of a table")
	f.StringVar(&discoverFilter, "name", "", "Only show servers whose name contains this text")
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find usbshare servers on the local network",
	Long: `Listen for usbshare server announcements and list the servers found.

Servers announce themselves every few seconds by UDP broadcast. With --watch
the command keeps listening and reports servers as they are discovered, go
offline and reconnect.`,
	Example: `  # List servers heard within 6 seconds
  usbshare-client discover

  # Also browse mDNS, listen longer
  usbshare-client discover --mdns --wait 10

  # Follow servers coming and going
  usbshare-client discover --watch`,
	RunE: runDiscover,
}

func newRegistry(timeout time.Duration) (*discovery.Registry, error) {
	config := discovery.DefaultRegistryConfig()
	config.Port = discoveryPort
	if timeout > 0 {
		config.Timeout = timeout
	}
	return discovery.NewRegistry(config, logging.Named("registry"))
}

// discoverServers listens for announcements for up to wait. If done is not
// nil it is consulted after each new server and may end the wait early.
func discoverServers(ctx context.Context, wait time.Duration, done func([]discovery.ServerRecord) bool) ([]discovery.ServerRecord, error) {
	registry, err := newRegistry(0)
	if err != nil {
		return nil, err
	}
	events, cancel := registry.Subscribe(0)
	defer cancel()

	if err := registry.Start(); err != nil {
		return nil, err
	}
	defer registry.Stop()

	ctx, stop := context.WithTimeout(ctx, wait)
	defer stop()

	if discoverMDNS {
		go browseMDNS(ctx, registry)
	}

	for {
		select {
		case <-ctx.Done():
			return registry.Online(), nil
		case e, ok := <-events:
			if !ok {
				return registry.Online(), nil
			}
			if e.Kind != discovery.EventOffline && done != nil && done(registry.Online()) {
				return registry.Online(), nil
			}
		}
	}
}

func browseMDNS(ctx context.Context, registry *discovery.Registry) {
	browser := discovery.NewBrowser(logging.Named("mdns"))
	if deadline, ok := ctx.Deadline(); ok {
		browser.Timeout = time.Until(deadline)
	}
	n, err := browser.Browse(ctx, registry)
	if err != nil {
		logging.Warn("mDNS browse failed", zap.Error(err))
		return
	}
	logging.Debug("mDNS browse finished", zap.Int("servers", n))
}

func filterServers(servers []discovery.ServerRecord, filter string) []discovery.ServerRecord {
	if filter == "" {
		return servers
	}
	var result []discovery.ServerRecord
	for _, s := range servers {
		if strings.Contains(strings.ToLower(s.Hostname), strings.ToLower(filter)) {
			result = append(result, s)
		}
	}
	return result
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if discoverWatch {
		return watchServers(ctx)
	}

	wait := time.Duration(discoverWait) * time.Second
	if !discoverJSON {
		fmt.Printf("Listening for usbshare servers on UDP %d (%s)...\n\n", discoveryPort, wait)
	}

	servers, err := discoverServers(ctx, wait, nil)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	servers = filterServers(servers, discoverFilter)

	if discoverJSON {
		if servers == nil {
			servers = []discovery.ServerRecord{}
		}
		data, err := json.MarshalIndent(servers, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	width := ui.GetTerminalWidth()
	fmt.Println(ui.NewHeader("USB Servers", "usbshare-client discover",
		ui.Param{Key: "Found", Value: strconv.Itoa(len(servers))},
		ui.Param{Key: "Port", Value: strconv.Itoa(discoveryPort)},
	).SetWidth(width).Render())
	fmt.Println()
	fmt.Println(ui.ServerTable(servers, time.Now(), width))

	if len(servers) == 0 {
		fmt.Println()
		fmt.Println(ui.NewWarningResult("No servers heard",
			ui.Param{Key: "Check", Value: "usbshare-server serve is running"},
			ui.Param{Key: "Check", Value: fmt.Sprintf("UDP %d is allowed through firewalls", discoveryPort)},
			ui.Param{Key: "Try", Value: "--wait 15 or --mdns"},
		).SetWidth(width).Render())
	}
	return nil
}

// watchServers prints registry events until ctx is cancelled.
func watchServers(ctx context.Context) error {
	registry, err := newRegistry(time.Duration(clientTimeout) * time.Second)
	if err != nil {
		return err
	}
	events, cancel := registry.Subscribe(64)
	defer cancel()

	if err := registry.Start(); err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	defer registry.Stop()

	if discoverMDNS {
		go browseMDNS(ctx, registry)
	}

	fmt.Printf("Watching for usbshare servers on UDP %d (Ctrl-C to stop)...\n\n", discoveryPort)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if len(filterServers([]discovery.ServerRecord{e.Server}, discoverFilter)) == 0 {
				continue
			}
			if discoverJSON {
				data, err := json.Marshal(map[string]any{"event": e.Kind.String(), "server": e.Server})
				if err != nil {
					return fmt.Errorf("failed to marshal JSON: %w", err)
				}
				fmt.Println(string(data))
				continue
			}
			fmt.Println(ui.FormatServerEvent(e, time.Now()))
		}
	}
}
