package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/api"
	"github.com/muurk/usbshare/internal/discovery"
	"github.com/muurk/usbshare/internal/tui"
	"github.com/muurk/usbshare/internal/usbip"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse servers and manage devices interactively",
	Long: `Launch an interactive browser.

Servers appear as their announcements arrive. Open a server to see its devices
update live and share, unshare, attach or detach them from the keyboard.
Attaching also imports the device on this machine with usbip, and detaching
releases it, unless --server-only is given.`,
	Example: `  # Browse everything on the network
  usbshare-client browse

  # Open one server directly
  usbshare-client browse --server 10.0.0.5`,
	RunE: runBrowse,
}

func init() {
	browseCmd.Flags().BoolVar(&serverOnly, "server-only", false, "Only update the server on attach and detach; do not run usbip")
	browseCmd.Flags().StringVar(&usbipPath, "usbip", usbip.DefaultConfig().Path, "Path to the local usbip binary")
	rootCmd.AddCommand(browseCmd)
}

func runBrowse(cmd *cobra.Command, args []string) error {
	registry, err := newRegistry(0)
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
		go browseMDNS(cmd.Context(), registry)
	}

	model := tui.NewAppModel(registry, events, func(s discovery.ServerRecord) tui.DeviceClient {
		return api.NewClientWithURL(s.BaseURL())
	})
	if !serverOnly {
		// Log output would draw over the alternate screen.
		model = model.WithImporter(usbip.NewClient(usbip.Config{Path: usbipPath}, zap.NewNop()))
	}

	if serverAddr != "" {
		host, port, err := parseServerAddr(serverAddr, apiPort)
		if err != nil {
			return err
		}
		model = model.WithServer(discovery.ServerRecord{
			ServerID:  uuid.Nil,
			Hostname:  host,
			IPAddress: host,
			APIPort:   uint16(port),
			IsOnline:  true,
		})
	}

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("browser error: %w", err)
	}
	return nil
}
