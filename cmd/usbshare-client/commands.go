package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/usbshare/internal/api"
	"github.com/muurk/usbshare/internal/devicestate"
	"github.com/muurk/usbshare/internal/discovery"
	"github.com/muurk/usbshare/internal/logging"
	"github.com/muurk/usbshare/internal/ui"
	"github.com/muurk/usbshare/internal/urls"
	"github.com/muurk/usbshare/internal/usbip"
)

// Server selection flags
var (
	serverAddr string
	serverName string
	apiPort    int
	jsonOutput bool
	assumeYes  bool

	// Local usbip flags for attach and detach
	serverOnly bool
	usbipPath  string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&serverAddr, "server", "s", "", "Server address as ip or ip:port (default: discover)")
	pf.StringVar(&serverName, "server-name", "", "Pick the discovered server whose name contains this text")
	pf.IntVar(&apiPort, "port", api.DefaultPort, "Server API port when --server has none")

	for _, cmd := range []*cobra.Command{devicesCmd, healthCmd, shareCmd, unshareCmd, attachCmd, detachCmd} {
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of formatted output")
	}
	unshareCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before unsharing an attached device")

	for _, cmd := range []*cobra.Command{attachCmd, detachCmd} {
		cmd.Flags().BoolVar(&serverOnly, "server-only", false, "Only update the server; do not run usbip on this machine")
		cmd.Flags().StringVar(&usbipPath, "usbip", usbip.DefaultConfig().Path, "Path to the local usbip binary")
	}
}

// localImporter returns the usbip client for this machine, or nil with
// --server-only.
func localImporter() usbip.Importer {
	if serverOnly {
		return nil
	}
	return usbip.NewClient(usbip.Config{Path: usbipPath}, logging.Named("usbip"))
}

// parseServerAddr splits "ip" or "ip:port" into host and port.
func parseServerAddr(addr string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port given; a bare IPv6 address also ends up here.
		return strings.Trim(addr, "[]"), defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host in %q", addr)
	}
	return host, port, nil
}

// resolveClient returns an API client for --server, or for the one server
// discovered on the network.
func resolveClient(ctx context.Context) (*api.Client, error) {
	if serverAddr != "" {
		host, port, err := parseServerAddr(serverAddr, apiPort)
		if err != nil {
			return nil, err
		}
		return api.NewClient(host, port), nil
	}

	wait := time.Duration(discoverWait) * time.Second
	servers, err := discoverServers(ctx, wait, func(online []discovery.ServerRecord) bool {
		return len(filterServers(online, serverName)) > 0
	})
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	servers = filterServers(servers, serverName)

	switch len(servers) {
	case 0:
		return nil, fmt.Errorf("no usbshare server found within %s; use --server or a longer --wait", wait)
	case 1:
		return api.NewClientWithURL(servers[0].BaseURL()), nil
	default:
		names := make([]string, 0, len(servers))
		for _, s := range servers {
			names = append(names, fmt.Sprintf("%s (%s)", s.Hostname, s.IPAddress))
		}
		return nil, fmt.Errorf("found %d servers: %s; pick one with --server or --server-name",
			len(servers), strings.Join(names, ", "))
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// reportFailure renders err with troubleshooting hints and returns it.
func reportFailure(title string, err error) error {
	if !jsonOutput {
		hints := api.GetTroubleshootingHints(err)
		if hints == nil {
			hints = usbip.TroubleshootingHints(err)
		}
		fmt.Println(ui.NewFailureResult(title, errors.New(api.GetShortErrorMessage(err)), hints).
			SetWidth(ui.GetTerminalWidth()).Render())
	}
	return err
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List a server's USB devices",
	Example: `  usbshare-client devices
  usbshare-client devices --server 10.0.0.5:50051 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		client, err := resolveClient(ctx)
		if err != nil {
			return err
		}
		resp, err := client.Devices(ctx)
		if err != nil {
			return reportFailure("Could not list devices", err)
		}
		if jsonOutput {
			return printJSON(resp)
		}

		width := ui.GetTerminalWidth()
		shared, attached := devicestate.Counts(resp.Devices)
		params := []ui.Param{
			{Key: "Server", Value: fmt.Sprintf("%s (%s:%d)", resp.ServerInfo.Hostname, resp.ServerInfo.IPAddress, resp.ServerInfo.APIPort)},
			{Key: "Devices", Value: strconv.Itoa(len(resp.Devices))},
			{Key: "Shared", Value: strconv.Itoa(shared)},
			{Key: "Attached", Value: strconv.Itoa(attached)},
		}
		fmt.Println(ui.NewHeader("USB Devices", "usbshare-client devices", params...).SetWidth(width).Render())
		fmt.Println()
		fmt.Println(ui.DeviceTable(resp.Devices, width))
		if resp.Stale {
			fmt.Println()
			fmt.Println(ui.NewWarningResult("Device list may be out of date",
				ui.Param{Key: "Reason", Value: "the server could not query usbipd and is showing its last good list"},
			).SetWidth(width).Render())
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show a server's health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		client, err := resolveClient(ctx)
		if err != nil {
			return err
		}
		health, err := client.Health(ctx)
		if err != nil {
			return reportFailure("Health check failed", err)
		}
		if jsonOutput {
			return printJSON(health)
		}

		usbipdState := "not available"
		if health.UsbipdAvailable {
			usbipdState = strings.TrimSpace("available " + health.UsbipdVersion)
		}
		details := []ui.Param{
			{Key: "Server", Value: health.Hostname},
			{Key: "Version", Value: health.Version},
			{Key: "usbipd", Value: usbipdState},
			{Key: "Devices", Value: fmt.Sprintf("%d (%d shared, %d attached)", health.DeviceCount, health.SharedDeviceCount, health.AttachedDeviceCount)},
		}
		var result *ui.Result
		if health.Status == api.StatusOK {
			result = ui.NewSuccessResult("Server is healthy", details...)
		} else {
			result = ui.NewWarningResult("Server is degraded", details...)
		}
		if health.Stale {
			result.AddDetail("Device list", "stale")
		}
		fmt.Println(result.SetWidth(ui.GetTerminalWidth()).Render())
		return nil
	},
}

// deviceAction runs one control request against the resolved server.
type deviceAction func(ctx context.Context, client *api.Client, busID string) (any, *devicestate.UsbDevice, error)

func runDeviceAction(cmd *cobra.Command, busID, verb string, action deviceAction) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	client, err := resolveClient(ctx)
	if err != nil {
		return err
	}
	return doDeviceAction(ctx, client, busID, verb, action)
}

func doDeviceAction(ctx context.Context, client *api.Client, busID, verb string, action deviceAction) error {
	out, device, err := action(ctx, client, busID)
	if err != nil {
		return reportFailure(fmt.Sprintf("Could not %s %s", verb, busID), err)
	}
	if jsonOutput {
		return printJSON(out)
	}

	result := ui.NewSuccessResult(fmt.Sprintf("%s %s", strings.ToUpper(verb[:1])+verb[1:], busID))
	if device != nil {
		result.AddDetail("Device", device.Description)
		result.AddDetail("VID:PID", device.VIDPID())
		result.AddDetail("Shared", strconv.FormatBool(device.IsShared))
		if device.IsAttached {
			result.AddDetail("Attached to", device.AttachedClientIP)
		}
	}
	fmt.Println(result.SetWidth(ui.GetTerminalWidth()).Render())
	return nil
}

var shareCmd = &cobra.Command{
	Use:   "share <busId>",
	Short: "Share a device so clients can attach it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeviceAction(cmd, args[0], "share", func(ctx context.Context, c *api.Client, busID string) (any, *devicestate.UsbDevice, error) {
			d, err := c.Share(ctx, busID)
			return d, d, err
		})
	},
}

var unshareCmd = &cobra.Command{
	Use:   "unshare <busId>",
	Short: "Stop sharing a device",
	Long: `Stop sharing a device. If a client has the device attached it is
disconnected; you are asked to confirm unless --yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		client, err := resolveClient(ctx)
		if err != nil {
			return err
		}
		busID := args[0]

		if !assumeYes && !jsonOutput {
			if resp, err := client.Devices(ctx); err == nil {
				for _, d := range resp.Devices {
					if d.BusID == busID && d.IsAttached {
						warnings := []string{fmt.Sprintf("%s is attached to %s and will be disconnected", d, d.AttachedClientIP)}
						if !ui.Confirm(os.Stdin, os.Stdout, "Unshare attached device", warnings, "Unshare anyway?") {
							fmt.Println("Cancelled.")
							return nil
						}
					}
				}
			}
		}

		return doDeviceAction(ctx, client, busID, "unshare", func(ctx context.Context, c *api.Client, busID string) (any, *devicestate.UsbDevice, error) {
			d, err := c.Unshare(ctx, busID)
			return d, d, err
		})
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <busId>",
	Short: "Attach a shared device to this machine",
	Long: `Ask the server to attach a shared device to this machine, then import
it with the local usbip tool (usbip attach -r <server> -b <busId>). The server
records the address this request came from as the attached client.

If the local import fails the server attach is undone. Use --server-only to
skip the local step and run usbip yourself.

Connecting the device on the client side: ` + urls.ConnectUSBGuide,
	Example: `  sudo usbshare-client attach 1-2 --server 10.0.0.5
  usbshare-client attach 1-2 --server-only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeviceAction(cmd, args[0], "attach", func(ctx context.Context, c *api.Client, busID string) (any, *devicestate.UsbDevice, error) {
			resp, err := usbip.AttachDevice(ctx, c, localImporter(), c.ServerHost(), busID)
			if err != nil {
				return nil, nil, err
			}
			return resp, resp.Device, nil
		})
	},
}

var detachCmd = &cobra.Command{
	Use:   "detach <busId>",
	Short: "Detach a device from this machine and its server",
	Long: `Release the device's local usbip port (found with 'usbip port'), then
ask the server to detach it. A device that was not imported on this machine
is still detached on the server. Use --server-only to skip the local step.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeviceAction(cmd, args[0], "detach", func(ctx context.Context, c *api.Client, busID string) (any, *devicestate.UsbDevice, error) {
			resp, err := usbip.DetachDevice(ctx, c, localImporter(), c.ServerHost(), busID)
			if err != nil {
				return nil, nil, err
			}
			return resp, resp.Device, nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a server's device list as it changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		client, err := resolveClient(ctx)
		if err != nil {
			return err
		}

		fmt.Println("Watching device changes (Ctrl-C to stop)...")
		err = client.Watch(ctx, func(msg api.EventMessage) {
			width := ui.GetTerminalWidth()
			fmt.Println()
			fmt.Println(ui.RenderHorizontalDivider(width, "─"))
			fmt.Printf("%s  %d devices\n", msg.RefreshedAt.Local().Format("15:04:05"), len(msg.Devices))
			fmt.Println(ui.DeviceTable(msg.Devices, width))
		})
		if err != nil {
			return reportFailure("Event stream closed", err)
		}
		return nil
	},
}
