// Usbshare-server shares this machine's USB devices with clients on the LAN.
//
// It wraps usbipd: devices are listed and bound through the usbipd CLI, the
// current device list is served over an HTTP API, and the server announces
// itself by UDP broadcast so clients can find it without configuration.
//
// Usage:
//
//	usbshare-server serve [flags]
//
// See 'usbshare-server --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/usbshare/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "usbshare-server",
	Short: "USB-over-IP sharing server",
	Long: `Share USB devices attached to this machine with clients on the local network.

The server controls devices through usbipd, exposes them over an HTTP API and
announces itself by UDP broadcast so that 'usbshare-client discover' finds it.

For browsing and attaching devices from another machine, use 'usbshare-client'.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to server.yaml (default: OS config dir)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("usbshare-server %s (commit: %s)\n", version.Version, version.Commit)
	},
}
