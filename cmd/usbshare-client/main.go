// Usbshare-client finds usbshare servers on the LAN and manages their devices.
//
// Servers are found by listening for their UDP broadcast announcements (and
// optionally mDNS). Device commands talk to a server's HTTP API; without
// --server the only server discovered on the network is used.
//
// Usage:
//
//	usbshare-client discover
//	usbshare-client devices [--server 10.0.0.5]
//	usbshare-client attach 1-1
//
// See 'usbshare-client --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/usbshare/internal/logging"
	"github.com/muurk/usbshare/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "usbshare-client",
	Short: "USB-over-IP sharing client",
	Long: `Discover usbshare servers on the local network and share, attach or
detach their USB devices.

Logging is silent unless USBSHARE_LOG_LEVEL is set (debug, info, warn, error).`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitializeFromEnv()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(unshareCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(detachCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("usbshare-client %s (commit: %s)\n", version.Version, version.Commit)
	},
}
