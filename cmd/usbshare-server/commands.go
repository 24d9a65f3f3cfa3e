package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/usbshare/internal/config"
	"github.com/muurk/usbshare/internal/logging"
	"github.com/muurk/usbshare/internal/ui"
	"github.com/muurk/usbshare/internal/urls"
	"github.com/muurk/usbshare/internal/usbipd"
)

var devicesJSON bool

// devicesCmd lists local devices straight from usbipd, without a running server.
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List USB devices on this machine",
	Long: `List the USB devices usbipd reports on this machine and their sharing state.

This calls usbipd directly and does not need a running server.`,
	Example: `  usbshare-server devices
  usbshare-server devices --json`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "Print JSON instead of a table")
}

func runDevices(cmd *cobra.Command, args []string) error {
	if err := logging.InitializeFromEnv(); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	usbipdConfig := usbipd.DefaultConfig()
	if cfg.UsbipdPath != "" {
		usbipdConfig.Path = cfg.UsbipdPath
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), usbipdConfig.Timeout)
	defer cancel()

	devices, err := usbipd.NewClient(usbipdConfig, logging.Named("usbipd")).ListDevices(ctx)
	if err != nil {
		fmt.Println(ui.NewFailureResult("Could not list devices", err, []string{
			"Check that usbipd is installed and on PATH: " + urls.UsbipdReleases,
			"Use --config with usbipd_path to point at the executable",
		}).Render())
		return fmt.Errorf("usbipd state failed: %w", err)
	}

	if devicesJSON {
		data, err := json.MarshalIndent(devices, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	width := ui.GetTerminalWidth()
	fmt.Println(ui.NewHeader("Local USB Devices", "usbshare-server devices",
		ui.Param{Key: "Devices", Value: strconv.Itoa(len(devices))},
	).SetWidth(width).Render())
	fmt.Println()
	fmt.Println(ui.DeviceTable(devices, width))
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialise the server configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Print(string(data))
		for _, w := range cfg.Warnings() {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		return cfg.Validate()
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			if path, err = config.GetConfigPath(); err != nil {
				return err
			}
		}
		fmt.Println(path)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with defaults and a new server ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrInit(configPath)
		if err != nil {
			return err
		}
		fmt.Println(ui.NewSuccessResult("Configuration ready",
			ui.Param{Key: "Server ID", Value: cfg.ServerID},
			ui.Param{Key: "Name", Value: cfg.Name()},
			ui.Param{Key: "API port", Value: strconv.Itoa(cfg.APIPort)},
			ui.Param{Key: "Interval", Value: cfg.BroadcastInterval().String()},
		).Render())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
}
