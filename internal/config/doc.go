// Package config manages the USB server configuration file.
//
// The file is YAML and lives in the platform configuration directory:
//   - Linux: $XDG_CONFIG_HOME/usbshare/server.yaml or $HOME/.config/usbshare/server.yaml
//   - macOS: $HOME/.config/usbshare/server.yaml
//   - Windows: %LOCALAPPDATA%\usbshare\server.yaml
//
// A missing file yields Default(). LoadOrInit additionally generates a
// server ID on first run and writes it back so the ID announced on the
// network stays stable across restarts.
//
// # Usage Example
//
//	cfg, err := config.LoadOrInit("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.BroadcastInterval())
//
// # Thread Safety
//
// Saves are serialized by a package mutex and written atomically via a
// temporary file and rename.
package config
