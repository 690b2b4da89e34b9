package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDir returns the platform-specific data directory, or the value of
// RAWINPUTD_DATA_DIR when set.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/rawinputd/
//   - Linux:   $XDG_DATA_HOME/rawinputd/ or ~/.local/share/rawinputd/
//   - Windows: %APPDATA%\rawinputd\
func DataDir() string {
	if dir := os.Getenv("RAWINPUTD_DATA_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "rawinputd")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "rawinputd")
		}
		return filepath.Join(homeDir(), "rawinputd")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "rawinputd")
		}
		return filepath.Join(homeDir(), ".local", "share", "rawinputd")
	}
}

// ConfigDir returns the platform-specific config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return DataDir()
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "rawinputd")
		}
		return filepath.Join(homeDir(), ".config", "rawinputd")
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return home
}
