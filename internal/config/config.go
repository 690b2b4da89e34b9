// Package config handles configuration loading, validation, and management for rawinputd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"rawinputd/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Defaults shared with the command-line tools.
const (
	DefaultPort       = 9999
	DefaultMaxClients = 10
	DefaultHTTPAddr   = "127.0.0.1:9998"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Server configures the TCP broadcast listener.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// HTTP configures the optional WebSocket, metrics and device listing listener.
	HTTP HTTPConfig `toml:"http" json:"http" yaml:"http"`

	// Filter configures which raw records are dropped before broadcast.
	Filter FilterConfig `toml:"filter" json:"filter" yaml:"filter"`

	// Capture selects and configures the raw input source.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Catalog configures the SQLite device catalog.
	Catalog CatalogConfig `toml:"catalog" json:"catalog" yaml:"catalog"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// ServerConfig holds the TCP broadcast server configuration.
type ServerConfig struct {
	// Host is the bind address. Empty binds all interfaces.
	Host string `toml:"host" json:"host" yaml:"host"`

	// Port is the TCP port. Zero selects an ephemeral port.
	Port int `toml:"port" json:"port" yaml:"port"`

	// MaxClients is the number of simultaneously connected clients
	// (TCP and WebSocket combined).
	MaxClients int `toml:"max_clients" json:"max_clients" yaml:"max_clients"`
}

// HTTPConfig holds the optional HTTP listener configuration.
type HTTPConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" json:"addr" yaml:"addr"`

	// WebSocket exposes /stream.
	WebSocket bool `toml:"websocket" json:"websocket" yaml:"websocket"`
}

// FilterConfig mirrors normalize.Filter.
type FilterConfig struct {
	DropKeyReleases bool `toml:"drop_key_releases" json:"drop_key_releases" yaml:"drop_key_releases"`
	DropKeyRepeats  bool `toml:"drop_key_repeats" json:"drop_key_repeats" yaml:"drop_key_repeats"`
	DropIdleMouse   bool `toml:"drop_idle_mouse" json:"drop_idle_mouse" yaml:"drop_idle_mouse"`
}

// Capture sources.
const (
	SourceEvdev  = "evdev"
	SourceReplay = "replay"
	SourceNone   = "none"
)

// CaptureConfig holds raw input source configuration.
type CaptureConfig struct {
	// Source is "evdev", "replay" or "none".
	Source string `toml:"source" json:"source" yaml:"source"`

	// DevicesFile is the kernel device list parsed during enumeration.
	DevicesFile string `toml:"devices_file" json:"devices_file" yaml:"devices_file"`

	// InputDir holds the event device nodes and is watched for topology changes.
	InputDir string `toml:"input_dir" json:"input_dir" yaml:"input_dir"`

	// ReplayFile is the newline-delimited record script for the replay source.
	ReplayFile string `toml:"replay_file" json:"replay_file" yaml:"replay_file"`

	// ReplayIntervalMs paces replayed records. Zero replays as fast as possible.
	ReplayIntervalMs int `toml:"replay_interval_ms" json:"replay_interval_ms" yaml:"replay_interval_ms"`
}

// CatalogConfig holds device catalog configuration.
type CatalogConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file" or "both").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`

	// QueueSize bounds buffered file output; lines beyond it are dropped.
	QueueSize int `toml:"queue_size" json:"queue_size" yaml:"queue_size"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled exposes /metrics on the HTTP listener.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// StatusIntervalSec is the period of the status log line. Zero disables it.
	StatusIntervalSec int `toml:"status_interval_sec" json:"status_interval_sec" yaml:"status_interval_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Server: ServerConfig{
			Host:       "",
			Port:       DefaultPort,
			MaxClients: DefaultMaxClients,
		},
		HTTP: HTTPConfig{
			Enabled:   false,
			Addr:      DefaultHTTPAddr,
			WebSocket: true,
		},
		Filter: FilterConfig{
			DropKeyReleases: true,
			DropKeyRepeats:  false,
			DropIdleMouse:   true,
		},
		Capture: CaptureConfig{
			Source:      SourceEvdev,
			DevicesFile: "/proc/bus/input/devices",
			InputDir:    "/dev/input",
		},
		Catalog: CatalogConfig{
			Enabled: true,
			Path:    filepath.Join(DataDir(), "devices.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "both",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 5,
			Compress:   true,
			QueueSize:  1024,
		},
		Metrics: MetricsConfig{
			Enabled:           true,
			StatusIntervalSec: 60,
		},
	}
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
// Environment overrides are applied after decoding.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories of the catalog and log file.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Catalog.Enabled && c.Catalog.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Catalog.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with RAWINPUTD_.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("RAWINPUTD_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RAWINPUTD_PORT: %w", err)
		}
		c.Server.Port = n
	}
	if v := os.Getenv("RAWINPUTD_MAX_CLIENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RAWINPUTD_MAX_CLIENTS: %w", err)
		}
		c.Server.MaxClients = n
	}
	if v := os.Getenv("RAWINPUTD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RAWINPUTD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("RAWINPUTD_CATALOG_PATH"); v != "" {
		c.Catalog.Path = v
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// LoggingOptions converts the logging section into a logging.Config.
func (c *Config) LoggingOptions() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     c.Logging.Output,
		FilePath:   c.Logging.FilePath,
		MaxSize:    int64(c.Logging.MaxSizeMB),
		MaxBackups: c.Logging.MaxBackups,
		Compress:   c.Logging.Compress,
		QueueSize:  c.Logging.QueueSize,
		Component:  "rawinputd",
	}, nil
}
