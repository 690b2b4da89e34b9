// rawinputd - raw keyboard and mouse event broadcast daemon
//
// Captures raw input records, normalizes them into JSON events and streams
// one event per line to every connected TCP client:
//
//	rawinputd run               Capture input devices and broadcast events
//	rawinputd replay <script>   Broadcast a scripted record sequence
//	rawinputd devices           List known devices
//	rawinputd config <action>   Show, create or validate the configuration
//	rawinputd version           Print version information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"rawinputd/internal/capture"
	"rawinputd/internal/config"
	"rawinputd/internal/logging"
	"rawinputd/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "run":
		os.Exit(cmdRun(args))
	case "replay":
		os.Exit(cmdReplay(args))
	case "devices":
		os.Exit(cmdDevices(args))
	case "config":
		os.Exit(cmdConfig(args))
	case "version":
		cmdVersion()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`rawinputd - Raw Input Event Broadcast Daemon

USAGE:
    rawinputd <command> [options]

COMMANDS:
    run                 Capture input devices and broadcast events
    replay <script>     Broadcast a scripted sequence of raw records
    devices             List devices from the catalog or the kernel
    config <action>     Manage configuration (show, init, validate, path)
    version             Print version information
    help                Show this help message

WIRE FORMAT:
    One JSON object per line on TCP port 9999 (at most 10 clients):
    {"device_id":"0xAB12","type":"keyboard","vkey":65,"timestamp":1234}
    {"device_id":"0x1F","type":"mouse","dx":-3,"dy":7,"buttons":0,"timestamp":1240}

PERMISSIONS:
    On Linux the evdev source reads /dev/input/event*. Add yourself to the
    'input' group or run as root. Use 'rawinputd replay' to try the daemon
    without device access.

Run 'rawinputd <command> -h' for command options.`)
}

// commonFlags are shared by run and replay.
type commonFlags struct {
	configPath string
	host       string
	port       int
	maxClients int
	httpAddr   string
	logLevel   string
	noCatalog  bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to config file (default: "+config.ConfigPath()+")")
	fs.StringVar(&c.host, "host", "", "bind address (overrides config)")
	fs.IntVar(&c.port, "port", -1, "TCP port (overrides config)")
	fs.IntVar(&c.maxClients, "max-clients", 0, "maximum simultaneous clients (overrides config)")
	fs.StringVar(&c.httpAddr, "http", "", "enable the HTTP listener on this address")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&c.noCatalog, "no-catalog", false, "do not record devices in the catalog")
}

func (c *commonFlags) apply(cfg *config.Config) {
	if c.host != "" {
		cfg.Server.Host = c.host
	}
	if c.port >= 0 {
		cfg.Server.Port = c.port
	}
	if c.maxClients > 0 {
		cfg.Server.MaxClients = c.maxClients
	}
	if c.httpAddr != "" {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = c.httpAddr
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.noCatalog {
		cfg.Catalog.Enabled = false
	}
}

// loadConfig loads the file, applies command-line overrides and validates.
func loadConfig(path string, override func(*config.Config)) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", loader.Path(), err)
	}
	cfg = withOverrides(cfg, override)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

// withOverrides returns a copy of cfg with the command-line overrides
// applied. Reloaded files go through it too so flags keep winning.
func withOverrides(cfg *config.Config, override func(*config.Config)) *config.Config {
	cfg = cfg.Clone()
	if override != nil {
		override(cfg)
	}
	return cfg
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	opts, err := cfg.LoggingOptions()
	if err != nil {
		return nil, err
	}
	return logging.New(opts)
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var flags commonFlags
	flags.register(fs)
	source := fs.String("source", "", "capture source: evdev, replay, none (overrides config)")
	replayFile := fs.String("replay", "", "replay script (implies -source replay)")
	fs.Parse(args)

	override := func(cfg *config.Config) {
		flags.apply(cfg)
		if *replayFile != "" {
			cfg.Capture.Source = config.SourceReplay
			cfg.Capture.ReplayFile = *replayFile
		} else if *source != "" {
			cfg.Capture.Source = *source
		}
	}
	loader, cfg, err := loadConfig(flags.configPath, override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Close()

	src, err := buildSource(cfg, logger)
	if err != nil {
		logger.Error("capture source unavailable", "error", err)
		return 1
	}

	return serve(cfg, loader, override, logger, src, false)
}

func cmdReplay(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	var flags commonFlags
	flags.register(fs)
	interval := fs.Duration("interval", 0, "delay between replayed records")
	waitClients := fs.Int("wait-clients", 0, "start replay once this many clients are connected")
	linger := fs.Bool("linger", false, "keep serving after the script ends")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: rawinputd replay [options] <script>")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}

	override := func(cfg *config.Config) {
		flags.apply(cfg)
		cfg.Capture.Source = config.SourceReplay
		cfg.Capture.ReplayFile = fs.Arg(0)
		if *interval > 0 {
			cfg.Capture.ReplayIntervalMs = int(interval.Milliseconds())
		}
	}
	loader, cfg, err := loadConfig(flags.configPath, override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Close()

	src, err := buildSource(cfg, logger)
	if err != nil {
		logger.Error("cannot load replay script", "error", err)
		return 1
	}

	return serve(cfg, loader, override, logger, src, !*linger, WithWaitForClients(*waitClients))
}

// buildSource creates the configured capture source. A nil source with a
// nil error means capture is disabled.
func buildSource(cfg *config.Config, logger *logging.Logger) (capture.Source, error) {
	switch cfg.Capture.Source {
	case config.SourceEvdev:
		return capture.NewEvdev(capture.EvdevConfig{
			DevicesFile: cfg.Capture.DevicesFile,
			InputDir:    cfg.Capture.InputDir,
			Logger:      logger,
		}), nil
	case config.SourceReplay:
		interval := time.Duration(cfg.Capture.ReplayIntervalMs) * time.Millisecond
		return capture.OpenReplay(cfg.Capture.ReplayFile, interval)
	case config.SourceNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Capture.Source)
	}
}

// serve runs the daemon until a signal arrives. With exitWhenDone it also
// returns once the capture source finishes.
func serve(cfg *config.Config, loader *config.Loader, override func(*config.Config), logger *logging.Logger, src capture.Source, exitWhenDone bool, opts ...DaemonOption) int {
	d, err := NewDaemon(cfg, logger, src, opts...)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := d.Start(context.Background()); err != nil {
		logger.Error("startup failed", "error", err)
		d.Stop()
		return 1
	}

	loader.OnChange(func(_, updated *config.Config) {
		d.Reconfigure(withOverrides(updated, override))
	})
	if err := loader.Watch(); err != nil {
		logger.Debug("config hot reload disabled", "path", loader.Path(), "error", err)
	}
	defer loader.Close()

	var statusC <-chan time.Time
	if cfg.Metrics.StatusIntervalSec > 0 {
		ticker := time.NewTicker(time.Duration(cfg.Metrics.StatusIntervalSec) * time.Second)
		defer ticker.Stop()
		statusC = ticker.C
	}

	done := d.Done()
	code := 0
	for {
		select {
		case sig := <-sigChan:
			logger.Info("shutting down", "signal", sig.String())
			return shutdown(d, logger, code)

		case <-statusC:
			d.logStatus()

		case err := <-loader.Errors():
			logger.Warn("config reload failed", "error", err)

		case <-done:
			done = nil
			if err := d.Err(); err != nil {
				code = 1
				if errors.Is(err, capture.ErrNotAvailable) {
					logger.Error("capture is not supported on this platform; use -source replay or -source none")
				}
				return shutdown(d, logger, code)
			}
			if exitWhenDone {
				return shutdown(d, logger, code)
			}
		}
	}
}

func shutdown(d *Daemon, logger *logging.Logger, code int) int {
	d.logStatus()
	if err := d.Stop(); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}
	logger.Info("stopped")
	return code
}

func cmdDevices(args []string) int {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	all := fs.Bool("all", false, "include devices that are no longer attached")
	live := fs.Bool("live", false, "read the kernel device list instead of the catalog")
	asJSON := fs.Bool("json", false, "print JSON")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *live {
		return listLiveDevices(cfg, *asJSON)
	}

	if !cfg.Catalog.Enabled {
		fmt.Fprintln(os.Stderr, "Device catalog is disabled; use -live to read the kernel device list.")
		return 1
	}
	if _, err := os.Stat(cfg.Catalog.Path); os.IsNotExist(err) {
		fmt.Println("No devices recorded yet.")
		return 0
	}

	s, err := store.Open(cfg.Catalog.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	devices, err := s.List(!*all)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *asJSON {
		printJSON(devices)
		return 0
	}
	if len(devices) == 0 {
		fmt.Println("No devices recorded yet.")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tLAST SEEN\tATTACHES\tSTATE")
	for _, dev := range devices {
		state := "attached"
		if !dev.Attached() {
			state = "removed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			dev.ID, dev.TypeName, dev.Name,
			dev.LastSeen.Format("2006-01-02 15:04:05"),
			dev.AttachCount, state)
	}
	w.Flush()
	return 0
}

func listLiveDevices(cfg *config.Config, asJSON bool) int {
	devs, err := capture.ListDevices(cfg.Capture.DevicesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	type liveDevice struct {
		Name   string `json:"name"`
		Node   string `json:"node"`
		Class  string `json:"class"`
		Vendor string `json:"vendor"`
		Prod   string `json:"product"`
	}
	var out []liveDevice
	for _, d := range devs {
		node, ok := d.EventNode()
		if !ok {
			continue
		}
		out = append(out, liveDevice{
			Name:   d.Name,
			Node:   node,
			Class:  d.Class().String(),
			Vendor: d.Vendor,
			Prod:   d.Product,
		})
	}

	if asJSON {
		printJSON(out)
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tCLASS\tVENDOR:PRODUCT\tNAME")
	for _, d := range out {
		fmt.Fprintf(w, "%s\t%s\t%s:%s\t%s\n", d.Node, d.Class, d.Vendor, d.Prod, d.Name)
	}
	w.Flush()
	return 0
}

func cmdConfig(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, `Usage: rawinputd config <action> [path]

ACTIONS:
    show        Print the effective configuration as TOML
    init        Write the default configuration if none exists
    validate    Check the configuration for errors
    path        Print the default configuration path`)
		return 1
	}

	path := ""
	if len(args) > 1 {
		path = args[1]
	}

	switch args[0] {
	case "show":
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		data, err := config.Encode(cfg, ".toml")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		os.Stdout.Write(data)

	case "init":
		if path == "" {
			path = config.ConfigPath()
		}
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if created {
			fmt.Printf("Created %s\n", path)
		} else {
			fmt.Printf("%s already exists\n", path)
		}

	case "validate":
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration:\n%v\n", err)
			return 1
		}
		fmt.Println("Configuration is valid.")

	case "path":
		fmt.Println(config.ConfigPath())

	default:
		fmt.Fprintf(os.Stderr, "Unknown action: %s\n", args[0])
		return 1
	}
	return 0
}

func cmdVersion() {
	fmt.Printf("rawinputd %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
