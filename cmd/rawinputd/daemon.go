package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"rawinputd/internal/capture"
	"rawinputd/internal/config"
	"rawinputd/internal/device"
	"rawinputd/internal/health"
	"rawinputd/internal/input"
	"rawinputd/internal/logging"
	"rawinputd/internal/metrics"
	"rawinputd/internal/normalize"
	"rawinputd/internal/store"
	"rawinputd/internal/stream"
)

// Daemon wires a capture source through the normalizer into the broadcast
// server. Records are handled on the source's delivery goroutine, so
// broadcast order matches capture order.
type Daemon struct {
	cfg    *config.Config
	logger *logging.Logger

	metrics    *metrics.Pipeline
	catalog    *store.Store
	catalogObs *store.Observer
	registry   *device.Registry
	server     *stream.Server
	normalizer *normalize.Normalizer
	source     capture.Source
	health     *health.Checker

	// waitClients delays capture until this many clients are connected.
	waitClients int

	httpServer *http.Server
	httpLn     net.Listener

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	captureErr error
}

// DaemonOption configures a Daemon.
type DaemonOption func(*Daemon)

// WithWaitForClients delays capture until n clients have connected.
func WithWaitForClients(n int) DaemonOption {
	return func(d *Daemon) {
		d.waitClients = n
	}
}

// NewDaemon builds the service graph for cfg. source may be nil, in which
// case the server runs without input.
func NewDaemon(cfg *config.Config, logger *logging.Logger, source capture.Source, opts ...DaemonOption) (*Daemon, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewPipeline(nil),
		source:  source,
		health:  health.NewChecker(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	if cfg.Catalog.Enabled {
		catalog, err := store.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("open device catalog: %w", err)
		}
		d.catalog = catalog
		d.catalogObs = store.NewObserver(catalog, logger)
		d.health.Register("catalog", false, health.PingCheck("device catalog", catalog.Ping))
	}

	regOpts := []device.Option{device.WithObserver(&registryObserver{d: d})}
	if r, ok := source.(device.NameResolver); ok {
		regOpts = append(regOpts, device.WithNameResolver(r))
	}
	d.registry = device.NewRegistry(regOpts...)

	d.server = stream.New(stream.Config{
		Host:       cfg.Server.Host,
		MaxClients: cfg.Server.MaxClients,
		Logger:     logger,
		Metrics:    d.metrics,
	})

	d.normalizer = normalize.New(normalize.Config{
		Registry:    d.registry,
		Broadcaster: d.server,
		Filter:      filterFromConfig(cfg.Filter),
		Logger:      logger,
		Metrics:     d.metrics,
	})

	d.health.Register("broadcast", true, d.checkBroadcast)
	d.health.Register("capture", false, d.checkCapture)

	return d, nil
}

func (d *Daemon) checkBroadcast(context.Context) health.CheckResult {
	if st := d.server.State(); st != stream.StateRunning {
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "server " + st.String()}
	}
	return health.CheckResult{
		Status:  health.StatusHealthy,
		Message: fmt.Sprintf("%d/%d clients", d.server.ClientCount(), d.server.MaxClients()),
	}
}

func (d *Daemon) checkCapture(context.Context) health.CheckResult {
	if d.source == nil {
		return health.CheckResult{Status: health.StatusHealthy, Message: "no source"}
	}
	select {
	case <-d.done:
		if err := d.Err(); err != nil {
			return health.CheckResult{Status: health.StatusUnhealthy, Message: "capture stopped", Error: err.Error()}
		}
		return health.CheckResult{Status: health.StatusDegraded, Message: "capture finished"}
	default:
		return health.CheckResult{Status: health.StatusHealthy, Message: d.source.Name()}
	}
}

// Start brings the service up: broadcast server first, then the optional
// HTTP listener, then capture. A bind failure is returned before capture
// starts.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.server.Start(ctx, d.cfg.Server.Port); err != nil {
		return err
	}

	if d.cfg.HTTP.Enabled {
		if err := d.startHTTP(ctx); err != nil {
			d.server.Stop()
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go d.runCapture(runCtx)
	d.health.SetReady(true)
	return nil
}

func (d *Daemon) runCapture(ctx context.Context) {
	defer close(d.done)
	defer d.logger.RecoverGoroutine("capture", nil)

	if d.source == nil {
		d.logger.Info("no capture source configured")
		<-ctx.Done()
		return
	}

	if d.waitClients > 0 {
		d.logger.Info("waiting for clients before capture", "clients", d.waitClients)
		if err := d.awaitClients(ctx, d.waitClients); err != nil {
			return
		}
	}

	d.logger.Info("capture started", "source", d.source.Name())
	err := d.source.Run(ctx, d)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	d.mu.Lock()
	d.captureErr = err
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("capture stopped", "source", d.source.Name(), "error", err)
	} else {
		d.logger.Info("capture finished", "source", d.source.Name())
	}
}

func (d *Daemon) awaitClients(ctx context.Context, n int) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for d.server.ClientCount() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Done is closed when the capture source returns.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Err returns the error the capture source stopped with, if any.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captureErr
}

// Stop shuts down in reverse start order: capture, HTTP, broadcast server,
// catalog.
func (d *Daemon) Stop() error {
	d.health.SetReady(false)

	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-d.done
	}

	var errs []error
	if d.httpServer != nil {
		ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		if err := d.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
		done()
		d.httpServer = nil
	}

	d.server.Stop()

	if d.catalog != nil {
		if err := d.catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
		d.catalog = nil
		d.catalogObs = nil
	}
	return errors.Join(errs...)
}

// Reconfigure applies the parts of cfg that can change at runtime.
func (d *Daemon) Reconfigure(cfg *config.Config) {
	d.normalizer.SetFilter(filterFromConfig(cfg.Filter))

	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil && level != d.logger.Level() {
		d.logger.SetLevel(level)
		d.logger.Info("log level changed", "level", logging.LevelString(level))
	}

	if cfg.Server != d.cfg.Server || cfg.HTTP != d.cfg.HTTP || cfg.Capture != d.cfg.Capture {
		d.logger.Warn("listener and capture changes take effect after restart")
	}
}

// logStatus writes one status line.
func (d *Daemon) logStatus() {
	d.logger.Info("status",
		"state", d.server.State().String(),
		"clients", d.server.ClientCount(),
		"devices", d.registry.Len(),
		"records", d.metrics.RecordsTotal.Value(),
		"emitted", d.metrics.EventsEmittedTotal.Value(),
		"filtered", d.metrics.EventsFilteredTotal.Value(),
		"log_dropped", d.logger.Dropped(),
	)
}

// Addr returns the broadcast listener address.
func (d *Daemon) Addr() net.Addr {
	return d.server.Addr()
}

// HTTPAddr returns the HTTP listener address, or nil when disabled.
func (d *Daemon) HTTPAddr() net.Addr {
	if d.httpLn == nil {
		return nil
	}
	return d.httpLn.Addr()
}

// Record implements capture.Sink.
func (d *Daemon) Record(rec input.Record) {
	d.normalizer.Handle(rec)
}

// Enumerated implements capture.Sink.
func (d *Daemon) Enumerated(entries []device.Entry) {
	d.registry.Enumerate(entries)
}

// Arrived implements capture.Sink.
func (d *Daemon) Arrived(h input.Handle, class input.Class) {
	d.registry.Add(h, class.DeviceType())
}

// Removed implements capture.Sink.
func (d *Daemon) Removed(h input.Handle) {
	d.registry.Remove(h)
}

func filterFromConfig(f config.FilterConfig) normalize.Filter {
	return normalize.Filter{
		DropKeyReleases: f.DropKeyReleases,
		DropKeyRepeats:  f.DropKeyRepeats,
		DropIdleMouse:   f.DropIdleMouse,
	}
}

// registryObserver logs topology changes, keeps the device gauge current
// and mirrors changes into the catalog.
type registryObserver struct {
	d *Daemon
}

func (o *registryObserver) DeviceAdded(rec device.Record) {
	o.d.metrics.DevicesKnown.Inc()
	o.d.logger.Info("device added", "device_id", rec.ID, "type", rec.Type.String(), "name", rec.Name)
	if c := o.d.catalogObs; c != nil {
		c.DeviceAdded(rec)
	}
}

func (o *registryObserver) DeviceRemoved(rec device.Record) {
	o.d.metrics.DevicesKnown.Dec()
	o.d.logger.Info("device removed", "device_id", rec.ID, "name", rec.Name)
	if c := o.d.catalogObs; c != nil {
		c.DeviceRemoved(rec)
	}
}

func (o *registryObserver) DevicesEnumerated(recs []device.Record) {
	o.d.metrics.DevicesKnown.Set(int64(len(recs)))
	for _, rec := range recs {
		o.d.logger.Debug("device enumerated", "device_id", rec.ID, "type", rec.Type.String(), "name", rec.Name)
	}
	if c := o.d.catalogObs; c != nil {
		c.DevicesEnumerated(recs)
	}
}
