package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"rawinputd/internal/input"
	"rawinputd/internal/stream"
)

type deviceView struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

type statusView struct {
	State   string              `json:"state"`
	Addr    string              `json:"addr"`
	Devices int                 `json:"devices"`
	Clients []stream.ClientInfo `json:"clients"`
}

func (d *Daemon) startHTTP(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", d.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.HTTP.Addr, err)
	}
	d.httpLn = ln
	d.httpServer = &http.Server{
		Handler:           d.httpHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		defer d.logger.RecoverGoroutine("http", nil)
		if err := d.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("http server stopped", "error", err)
		}
	}()

	d.logger.Info("http listener started", "addr", ln.Addr().String(),
		"websocket", d.cfg.HTTP.WebSocket,
		"metrics", d.cfg.Metrics.Enabled,
	)
	return nil
}

func (d *Daemon) httpHandler() http.Handler {
	mux := http.NewServeMux()

	if d.cfg.HTTP.WebSocket {
		mux.Handle("/stream", d.server)
	}
	if d.cfg.Metrics.Enabled {
		mux.Handle("/metrics", d.metrics.Registry().HTTPHandler())
	}
	mux.HandleFunc("/devices", d.handleDevices)
	mux.HandleFunc("/status", d.handleStatus)
	mux.HandleFunc("/schema", handleSchema)
	mux.Handle("/healthz", d.health.Handler())
	mux.Handle("/readyz", d.health.ReadinessHandler())

	return mux
}

// handleDevices lists the live registry, or the catalog with ?catalog=1.
func (d *Daemon) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("catalog") != "" {
		if d.catalog == nil {
			http.Error(w, "device catalog disabled", http.StatusNotFound)
			return
		}
		devices, err := d.catalog.List(r.URL.Query().Get("attached") != "")
		if err != nil {
			d.logger.Warn("catalog query failed", "error", err)
			http.Error(w, "catalog query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, devices)
		return
	}

	recs := d.registry.List()
	out := make([]deviceView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, deviceView{ID: rec.ID, Type: rec.Type.String(), Name: rec.Name})
	}
	writeJSON(w, out)
}

func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := statusView{
		State:   d.server.State().String(),
		Devices: d.registry.Len(),
		Clients: d.server.Clients(),
	}
	if addr := d.server.Addr(); addr != nil {
		st.Addr = addr.String()
	}
	writeJSON(w, st)
}

// handleSchema serves the JSON Schema every stream line conforms to.
func handleSchema(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	w.Write(input.Schema())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
