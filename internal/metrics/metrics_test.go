package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry("rawinputd", "")
	c := r.RegisterCounter("events_total", "Events", nil)
	c.Inc()
	c.Add(4)
	assert.Equal(t, uint64(5), c.Value())
	assert.Same(t, c, r.RegisterCounter("events_total", "Events", nil))

	g := r.RegisterGauge("clients", "Clients", Labels{"transport": "tcp"})
	g.Inc()
	g.Inc()
	g.Dec()
	assert.Equal(t, int64(1), g.Value())
	assert.Equal(t, "rawinputd_clients", g.Name())
}

func TestNilMetricsAreNoops(t *testing.T) {
	var c *Counter
	var g *Gauge
	var h *Histogram
	c.Inc()
	g.Set(3)
	h.ObserveDuration(time.Millisecond)
	assert.Zero(t, c.Value())
	assert.Zero(t, g.Value())
	assert.Zero(t, h.Count())
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("lat", "latency", nil, []float64{1, 2, 5})
	h.Observe(0.5)
	h.Observe(2)
	h.Observe(10)

	var buf bytes.Buffer
	require.NoError(t, h.writePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, `lat_bucket{le="1"} 1`)
	assert.Contains(t, out, `lat_bucket{le="2"} 2`)
	assert.Contains(t, out, `lat_bucket{le="5"} 2`)
	assert.Contains(t, out, `lat_bucket{le="+Inf"} 3`)
	assert.Contains(t, out, "lat_count 3")
	assert.InDelta(t, 12.5, h.Sum(), 1e-9)
}

func TestWritePrometheusSorted(t *testing.T) {
	p := NewPipeline(nil)
	p.BroadcastsTotal.Add(3)
	p.ClientsConnected.Set(2)

	var buf bytes.Buffer
	require.NoError(t, p.Registry().WritePrometheus(&buf))
	out := buf.String()

	assert.Contains(t, out, "rawinputd_broadcasts_total 3")
	assert.Contains(t, out, "rawinputd_clients_connected 2")
	assert.Less(t, strings.Index(out, "rawinputd_broadcasts_total"), strings.Index(out, "rawinputd_deliveries_total"))
}

func TestHTTPHandler(t *testing.T) {
	p := NewPipeline(nil)
	p.EventsEmittedTotal.Inc()

	rec := httptest.NewRecorder()
	p.Registry().HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rawinputd_events_emitted_total 1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	p.Registry().HTTPHandler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), `"rawinputd_events_emitted_total":1`)
}
