package metrics

// Pipeline holds the metrics of the capture → broadcast pipeline.
type Pipeline struct {
	registry *Registry

	// Normalizer
	RecordsTotal          *Counter
	EventsEmittedTotal    *Counter
	EventsFilteredTotal   *Counter
	RecordsDiscardedTotal *Counter

	// Broadcast server
	BroadcastsTotal      *Counter
	DeliveriesTotal      *Counter
	ClientsAcceptedTotal *Counter
	ClientsRejectedTotal *Counter
	ClientsDroppedTotal  *Counter
	ClientsConnected     *Gauge
	FanoutDuration       *Histogram

	// Registry
	DevicesKnown *Gauge
}

// NewPipeline creates and registers the pipeline metrics.
func NewPipeline(registry *Registry) *Pipeline {
	if registry == nil {
		registry = NewRegistry("rawinputd", "")
	}

	return &Pipeline{
		registry: registry,

		RecordsTotal: registry.RegisterCounter(
			"capture_records_total",
			"Raw capture records received from the capture source",
			nil,
		),
		EventsEmittedTotal: registry.RegisterCounter(
			"events_emitted_total",
			"Input events that passed filtering and were broadcast",
			nil,
		),
		EventsFilteredTotal: registry.RegisterCounter(
			"events_filtered_total",
			"Capture records dropped by the noise filter",
			nil,
		),
		RecordsDiscardedTotal: registry.RegisterCounter(
			"records_discarded_total",
			"Capture records discarded as unclassifiable or malformed",
			nil,
		),
		BroadcastsTotal: registry.RegisterCounter(
			"broadcasts_total",
			"Broadcast calls made by the pipeline",
			nil,
		),
		DeliveriesTotal: registry.RegisterCounter(
			"deliveries_total",
			"Records successfully written to a client",
			nil,
		),
		ClientsAcceptedTotal: registry.RegisterCounter(
			"clients_accepted_total",
			"Client connections admitted to the broadcast set",
			nil,
		),
		ClientsRejectedTotal: registry.RegisterCounter(
			"clients_rejected_total",
			"Client connections closed because the server was at capacity",
			nil,
		),
		ClientsDroppedTotal: registry.RegisterCounter(
			"clients_dropped_total",
			"Clients removed after a failed send",
			nil,
		),
		ClientsConnected: registry.RegisterGauge(
			"clients_connected",
			"Clients currently in the broadcast set",
			nil,
		),
		FanoutDuration: registry.RegisterHistogram(
			"fanout_duration_seconds",
			"Time spent delivering one record to all clients",
			nil,
			LatencyBuckets,
		),
		DevicesKnown: registry.RegisterGauge(
			"devices_known",
			"Devices currently in the registry",
			nil,
		),
	}
}

// Registry returns the underlying registry.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}
