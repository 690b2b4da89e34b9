package store

import (
	"rawinputd/internal/device"
	"rawinputd/internal/logging"
)

// Observer mirrors registry changes into the catalog. Write failures are
// logged; they never reach the capture path.
type Observer struct {
	store  *Store
	logger *logging.Logger
}

var _ device.Observer = (*Observer)(nil)

// NewObserver returns a registry observer backed by s.
func NewObserver(s *Store, logger *logging.Logger) *Observer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Observer{store: s, logger: logger.WithComponent("catalog")}
}

func (o *Observer) DeviceAdded(rec device.Record) {
	if err := o.store.Attach(rec); err != nil {
		o.logger.Warn("catalog update failed", "device_id", rec.ID, "error", err)
	}
}

func (o *Observer) DeviceRemoved(rec device.Record) {
	if err := o.store.Detach(rec.ID); err != nil {
		o.logger.Warn("catalog update failed", "device_id", rec.ID, "error", err)
	}
}

func (o *Observer) DevicesEnumerated(recs []device.Record) {
	if err := o.store.Sync(recs); err != nil {
		o.logger.Warn("catalog sync failed", "devices", len(recs), "error", err)
	}
}
