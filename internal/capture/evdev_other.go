//go:build !linux

package capture

import (
	"context"
	"fmt"

	"rawinputd/internal/input"
)

// Evdev is only implemented on Linux.
type Evdev struct{}

// NewEvdev returns a source whose Run reports ErrNotAvailable.
func NewEvdev(EvdevConfig) *Evdev {
	return &Evdev{}
}

func (e *Evdev) Name() string {
	return "evdev"
}

func (e *Evdev) DeviceName(h input.Handle) (string, error) {
	return "", fmt.Errorf("evdev: no device %s", h)
}

func (e *Evdev) Run(context.Context, Sink) error {
	return ErrNotAvailable
}

// ListDevices parses a saved copy of the Linux input device list.
func ListDevices(devicesFile string) ([]ProcDevice, error) {
	if devicesFile == "" {
		devicesFile = DefaultDevicesFile
	}
	return readProcDevices(devicesFile)
}
