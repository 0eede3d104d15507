package main

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-levelmeter/internal/capture"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// deviceRefreshInterval is how long a device list is reused for status pushes.
// Listing opens an audio context, which is too costly to do per message.
const deviceRefreshInterval = 5 * time.Minute

// deviceCache holds the last device list of one capture backend.
type deviceCache struct {
	list func(capture.Backend) ([]capture.Device, error)
	now  func() time.Time

	mu      sync.Mutex
	backend capture.Backend
	devices []types.AudioDevice
	fetched time.Time
}

func newDeviceCache() *deviceCache {
	return &deviceCache{list: capture.ListDevices, now: time.Now}
}

// Get returns the cached list for backend, listing again when it is stale or
// belongs to another backend.
func (c *deviceCache) Get(backend capture.Backend) []types.AudioDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetched.IsZero() || c.backend != backend || c.now().Sub(c.fetched) >= deviceRefreshInterval {
		c.refreshLocked(backend)
	}
	return c.devices
}

// Refresh lists the devices of backend now and caches the result.
func (c *deviceCache) Refresh(backend capture.Backend) []types.AudioDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(backend)
	return c.devices
}

func (c *deviceCache) refreshLocked(backend capture.Backend) {
	devices, err := c.list(backend)
	if err != nil {
		slog.Debug("failed to list audio devices", "backend", backend, "error", err)
	}
	out := make([]types.AudioDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, types.AudioDevice(d))
	}
	c.backend = backend
	c.devices = out
	c.fetched = c.now()
}
