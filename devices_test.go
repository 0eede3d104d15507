package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-levelmeter/internal/capture"
)

func TestDeviceCache(t *testing.T) {
	calls := 0
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := newDeviceCache()
	c.now = func() time.Time { return now }
	c.list = func(capture.Backend) ([]capture.Device, error) {
		calls++
		return []capture.Device{{ID: "hw:0", Name: "Line In", IsDefault: true}}, nil
	}

	devices := c.Get(capture.BackendNative)
	require.Len(t, devices, 1)
	assert.Equal(t, "hw:0", devices[0].ID)
	assert.True(t, devices[0].IsDefault)

	c.Get(capture.BackendNative)
	c.Get(capture.BackendNative)
	assert.Equal(t, 1, calls, "status pushes reuse the list")

	c.Refresh(capture.BackendNative)
	assert.Equal(t, 2, calls)

	now = now.Add(deviceRefreshInterval)
	c.Get(capture.BackendNative)
	assert.Equal(t, 3, calls, "stale list is refreshed")

	c.Get(capture.BackendTone)
	assert.Equal(t, 4, calls, "other backend is listed")
}
