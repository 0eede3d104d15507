// Package metrics exports the meter's counters and live levels to Prometheus.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// MeterSource is the tracker state sampled on every tick.
type MeterSource interface {
	Status() types.MeterStatus
}

// AlertSource is the threshold monitor state sampled on every tick.
type AlertSource interface {
	Status() types.AlertStatus
}

// Collector mirrors tracker counters into a Prometheus registry. The tracker
// keeps its own atomics, so the block path never touches Prometheus.
type Collector struct {
	reg *prometheus.Registry

	blocksReceived  prometheus.Counter
	blocksPublished prometheus.Counter
	emptyBlocks     prometheus.Counter
	lateBlocks      prometheus.Counter
	panics          prometheus.Counter

	rms         prometheus.Gauge
	peak        prometheus.Gauge
	target      prometheus.Gauge
	recording   prometheus.Gauge
	alertActive prometheus.Gauge
	episodes    prometheus.Gauge

	// mu guards last, the counters seen at the previous sample.
	mu   sync.Mutex
	last types.MeterStats
}

// New creates a Collector with its own registry, including the process and Go collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	return &Collector{
		reg: reg,

		blocksReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "levelmeter_blocks_received_total",
			Help: "Count of sample blocks delivered by the capture source",
		}),
		blocksPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "levelmeter_blocks_published_total",
			Help: "Count of readings published to observers",
		}),
		emptyBlocks: f.NewCounter(prometheus.CounterOpts{
			Name: "levelmeter_empty_blocks_total",
			Help: "Count of blocks dropped because they held no samples",
		}),
		lateBlocks: f.NewCounter(prometheus.CounterOpts{
			Name: "levelmeter_late_blocks_total",
			Help: "Count of blocks rejected because their session had ended",
		}),
		panics: f.NewCounter(prometheus.CounterOpts{
			Name: "levelmeter_block_panics_total",
			Help: "Count of blocks dropped after a recovered panic",
		}),
		rms: f.NewGauge(prometheus.GaugeOpts{
			Name: "levelmeter_rms_db",
			Help: "Latest RMS level in dB",
		}),
		peak: f.NewGauge(prometheus.GaugeOpts{
			Name: "levelmeter_peak_db",
			Help: "Latest peak level in dB",
		}),
		target: f.NewGauge(prometheus.GaugeOpts{
			Name: "levelmeter_target_db",
			Help: "Target level in dB",
		}),
		recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "levelmeter_recording",
			Help: "1 while a capture session is active",
		}),
		alertActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "levelmeter_alert_active",
			Help: "1 while the level has stayed above target past the hold time",
		}),
		episodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "levelmeter_alert_episodes",
			Help: "Episodes above target detected since start",
		}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Handler returns the /metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		c.reg, promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}),
	)
}

// Sample copies the current state into the registry and returns the
// counter increments since the previous sample. alerts may be nil.
func (c *Collector) Sample(meter MeterSource, alerts AlertSource) types.MeterStats {
	status := meter.Status()

	c.mu.Lock()
	delta := types.MeterStats{
		BlocksReceived:  sub(status.Stats.BlocksReceived, c.last.BlocksReceived),
		BlocksPublished: sub(status.Stats.BlocksPublished, c.last.BlocksPublished),
		EmptyBlocks:     sub(status.Stats.EmptyBlocks, c.last.EmptyBlocks),
		LateBlocks:      sub(status.Stats.LateBlocks, c.last.LateBlocks),
		Panics:          sub(status.Stats.Panics, c.last.Panics),
	}
	c.last = status.Stats
	c.mu.Unlock()

	c.blocksReceived.Add(float64(delta.BlocksReceived))
	c.blocksPublished.Add(float64(delta.BlocksPublished))
	c.emptyBlocks.Add(float64(delta.EmptyBlocks))
	c.lateBlocks.Add(float64(delta.LateBlocks))
	c.panics.Add(float64(delta.Panics))

	c.rms.Set(status.RMSDB)
	c.peak.Set(status.PeakDB)
	c.target.Set(status.TargetDB)
	c.recording.Set(boolGauge(status.Recording))

	if alerts != nil {
		a := alerts.Status()
		c.alertActive.Set(boolGauge(a.State == types.AlertActive))
		c.episodes.Set(float64(a.Episodes))
	}
	return delta
}

// Run samples every interval until ctx is done and logs the block rate at debug level.
func (c *Collector) Run(ctx context.Context, meter MeterSource, alerts AlertSource, interval time.Duration) error {
	if interval <= 0 {
		slog.Info("metrics sampling is disabled")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		var tickTime time.Time
		select {
		case <-ctx.Done():
			return nil
		case tickTime = <-ticker.C:
		}

		delta := c.Sample(meter, alerts)
		dt := tickTime.Sub(lastTick)
		lastTick = tickTime
		if delta.BlocksReceived == 0 || dt <= 0 {
			continue
		}

		slog.Debug("meter stats",
			"interval", dt.Round(time.Millisecond),
			"blocks_per_sec", float64(delta.BlocksReceived)/dt.Seconds(),
			"published", delta.BlocksPublished,
			"late", delta.LateBlocks,
			"empty", delta.EmptyBlocks)
	}
}

// sub returns cur-prev, or cur when the counter went backwards.
func sub(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
