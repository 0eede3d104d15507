package meter

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is the default duration that peak values are held before decaying.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// PeakHolder tracks peak-hold state for a level display.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	floor        float64
	held         float64
	heldAt       time.Time
	holdDuration time.Duration
}

// NewPeakHolder creates a peak holder that starts at floor and holds for DefaultPeakHoldDuration.
func NewPeakHolder(floor float64) *PeakHolder {
	return &PeakHolder{
		floor:        floor,
		held:         floor,
		holdDuration: DefaultPeakHoldDuration,
	}
}

// Update records a new peak value and returns the held peak.
func (p *PeakHolder) Update(peakDB float64, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peakDB >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = peakDB
		p.heldAt = now
	}
	return p.held
}

// Held returns the currently held peak.
func (p *PeakHolder) Held() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// SetHoldDuration updates the peak hold duration.
func (p *PeakHolder) SetHoldDuration(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdDuration = d
}

// Reset clears the held peak back to the floor.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = p.floor
	p.heldAt = time.Time{}
}
