package util

import (
	"sync"
	"time"
)

// Backoff yields delays that double from an initial value up to a cap.
// It is safe for concurrent use.
type Backoff struct {
	initial, maxDelay time.Duration

	mu      sync.Mutex
	attempt int
}

// NewBackoff returns a Backoff starting at initial and capped at maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{initial: initial, maxDelay: maxDelay}
}

func (b *Backoff) delayLocked() time.Duration {
	d := b.initial
	for range b.attempt {
		if d >= b.maxDelay {
			break
		}
		d *= 2
	}
	return min(d, b.maxDelay)
}

// Next returns the delay for this attempt and moves on to the next one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.delayLocked()
	b.attempt++
	return d
}

// Current returns the delay Next would return, without advancing.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delayLocked()
}

// Reset starts over from the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}
