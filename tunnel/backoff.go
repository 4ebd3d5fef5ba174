package tunnel

import (
	"sync"
	"time"
)

// Backoff holds the reconnect delay state for the supervisor: the delay
// starts at initial, doubles on each consecutive failure, caps at max, and
// resets to initial on a successful frame exchange. Keeping it as explicit
// state makes the delay sequence testable without sockets or timers.
type Backoff struct {
	mu      sync.Mutex
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a Backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Next returns the delay to sleep before the next attempt and doubles the
// stored delay, capped at max.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset returns the delay to its floor.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
}

// Current returns the delay the next failure would sleep for.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
