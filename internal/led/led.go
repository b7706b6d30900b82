// Package led drives status LEDs from a short fixed-period poll.
//
// Each Channel is an independent on/off schedule evaluated against the shared
// microsecond clock. A one-shot schedule plays once and then holds the LED
// off until it is re-armed.
package led

import (
	"sync"
	"time"

	"acr/internal/clock"
)

// Output is a single digital line.
type Output interface {
	SetValue(v int) error
}

// Channel is one LED schedule.
type Channel struct {
	name string
	out  Output
	src  *clock.Source

	mu      sync.Mutex
	onUs    uint64
	offUs   uint64
	oneShot bool
	steady  bool
	phase   uint64
	written int
	warned  bool
}

func (c *Channel) Name() string { return c.name }

// SetState establishes a repeating blink. A zero on-duration turns the LED off.
func (c *Channel) SetState(on, off time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUs = micros(on)
	c.offUs = micros(off)
	c.oneShot = false
	c.steady = false
	c.phase = c.src.Micros()
}

// BlinkOnce lights the LED for on, starting now, then holds it off.
func (c *Channel) BlinkOnce(on time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUs = micros(on)
	c.offUs = 0
	c.oneShot = true
	c.steady = false
	c.phase = c.src.Micros()
}

func (c *Channel) On() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steady = true
	c.oneShot = false
}

func (c *Channel) Off() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steady = false
	c.oneShot = false
	c.onUs, c.offUs = 0, 0
}

// Durations reports the armed on/off durations and whether the schedule is
// one-shot.
func (c *Channel) Durations() (on, off time.Duration, oneShot bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.onUs) * time.Microsecond, time.Duration(c.offUs) * time.Microsecond, c.oneShot
}

// eval advances the schedule to now and returns the level to drive.
func (c *Channel) eval(now uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.steady {
		return 1
	}
	if c.onUs == 0 {
		return 0
	}
	elapsed := now - c.phase
	if now < c.phase {
		elapsed = 0
	}
	v := 0
	if elapsed <= c.onUs {
		v = 1
	}
	if elapsed > c.onUs+c.offUs {
		c.phase = now
		if c.oneShot {
			c.onUs, c.offUs = 0, 0
			c.oneShot = false
		}
	}
	return v
}

func micros(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}
