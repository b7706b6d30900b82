// Package clock provides the monotonic microsecond time source shared by the
// debounce, repress, LED and acquisition logic.
package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Source reports monotonic microseconds since it was created.
type Source struct {
	c     bclock.Clock
	epoch time.Time
}

// New returns a Source backed by the wall clock's monotonic reading.
func New() *Source {
	return From(bclock.New())
}

// From wraps an existing clock.
func From(c bclock.Clock) *Source {
	return &Source{c: c, epoch: c.Now()}
}

// Micros returns the elapsed microseconds since the source was created.
func (s *Source) Micros() uint64 {
	d := s.c.Since(s.epoch)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}

// Clock exposes the underlying clock for timers and tickers.
func (s *Source) Clock() bclock.Clock {
	return s.c
}

// Mock is a Source whose time only moves when told to.
type Mock struct {
	*Source
	m *bclock.Mock
}

// NewMock returns a Mock starting at zero elapsed microseconds.
func NewMock() *Mock {
	m := bclock.NewMock()
	return &Mock{Source: From(m), m: m}
}

// Add advances the mock by d, firing any due timers.
func (m *Mock) Add(d time.Duration) {
	m.m.Add(d)
}

// Set moves the mock to exactly d after its epoch.
func (m *Mock) Set(d time.Duration) {
	m.m.Set(m.epoch.Add(d))
}
