package input

import (
	"sync"
	"time"

	"acr/internal/marker"
)

// Repress suppresses a mark that follows the last accepted mark of any kind
// by less than the window. An accepted mark restamps every kind.
type Repress struct {
	window uint64

	mu      sync.Mutex
	last    [marker.KindCount]uint64
	stamped [marker.KindCount]bool
}

func NewRepress(window time.Duration) *Repress {
	return &Repress{window: uint64(window / time.Microsecond)}
}

// Allow reports whether a mark of kind k at now (µs) is accepted.
func (r *Repress) Allow(k marker.Kind, now uint64) bool {
	if !k.Valid() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stamped[k] && now-r.last[k] < r.window {
		return false
	}
	for i := range r.last {
		r.last[i] = now
		r.stamped[i] = true
	}
	return true
}
