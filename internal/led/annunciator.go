package led

import (
	"context"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"acr/internal/clock"
	"acr/internal/fault"
)

var afterFn = func(c bclock.Clock, d time.Duration) <-chan time.Time { return c.After(d) }

type Config struct {
	Clock *clock.Source
	// Period between updates. Defaults to 1ms.
	Period time.Duration
	// FaultBudget is the length of one escalation cycle. Defaults to 2s.
	FaultBudget time.Duration
	Logger      zerolog.Logger
}

// Annunciator owns a set of channels and drives their outputs.
type Annunciator struct {
	cfg Config

	mu       sync.Mutex
	channels []*Channel
}

func New(cfg Config) *Annunciator {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Millisecond
	}
	if cfg.FaultBudget <= 0 {
		cfg.FaultBudget = 2 * time.Second
	}
	return &Annunciator{cfg: cfg}
}

// Add registers an output. The channel starts off.
func (a *Annunciator) Add(name string, out Output) *Channel {
	ch := &Channel{name: name, out: out, src: a.cfg.Clock, written: -1}
	a.mu.Lock()
	a.channels = append(a.channels, ch)
	a.mu.Unlock()
	return ch
}

func (a *Annunciator) snapshot() []*Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Channel(nil), a.channels...)
}

// Update evaluates every channel once and writes changed levels.
func (a *Annunciator) Update() {
	now := a.cfg.Clock.Micros()
	for _, ch := range a.snapshot() {
		a.drive(ch, ch.eval(now))
	}
}

func (a *Annunciator) drive(ch *Channel, v int) {
	ch.mu.Lock()
	if ch.written == v {
		ch.mu.Unlock()
		return
	}
	ch.mu.Unlock()

	err := ch.out.SetValue(v)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err != nil {
		if !ch.warned {
			a.cfg.Logger.Warn().Err(err).Str("led", ch.name).Msg("led write failed")
			ch.warned = true
		}
		return
	}
	ch.written = v
}

// Run updates all channels every Period until ctx is done, then drives every
// output low.
func (a *Annunciator) Run(ctx context.Context) error {
	t := a.cfg.Clock.Clock().Ticker(a.cfg.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			a.allLow()
			return nil
		case <-t.C:
			a.Update()
		}
	}
}

func (a *Annunciator) allLow() {
	for _, ch := range a.snapshot() {
		ch.Off()
		if err := ch.out.SetValue(0); err != nil {
			a.cfg.Logger.Debug().Err(err).Str("led", ch.name).Msg("led off failed")
		}
		ch.mu.Lock()
		ch.written = 0
		ch.mu.Unlock()
	}
}

// Escalate turns every channel off and then plays code.Pulses() one-shot
// pulses on ch once per FaultBudget until ctx is done. Run must be active
// for the pulses to reach the output.
func (a *Annunciator) Escalate(ctx context.Context, ch *Channel, code fault.Code) {
	for _, c := range a.snapshot() {
		c.Off()
	}
	// Channels keep whole microseconds.
	width := (a.cfg.FaultBudget / time.Duration(fault.Count*2)).Truncate(time.Microsecond)
	a.cfg.Logger.Error().Str("fault", code.String()).Int("pulses", code.Pulses()).Msg("fault escalation")

	for {
		for i := 0; i < code.Pulses(); i++ {
			ch.BlinkOnce(width)
			if !a.wait(ctx, 2*width) {
				return
			}
		}
		if !a.wait(ctx, a.cfg.FaultBudget-width) {
			return
		}
	}
}

func (a *Annunciator) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-afterFn(a.cfg.Clock.Clock(), d):
		return ctx.Err() == nil
	}
}
