package input

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"acr/internal/clock"
	"acr/internal/marker"
)

// Actions receives the requests produced by accepted inputs. Implementations
// must not block.
type Actions interface {
	ToggleTrajectory()
	SetMarkerKind(k marker.Kind)
	RequestSave()
}

type Config struct {
	Clock   *clock.Source
	Actions Actions

	// Debounce is the minimum spacing of accepted edges per role. Defaults to 10ms.
	Debounce time.Duration
	// Repress is the minimum spacing of accepted marks. Defaults to 1s.
	Repress time.Duration
	// ActiveLevel is the pressed level; 0 for pull-up buttons.
	ActiveLevel int

	// Disarmed drops marks and toggles until Arm is called. The fault
	// acknowledge combination is still honored.
	Disarmed bool

	// OnAcknowledge is called once when the fault acknowledge combination is
	// seen while latched.
	OnAcknowledge func()

	Logger zerolog.Logger
}

type debounceEntry struct {
	level    int
	last     uint64
	accepted bool
}

// Dispatcher is safe to call from edge-notification goroutines. It never
// performs I/O.
type Dispatcher struct {
	cfg      Config
	debounce uint64
	repress  *Repress

	mu    sync.Mutex
	table [roleCount]debounceEntry

	armed   atomic.Bool
	latched atomic.Bool
	acked   atomic.Bool
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 10 * time.Millisecond
	}
	if cfg.Repress <= 0 {
		cfg.Repress = time.Second
	}
	if cfg.ActiveLevel != 0 {
		cfg.ActiveLevel = 1
	}
	d := &Dispatcher{
		cfg:      cfg,
		debounce: uint64(cfg.Debounce / time.Microsecond),
		repress:  NewRepress(cfg.Repress),
	}
	d.armed.Store(!cfg.Disarmed)
	for i := range d.table {
		d.table[i].level = 1 - cfg.ActiveLevel
	}
	return d
}

// HandleEdge records a level change on role and acts on it if the edge
// survives debounce and is a press.
func (d *Dispatcher) HandleEdge(role Role, level int) {
	if role < 0 || role >= roleCount {
		return
	}
	if level != 0 {
		level = 1
	}
	now := d.cfg.Clock.Micros()

	d.mu.Lock()
	e := &d.table[role]
	e.level = level
	if e.accepted && now-e.last < d.debounce {
		d.mu.Unlock()
		return
	}
	e.last = now
	e.accepted = true
	ack := d.table[RoleBlue].level == d.cfg.ActiveLevel && d.table[RoleOrange].level == d.cfg.ActiveLevel
	d.mu.Unlock()

	if level != d.cfg.ActiveLevel {
		return
	}

	if d.latched.Load() {
		if ack && d.acked.CompareAndSwap(false, true) {
			d.cfg.Logger.Warn().Msg("fault acknowledged")
			if d.cfg.OnAcknowledge != nil {
				d.cfg.OnAcknowledge()
			}
		}
		return
	}
	if !d.armed.Load() {
		d.cfg.Logger.Debug().Str("role", role.String()).Msg("input ignored, not armed")
		return
	}

	if role == RoleMode {
		d.cfg.Logger.Debug().Msg("trajectory toggle requested")
		d.cfg.Actions.ToggleTrajectory()
		return
	}
	if k, ok := role.Kind(); ok {
		d.Mark(k)
	}
}

// Mark requests a save of kind k. It reports whether the request passed the
// repress window. Marks made while disarmed neither save nor start a window.
func (d *Dispatcher) Mark(k marker.Kind) bool {
	if d.latched.Load() || !d.armed.Load() || !k.Valid() {
		return false
	}
	d.cfg.Actions.SetMarkerKind(k)
	if !d.repress.Allow(k, d.cfg.Clock.Micros()) {
		d.cfg.Logger.Debug().Str("cone", k.String()).Msg("mark repressed")
		return false
	}
	d.cfg.Actions.RequestSave()
	return true
}

// Arm starts delivering marks and toggles to Actions.
func (d *Dispatcher) Arm() {
	d.armed.Store(true)
}

func (d *Dispatcher) Armed() bool {
	return d.armed.Load()
}

// Latch restricts input to the fault acknowledge combination.
func (d *Dispatcher) Latch() {
	d.latched.Store(true)
}

func (d *Dispatcher) Latched() bool {
	return d.latched.Load()
}

// Level returns the last level seen on role, including edges rejected by
// debounce.
func (d *Dispatcher) Level(role Role) int {
	if role < 0 || role >= roleCount {
		return 1 - d.cfg.ActiveLevel
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table[role].level
}
