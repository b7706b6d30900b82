// Package engine is the telemetry acquisition loop. It owns the GPS stream,
// both recording sessions and the shared state handle, and consumes the
// requests raised by the input dispatcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"acr/internal/clock"
	"acr/internal/fault"
	"acr/internal/gps"
	"acr/internal/marker"
	"acr/internal/session"
	"acr/internal/state"
)

// Notifier is told about operator-visible events. Calls are made from the
// loop goroutine and from RequestSave, and must not block.
type Notifier interface {
	SaveRequested()
	MarkerCommitted(s marker.Sample)
	TrajectoryStarted(info session.Info)
	TrajectoryStopped(info session.Info)
}

type Config struct {
	Stream   gps.Stream
	Sessions *session.Manager
	State    *state.State
	Clock    *clock.Source

	Smoothing bool
	// Weight of the prior fix in the exponential blend. Zero disables the
	// blend; callers pick the default.
	Weight float64
	// Downsample appends every Nth accepted fix to the trajectory buffer.
	// Defaults to 10.
	Downsample int
	// MaxFailures is the number of consecutive unreadable lines tolerated.
	// Defaults to 10.
	MaxFailures int

	// Mirror receives a copy of every committed marker row.
	Mirror   io.Writer
	Notifier Notifier
	// OnFault receives session setup/start failures raised on the loop.
	OnFault func(err error)

	Logger zerolog.Logger
}

type Engine struct {
	cfg Config

	saveReq   atomic.Bool
	toggleReq atomic.Bool
	kind      atomic.Int32
	failures  atomic.Int64

	// Kind captured by the last accepted save request.
	pendingKind atomic.Int32

	// Loop-owned.
	accepted uint64
	prior    gps.Fix

	trajMu sync.Mutex

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

func New(cfg Config) (*Engine, error) {
	if cfg.Stream == nil {
		return nil, fmt.Errorf("engine: stream is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("engine: session manager is required")
	}
	if cfg.State == nil {
		cfg.State = state.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Weight < 0 || cfg.Weight >= 1 {
		return nil, fmt.Errorf("engine: smoothing weight %v out of range [0,1)", cfg.Weight)
	}
	if cfg.Downsample <= 0 {
		cfg.Downsample = 10
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 10
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.OnFault == nil {
		cfg.OnFault = func(error) {}
	}
	return &Engine{cfg: cfg, done: make(chan struct{})}, nil
}

// Start runs the loop on its own goroutine. Done is closed when it exits.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		ctx, e.cancel = context.WithCancel(ctx)
		go func() {
			e.err = e.Run(ctx)
			close(e.done)
		}()
	})
}

// Done is closed once a started loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err is the loop's exit error. Valid after Done is closed.
func (e *Engine) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// Close stops the loop, waits for it and closes any active session.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		started := true
		e.startOnce.Do(func() { started = false })
		if started {
			e.cancel()
			<-e.done
		} else {
			err = multierr.Append(err, e.cfg.Stream.Close())
		}
		if e.cfg.Sessions.Trajectory.Active() {
			err = multierr.Append(err, e.StopTrajectory())
		}
		if e.cfg.Sessions.Marker.Active() {
			err = multierr.Append(err, e.cfg.Sessions.Marker.Stop())
		}
		e.publishSessions()
	})
	return err
}

// Run is the acquisition loop. It returns nil when ctx is cancelled and a
// GPS_READ fault when the stream stops yielding recognizable lines. The
// stream is closed on return.
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		if err := e.cfg.Stream.Close(); err != nil {
			e.cfg.Logger.Debug().Err(err).Msg("gps stream close")
		}
	}()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := e.step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.cfg.Logger.Error().Err(err).Msg("acquisition loop stopped")
			return err
		}
	}
}

// step is one loop iteration.
func (e *Engine) step(ctx context.Context) error {
	line, err := e.cfg.Stream.ReadLine(ctx)
	switch {
	case err == nil:
		e.failures.Store(0)
		e.handleLine(line)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		n := e.failures.Add(1)
		if !errors.Is(err, gps.ErrNoMatch) {
			e.cfg.Logger.Debug().Err(err).Int64("failures", n).Msg("gps read")
		}
		if n > int64(e.cfg.MaxFailures) {
			return fault.New(fault.GPSRead, fmt.Errorf("%d consecutive failed reads: %w", n, err))
		}
	}

	e.serviceToggle()
	e.serviceSave()
	return nil
}

// Failures is the current count of consecutive failed reads.
func (e *Engine) Failures() int {
	return int(e.failures.Load())
}

func (e *Engine) handleLine(line gps.Line) {
	ts := e.cfg.Clock.Micros()
	desc, err := gps.Match(line)
	if err != nil {
		return
	}
	msg, err := gps.Parse(desc, line, ts)
	if err != nil {
		e.cfg.Logger.Debug().Err(err).Str("type", desc.Name()).Msg("gps parse")
		return
	}

	if fix, ok := msg.Fix(); ok {
		fix = e.smooth(fix)
		e.cfg.State.SetPosition(fix)
		e.accepted++
		if e.cfg.Sessions.Trajectory.Active() && e.accepted%uint64(e.cfg.Downsample) == 0 {
			e.cfg.State.AppendTrajectory(fix)
		}
	}

	if err := e.cfg.Sessions.Trajectory.Append(msg); err != nil && !errors.Is(err, session.ErrNotActive) {
		e.cfg.Logger.Warn().Err(err).Str("type", desc.Name()).Msg("trajectory write failed")
	}
}

// smooth blends fix into the prior position when smoothing is enabled and a
// prior non-zero position exists.
func (e *Engine) smooth(fix gps.Fix) gps.Fix {
	if e.cfg.Smoothing && e.prior.Valid() {
		w := e.cfg.Weight
		fix.Lat = e.prior.Lat*w + fix.Lat*(1-w)
		fix.Lon = e.prior.Lon*w + fix.Lon*(1-w)
		fix.Alt = e.prior.Alt*w + fix.Alt*(1-w)
	}
	e.prior = fix
	return fix
}

func (e *Engine) serviceToggle() {
	if !e.toggleReq.Swap(false) {
		return
	}
	var err error
	if e.cfg.Sessions.Trajectory.Active() {
		err = e.StopTrajectory()
	} else {
		err = e.StartTrajectory()
	}
	if err != nil {
		e.cfg.OnFault(err)
	}
}

func (e *Engine) serviceSave() {
	if !e.saveReq.Swap(false) {
		return
	}
	k := marker.Kind(e.pendingKind.Load())
	e.cfg.State.SetDraftKind(k)
	sample := e.cfg.State.Draft()

	m := e.cfg.Sessions.Marker
	if !m.Active() {
		if err := m.Setup(); err != nil {
			e.cfg.OnFault(err)
			return
		}
		if err := m.Start(); err != nil {
			e.cfg.OnFault(err)
			return
		}
		info := m.Info()
		e.cfg.Logger.Info().Str("session", info.Name).Str("path", info.Path).Msg("cone session started")
		e.publishSessions()
	}

	if err := m.Write(sample); err != nil {
		e.cfg.Logger.Error().Err(err).Str("cone", k.String()).Msg("cone write failed")
		return
	}
	if e.cfg.Mirror != nil {
		fmt.Fprintln(e.cfg.Mirror, sample.Row())
	}
	e.cfg.State.AppendMarker(sample)
	e.cfg.Logger.Info().Str("cone", k.String()).Float64("lat", sample.Lat).Float64("lon", sample.Lon).Msg("cone saved")
	e.cfg.Notifier.MarkerCommitted(sample)
}

func (e *Engine) publishSessions() {
	e.cfg.State.SetSessions(e.cfg.Sessions.Marker.Info(), e.cfg.Sessions.Trajectory.Info())
}

// StartTrajectory sets up and starts a new trajectory session.
func (e *Engine) StartTrajectory() error {
	e.trajMu.Lock()
	defer e.trajMu.Unlock()
	t := e.cfg.Sessions.Trajectory
	if t.Active() {
		return session.ErrActive
	}
	if err := t.Setup(); err != nil {
		return err
	}
	if err := t.Start(); err != nil {
		return err
	}
	info := t.Info()
	e.cfg.Logger.Info().Str("session", info.Name).Str("path", info.Path).Msg("trajectory session started")
	e.publishSessions()
	e.cfg.Notifier.TrajectoryStarted(info)
	return nil
}

// StopTrajectory closes the active trajectory session.
func (e *Engine) StopTrajectory() error {
	e.trajMu.Lock()
	defer e.trajMu.Unlock()
	t := e.cfg.Sessions.Trajectory
	info := t.Info()
	if err := t.Stop(); err != nil {
		return err
	}
	info.Active = false
	e.cfg.Logger.Info().Str("session", info.Name).Msg("trajectory session ended")
	e.publishSessions()
	e.cfg.Notifier.TrajectoryStopped(info)
	return nil
}

// ToggleTrajectory requests a start/stop on the loop goroutine.
func (e *Engine) ToggleTrajectory() {
	e.toggleReq.Store(true)
}

// SetMarkerKind selects the category of the next committed marker.
func (e *Engine) SetMarkerKind(k marker.Kind) {
	e.kind.Store(int32(k))
}

// RequestSave asks the loop to commit the current draft with the kind
// selected at the time of the request. Later SetMarkerKind calls do not
// change a pending save.
func (e *Engine) RequestSave() {
	e.pendingKind.Store(e.kind.Load())
	e.saveReq.Store(true)
	e.cfg.Notifier.SaveRequested()
}

func (e *Engine) ClearBuffers() {
	e.cfg.State.ClearBuffers()
}

func (e *Engine) Snapshot() state.Snapshot {
	return e.cfg.State.Snapshot()
}

type nopNotifier struct{}

func (nopNotifier) SaveRequested()                 {}
func (nopNotifier) MarkerCommitted(marker.Sample)  {}
func (nopNotifier) TrajectoryStarted(session.Info) {}
func (nopNotifier) TrajectoryStopped(session.Info) {}
