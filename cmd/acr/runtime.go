package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"acr/internal/capture"
	"acr/internal/clock"
	"acr/internal/config"
	"acr/internal/engine"
	"acr/internal/fault"
	"acr/internal/gpio"
	"acr/internal/gps"
	"acr/internal/input"
	"acr/internal/led"
	"acr/internal/marker"
	"acr/internal/session"
	"acr/internal/state"
)

var (
	openStreamFn  = gps.Open
	openCaptureFn = capture.Open
	openInputsFn  = gpio.OpenInputs
	openOutputsFn = gpio.OpenOutputs
	afterFn       = time.After
)

const (
	// capturePrefix selects timed playback of a capture log.
	capturePrefix = "capture:"

	ledGreen = "green"
	ledRed   = "red"

	commitBlink = 100 * time.Millisecond
)

// errAcknowledged is returned once the operator acknowledged a fault.
var errAcknowledged = errors.New("fault acknowledged")

// runtime wires the recorder together. It also stands between the input
// dispatcher and the engine, which does not exist until the GPS is open.
type runtime struct {
	cfg    config.Config
	log    zerolog.Logger
	clk    *clock.Source
	stdout io.Writer

	leds       *led.Annunciator
	green, red *led.Channel

	dispatcher *input.Dispatcher
	sessions   *session.Manager
	state      *state.State
	eng        atomic.Pointer[engine.Engine]

	// Once set, engine notifications no longer reach the LEDs.
	faulted atomic.Bool

	faults chan error
	acked  chan struct{}
	quit   context.CancelFunc
}

func newRuntime(cfg config.Config, log zerolog.Logger, stdout io.Writer) *runtime {
	return &runtime{
		cfg:      cfg,
		log:      log,
		clk:      clock.New(),
		stdout:   stdout,
		sessions: session.NewManager(cfg.BasePath),
		state:    state.New(),
		faults:   make(chan error, 4),
		acked:    make(chan struct{}),
	}
}

// run blocks until ctx is done, the operator quits, or a fault is
// acknowledged.
func (rt *runtime) run(ctx context.Context) error {
	ctx, rt.quit = context.WithCancel(ctx)
	defer rt.quit()

	outputs, err := openOutputsFn(gpio.OutputConfig{
		Backend: rt.cfg.LED.Backend,
		Chip:    rt.cfg.LED.Chip,
		Pins:    map[string]int{ledGreen: rt.cfg.LED.Pins.Green, ledRed: rt.cfg.LED.Pins.Red},
		Logger:  rt.log,
	})
	if err != nil {
		// Nothing to annunciate on.
		return fault.New(fault.GPIOInit, err)
	}
	defer func() {
		if err := outputs.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("led close")
		}
	}()

	rt.leds = led.New(led.Config{
		Clock:       rt.clk,
		Period:      rt.cfg.LED.Period,
		FaultBudget: rt.cfg.LED.FaultBudget,
		Logger:      rt.log,
	})
	greenOut, _ := outputs.Line(ledGreen)
	redOut, _ := outputs.Line(ledRed)
	rt.green = rt.leds.Add(ledGreen, greenOut)
	rt.red = rt.leds.Add(ledRed, redOut)

	ledCtx, stopLEDs := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.leds.Run(ledCtx) })
	g.Go(func() error {
		defer stopLEDs()
		return rt.supervise(gctx)
	})
	return g.Wait()
}

func (rt *runtime) supervise(ctx context.Context) error {
	rt.dispatcher = input.NewDispatcher(input.Config{
		Clock:         rt.clk,
		Actions:       rt,
		Debounce:      rt.cfg.Input.Debounce,
		Repress:       rt.cfg.Input.Repress,
		ActiveLevel:   activeLevel(rt.cfg.Input.IsActiveLow()),
		Disarmed:      true,
		OnAcknowledge: rt.acknowledge,
		Logger:        rt.log,
	})

	inputs, err := openInputsFn(gpio.InputConfig{
		Backend: rt.cfg.Input.Backend,
		Chip:    rt.cfg.Input.Chip,
		Pins: map[input.Role]int{
			input.RoleMode:   rt.cfg.Input.Pins.Mode,
			input.RoleYellow: rt.cfg.Input.Pins.Yellow,
			input.RoleBlue:   rt.cfg.Input.Pins.Blue,
			input.RoleOrange: rt.cfg.Input.Pins.Orange,
		},
		ActiveLow: rt.cfg.Input.IsActiveLow(),
		Handler:   rt.dispatcher.HandleEdge,
		OnQuit:    rt.quit,
		Logger:    rt.log,
	})
	if err != nil {
		return rt.escalate(ctx, fault.New(fault.GPIOInit, err))
	}
	defer func() {
		if err := inputs.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("input close")
		}
	}()

	rt.green.SetState(200*time.Millisecond, 300*time.Millisecond)
	rt.red.SetState(200*time.Millisecond, 300*time.Millisecond)

	stream, err := rt.openStream(ctx)
	if err != nil {
		return rt.escalate(ctx, fault.New(fault.GPSNotFound, err))
	}
	rt.log.Info().Str("device", rt.cfg.GPS.Device).Msg("gps open")

	select {
	case <-ctx.Done():
		_ = stream.Close()
		return nil
	case <-afterFn(rt.cfg.GPS.StartupDelay):
	}
	rt.green.Off()
	rt.red.Off()

	eng, err := engine.New(engine.Config{
		Stream:      stream,
		Sessions:    rt.sessions,
		State:       rt.state,
		Clock:       rt.clk,
		Smoothing:   rt.cfg.Smoothing.Enable,
		Weight:      rt.cfg.Smoothing.BlendWeight(),
		Downsample:  rt.cfg.Trajectory.Downsample,
		MaxFailures: rt.cfg.GPS.MaxFailures,
		Mirror:      rt.stdout,
		Notifier:    rt,
		OnFault:     rt.reportFault,
		Logger:      rt.log,
	})
	if err != nil {
		_ = stream.Close()
		return err
	}
	rt.eng.Store(eng)
	defer func() {
		if err := eng.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("engine close")
		}
	}()
	eng.Start(ctx)
	rt.dispatcher.Arm()
	rt.log.Info().Str("base_path", rt.cfg.BasePath).Msg("acr ready")

	select {
	case <-ctx.Done():
		return nil
	case <-eng.Done():
		if ctx.Err() != nil {
			return nil
		}
		return rt.escalate(ctx, eng.Err())
	case err := <-rt.faults:
		return rt.escalate(ctx, err)
	}
}

// openStream opens the configured receiver and, when gps.capture is set,
// records everything it frames.
func (rt *runtime) openStream(ctx context.Context) (gps.Stream, error) {
	readerCfg := gps.ReaderConfig{ReadTimeout: rt.cfg.GPS.ReadTimeout}

	var (
		stream gps.Stream
		err    error
	)
	if path, ok := strings.CutPrefix(rt.cfg.GPS.Device, capturePrefix); ok {
		stream, err = openCaptureFn(path, capture.PlayConfig{
			Speed:  rt.cfg.GPS.ReplaySpeed,
			Loop:   rt.cfg.GPS.ReplayLoop,
			Reader: readerCfg,
			Logger: rt.log,
		})
	} else {
		stream, err = openStreamFn(ctx, gps.OpenConfig{
			Device: rt.cfg.GPS.Device,
			Baud:   rt.cfg.GPS.Baud,
			Reader: readerCfg,
			Sim: gps.SimConfig{
				CenterLatDeg: rt.cfg.GPS.Sim.CenterLatDeg,
				CenterLonDeg: rt.cfg.GPS.Sim.CenterLonDeg,
				AltM:         rt.cfg.GPS.Sim.AltM,
				RadiusM:      rt.cfg.GPS.Sim.RadiusM,
				Period:       rt.cfg.GPS.Sim.Period,
				Rate:         rt.cfg.GPS.Sim.Rate,
			},
		})
	}
	if err != nil {
		return nil, err
	}

	if rt.cfg.GPS.Capture != "" {
		w, err := capture.CreateWriter(rt.cfg.GPS.Capture, nil)
		if err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("capture create %s: %w", rt.cfg.GPS.Capture, err)
		}
		rt.log.Info().Str("path", rt.cfg.GPS.Capture).Msg("recording gps capture")
		stream = capture.Tee(stream, w, rt.log)
	}
	return stream, nil
}

// escalate latches input, stops the engine and plays the fault on the red
// LED until the operator acknowledges it or ctx is done.
func (rt *runtime) escalate(ctx context.Context, err error) error {
	code, ok := fault.As(err)
	if !ok {
		code = fault.GPSRead
		err = fault.New(code, err)
	}
	rt.log.Error().Err(err).Str("fault", code.String()).Msg("entering fault state")
	rt.faulted.Store(true)
	rt.dispatcher.Latch()
	if eng := rt.eng.Load(); eng != nil {
		if cerr := eng.Close(); cerr != nil {
			rt.log.Warn().Err(cerr).Msg("engine close")
		}
	}

	escCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-rt.acked:
			cancel()
		case <-escCtx.Done():
		}
	}()
	rt.leds.Escalate(escCtx, rt.red, code)

	select {
	case <-rt.acked:
		return fmt.Errorf("%w: %v", errAcknowledged, err)
	default:
		return err
	}
}

func (rt *runtime) acknowledge() {
	close(rt.acked)
}

func (rt *runtime) reportFault(err error) {
	select {
	case rt.faults <- err:
	default:
		rt.log.Error().Err(err).Msg("fault dropped")
	}
}

func activeLevel(activeLow bool) int {
	if activeLow {
		return 0
	}
	return 1
}

// input.Actions

func (rt *runtime) ToggleTrajectory() {
	if e := rt.eng.Load(); e != nil {
		e.ToggleTrajectory()
	}
}

func (rt *runtime) SetMarkerKind(k marker.Kind) {
	if e := rt.eng.Load(); e != nil {
		e.SetMarkerKind(k)
	}
}

func (rt *runtime) RequestSave() {
	if e := rt.eng.Load(); e != nil {
		e.RequestSave()
	}
}

// engine.Notifier

func (rt *runtime) SaveRequested() {
	if rt.faulted.Load() {
		return
	}
	rt.green.On()
}

func (rt *runtime) MarkerCommitted(s marker.Sample) {
	if rt.faulted.Load() {
		return
	}
	rt.green.Off()
	rt.green.BlinkOnce(commitBlink)
}

func (rt *runtime) TrajectoryStarted(info session.Info) {
	if rt.faulted.Load() {
		return
	}
	rt.red.On()
}

func (rt *runtime) TrajectoryStopped(info session.Info) {
	if rt.faulted.Load() {
		return
	}
	rt.red.Off()
}
