// Package gpio connects physical buttons and LEDs to the recorder.
//
// Backends:
//   - gpiod: Linux GPIO character device (BCM numbering, line names "GPIO<n>")
//   - keyboard: host simulation on the controlling terminal
//   - none: inputs disabled, outputs discarded
package gpio

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"acr/internal/input"
	"acr/internal/led"
)

const (
	BackendGPIOD    = "gpiod"
	BackendKeyboard = "keyboard"
	BackendNone     = "none"
)

const consumer = "acr"

// EdgeHandler receives every level change on an input role.
type EdgeHandler func(role input.Role, level int)

type InputConfig struct {
	Backend string
	// Chip optionally pins the gpiochip device; empty probes the usual chips.
	Chip string
	// Pins maps roles to BCM GPIO numbers.
	Pins map[input.Role]int
	// ActiveLow selects pull-up bias for buttons that short to ground.
	ActiveLow bool

	Handler EdgeHandler
	// OnQuit is called when the keyboard backend reads q or Ctrl-C.
	OnQuit func()
	// Keys is the keyboard backend's source. Defaults to stdin.
	Keys io.Reader

	Logger zerolog.Logger
}

type OutputConfig struct {
	Backend string
	Chip    string
	// Pins maps LED names to BCM GPIO numbers.
	Pins map[string]int

	Logger zerolog.Logger
}

var (
	openGPIODInputsFn  = openGPIODInputs
	openGPIODOutputsFn = openGPIODOutputs
)

// OpenInputs starts delivering edges to cfg.Handler. Close stops delivery.
func OpenInputs(cfg InputConfig) (io.Closer, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("gpio: input handler is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendGPIOD, "":
		return openGPIODInputsFn(cfg)
	case BackendKeyboard:
		return openKeyboard(cfg)
	case BackendNone:
		return nopCloser{}, nil
	default:
		return nil, fmt.Errorf("gpio: unknown input backend %q", cfg.Backend)
	}
}

// Outputs is a set of named digital outputs.
type Outputs struct {
	lines  map[string]led.Output
	closer io.Closer
}

// Line returns the output registered under name.
func (o *Outputs) Line(name string) (led.Output, bool) {
	l, ok := o.lines[name]
	return l, ok
}

func (o *Outputs) Close() error {
	if o == nil || o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

func OpenOutputs(cfg OutputConfig) (*Outputs, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendGPIOD, "":
		return openGPIODOutputsFn(cfg)
	case BackendKeyboard, BackendNone:
		lines := make(map[string]led.Output, len(cfg.Pins))
		for name := range cfg.Pins {
			lines[name] = &logOutput{name: name, log: cfg.Logger}
		}
		return &Outputs{lines: lines, closer: nopCloser{}}, nil
	default:
		return nil, fmt.Errorf("gpio: unknown led backend %q", cfg.Backend)
	}
}

// logOutput stands in for an LED when no hardware is present.
type logOutput struct {
	name string
	log  zerolog.Logger
}

func (l *logOutput) SetValue(v int) error {
	l.log.Trace().Str("led", l.name).Int("value", v).Msg("led")
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func lineName(pin int) string {
	return fmt.Sprintf("GPIO%d", pin)
}
