//go:build linux

package gpio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"

	"acr/internal/input"
	"acr/internal/led"
)

// chipCandidates lists the chips to probe for a named line. Pi 5 kernels
// can expose the header on gpiochip0 or gpiochip4.
func chipCandidates(pinned string) []string {
	if pinned != "" {
		if !strings.HasPrefix(pinned, "/") {
			pinned = filepath.Join("/dev", pinned)
		}
		return []string{pinned}
	}
	out := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			out = append(out, filepath.Join("/dev", name))
		}
	}
	return out
}

// findChip returns the first chip that exposes every named line, plus the
// offsets of those lines in order.
func findChip(pinned string, pins []int) (*gpiocdev.Chip, []int, error) {
	for _, path := range chipCandidates(pinned) {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offsets := make([]int, 0, len(pins))
		ok := true
		for _, pin := range pins {
			off, err := chip.FindLine(lineName(pin))
			if err != nil {
				ok = false
				break
			}
			offsets = append(offsets, off)
		}
		if ok {
			return chip, offsets, nil
		}
		_ = chip.Close()
	}
	return nil, nil, fmt.Errorf("gpio: lines %v not found (or chip unavailable)", pins)
}

type gpiodInputs struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
}

func openGPIODInputs(cfg InputConfig) (io.Closer, error) {
	roles := make([]input.Role, 0, len(cfg.Pins))
	for r := range cfg.Pins {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	pins := make([]int, len(roles))
	for i, r := range roles {
		if cfg.Pins[r] <= 0 {
			return nil, fmt.Errorf("gpio: invalid pin %d for %s", cfg.Pins[r], r)
		}
		pins[i] = cfg.Pins[r]
	}

	chip, offsets, err := findChip(cfg.Chip, pins)
	if err != nil {
		return nil, err
	}
	byOffset := make(map[int]input.Role, len(offsets))
	for i, off := range offsets {
		byOffset[off] = roles[i]
	}

	bias := gpiocdev.LineReqOption(gpiocdev.WithPullDown)
	if cfg.ActiveLow {
		bias = gpiocdev.WithPullUp
	}
	handler := cfg.Handler
	lines, err := chip.RequestLines(offsets,
		gpiocdev.AsInput,
		bias,
		gpiocdev.WithBothEdges,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			role, ok := byOffset[evt.Offset]
			if !ok {
				return
			}
			level := 0
			if evt.Type == gpiocdev.LineEventRisingEdge {
				level = 1
			}
			handler(role, level)
		}),
	)
	if err != nil {
		_ = chip.Close()
		return nil, fmt.Errorf("gpio: request input lines %v: %w", pins, err)
	}
	cfg.Logger.Info().Str("chip", chip.Name).Ints("pins", pins).Msg("gpio inputs ready")
	return &gpiodInputs{chip: chip, lines: lines}, nil
}

func (g *gpiodInputs) Close() error {
	if g == nil || g.lines == nil {
		return nil
	}
	err := g.lines.Close()
	g.lines = nil
	if g.chip != nil {
		err = multierr.Append(err, g.chip.Close())
		g.chip = nil
	}
	return err
}

type gpiodOutputs struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

func openGPIODOutputs(cfg OutputConfig) (*Outputs, error) {
	names := make([]string, 0, len(cfg.Pins))
	for n := range cfg.Pins {
		names = append(names, n)
	}
	sort.Strings(names)
	pins := make([]int, len(names))
	for i, n := range names {
		if cfg.Pins[n] <= 0 {
			return nil, fmt.Errorf("gpio: invalid pin %d for led %s", cfg.Pins[n], n)
		}
		pins[i] = cfg.Pins[n]
	}

	chip, offsets, err := findChip(cfg.Chip, pins)
	if err != nil {
		return nil, err
	}
	g := &gpiodOutputs{chip: chip}
	out := &Outputs{lines: make(map[string]led.Output, len(names)), closer: g}
	for i, off := range offsets {
		line, err := chip.RequestLine(off, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
		if err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("gpio: request led %s (%s): %w", names[i], lineName(pins[i]), err)
		}
		g.lines = append(g.lines, line)
		out.lines[names[i]] = line
	}
	cfg.Logger.Info().Str("chip", chip.Name).Ints("pins", pins).Msg("gpio outputs ready")
	return out, nil
}

// Close drives every LED low before releasing it.
func (g *gpiodOutputs) Close() error {
	if g == nil {
		return nil
	}
	var err error
	for _, l := range g.lines {
		_ = l.SetValue(0)
		err = multierr.Append(err, l.Close())
	}
	g.lines = nil
	if g.chip != nil {
		err = multierr.Append(err, g.chip.Close())
		g.chip = nil
	}
	return err
}
