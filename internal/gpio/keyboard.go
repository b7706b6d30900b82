package gpio

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"acr/internal/input"
)

// keyRoles maps host keys to input roles. Each key produces a press and a
// release edge.
var keyRoles = map[byte]input.Role{
	'm': input.RoleMode,
	'y': input.RoleYellow,
	'b': input.RoleBlue,
	'o': input.RoleOrange,
}

const (
	keyAck  = 'a' // blue and orange held together
	keyQuit = 'q'
	keyCtlC = 0x03
)

type keyboard struct {
	cfg     InputConfig
	pressed int
	release int

	restore func()

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// openKeyboard reads single keys from cfg.Keys (or the terminal in raw mode)
// and turns them into edges.
func openKeyboard(cfg InputConfig) (io.Closer, error) {
	k := &keyboard{cfg: cfg, restore: func() {}, done: make(chan struct{})}
	if cfg.ActiveLow {
		k.pressed, k.release = 0, 1
	} else {
		k.pressed, k.release = 1, 0
	}

	src := cfg.Keys
	if src == nil {
		src = os.Stdin
		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			old, err := term.MakeRaw(fd)
			if err != nil {
				return nil, err
			}
			k.restore = func() { _ = term.Restore(fd, old) }
		}
		cfg.Logger.Info().Msg("keyboard input: y/b/o mark, m toggles trajectory, a acknowledges a fault, q quits")
	}

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.loop(bufio.NewReader(src))
	}()
	return k, nil
}

func (k *keyboard) loop(r *bufio.Reader) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				k.cfg.Logger.Debug().Err(err).Msg("keyboard read")
			}
			return
		}
		select {
		case <-k.done:
			return
		default:
		}
		k.key(b)
	}
}

func (k *keyboard) key(b byte) {
	switch b {
	case keyQuit, keyCtlC:
		if k.cfg.OnQuit != nil {
			k.cfg.OnQuit()
		}
	case keyAck:
		k.cfg.Handler(input.RoleBlue, k.pressed)
		k.cfg.Handler(input.RoleOrange, k.pressed)
		k.cfg.Handler(input.RoleBlue, k.release)
		k.cfg.Handler(input.RoleOrange, k.release)
	default:
		role, ok := keyRoles[b]
		if !ok {
			return
		}
		k.cfg.Handler(role, k.pressed)
		k.cfg.Handler(role, k.release)
	}
}

// Close restores the terminal. A read blocked on the terminal returns with
// the next key.
func (k *keyboard) Close() error {
	k.closeOnce.Do(func() {
		close(k.done)
		k.restore()
	})
	return nil
}
