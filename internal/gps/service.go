package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// ErrNoMatch is returned by ReadLine when no recognizable frame arrived.
var ErrNoMatch = errors.New("gps: no recognizable frame")

// errSkip marks a framing miss (garbage, overlong or corrupt frame).
var errSkip = errors.New("gps: frame skipped")

// Stream yields framed lines from a receiver.
type Stream interface {
	// ReadLine waits for the next frame. It returns ErrNoMatch when nothing
	// recognizable arrived within the read timeout or the source is gone.
	ReadLine(ctx context.Context) (Line, error)
	Close() error
}

// ReaderConfig controls framing and read latency.
//
// All fields are optional.
type ReaderConfig struct {
	// ReadTimeout bounds a single ReadLine call. Defaults to 1s.
	ReadTimeout time.Duration
	// MaxSkip is the number of non-frame bytes tolerated before a miss is
	// reported. Defaults to 4096.
	MaxSkip int
	// MaxLine bounds an NMEA sentence. Defaults to 512.
	MaxLine int
	// Clock drives the read timeout. Defaults to the wall clock.
	Clock bclock.Clock
}

type frame struct {
	line Line
	err  error
}

// Reader frames a mixed NMEA/UBX byte stream on its own goroutine so that
// ReadLine latency stays bounded whatever the source does.
type Reader struct {
	cfg ReaderConfig
	rc  io.ReadCloser

	frames chan frame
	done   chan struct{}

	closeOnce sync.Once
	lastErr   atomic.Value // error
}

func NewReader(rc io.ReadCloser, cfg ReaderConfig) *Reader {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 1 * time.Second
	}
	if cfg.MaxSkip <= 0 {
		cfg.MaxSkip = 4096
	}
	if cfg.MaxLine <= 0 {
		cfg.MaxLine = 512
	}
	if cfg.Clock == nil {
		cfg.Clock = bclock.New()
	}
	r := &Reader{
		cfg:    cfg,
		rc:     rc,
		frames: make(chan frame, 64),
		done:   make(chan struct{}),
	}
	go r.pump()
	return r
}

func (r *Reader) pump() {
	defer close(r.frames)

	br := bufio.NewReaderSize(r.rc, 4096)
	for {
		line, err := readFrame(br, r.cfg.MaxSkip, r.cfg.MaxLine)
		var f frame
		switch {
		case err == nil:
			f = frame{line: line}
		case errors.Is(err, errSkip):
			f = frame{err: ErrNoMatch}
		default:
			r.lastErr.Store(err)
			return
		}
		select {
		case r.frames <- f:
		case <-r.done:
			return
		}
	}
}

func (r *Reader) ReadLine(ctx context.Context) (Line, error) {
	t := r.cfg.Clock.Timer(r.cfg.ReadTimeout)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return Line{}, ctx.Err()
	case f, ok := <-r.frames:
		if !ok {
			if err, _ := r.lastErr.Load().(error); err != nil {
				return Line{}, fmt.Errorf("%w: %v", ErrNoMatch, err)
			}
			return Line{}, ErrNoMatch
		}
		return f.line, f.err
	case <-t.C:
		return Line{}, fmt.Errorf("%w: read timeout after %s", ErrNoMatch, r.cfg.ReadTimeout)
	}
}

// Close releases the source. It does not wait for a read blocked inside the
// source to return.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.rc.Close()
	})
	return err
}

const (
	ubxSync1 = 0xB5
	ubxSync2 = 0x62

	ubxMaxPayload = 1024
)

func readFrame(br *bufio.Reader, maxSkip, maxLine int) (Line, error) {
	skipped := 0
	for {
		b, err := br.ReadByte()
		if err != nil {
			return Line{}, err
		}
		switch b {
		case '$':
			return readNMEA(br, maxLine)
		case ubxSync1:
			next, err := br.Peek(1)
			if err != nil {
				return Line{}, err
			}
			if next[0] == ubxSync2 {
				_, _ = br.ReadByte()
				return readUBX(br)
			}
		}
		skipped++
		if skipped >= maxSkip {
			return Line{}, errSkip
		}
	}
}

func readNMEA(br *bufio.Reader, maxLine int) (Line, error) {
	rest, err := br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return Line{}, errSkip
	}
	if err != nil {
		return Line{}, err
	}
	// Trim CR/LF.
	n := len(rest)
	for n > 0 && (rest[n-1] == '\n' || rest[n-1] == '\r') {
		n--
	}
	if n+1 > maxLine {
		return Line{}, errSkip
	}
	raw := make([]byte, 0, n+1)
	raw = append(raw, '$')
	raw = append(raw, rest[:n]...)
	return Line{Protocol: ProtocolNMEA, Raw: raw}, nil
}

func readUBX(br *bufio.Reader) (Line, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return Line{}, err
	}
	n := int(hdr[2]) | int(hdr[3])<<8
	if n > ubxMaxPayload {
		return Line{}, errSkip
	}
	raw := make([]byte, 6+n+2)
	raw[0], raw[1] = ubxSync1, ubxSync2
	copy(raw[2:6], hdr[:])
	if _, err := io.ReadFull(br, raw[6:]); err != nil {
		return Line{}, err
	}
	a, b := ubxChecksum(raw[2 : 6+n])
	if a != raw[6+n] || b != raw[7+n] {
		return Line{}, errSkip
	}
	return Line{Protocol: ProtocolUBX, Raw: raw}, nil
}

// ubxChecksum is the 8-bit Fletcher checksum over class, id, length and payload.
func ubxChecksum(b []byte) (byte, byte) {
	var a, c byte
	for _, v := range b {
		a += v
		c += a
	}
	return a, c
}
