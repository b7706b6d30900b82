// Package capture records framed receiver output to a timestamped text log
// and plays such a log back as a gps.Stream.
package capture

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"

	"acr/internal/gps"
)

// Log format: line-oriented text.
//
//   - Blank lines and lines starting with '#' are ignored.
//   - "START" resets the origin; following offsets count from 0 again.
//   - Data lines are <t_us>,<proto>,<hex> where t_us is microseconds since
//     START, proto is N (NMEA) or U (UBX) and hex is the raw frame.

// Record is one log entry. A nil Frame is a START marker.
type Record struct {
	At       time.Duration
	Protocol gps.Protocol
	Frame    []byte
}

func protoTag(p gps.Protocol) string {
	if p == gps.ProtocolUBX {
		return "U"
	}
	return "N"
}

func parseProto(s string) (gps.Protocol, error) {
	switch s {
	case "N":
		return gps.ProtocolNMEA, nil
	case "U":
		return gps.ProtocolUBX, nil
	default:
		return 0, fmt.Errorf("unknown protocol tag %q", s)
	}
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var recs []Record
	n := 0
	for s.Scan() {
		n++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}

		parts := strings.SplitN(line, ",", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("capture line %d: want 3 fields, got %d", n, len(parts))
		}
		us, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil || us < 0 {
			return nil, fmt.Errorf("capture line %d: invalid offset %q", n, parts[0])
		}
		proto, err := parseProto(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("capture line %d: %w", n, err)
		}
		b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(parts[2]), " ", ""))
		if err != nil {
			return nil, fmt.Errorf("capture line %d: %w", n, err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("capture line %d: empty frame", n)
		}
		recs = append(recs, Record{At: time.Duration(us) * time.Microsecond, Protocol: proto, Frame: b})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Writer appends framed lines to a capture log.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	clk    bclock.Clock
	start  time.Time
	closed bool
}

func CreateWriter(path string, clk bclock.Clock) (*Writer, error) {
	if clk == nil {
		clk = bclock.New()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, clk: clk, start: clk.Now()}, nil
}

func (ww *Writer) WriteLine(l gps.Line) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("capture writer is closed")
	}
	if len(l.Raw) == 0 {
		return errors.New("empty frame")
	}
	d := ww.clk.Now().Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s,%s\n", d.Microseconds(), protoTag(l.Protocol), hex.EncodeToString(l.Raw))
	return err
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// Play replays records with their relative timing, calling cb for every
// frame. START markers reset the origin. speed 2.0 halves the waits.
func Play(ctx context.Context, records []Record, speed float64, loop bool, clk bclock.Clock, cb func(Record) error) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}
	if clk == nil {
		clk = bclock.New()
	}

	for {
		var origin, lastAt time.Duration
		haveLast := false

		for _, r := range records {
			if r.Frame == nil {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := time.Duration(float64(at-lastAt) / speed)
				if wait > 0 {
					t := clk.Timer(wait)
					select {
					case <-ctx.Done():
						t.Stop()
						return ctx.Err()
					case <-t.C:
					}
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := cb(r); err != nil {
				return err
			}
			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}
