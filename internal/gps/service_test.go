package gps

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func readAll(t *testing.T, r *Reader, n int) []Line {
	t.Helper()
	var out []Line
	for i := 0; i < n; i++ {
		l, err := r.ReadLine(context.Background())
		if err != nil {
			t.Fatalf("ReadLine %d: %v", i, err)
		}
		out = append(out, l)
	}
	return out
}

func TestReader_FramesMixedStream(t *testing.T) {
	gga := nmeaSentence("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	ubx := encodeHPPOSLLH(HPPOSLLH{Lat: 1, Lon: 2})

	var buf bytes.Buffer
	buf.WriteString("noise")
	buf.WriteString(gga + "\r\n")
	buf.Write(ubx)
	buf.WriteString(gga + "\n")

	r := NewReader(io.NopCloser(&buf), ReaderConfig{ReadTimeout: time.Second})
	defer r.Close()

	lines := readAll(t, r, 3)
	if lines[0].Protocol != ProtocolNMEA || string(lines[0].Raw) != gga {
		t.Fatalf("line0=%q", lines[0].Raw)
	}
	if lines[1].Protocol != ProtocolUBX || !bytes.Equal(lines[1].Raw, ubx) {
		t.Fatalf("line1 protocol=%v len=%d", lines[1].Protocol, len(lines[1].Raw))
	}
	if lines[2].Protocol != ProtocolNMEA || string(lines[2].Raw) != gga {
		t.Fatalf("line2=%q", lines[2].Raw)
	}
}

func TestReader_GarbageBeyondBudgetIsNoMatch(t *testing.T) {
	src := strings.NewReader(strings.Repeat("x", 64))
	r := NewReader(io.NopCloser(src), ReaderConfig{ReadTimeout: time.Second, MaxSkip: 16})
	defer r.Close()

	_, err := r.ReadLine(context.Background())
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err=%v want ErrNoMatch", err)
	}
}

func TestReader_CorruptUBXIsNoMatch(t *testing.T) {
	ubx := encodeHPPOSLLH(HPPOSLLH{Lat: 1, Lon: 2})
	ubx[len(ubx)-1] ^= 0xFF
	r := NewReader(io.NopCloser(bytes.NewReader(ubx)), ReaderConfig{ReadTimeout: time.Second})
	defer r.Close()

	_, err := r.ReadLine(context.Background())
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err=%v want ErrNoMatch", err)
	}
}

func TestReader_ExhaustedSourceIsNoMatch(t *testing.T) {
	r := NewReader(io.NopCloser(strings.NewReader("")), ReaderConfig{ReadTimeout: time.Second})
	defer r.Close()

	for i := 0; i < 3; i++ {
		_, err := r.ReadLine(context.Background())
		if !errors.Is(err, ErrNoMatch) {
			t.Fatalf("read %d err=%v want ErrNoMatch", i, err)
		}
	}
}

func TestReader_TimeoutIsNoMatch(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewReader(pr, ReaderConfig{ReadTimeout: 20 * time.Millisecond})
	defer r.Close()

	start := time.Now()
	_, err := r.ReadLine(context.Background())
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err=%v want ErrNoMatch", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("read not bounded: %v", time.Since(start))
	}
}

func TestReader_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewReader(pr, ReaderConfig{ReadTimeout: time.Hour})
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ReadLine(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}
