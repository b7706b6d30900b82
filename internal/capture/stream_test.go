package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"acr/internal/gps"
)

// ubxFrame is an empty-payload UBX frame (class 0x01, id 0x07).
var ubxFrame = []byte{0xB5, 0x62, 0x01, 0x07, 0x00, 0x00, 0x08, 0x19}

type sliceStream struct {
	lines  []gps.Line
	closed bool
}

func (s *sliceStream) ReadLine(ctx context.Context) (gps.Line, error) {
	if len(s.lines) == 0 {
		return gps.Line{}, gps.ErrNoMatch
	}
	l := s.lines[0]
	s.lines = s.lines[1:]
	return l, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

func TestTeeThenOpen_ReplaysRecordedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gps.capture")
	sentences := gps.SimConfig{}.Sentences(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	in := []gps.Line{
		{Protocol: gps.ProtocolNMEA, Raw: []byte(sentences[0])},
		{Protocol: gps.ProtocolUBX, Raw: ubxFrame},
		{Protocol: gps.ProtocolNMEA, Raw: []byte(sentences[1])},
	}

	w, err := CreateWriter(path, nil)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	src := &sliceStream{lines: append([]gps.Line(nil), in...)}
	tee := Tee(src, w, zerolog.Nop())
	for range in {
		if _, err := tee.ReadLine(context.Background()); err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
	}
	if _, err := tee.ReadLine(context.Background()); !errors.Is(err, gps.ErrNoMatch) {
		t.Fatalf("err=%v want ErrNoMatch", err)
	}
	if err := tee.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !src.closed {
		t.Fatalf("wrapped stream not closed")
	}

	st, err := Open(path, PlayConfig{Speed: 1000, Reader: gps.ReaderConfig{ReadTimeout: time.Second}, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	for i, want := range in {
		got, err := st.ReadLine(context.Background())
		if err != nil {
			t.Fatalf("replay ReadLine %d: %v", i, err)
		}
		if got.Protocol != want.Protocol || string(got.Raw) != string(want.Raw) {
			t.Fatalf("line %d=%v %q want %v %q", i, got.Protocol, got.Raw, want.Protocol, want.Raw)
		}
	}
	if _, err := gps.Match(gps.Line{Protocol: gps.ProtocolNMEA, Raw: []byte(sentences[0])}); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if _, err := st.ReadLine(context.Background()); !errors.Is(err, gps.ErrNoMatch) {
		t.Fatalf("after end err=%v want ErrNoMatch", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "missing"), PlayConfig{}); err == nil {
		t.Fatalf("expected error for missing file")
	}
	bad := filepath.Join(dir, "bad.capture")
	if err := os.WriteFile(bad, []byte("garbage\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Open(bad, PlayConfig{})
	if err == nil || !strings.Contains(err.Error(), "capture read") {
		t.Fatalf("err=%v", err)
	}
}

func TestOpen_CloseStopsLoopingPlayback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.capture")
	if err := os.WriteFile(path, []byte("START\n0,U,b56201070000"+"0819\n1000,U,b562010700000819\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	st, err := Open(path, PlayConfig{Loop: true, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		l, err := st.ReadLine(context.Background())
		if err != nil || l.Protocol != gps.ProtocolUBX {
			t.Fatalf("ReadLine %d: %v %v", i, l.Protocol, err)
		}
	}
	done := make(chan struct{})
	go func() {
		_ = st.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close blocked")
	}
}
