package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"acr/internal/capture"
	"acr/internal/config"
	"acr/internal/fault"
	"acr/internal/gpio"
	"acr/internal/gps"
	"acr/internal/input"
	"acr/internal/marker"
	"acr/internal/session"
)

type loopStream struct {
	line gps.Line
	err  error
}

func (s *loopStream) ReadLine(ctx context.Context) (gps.Line, error) {
	select {
	case <-ctx.Done():
		return gps.Line{}, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	return s.line, s.err
}

func (s *loopStream) Close() error { return nil }

func ggaLine() gps.Line {
	payload := "GPGGA,120000.00,4530.0000,N,00915.0000,E,4,12,0.6,210.0,M,0.0,M,,"
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return gps.Line{Protocol: gps.ProtocolNMEA, Raw: []byte(fmt.Sprintf("$%s*%02X", payload, ck))}
}

// syncBuffer is written by the engine goroutine and read by the test.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BasePath = t.TempDir()
	cfg.Input.Backend = "none"
	cfg.LED.Backend = "none"
	cfg.LED.FaultBudget = 140 * time.Millisecond
	return cfg
}

// installSeams swaps the hardware seams and returns a channel that yields
// the edge handler once inputs are opened.
func installSeams(t *testing.T, stream gps.Stream, streamErr error) <-chan gpio.EdgeHandler {
	t.Helper()
	handlers := make(chan gpio.EdgeHandler, 1)

	oldStream, oldInputs, oldAfter := openStreamFn, openInputsFn, afterFn
	openStreamFn = func(ctx context.Context, cfg gps.OpenConfig) (gps.Stream, error) {
		if streamErr != nil {
			return nil, streamErr
		}
		return stream, nil
	}
	openInputsFn = func(cfg gpio.InputConfig) (io.Closer, error) {
		handlers <- cfg.Handler
		return io.NopCloser(nil), nil
	}
	afterFn = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	t.Cleanup(func() {
		openStreamFn, openInputsFn, afterFn = oldStream, oldInputs, oldAfter
	})
	return handlers
}

func waitHandler(t *testing.T, ch <-chan gpio.EdgeHandler) gpio.EdgeHandler {
	t.Helper()
	select {
	case h := <-ch:
		return h
	case <-time.After(2 * time.Second):
		t.Fatalf("inputs never opened")
		return nil
	}
}

// acknowledgeUntil presses blue and orange together until done is closed.
func acknowledgeUntil(h gpio.EdgeHandler, done <-chan struct{}) {
	for {
		h(input.RoleBlue, 0)
		h(input.RoleOrange, 0)
		select {
		case <-done:
			return
		case <-time.After(15 * time.Millisecond):
		}
		h(input.RoleBlue, 1)
		h(input.RoleOrange, 1)
		select {
		case <-done:
			return
		case <-time.After(15 * time.Millisecond):
		}
	}
}

func TestRun_RecordsConeEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.GPS.Capture = filepath.Join(t.TempDir(), "run.capture")
	handlers := installSeams(t, &loopStream{line: ggaLine()}, nil)

	out := &syncBuffer{}
	rt := newRuntime(cfg, zerolog.Nop(), out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- rt.run(ctx) }()

	h := waitHandler(t, handlers)
	deadline := time.Now().Add(5 * time.Second)
	for !rt.state.Position().Valid() {
		if time.Now().After(deadline) {
			t.Fatalf("no fix")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for !strings.Contains(out.String(), "YELLOW") {
		if time.Now().After(deadline) {
			t.Fatalf("cone never committed; stdout=%q", out.String())
		}
		h(input.RoleYellow, 0)
		time.Sleep(20 * time.Millisecond)
		h(input.RoleYellow, 1)
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}

	infos, err := session.List(cfg.BasePath)
	if err != nil || len(infos) != 1 || infos[0].Prefix != session.PrefixMarker {
		t.Fatalf("sessions=%+v err=%v", infos, err)
	}
	b, err := os.ReadFile(filepath.Join(infos[0].Path, session.MarkerFile))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if lines[0] != marker.Header || !strings.Contains(lines[1], ",0,YELLOW,45.500000000,9.250000000,210.0000") {
		t.Fatalf("cones.csv=%q", b)
	}

	f, err := os.Open(cfg.GPS.Capture)
	if err != nil {
		t.Fatalf("open capture: %v", err)
	}
	defer f.Close()
	recs, err := capture.NewReader(f).ReadAll()
	if err != nil || len(recs) < 2 || recs[0].Frame != nil {
		t.Fatalf("capture records=%d err=%v", len(recs), err)
	}
	if string(recs[1].Frame) != string(ggaLine().Raw) {
		t.Fatalf("captured frame=%q", recs[1].Frame)
	}
}

func TestOpenStream_CaptureDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.capture")
	body := fmt.Sprintf("START\n0,N,%x\n", ggaLine().Raw)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := testConfig(t)
	cfg.GPS.Device = "capture:" + path

	rt := newRuntime(cfg, zerolog.Nop(), io.Discard)
	st, err := rt.openStream(context.Background())
	if err != nil {
		t.Fatalf("openStream: %v", err)
	}
	defer st.Close()
	l, err := st.ReadLine(context.Background())
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(l.Raw) != string(ggaLine().Raw) {
		t.Fatalf("line=%q", l.Raw)
	}
}

func TestOpenStream_CaptureCreateFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.GPS.Capture = filepath.Join(t.TempDir(), "missing", "run.capture")
	src := &loopStream{line: ggaLine()}
	installSeams(t, src, nil)

	rt := newRuntime(cfg, zerolog.Nop(), io.Discard)
	if _, err := rt.openStream(context.Background()); err == nil || !strings.Contains(err.Error(), "capture create") {
		t.Fatalf("err=%v", err)
	}
}

func TestRun_GPSNotFoundEscalatesUntilAcknowledged(t *testing.T) {
	cfg := testConfig(t)
	handlers := installSeams(t, nil, errors.New("no such device"))

	rt := newRuntime(cfg, zerolog.Nop(), io.Discard)
	errCh := make(chan error, 1)
	go func() { errCh <- rt.run(context.Background()) }()

	h := waitHandler(t, handlers)
	done := make(chan struct{})
	go acknowledgeUntil(h, done)
	defer close(done)

	select {
	case err := <-errCh:
		if !errors.Is(err, errAcknowledged) {
			t.Fatalf("err=%v want acknowledged", err)
		}
		if !strings.Contains(err.Error(), fault.GPSNotFound.String()) {
			t.Fatalf("err=%v want %s", err, fault.GPSNotFound)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("escalation never acknowledged")
	}
}

func TestRun_LoopFaultEscalates(t *testing.T) {
	cfg := testConfig(t)
	cfg.GPS.MaxFailures = 2
	handlers := installSeams(t, &loopStream{err: gps.ErrNoMatch}, nil)

	rt := newRuntime(cfg, zerolog.Nop(), io.Discard)
	errCh := make(chan error, 1)
	go func() { errCh <- rt.run(context.Background()) }()

	h := waitHandler(t, handlers)
	done := make(chan struct{})
	go acknowledgeUntil(h, done)
	defer close(done)

	select {
	case err := <-errCh:
		if !errors.Is(err, errAcknowledged) {
			t.Fatalf("err=%v want acknowledged", err)
		}
		if !strings.Contains(err.Error(), fault.GPSRead.String()) {
			t.Fatalf("err=%v want %s", err, fault.GPSRead)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("loop fault never escalated")
	}
}

// closeStream reports when the engine releases it.
type closeStream struct {
	loopStream
	once   sync.Once
	closed chan struct{}
}

func (s *closeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestRun_SessionFaultStopsEngineBeforeEscalating(t *testing.T) {
	cfg := testConfig(t)
	cfg.BasePath = filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(cfg.BasePath, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	stream := &closeStream{loopStream: loopStream{line: ggaLine()}, closed: make(chan struct{})}
	handlers := installSeams(t, stream, nil)

	rt := newRuntime(cfg, zerolog.Nop(), io.Discard)
	errCh := make(chan error, 1)
	go func() { errCh <- rt.run(context.Background()) }()

	h := waitHandler(t, handlers)
	deadline := time.Now().Add(5 * time.Second)
	for rt.eng.Load() == nil || !rt.dispatcher.Latched() {
		if time.Now().After(deadline) {
			t.Fatalf("cone session fault never escalated")
		}
		h(input.RoleYellow, 0)
		time.Sleep(20 * time.Millisecond)
		h(input.RoleYellow, 1)
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-stream.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("engine still reading the receiver during escalation")
	}
	select {
	case <-rt.eng.Load().Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("engine loop still running during escalation")
	}

	// Late notifications must not touch the LEDs.
	rt.MarkerCommitted(marker.Sample{Kind: marker.Yellow})
	rt.TrajectoryStarted(session.Info{})
	if on, _, oneShot := rt.green.Durations(); oneShot || on != 0 {
		t.Fatalf("green driven during escalation: on=%v oneShot=%v", on, oneShot)
	}

	done := make(chan struct{})
	go acknowledgeUntil(h, done)
	defer close(done)
	select {
	case err := <-errCh:
		if !errors.Is(err, errAcknowledged) {
			t.Fatalf("err=%v want acknowledged", err)
		}
		if !strings.Contains(err.Error(), fault.MarkerSessionSetup.String()) {
			t.Fatalf("err=%v want %s", err, fault.MarkerSessionSetup)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("escalation never acknowledged")
	}
}

func TestRun_MarkBeforeReadyIsDropped(t *testing.T) {
	cfg := testConfig(t)
	handlers := installSeams(t, &loopStream{line: ggaLine()}, nil)
	release := make(chan time.Time)
	afterFn = func(time.Duration) <-chan time.Time { return release }

	out := &syncBuffer{}
	rt := newRuntime(cfg, zerolog.Nop(), out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- rt.run(ctx) }()

	h := waitHandler(t, handlers)
	h(input.RoleYellow, 0)
	time.Sleep(20 * time.Millisecond)
	h(input.RoleYellow, 1)
	time.Sleep(20 * time.Millisecond)
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for !rt.dispatcher.Armed() {
		if time.Now().After(deadline) {
			t.Fatalf("inputs never armed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// One press, well inside the repress window of the ignored one.
	h(input.RoleBlue, 0)
	for !strings.Contains(out.String(), "BLUE") {
		if time.Now().After(deadline) {
			t.Fatalf("first mark after startup was repressed; stdout=%q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if strings.Contains(out.String(), "YELLOW") {
		t.Fatalf("mark made during startup was recorded; stdout=%q", out.String())
	}
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestRun_SignalDuringStartup(t *testing.T) {
	cfg := testConfig(t)
	handlers := installSeams(t, &loopStream{line: ggaLine()}, nil)
	afterFn = func(time.Duration) <-chan time.Time { return nil }

	rt := newRuntime(cfg, zerolog.Nop(), io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rt.run(ctx) }()

	waitHandler(t, handlers)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
}

func TestSessionsCommand(t *testing.T) {
	base := t.TempDir()
	for _, d := range []string{"cones_001", "trajectory_003"} {
		if err := os.MkdirAll(filepath.Join(session.Root(base), d), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	if err := app.Run([]string{"acr", "sessions", "--base-path", base}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "cones_001") || !strings.Contains(s, "trajectory_003") || !strings.Contains(s, "trajectory") {
		t.Fatalf("output=%q", s)
	}
}

func TestSessionsCommand_ExplicitMissingConfig(t *testing.T) {
	app := newApp()
	app.Writer = io.Discard
	err := app.Run([]string{"acr", "sessions", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil || !strings.Contains(err.Error(), "config load failed") {
		t.Fatalf("err=%v", err)
	}
}

func TestExportCommand(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(session.Root(base), "cones_002")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cone := marker.Sample{Timestamp: 7, Kind: marker.Orange, Lat: 45.5, Lon: 9.25}
	if err := os.WriteFile(filepath.Join(dir, session.MarkerFile), []byte(marker.Header+"\n"+cone.Row()+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	if err := app.Run([]string{"acr", "export", "--base-path", base, "cones_002"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "FeatureCollection") || !strings.Contains(out.String(), "ORANGE") {
		t.Fatalf("output=%q", out.String())
	}

	if err := app.Run([]string{"acr", "export", "--base-path", base}); err == nil {
		t.Fatalf("expected error without a session argument")
	}
}
