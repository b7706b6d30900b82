package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"acr/internal/gps"
)

// PlayConfig controls capture playback.
type PlayConfig struct {
	// Speed scales waits between frames. Defaults to 1.
	Speed float64
	// Loop restarts from the first record once the log is exhausted.
	Loop   bool
	Reader gps.ReaderConfig
	Logger zerolog.Logger
}

// Open plays the capture log at path through a framing gps.Reader, so the
// result behaves like a live receiver. The stream reports gps.ErrNoMatch
// once a non-looping playback ends.
func Open(path string, cfg PlayConfig) (gps.Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture open %s: %w", path, err)
	}
	recs, err := NewReader(f).ReadAll()
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("capture read %s: %w", path, err)
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	return gps.NewReader(newPlayer(recs, cfg), cfg.Reader), nil
}

// player feeds replayed frames into a pipe.
type player struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func newPlayer(recs []Record, cfg PlayConfig) *player {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	p := &player{pr: pr, pw: pw, cancel: cancel}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := Play(ctx, recs, cfg.Speed, cfg.Loop, cfg.Reader.Clock, func(r Record) error {
			if _, err := pw.Write(r.Frame); err != nil {
				return err
			}
			if r.Protocol == gps.ProtocolNMEA {
				_, err := io.WriteString(pw, "\r\n")
				return err
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			cfg.Logger.Warn().Err(err).Msg("capture playback stopped")
		} else if err == nil {
			cfg.Logger.Info().Int("records", len(recs)).Msg("capture playback finished")
		}
		_ = pw.Close()
	}()
	return p
}

func (p *player) Read(b []byte) (int, error) { return p.pr.Read(b) }

func (p *player) Close() error {
	p.once.Do(func() {
		p.cancel()
		_ = p.pr.Close()
	})
	p.wg.Wait()
	return nil
}

// Tee wraps s so that every framed line is also appended to w. Write
// failures are logged once and do not affect the stream.
func Tee(s gps.Stream, w *Writer, log zerolog.Logger) gps.Stream {
	return &teeStream{Stream: s, w: w, log: log}
}

type teeStream struct {
	gps.Stream
	w      *Writer
	log    zerolog.Logger
	warned bool
}

func (t *teeStream) ReadLine(ctx context.Context) (gps.Line, error) {
	l, err := t.Stream.ReadLine(ctx)
	if err != nil {
		return l, err
	}
	if werr := t.w.WriteLine(l); werr != nil && !t.warned {
		t.warned = true
		t.log.Warn().Err(werr).Msg("capture write failed")
	}
	return l, nil
}

// Close closes the wrapped stream and then the capture log.
func (t *teeStream) Close() error {
	return multierr.Combine(t.Stream.Close(), t.w.Close())
}
