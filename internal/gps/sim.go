package gps

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// SimConfig shapes the simulated receiver's path.
type SimConfig struct {
	CenterLatDeg float64
	CenterLonDeg float64
	AltM         float64
	RadiusM      float64
	Period       time.Duration
	// Rate is the interval between GGA/RMC pairs.
	Rate time.Duration
}

func (s SimConfig) withDefaults() SimConfig {
	if s.CenterLatDeg == 0 && s.CenterLonDeg == 0 {
		s.CenterLatDeg = 45.6
		s.CenterLonDeg = 9.28
	}
	if s.RadiusM <= 0 {
		s.RadiusM = 50
	}
	if s.Period <= 0 {
		s.Period = 60 * time.Second
	}
	if s.Rate <= 0 {
		s.Rate = 100 * time.Millisecond
	}
	return s
}

// Position returns a deterministic figure-eight (Lissajous) path around the
// configured center, plus the instantaneous track and ground speed.
func (s SimConfig) Position(now time.Time) (latDeg, lonDeg, trackDeg, speedMS float64) {
	s = s.withDefaults()

	// ~111.32 km per degree latitude.
	radiusDeg := s.RadiusM / 111320.0
	phase := float64(now.UnixNano()%s.Period.Nanoseconds()) / float64(s.Period.Nanoseconds())

	//	x = cos(2πt)
	//	y = 0.5*sin(4πt)
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	latDeg = s.CenterLatDeg + radiusDeg*y
	lonDeg = s.CenterLonDeg + (radiusDeg*x)/math.Cos(s.CenterLatDeg*math.Pi/180.0)

	vx := -2 * math.Pi * math.Sin(w)
	vy := 2 * math.Pi * math.Cos(2*w)
	trackDeg = math.Mod((math.Atan2(vx, vy)*180/math.Pi)+360, 360)
	speedMS = math.Hypot(vx, vy) * s.RadiusM / s.Period.Seconds()
	return latDeg, lonDeg, trackDeg, speedMS
}

// Sentences renders the GGA and RMC sentences for now.
func (s SimConfig) Sentences(now time.Time) []string {
	s = s.withDefaults()
	lat, lon, trk, spd := s.Position(now)
	latS, latH := formatNMEALatLon(lat, true)
	lonS, lonH := formatNMEALatLon(lon, false)
	utc := now.UTC()
	hms := fmt.Sprintf("%02d%02d%02d.%02d", utc.Hour(), utc.Minute(), utc.Second(), utc.Nanosecond()/10_000_000)
	date := utc.Format("020106")

	gga := fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,4,12,0.6,%.3f,M,0.0,M,,", hms, latS, latH, lonS, lonH, s.AltM)
	rmc := fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,%.2f,%.1f,%s,,,A", hms, latS, latH, lonS, lonH, spd*1.943844, trk, date)
	return []string{nmeaSentence(gga), nmeaSentence(rmc)}
}

// simReceiver streams simulated sentences through a pipe.
type simReceiver struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newSimReceiver(cfg SimConfig, c bclock.Clock) io.ReadCloser {
	cfg = cfg.withDefaults()
	if c == nil {
		c = bclock.New()
	}
	pr, pw := io.Pipe()
	s := &simReceiver{pr: pr, pw: pw, stopCh: make(chan struct{})}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := c.Ticker(cfg.Rate)
		defer t.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-t.C:
				for _, line := range cfg.Sentences(c.Now()) {
					if _, err := io.WriteString(pw, line+"\r\n"); err != nil {
						return
					}
				}
			}
		}
	}()
	return s
}

func (s *simReceiver) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *simReceiver) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		_ = s.pw.Close()
		_ = s.pr.Close()
	})
	s.wg.Wait()
	return nil
}
