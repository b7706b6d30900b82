package state

import (
	"sync"
	"testing"

	"acr/internal/gps"
	"acr/internal/marker"
)

func TestSetPosition_MovesDraftKeepsKind(t *testing.T) {
	s := New()
	s.SetDraftKind(marker.Blue)
	d := s.SetPosition(gps.Fix{Timestamp: 9, Lat: 1, Lon: 2, Alt: 3})
	if d.Kind != marker.Blue || d.Timestamp != 9 || d.Lat != 1 || d.Lon != 2 || d.Alt != 3 {
		t.Fatalf("draft=%+v", d)
	}
	if got := s.Draft(); got != d {
		t.Fatalf("Draft()=%+v want %+v", got, d)
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := New()
	s.AppendTrajectory(gps.Fix{Lat: 1, Lon: 1})
	s.AppendMarker(marker.Sample{Kind: marker.Yellow})

	snap := s.Snapshot()
	snap.Trajectory[0].Lat = 99
	snap.Markers[0].Kind = marker.Orange

	again := s.Snapshot()
	if again.Trajectory[0].Lat != 1 {
		t.Fatalf("trajectory mutated through snapshot")
	}
	if again.Markers[0].Kind != marker.Yellow {
		t.Fatalf("markers mutated through snapshot")
	}
}

func TestClearBuffers(t *testing.T) {
	s := New()
	s.SetPosition(gps.Fix{Lat: 5, Lon: 6})
	s.AppendTrajectory(gps.Fix{Lat: 1, Lon: 1})
	s.AppendMarker(marker.Sample{})
	s.ClearBuffers()

	snap := s.Snapshot()
	if len(snap.Trajectory) != 0 || len(snap.Markers) != 0 {
		t.Fatalf("buffers not cleared: %+v", snap)
	}
	if snap.Position.Lat != 5 {
		t.Fatalf("position must survive ClearBuffers")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.SetPosition(gps.Fix{Lat: float64(j), Lon: 1})
				s.AppendTrajectory(gps.Fix{Lat: float64(j), Lon: 1})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = s.Snapshot()
				s.SetDraftKind(marker.Kind(j % marker.KindCount))
			}
		}()
	}
	wg.Wait()
	if got := len(s.Snapshot().Trajectory); got != 800 {
		t.Fatalf("trajectory len=%d want 800", got)
	}
}
