// Package state is the mutex-guarded aggregate shared between the
// acquisition loop, the input dispatcher and the renderer.
package state

import (
	"sync"

	"acr/internal/gps"
	"acr/internal/marker"
	"acr/internal/session"
)

// Snapshot is a deep copy of the shared state.
type Snapshot struct {
	Position   gps.Fix
	Trajectory []gps.Fix
	Markers    []marker.Sample
	Draft      marker.Sample

	MarkerSession     session.Info
	TrajectorySession session.Info
}

// State is safe for concurrent use. No method performs I/O while holding
// the lock.
type State struct {
	mu   sync.Mutex
	snap Snapshot
}

func New() *State {
	return &State{}
}

func (s *State) Position() gps.Fix {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Position
}

// SetPosition stores the current fix and moves the draft to it, keeping the
// draft's kind.
func (s *State) SetPosition(f gps.Fix) marker.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Position = f
	s.snap.Draft.Timestamp = f.Timestamp
	s.snap.Draft.Lat = f.Lat
	s.snap.Draft.Lon = f.Lon
	s.snap.Draft.Alt = f.Alt
	return s.snap.Draft
}

func (s *State) SetDraftKind(k marker.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Draft.Kind = k
}

func (s *State) Draft() marker.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Draft
}

func (s *State) AppendTrajectory(f gps.Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Trajectory = append(s.snap.Trajectory, f)
}

func (s *State) AppendMarker(m marker.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Markers = append(s.snap.Markers, m)
}

func (s *State) SetSessions(markerInfo, trajectoryInfo session.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.MarkerSession = markerInfo
	s.snap.TrajectorySession = trajectoryInfo
}

// ClearBuffers drops the trajectory buffer and marker list.
func (s *State) ClearBuffers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Trajectory = nil
	s.snap.Markers = nil
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	out.Trajectory = append([]gps.Fix(nil), s.snap.Trajectory...)
	out.Markers = append([]marker.Sample(nil), s.snap.Markers...)
	return out
}
