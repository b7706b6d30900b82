package session

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"acr/internal/fault"
	"acr/internal/marker"
)

// Marker records committed cones into a single CSV file.
type Marker struct {
	mgr *Manager

	mu sync.Mutex
	lifecycle
	f *os.File
	w *bufio.Writer
}

// Setup allocates the next cones_NNN directory name. It does not create the
// session directory.
func (s *Marker) Setup() error {
	name, path, err := s.mgr.allocate(PrefixMarker)
	if err != nil {
		return fault.New(fault.MarkerSessionSetup, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return fault.New(fault.MarkerSessionSetup, ErrActive)
	}
	s.name, s.path = name, path
	return nil
}

// Start creates the directory and cones.csv with its header row.
func (s *Marker) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return fault.New(fault.MarkerSessionStart, ErrActive)
	}
	if s.path == "" {
		return fault.New(fault.MarkerSessionStart, ErrNotSetup)
	}
	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return fault.New(fault.MarkerSessionStart, fmt.Errorf("create %s: %w", s.path, err))
	}
	p := filepath.Join(s.path, MarkerFile)
	f, err := os.Create(p)
	if err != nil {
		return fault.New(fault.MarkerSessionStart, fmt.Errorf("open %s: %w", p, err))
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(marker.Header + "\n"); err != nil {
		_ = f.Close()
		return fault.New(fault.MarkerSessionStart, fmt.Errorf("write header %s: %w", p, err))
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fault.New(fault.MarkerSessionStart, fmt.Errorf("write header %s: %w", p, err))
	}
	s.f, s.w = f, w
	s.active = true
	return nil
}

// Write appends one row and syncs it to disk before returning.
func (s *Marker) Write(sample marker.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNotActive
	}
	if _, err := s.w.WriteString(sample.Row() + "\n"); err != nil {
		return fmt.Errorf("session: write %s: %w", s.name, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("session: flush %s: %w", s.name, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("session: sync %s: %w", s.name, err)
	}
	return nil
}

// Stop flushes and closes cones.csv. Calling Stop on an inactive session
// returns ErrNotActive.
func (s *Marker) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNotActive
	}
	err := s.w.Flush()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f, s.w = nil, nil
	s.active = false
	if err != nil {
		return fmt.Errorf("session: close %s: %w", s.name, err)
	}
	return nil
}

func (s *Marker) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Marker) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info(PrefixMarker)
}
