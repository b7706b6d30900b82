package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"acr/internal/fault"
	"acr/internal/gps"
)

var openFilesFn = gps.OpenFiles

// Trajectory records every matched GPS message into per-protocol files.
type Trajectory struct {
	mgr *Manager

	mu sync.Mutex
	lifecycle
	files *gps.FileSet
}

// Setup allocates the next trajectory_NNN directory name.
func (s *Trajectory) Setup() error {
	name, path, err := s.mgr.allocate(PrefixTrajectory)
	if err != nil {
		return fault.New(fault.TrajectorySessionSetup, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return fault.New(fault.TrajectorySessionSetup, ErrActive)
	}
	s.name, s.path = name, path
	return nil
}

// Start creates <dir>/gps and opens the file set with headers.
func (s *Trajectory) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return fault.New(fault.TrajectorySessionStart, ErrActive)
	}
	if s.path == "" {
		return fault.New(fault.TrajectorySessionStart, ErrNotSetup)
	}
	dir := filepath.Join(s.path, TrajectorySubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fault.New(fault.TrajectorySessionStart, fmt.Errorf("create %s: %w", dir, err))
	}
	files, err := openFilesFn(dir)
	if err != nil {
		return fault.New(fault.TrajectorySessionStart, err)
	}
	if err := files.WriteHeader(); err != nil {
		_ = files.Close()
		return fault.New(fault.TrajectorySessionStart, err)
	}
	s.files = files
	s.active = true
	return nil
}

// Append writes one matched message. It is a no-op error (ErrNotActive) when
// no session is running.
func (s *Trajectory) Append(m gps.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNotActive
	}
	return s.files.Append(m)
}

func (s *Trajectory) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNotActive
	}
	err := s.files.Close()
	s.files = nil
	s.active = false
	if err != nil {
		return fmt.Errorf("session: close %s: %w", s.name, err)
	}
	return nil
}

func (s *Trajectory) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Trajectory) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info(PrefixTrajectory)
}
