// Package session allocates numbered recording directories and owns the
// files written into them.
//
// Both session kinds follow the same two-phase lifecycle: Setup picks the
// next directory name under <base>/logs/acr, Start creates it and opens the
// output files, Stop closes them.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	PrefixMarker     = "cones"
	PrefixTrajectory = "trajectory"

	// MarkerFile is the CSV written inside a marker session directory.
	MarkerFile = "cones.csv"
	// TrajectorySubdir holds the per-protocol files of a trajectory session.
	TrajectorySubdir = "gps"
)

var (
	ErrNotActive = errors.New("session: not active")
	ErrActive    = errors.New("session: already active")
	ErrNotSetup  = errors.New("session: not set up")
)

// Info describes a session for display.
type Info struct {
	Prefix string
	Name   string
	Path   string
	Active bool
}

// Root returns the directory holding all sessions for basePath.
func Root(basePath string) string {
	return filepath.Join(basePath, "logs", "acr")
}

// Manager owns one marker and one trajectory session rooted at BasePath.
type Manager struct {
	BasePath string

	Marker     *Marker
	Trajectory *Trajectory

	mu     sync.Mutex
	issued map[string]int
}

func NewManager(basePath string) *Manager {
	m := &Manager{BasePath: basePath, issued: map[string]int{}}
	m.Marker = &Marker{mgr: m}
	m.Trajectory = &Trajectory{mgr: m}
	return m
}

// allocate picks the next sequence number for prefix. The number is one past
// the larger of what exists on disk and what this manager already issued.
func (m *Manager) allocate(prefix string) (name, path string, err error) {
	root := Root(m.BasePath)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", "", fmt.Errorf("create %s: %w", root, err)
	}
	highest, err := highestSuffix(root, prefix)
	if err != nil {
		return "", "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.issued == nil {
		m.issued = map[string]int{}
	}
	if last := m.issued[prefix]; last > highest {
		highest = last
	}
	n := highest + 1
	m.issued[prefix] = n

	name = fmt.Sprintf("%s_%03d", prefix, n)
	return name, filepath.Join(root, name), nil
}

func highestSuffix(root, prefix string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", root, err)
	}
	highest := 0
	for _, e := range entries {
		n, ok := parseSuffix(e.Name(), prefix)
		if ok && n > highest {
			highest = n
		}
	}
	return highest, nil
}

func parseSuffix(name, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(name, prefix+"_")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// List returns the sessions found under basePath, ordered by prefix then
// sequence number.
func List(basePath string) ([]Info, error) {
	root := Root(basePath)
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: list %s: %w", root, err)
	}

	type item struct {
		info Info
		n    int
	}
	var items []item
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		for _, p := range []string{PrefixMarker, PrefixTrajectory} {
			if n, ok := parseSuffix(e.Name(), p); ok {
				items = append(items, item{info: Info{Prefix: p, Name: e.Name(), Path: filepath.Join(root, e.Name())}, n: n})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].info.Prefix != items[j].info.Prefix {
			return items[i].info.Prefix < items[j].info.Prefix
		}
		return items[i].n < items[j].n
	})
	out := make([]Info, 0, len(items))
	for _, it := range items {
		out = append(out, it.info)
	}
	return out, nil
}

// lifecycle is the state shared by both session kinds.
type lifecycle struct {
	name   string
	path   string
	active bool
}

func (l *lifecycle) info(prefix string) Info {
	return Info{Prefix: prefix, Name: l.name, Path: l.path, Active: l.active}
}
