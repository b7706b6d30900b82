// Package marker holds the operator-flagged point ("cone") model and its CSV
// row format.
package marker

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the cone category selected by one of the three buttons.
type Kind int32

const (
	Yellow Kind = iota
	Blue
	Orange

	// KindCount is the number of categories.
	KindCount int = iota
)

// Header is the first row of every cones.csv.
const Header = "timestamp,cone_id,cone_name,lat,lon,alt"

func (k Kind) String() string {
	switch k {
	case Yellow:
		return "YELLOW"
	case Blue:
		return "BLUE"
	case Orange:
		return "ORANGE"
	default:
		return "UNKNOWN_CONE"
	}
}

func (k Kind) Valid() bool {
	return k >= 0 && int(k) < KindCount
}

// ParseKind accepts either the numeric id or the name.
func ParseKind(s string) (Kind, error) {
	for i := 0; i < KindCount; i++ {
		k := Kind(i)
		if s == k.String() || s == strconv.Itoa(i) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown cone kind %q", s)
}

// Sample is one committed marker. Timestamp is in clock microseconds.
type Sample struct {
	Timestamp uint64
	Kind      Kind
	Lat       float64
	Lon       float64
	Alt       float64
}

// Row formats the sample as a cones.csv row without trailing newline.
func (s Sample) Row() string {
	return fmt.Sprintf("%d,%d,%s,%.9f,%.9f,%.4f", s.Timestamp, int(s.Kind), s.Kind, s.Lat, s.Lon, s.Alt)
}

// ParseRow reads a cones.csv row. The alt column is optional.
func ParseRow(line string) (Sample, error) {
	f := strings.Split(line, ",")
	if len(f) < 5 {
		return Sample{}, fmt.Errorf("cone row: want at least 5 fields, got %d", len(f))
	}
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}

	var (
		s   Sample
		err error
	)
	if s.Timestamp, err = strconv.ParseUint(f[0], 10, 64); err != nil {
		return Sample{}, fmt.Errorf("cone row timestamp: %w", err)
	}
	if s.Kind, err = ParseKind(f[1]); err != nil {
		return Sample{}, err
	}
	if s.Lat, err = strconv.ParseFloat(f[3], 64); err != nil {
		return Sample{}, fmt.Errorf("cone row lat: %w", err)
	}
	if s.Lon, err = strconv.ParseFloat(f[4], 64); err != nil {
		return Sample{}, fmt.Errorf("cone row lon: %w", err)
	}
	if len(f) > 5 && f[5] != "" {
		if s.Alt, err = strconv.ParseFloat(f[5], 64); err != nil {
			return Sample{}, fmt.Errorf("cone row alt: %w", err)
		}
	}
	return s, nil
}
