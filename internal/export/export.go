// Package export turns a recorded session directory into GeoJSON: one Point
// feature per cone and a LineString for the trajectory.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/rs/zerolog"
	"github.com/wroge/wgs84"

	"acr/internal/gps"
	"acr/internal/marker"
	"acr/internal/session"
)

// ErrEmpty is returned when a directory holds neither cones nor a trajectory.
var ErrEmpty = errors.New("export: no cones or trajectory found")

type Summary struct {
	Markers      int
	Skipped      int
	TrackPoints  int
	TrackLengthM float64
}

// LoadMarkers reads a cones.csv. The header and malformed rows are skipped;
// skipped counts the malformed ones.
func LoadMarkers(path string, log zerolog.Logger) (samples []marker.Sample, skipped int, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	for i, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if i == 0 || line == "" {
			continue
		}
		s, perr := marker.ParseRow(line)
		if perr != nil {
			skipped++
			log.Warn().Err(perr).Int("line", i+1).Str("path", path).Msg("skipping cone row")
			continue
		}
		samples = append(samples, s)
	}
	return samples, skipped, nil
}

// LoadTrack reads the fixes of a trajectory session's gps directory. High
// precision UBX fixes are preferred over GGA when both were recorded.
func LoadTrack(dir string) ([]gps.Fix, error) {
	fixes, err := loadFixes(filepath.Join(dir, gps.DescHPPOSLLH.Name()+".csv"), "height", func(rec map[string]string) bool {
		return rec["invalid_llh"] != "true"
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if len(fixes) > 0 {
		return fixes, nil
	}
	return loadFixes(filepath.Join(dir, gps.DescGGA.Name()+".csv"), "alt", func(rec map[string]string) bool {
		q := rec["fix_quality"]
		return q != "" && q != "0"
	})
}

func loadFixes(path, altCol string, valid func(map[string]string) bool) ([]gps.Fix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var fixes []gps.Fix
	rec := make(map[string]string, len(header))
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return fixes, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for i, h := range header {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		if !valid(rec) {
			continue
		}
		ts, err1 := strconv.ParseUint(rec["timestamp"], 10, 64)
		lat, err2 := strconv.ParseFloat(rec["lat"], 64)
		lon, err3 := strconv.ParseFloat(rec["lon"], 64)
		alt, _ := strconv.ParseFloat(rec[altCol], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		fix := gps.Fix{Timestamp: ts, Lat: lat, Lon: lon, Alt: alt}
		if fix.Valid() {
			fixes = append(fixes, fix)
		}
	}
}

// ErrStationary is returned for a trajectory whose fixes never leave one
// position; no line can be drawn through it.
var ErrStationary = errors.New("export: trajectory has one distinct position")

// TrackLength is the path length in meters. Points are projected to web
// mercator and the result is rescaled by the cosine of the mean latitude,
// which is accurate to well under a percent over a course-sized area.
func TrackLength(fixes []gps.Fix) (float64, error) {
	if len(fixes) < 2 {
		return 0, nil
	}
	ls, meanLat, err := projectedLine(fixes)
	if err != nil {
		return 0, err
	}
	return ls.Length() * math.Cos(meanLat*math.Pi/180), nil
}

func projectedLine(fixes []gps.Fix) (geom.LineString, float64, error) {
	f := wgs84.EPSG().Transform(4326, 3857)
	flat := make([]float64, 0, len(fixes)*2)
	var sumLat float64
	for _, fx := range fixes {
		x, y, _ := f(fx.Lon, fx.Lat, 0)
		flat = append(flat, x, y)
		sumLat += fx.Lat
	}
	ls, err := lineString(flat, geom.DimXY)
	if err != nil {
		return geom.LineString{}, 0, err
	}
	return ls, sumLat / float64(len(fixes)), nil
}

func conePoint(s marker.Sample) (geom.Point, error) {
	p, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: s.Lon, Y: s.Lat},
		Z:    s.Alt,
		Type: geom.DimXYZ,
	})
	if err != nil {
		return geom.Point{}, fmt.Errorf("cone at %d: %w", s.Timestamp, err)
	}
	return p, nil
}

func trackLine(fixes []gps.Fix) (geom.LineString, error) {
	flat := make([]float64, 0, len(fixes)*3)
	for _, fx := range fixes {
		flat = append(flat, fx.Lon, fx.Lat, fx.Alt)
	}
	return lineString(flat, geom.DimXYZ)
}

func lineString(flat []float64, ct geom.CoordinatesType) (geom.LineString, error) {
	seq := geom.NewSequence(flat, ct)
	if !distinctXY(seq) {
		return geom.LineString{}, ErrStationary
	}
	ls, err := geom.NewLineString(seq)
	if err != nil {
		return geom.LineString{}, fmt.Errorf("trajectory line: %w", err)
	}
	return ls, nil
}

func distinctXY(seq geom.Sequence) bool {
	for i := 1; i < seq.Length(); i++ {
		if seq.GetXY(i) != seq.GetXY(0) {
			return true
		}
	}
	return false
}

// Session writes the GeoJSON FeatureCollection for the session in dir to w.
// dir may be a cones session (cones.csv) or a trajectory session (gps/).
func Session(dir string, w io.Writer, log zerolog.Logger) (Summary, error) {
	var (
		sum Summary
		fc  geom.GeoJSONFeatureCollection
	)

	samples, skipped, err := LoadMarkers(filepath.Join(dir, session.MarkerFile), log)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Summary{}, err
	}
	sum.Markers, sum.Skipped = len(samples), skipped
	for i, s := range samples {
		pt, err := conePoint(s)
		if err != nil {
			return Summary{}, err
		}
		fc = append(fc, geom.GeoJSONFeature{
			Geometry: pt.AsGeometry(),
			ID:       i,
			Properties: map[string]interface{}{
				"kind":      s.Kind.String(),
				"cone_id":   int(s.Kind),
				"timestamp": s.Timestamp,
			},
		})
	}

	fixes, err := LoadTrack(filepath.Join(dir, session.TrajectorySubdir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Summary{}, err
	}
	sum.TrackPoints = len(fixes)
	line, err := trackLine(fixes)
	switch {
	case len(fixes) < 2:
	case errors.Is(err, ErrStationary):
		log.Warn().Int("points", len(fixes)).Str("dir", dir).Msg("trajectory never moved, no line exported")
	case err != nil:
		return Summary{}, err
	default:
		if sum.TrackLengthM, err = TrackLength(fixes); err != nil {
			return Summary{}, err
		}
		fc = append(fc, geom.GeoJSONFeature{
			Geometry: line.AsGeometry(),
			ID:       "trajectory",
			Properties: map[string]interface{}{
				"points":   len(fixes),
				"length_m": math.Round(sum.TrackLengthM*100) / 100,
				"start":    fixes[0].Timestamp,
				"end":      fixes[len(fixes)-1].Timestamp,
			},
		})
	}

	if len(fc) == 0 {
		return sum, fmt.Errorf("%w in %s", ErrEmpty, dir)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fc); err != nil {
		return sum, fmt.Errorf("export encode: %w", err)
	}
	return sum, nil
}
