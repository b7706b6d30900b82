package gps

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrianmo/go-nmea"
	"go.uber.org/multierr"
)

type columns struct {
	header string
	row    func(m Message) (string, bool)
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

var sinkColumns = map[Descriptor]columns{
	DescGGA: {
		header: "timestamp,time,lat,lon,fix_quality,satellites,hdop,alt,separation",
		row: func(m Message) (string, bool) {
			s, ok := m.Sentence.(nmea.GGA)
			if !ok {
				return "", false
			}
			return strings.Join([]string{
				strconv.FormatUint(m.Timestamp, 10), s.Time.String(), ff(s.Latitude), ff(s.Longitude),
				s.FixQuality, strconv.FormatInt(s.NumSatellites, 10), ff(s.HDOP), ff(s.Altitude), ff(s.Separation),
			}, ","), true
		},
	},
	DescRMC: {
		header: "timestamp,time,validity,lat,lon,speed_kn,course_deg,date",
		row: func(m Message) (string, bool) {
			s, ok := m.Sentence.(nmea.RMC)
			if !ok {
				return "", false
			}
			return strings.Join([]string{
				strconv.FormatUint(m.Timestamp, 10), s.Time.String(), s.Validity, ff(s.Latitude), ff(s.Longitude),
				ff(s.Speed), ff(s.Course), s.Date.String(),
			}, ","), true
		},
	},
	DescVTG: {
		header: "timestamp,true_track,magnetic_track,speed_kn,speed_kph",
		row: func(m Message) (string, bool) {
			s, ok := m.Sentence.(nmea.VTG)
			if !ok {
				return "", false
			}
			return strings.Join([]string{
				strconv.FormatUint(m.Timestamp, 10), ff(s.TrueTrack), ff(s.MagneticTrack), ff(s.GroundSpeedKnots), ff(s.GroundSpeedKPH),
			}, ","), true
		},
	},
	DescGSA: {
		header: "timestamp,mode,fix_type,pdop,hdop,vdop,satellites",
		row: func(m Message) (string, bool) {
			s, ok := m.Sentence.(nmea.GSA)
			if !ok {
				return "", false
			}
			return strings.Join([]string{
				strconv.FormatUint(m.Timestamp, 10), s.Mode, s.FixType, ff(s.PDOP), ff(s.HDOP), ff(s.VDOP), strings.Join(s.SV, ";"),
			}, ","), true
		},
	},
	DescGLL: {
		header: "timestamp,time,validity,lat,lon",
		row: func(m Message) (string, bool) {
			s, ok := m.Sentence.(nmea.GLL)
			if !ok {
				return "", false
			}
			return strings.Join([]string{
				strconv.FormatUint(m.Timestamp, 10), s.Time.String(), s.Validity, ff(s.Latitude), ff(s.Longitude),
			}, ","), true
		},
	},
	DescHPPOSLLH: {
		header: "timestamp,itow,lat,lon,height,hmsl,hacc,vacc,invalid_llh",
		row: func(m Message) (string, bool) {
			p := m.HPPOSLLH
			if p == nil {
				return "", false
			}
			return strings.Join([]string{
				strconv.FormatUint(m.Timestamp, 10), strconv.FormatUint(uint64(p.ITOW), 10), ff(p.Lat), ff(p.Lon),
				ff(p.Height), ff(p.HMSL), ff(p.HAcc), ff(p.VAcc), strconv.FormatBool(p.InvalidLLH),
			}, ","), true
		},
	},
}

type sinkFile struct {
	f *os.File
	w *bufio.Writer
}

// FileSet is one open CSV file per recorded message type.
type FileSet struct {
	dir   string
	files map[Descriptor]*sinkFile
}

// OpenFiles creates (truncating) one <descriptor>.csv per recorded type in dir.
func OpenFiles(dir string) (*FileSet, error) {
	fs := &FileSet{dir: dir, files: make(map[Descriptor]*sinkFile, len(Descriptors))}
	for _, d := range Descriptors {
		path := filepath.Join(dir, d.Name()+".csv")
		f, err := os.Create(path)
		if err != nil {
			_ = fs.Close()
			return nil, fmt.Errorf("gps: open %s: %w", path, err)
		}
		fs.files[d] = &sinkFile{f: f, w: bufio.NewWriterSize(f, 16*1024)}
	}
	return fs, nil
}

func (fs *FileSet) Dir() string { return fs.dir }

// WriteHeader writes the column header row to every file.
func (fs *FileSet) WriteHeader() error {
	var err error
	for _, d := range Descriptors {
		sf := fs.files[d]
		if sf == nil {
			continue
		}
		if _, werr := sf.w.WriteString(sinkColumns[d].header + "\n"); werr != nil {
			err = multierr.Append(err, werr)
		}
	}
	return err
}

// Append writes one message row to the file for its type.
func (fs *FileSet) Append(m Message) error {
	sf := fs.files[m.Desc]
	if sf == nil {
		return fmt.Errorf("gps: no file for %s", m.Desc)
	}
	row, ok := sinkColumns[m.Desc].row(m)
	if !ok {
		return fmt.Errorf("gps: message does not match %s", m.Desc)
	}
	_, err := sf.w.WriteString(row + "\n")
	return err
}

// Flush pushes buffered rows to disk.
func (fs *FileSet) Flush() error {
	var err error
	for _, sf := range fs.files {
		err = multierr.Append(err, sf.w.Flush())
	}
	return err
}

// Close flushes and closes every file.
func (fs *FileSet) Close() error {
	var err error
	for d, sf := range fs.files {
		err = multierr.Append(err, sf.w.Flush())
		err = multierr.Append(err, sf.f.Close())
		delete(fs.files, d)
	}
	return err
}
