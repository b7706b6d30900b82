package gps

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSet_HeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	fs, err := OpenFiles(dir)
	if err != nil {
		t.Fatalf("OpenFiles: %v", err)
	}
	if err := fs.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	l := nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	m, err := Parse(DescGGA, l, 99)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := fs.Append(m); err != nil {
		t.Fatalf("Append: %v", err)
	}

	u := Line{Protocol: ProtocolUBX, Raw: encodeHPPOSLLH(HPPOSLLH{ITOW: 5, Lat: 1, Lon: 2})}
	um, err := Parse(DescHPPOSLLH, u, 100)
	if err != nil {
		t.Fatalf("Parse ubx: %v", err)
	}
	if err := fs.Append(um); err != nil {
		t.Fatalf("Append ubx: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, d := range Descriptors {
		if _, err := os.Stat(filepath.Join(dir, d.Name()+".csv")); err != nil {
			t.Fatalf("missing file for %s: %v", d, err)
		}
	}

	b, err := os.ReadFile(filepath.Join(dir, "nmea_gga.csv"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d want 2: %q", len(lines), b)
	}
	if lines[0] != sinkColumns[DescGGA].header {
		t.Fatalf("header=%q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "99,") || !strings.Contains(lines[1], ",545.4,") {
		t.Fatalf("row=%q", lines[1])
	}

	b, err = os.ReadFile(filepath.Join(dir, "ubx_nav_hpposllh.csv"))
	if err != nil {
		t.Fatalf("ReadFile ubx: %v", err)
	}
	if !strings.Contains(string(b), "\n100,5,") {
		t.Fatalf("ubx file=%q", b)
	}
}

func TestFileSet_OpenFailsOnMissingDir(t *testing.T) {
	_, err := OpenFiles(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatalf("expected error")
	}
}
