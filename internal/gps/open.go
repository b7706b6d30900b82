package gps

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// DeviceSim selects the built-in simulated receiver.
	DeviceSim = "sim"
	// gpsdPrefix selects a gpsd instance, e.g. "gpsd:127.0.0.1:2947".
	gpsdPrefix = "gpsd:"
)

// OpenConfig selects and configures the receiver source.
//
// Device may be:
//   - empty, to auto-detect /dev/ttyACM* or /dev/ttyUSB*
//   - a serial character device
//   - a regular file holding a capture to replay
//   - "gpsd:<host:port>" for raw passthrough from gpsd
//   - "sim" for the simulated receiver
type OpenConfig struct {
	Device string
	Baud   int
	Reader ReaderConfig
	Sim    SimConfig
}

var openSerialFn = openSerial

// Open opens the configured source and returns a framing Stream over it.
func Open(ctx context.Context, cfg OpenConfig) (Stream, error) {
	device := strings.TrimSpace(cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			return nil, fmt.Errorf("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
		}
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 230400
	}

	var rc io.ReadCloser
	switch {
	case device == DeviceSim:
		rc = newSimReceiver(cfg.Sim, cfg.Reader.Clock)
	case strings.HasPrefix(device, gpsdPrefix):
		conn, err := openGPSD(ctx, strings.TrimPrefix(device, gpsdPrefix))
		if err != nil {
			return nil, fmt.Errorf("gps open gpsd %s: %w", device, err)
		}
		rc = conn
	default:
		st, err := os.Stat(device)
		if err != nil {
			return nil, fmt.Errorf("gps open %s: %w", device, err)
		}
		switch {
		case st.Mode()&os.ModeCharDevice != 0:
			f, err := openSerialFn(device, baud)
			if err != nil {
				return nil, fmt.Errorf("gps open device=%s baud=%d: %w", device, baud, err)
			}
			rc = f
		case st.Mode().IsRegular():
			f, err := os.Open(device)
			if err != nil {
				return nil, fmt.Errorf("gps open replay %s: %w", device, err)
			}
			rc = f
		default:
			return nil, fmt.Errorf("gps open %s: not a character device or regular file", device)
		}
	}
	return NewReader(rc, cfg.Reader), nil
}

func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
