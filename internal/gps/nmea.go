package gps

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/adrianmo/go-nmea"
)

// ErrUnknownMessage marks a framed line that is not one of the recorded types.
var ErrUnknownMessage = errors.New("gps: unknown message")

// Descriptor names a matched message type.
type Descriptor struct {
	Protocol Protocol
	Type     string
}

// Name is the stable file-name friendly identifier, e.g. "nmea_gga".
func (d Descriptor) Name() string {
	t := strings.ToLower(strings.ReplaceAll(d.Type, "-", "_"))
	return d.Protocol.String() + "_" + t
}

func (d Descriptor) String() string { return d.Name() }

var (
	DescGGA      = Descriptor{Protocol: ProtocolNMEA, Type: nmea.TypeGGA}
	DescRMC      = Descriptor{Protocol: ProtocolNMEA, Type: nmea.TypeRMC}
	DescVTG      = Descriptor{Protocol: ProtocolNMEA, Type: nmea.TypeVTG}
	DescGSA      = Descriptor{Protocol: ProtocolNMEA, Type: nmea.TypeGSA}
	DescGLL      = Descriptor{Protocol: ProtocolNMEA, Type: nmea.TypeGLL}
	DescHPPOSLLH = Descriptor{Protocol: ProtocolUBX, Type: "NAV-HPPOSLLH"}
)

// Descriptors lists every message type the recorder matches.
var Descriptors = []Descriptor{DescGGA, DescRMC, DescVTG, DescGSA, DescGLL, DescHPPOSLLH}

// Message is one parsed, timestamped protocol message.
type Message struct {
	Desc      Descriptor
	Timestamp uint64

	// Sentence is set for NMEA messages.
	Sentence nmea.Sentence
	// HPPOSLLH is set for UBX NAV-HPPOSLLH messages.
	HPPOSLLH *HPPOSLLH
}

// Match identifies the message type of a framed line. Lines that fail the
// checksum or carry an unrecorded type return ErrUnknownMessage.
func Match(l Line) (Descriptor, error) {
	switch l.Protocol {
	case ProtocolNMEA:
		s, err := nmea.Parse(string(l.Raw))
		if err != nil {
			var nse *nmea.NotSupportedError
			if errors.As(err, &nse) {
				return Descriptor{}, fmt.Errorf("%w: nmea %s", ErrUnknownMessage, nse.Prefix)
			}
			return Descriptor{}, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
		}
		for _, d := range Descriptors {
			if d.Protocol == ProtocolNMEA && d.Type == s.DataType() {
				return d, nil
			}
		}
		return Descriptor{}, fmt.Errorf("%w: nmea %s", ErrUnknownMessage, s.DataType())
	case ProtocolUBX:
		if len(l.Raw) < 8 {
			return Descriptor{}, fmt.Errorf("%w: short ubx frame", ErrUnknownMessage)
		}
		class, id := l.Raw[2], l.Raw[3]
		if class == ubxClassNAV && id == ubxIDHPPOSLLH {
			return DescHPPOSLLH, nil
		}
		return Descriptor{}, fmt.Errorf("%w: ubx 0x%02x 0x%02x", ErrUnknownMessage, class, id)
	default:
		return Descriptor{}, ErrUnknownMessage
	}
}

// Parse decodes a matched line.
func Parse(d Descriptor, l Line, ts uint64) (Message, error) {
	m := Message{Desc: d, Timestamp: ts}
	switch d.Protocol {
	case ProtocolNMEA:
		s, err := nmea.Parse(string(l.Raw))
		if err != nil {
			return Message{}, fmt.Errorf("gps: parse %s: %w", d, err)
		}
		m.Sentence = s
	case ProtocolUBX:
		p, err := decodeHPPOSLLH(l.Raw[6 : len(l.Raw)-2])
		if err != nil {
			return Message{}, fmt.Errorf("gps: parse %s: %w", d, err)
		}
		m.HPPOSLLH = &p
	default:
		return Message{}, ErrUnknownMessage
	}
	return m, nil
}

// Fix returns the position carried by the message, if it is a position
// message with a usable solution.
func (m Message) Fix() (Fix, bool) {
	if m.HPPOSLLH != nil {
		if m.HPPOSLLH.InvalidLLH {
			return Fix{}, false
		}
		return Fix{Timestamp: m.Timestamp, Lat: m.HPPOSLLH.Lat, Lon: m.HPPOSLLH.Lon, Alt: m.HPPOSLLH.Height}, true
	}
	gga, ok := m.Sentence.(nmea.GGA)
	if !ok {
		return Fix{}, false
	}
	if gga.FixQuality == "" || gga.FixQuality == nmea.Invalid {
		return Fix{}, false
	}
	return Fix{Timestamp: m.Timestamp, Lat: gga.Latitude, Lon: gga.Longitude, Alt: gga.Altitude}, true
}

// nmeaChecksum XORs the payload between '$' and '*'.
func nmeaChecksum(payload string) byte {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return ck
}

// nmeaSentence wraps a payload into a full sentence with checksum.
func nmeaSentence(payload string) string {
	return fmt.Sprintf("$%s*%02X", payload, nmeaChecksum(payload))
}

// formatNMEALatLon renders decimal degrees as ddmm.mmmmm (lat) or
// dddmm.mmmmm (lon) plus hemisphere.
func formatNMEALatLon(v float64, isLat bool) (string, string) {
	hemi := "N"
	if !isLat {
		hemi = "E"
	}
	if v < 0 {
		v = -v
		if isLat {
			hemi = "S"
		} else {
			hemi = "W"
		}
	}
	deg := math.Floor(v)
	mins := (v - deg) * 60
	if isLat {
		return fmt.Sprintf("%02d%08.5f", int(deg), mins), hemi
	}
	return fmt.Sprintf("%03d%08.5f", int(deg), mins), hemi
}
