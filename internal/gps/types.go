package gps

// Protocol identifies the framing a line arrived in.
type Protocol int

const (
	ProtocolNMEA Protocol = iota
	ProtocolUBX
)

func (p Protocol) String() string {
	switch p {
	case ProtocolNMEA:
		return "nmea"
	case ProtocolUBX:
		return "ubx"
	default:
		return "unknown"
	}
}

// Line is one framed message. For NMEA Raw is the sentence without line
// terminator; for UBX it is the whole frame including sync bytes and checksum.
type Line struct {
	Protocol Protocol
	Raw      []byte
}

// Fix is one timestamped position sample. Timestamp is in clock microseconds.
type Fix struct {
	Timestamp uint64
	Lat       float64
	Lon       float64
	Alt       float64
}

// Valid reports whether the fix carries a non-zero horizontal position.
func (f Fix) Valid() bool {
	return f.Lat != 0 && f.Lon != 0
}
