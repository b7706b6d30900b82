package gps

import (
	"encoding/binary"
	"fmt"
)

const (
	ubxClassNAV   = 0x01
	ubxIDHPPOSLLH = 0x14

	hpposllhLen = 36
)

// HPPOSLLH is the u-blox high precision geodetic position solution.
type HPPOSLLH struct {
	ITOW       uint32
	Lat        float64 // deg
	Lon        float64 // deg
	Height     float64 // m above ellipsoid
	HMSL       float64 // m above mean sea level
	HAcc       float64 // m
	VAcc       float64 // m
	InvalidLLH bool
}

func decodeHPPOSLLH(p []byte) (HPPOSLLH, error) {
	if len(p) < hpposllhLen {
		return HPPOSLLH{}, fmt.Errorf("hpposllh payload %d bytes, want %d", len(p), hpposllhLen)
	}
	le := binary.LittleEndian
	lon := int32(le.Uint32(p[8:]))
	lat := int32(le.Uint32(p[12:]))
	height := int32(le.Uint32(p[16:]))
	hmsl := int32(le.Uint32(p[20:]))
	lonHp := int8(p[24])
	latHp := int8(p[25])
	heightHp := int8(p[26])
	hmslHp := int8(p[27])

	return HPPOSLLH{
		ITOW:       le.Uint32(p[4:]),
		Lon:        float64(lon)*1e-7 + float64(lonHp)*1e-9,
		Lat:        float64(lat)*1e-7 + float64(latHp)*1e-9,
		Height:     (float64(height) + float64(heightHp)*0.1) / 1000,
		HMSL:       (float64(hmsl) + float64(hmslHp)*0.1) / 1000,
		HAcc:       float64(le.Uint32(p[28:])) / 10000,
		VAcc:       float64(le.Uint32(p[32:])) / 10000,
		InvalidLLH: p[3]&0x01 != 0,
	}, nil
}

// encodeHPPOSLLH builds a complete UBX frame. Used by tests and the simulator.
func encodeHPPOSLLH(v HPPOSLLH) []byte {
	p := make([]byte, hpposllhLen)
	le := binary.LittleEndian
	if v.InvalidLLH {
		p[3] = 0x01
	}
	le.PutUint32(p[4:], v.ITOW)
	split := func(deg float64) (int32, int8) {
		whole := int32(deg * 1e7)
		hp := int8((deg*1e7 - float64(whole)) * 100)
		return whole, hp
	}
	lon, lonHp := split(v.Lon)
	lat, latHp := split(v.Lat)
	le.PutUint32(p[8:], uint32(lon))
	le.PutUint32(p[12:], uint32(lat))
	le.PutUint32(p[16:], uint32(int32(v.Height*1000)))
	le.PutUint32(p[20:], uint32(int32(v.HMSL*1000)))
	p[24] = byte(lonHp)
	p[25] = byte(latHp)
	le.PutUint32(p[28:], uint32(v.HAcc*10000))
	le.PutUint32(p[32:], uint32(v.VAcc*10000))

	frame := make([]byte, 0, 6+len(p)+2)
	frame = append(frame, ubxSync1, ubxSync2, ubxClassNAV, ubxIDHPPOSLLH, byte(len(p)), byte(len(p)>>8))
	frame = append(frame, p...)
	a, b := ubxChecksum(frame[2:])
	return append(frame, a, b)
}
