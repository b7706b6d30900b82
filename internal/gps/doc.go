// Package gps reads a GNSS receiver byte stream and turns it into discrete
// protocol messages.
//
// It is deliberately small:
// - Frame NMEA sentences and UBX packets out of one mixed stream
// - Match the message types the recorder cares about (GGA/RMC/VTG/GSA/GLL,
//   UBX NAV-HPPOSLLH)
// - Parse them and derive a position Fix
// - Write matched messages to one CSV file per message type
package gps
