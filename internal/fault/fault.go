// Package fault defines the operator-visible fault codes.
//
// The ordinal of a code is its severity; the LED annunciator plays one pulse
// per ordinal step (plus one, so the first code is still visible).
package fault

import (
	"errors"
	"fmt"
)

type Code int

const (
	GPIOInit Code = iota
	GPSNotFound
	GPSRead
	MarkerSessionSetup
	MarkerSessionStart
	TrajectorySessionSetup
	TrajectorySessionStart

	// Count is the number of defined codes.
	Count int = iota
)

var names = [...]string{
	GPIOInit:               "GPIO_INIT",
	GPSNotFound:            "GPS_NOT_FOUND",
	GPSRead:                "GPS_READ",
	MarkerSessionSetup:     "MARKER_SESSION_SETUP",
	MarkerSessionStart:     "MARKER_SESSION_START",
	TrajectorySessionSetup: "TRAJECTORY_SESSION_SETUP",
	TrajectorySessionStart: "TRAJECTORY_SESSION_START",
}

func (c Code) String() string {
	if c < 0 || int(c) >= len(names) {
		return "UNKNOWN"
	}
	return names[c]
}

// Pulses is the number of LED pulses used to annunciate the code.
func (c Code) Pulses() int {
	if c < 0 || int(c) >= Count {
		return Count
	}
	return int(c) + 1
}

// Error carries a fault code and the underlying cause.
type Error struct {
	Code Code
	Err  error
}

func New(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// As extracts the fault code from err.
func As(err error) (Code, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return 0, false
}
