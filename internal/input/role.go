// Package input turns debounced button edges into recorder actions.
//
// Inputs are addressed by logical Role rather than pin number; the GPIO
// backend maps physical lines to roles.
package input

import (
	"fmt"
	"strings"

	"acr/internal/marker"
)

type Role int

const (
	RoleMode Role = iota
	RoleYellow
	RoleBlue
	RoleOrange

	roleCount
)

// Roles lists every input role in table order.
var Roles = []Role{RoleMode, RoleYellow, RoleBlue, RoleOrange}

func (r Role) String() string {
	switch r {
	case RoleMode:
		return "mode"
	case RoleYellow:
		return "yellow"
	case RoleBlue:
		return "blue"
	case RoleOrange:
		return "orange"
	default:
		return "unknown"
	}
}

// Kind returns the marker category a role saves, if it is a mark role.
func (r Role) Kind() (marker.Kind, bool) {
	switch r {
	case RoleYellow:
		return marker.Yellow, true
	case RoleBlue:
		return marker.Blue, true
	case RoleOrange:
		return marker.Orange, true
	default:
		return 0, false
	}
}

func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if strings.EqualFold(strings.TrimSpace(s), r.String()) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown input role %q", s)
}
