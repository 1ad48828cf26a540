// Package led classifies the power and color of a single LED from its region
// of interest in a camera frame.
package led

import (
	"errors"
	"time"
)

// ErrEmptyRegion is returned when a classifier receives an empty ROI.
var ErrEmptyRegion = errors.New("empty LED region")

// Power is the on/off state of an LED.
type Power int

const (
	PowerOff Power = iota
	PowerOn
)

func (p Power) String() string {
	if p == PowerOn {
		return "on"
	}
	return "off"
}

// LedState is one classification result. It is a value and never mutated
// after it is produced.
type LedState struct {
	Power     Power
	Color     Color // ColorNone when off or not yet classified
	Timestamp time.Time
}

// On reports whether the LED was powered on.
func (s LedState) On() bool {
	return s.Power == PowerOn
}
