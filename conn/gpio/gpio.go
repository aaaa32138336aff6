// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpio defines digital pins.
//
// The GPIO pins are described in their logical functionality, not in their
// physical position. This is the "GPIO/interrupt primitives" boundary the
// core consumes (the sensor's INT1 line and the status LED); the core never
// touches a GPIO controller register directly.
package gpio

import (
	"errors"
	"fmt"
	"time"
)

// Level is the level of the pin: Low or High.
type Level bool

// Low and High are the two levels a digital pin can take.
const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == Low {
		return "Low"
	}
	return "High"
}

// Pull specifies the internal pull-up or pull-down for a pin set as input.
type Pull uint8

// Acceptable pull values.
const (
	Float        Pull = 0 // Let the input float
	Down         Pull = 1 // Apply pull-down
	Up           Pull = 2 // Apply pull-up
	PullNoChange Pull = 3 // Do not change the previous pull resistor setting
)

func (p Pull) String() string {
	switch p {
	case Float:
		return "Float"
	case Down:
		return "Down"
	case Up:
		return "Up"
	default:
		return "PullNoChange"
	}
}

// Edge specifies if an input pin should have edge detection enabled.
//
// Only enable it when needed, since on real hardware this causes system
// interrupts.
type Edge uint8

// Acceptable edge detection values.
const (
	None    Edge = 0
	Rising  Edge = 1
	Falling Edge = 2
	Both    Edge = 3
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "Rising"
	case Falling:
		return "Falling"
	case Both:
		return "Both"
	default:
		return "None"
	}
}

// PinIn is an input GPIO pin.
//
// The sensor's INT1 (FIFO watermark) line is modeled as PinIn; the
// host-forced test trigger is a command verb, not a pin.
type PinIn interface {
	fmt.Stringer
	// In sets up a pin as an input. Use edge != None only when WaitForEdge
	// will be called; None avoids generating unneeded interrupts.
	In(pull Pull, edge Edge) error
	// Read returns the current pin level.
	Read() Level
	// WaitForEdge waits for the next edge, or returns immediately if one
	// occurred since the last call. Returns false on timeout or if In() was
	// called while waiting. Specify a negative timeout to disable it.
	WaitForEdge(timeout time.Duration) bool
	// Pull returns the internal pull resistor setting.
	Pull() Pull
}

// PinOut is an output GPIO pin, e.g. the status LED.
type PinOut interface {
	fmt.Stringer
	// Out sets a pin as output and sets its initial value.
	Out(l Level) error
}

// PinIO is a GPIO pin that supports both input and output.
type PinIO interface {
	fmt.Stringer
	In(pull Pull, edge Edge) error
	Read() Level
	WaitForEdge(timeout time.Duration) bool
	Pull() Pull
	Out(l Level) error
}

// INVALID implements PinIO and fails on all access. Useful as a safe
// placeholder when a pin isn't wired yet.
var INVALID PinIO = invalidPin{}

var errInvalidPin = errors.New("gpio: invalid pin")

type invalidPin struct{}

func (invalidPin) String() string                        { return "INVALID" }
func (invalidPin) In(Pull, Edge) error                    { return errInvalidPin }
func (invalidPin) Read() Level                            { return Low }
func (invalidPin) WaitForEdge(timeout time.Duration) bool { return false }
func (invalidPin) Pull() Pull                             { return PullNoChange }
func (invalidPin) Out(Level) error                        { return errInvalidPin }

var (
	_ PinIn  = INVALID
	_ PinOut = INVALID
	_ PinIO  = INVALID
)
