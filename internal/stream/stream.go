// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stream implements the live streamer (spec.md §4.8): decimation
// of the sample stream down to stream_rate_hz and a single-slot handoff to
// the main pump, which is responsible for emitting LIVE lines.
package stream

import (
	"sync"

	"github.com/engrove/vibracore/internal/diag"
	"github.com/engrove/vibracore/internal/sensor"
)

// Frame is one decimated sample ready for LIVE emission.
type Frame struct {
	Seq      uint32
	X, Y, Z  int16
	TSUs     uint32
}

// Streamer holds the single-slot handoff between the sampling path and the
// main pump. Feed is called from the sampling side (standing in for the
// sensor ISR's decimation counter); Take is called from the main pump.
type Streamer struct {
	mu       sync.Mutex
	divider  uint32
	counter  uint32
	seq      uint32
	slot     Frame
	full     bool
	active   bool
	diag     *diag.Counters
	txFree   func() int
}

// New returns a Streamer. txFree reports the current TX-ring free byte
// count, consulted before latching a new frame (spec.md: "TX ring free
// > 128").
func New(d *diag.Counters, txFree func() int) *Streamer {
	return &Streamer{diag: d, txFree: txFree}
}

// minTXFree is the spec's threshold below which a frame is skipped rather
// than risk stalling the writer.
const minTXFree = 128

// Start activates streaming at the given divider (odr_hz / stream_rate_hz,
// spec.md §4.8), resetting seq and the decimation counter.
func (s *Streamer) Start(divider uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.divider = divider
	s.counter = 0
	s.seq = 0
	s.full = false
	s.active = true
}

// Stop deactivates streaming. Any Feed call while inactive is a no-op.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.full = false
}

// Active reports whether streaming is running.
func (s *Streamer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Feed is called once per acquired sample. Every `divider`-th sample is
// latched into the handoff slot, unless the slot is already full (counted
// as live_drops) or the TX ring doesn't have headroom (the sample is
// silently skipped rather than dropped, since skipping decimation ticks
// doesn't lose data the host expects — only a full slot does).
func (s *Streamer) Feed(smp sensor.Sample, tsUs uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.divider == 0 {
		return
	}
	s.counter++
	if s.counter < s.divider {
		return
	}
	s.counter = 0
	if s.txFree != nil && s.txFree() <= minTXFree {
		return
	}
	if s.full {
		if s.diag != nil {
			s.diag.IncLiveDrops()
		}
		return
	}
	s.slot = Frame{Seq: s.seq, X: smp.X, Y: smp.Y, Z: smp.Z, TSUs: tsUs}
	s.seq++
	s.full = true
}

// Take pops the latched frame, if any, clearing the ready flag.
func (s *Streamer) Take() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		return Frame{}, false
	}
	s.full = false
	return s.slot, true
}
