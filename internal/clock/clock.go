// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package clock is the millisecond-monotonic and sample-tick clock boundary
// the spec lists as an external collaborator (clock configuration is out of
// scope; only the readings are consumed).
package clock

import (
	"sync/atomic"
	"time"
)

// Source is a monotonic millisecond clock plus a free-running sample-tick
// counter at a known rate, mirroring spec.md's TimeSync and ts_ticks model.
type Source interface {
	// MillisNow returns a free-running millisecond counter. It wraps at
	// 32 bits, matching the device's real timer.
	MillisNow() uint32
	// TicksNow returns the free-running sample-tick counter.
	TicksNow() uint32
	// TicksPerSecond is the rate TicksNow() advances at.
	TicksPerSecond() uint32
}

// System is a Source backed by the Go runtime's monotonic clock. It is the
// clock the simulator binary runs real time against.
type System struct {
	start          time.Time
	ticksPerSecond uint32
}

// NewSystem returns a System clock ticking at ticksPerSecond.
func NewSystem(ticksPerSecond uint32) *System {
	return &System{start: time.Now(), ticksPerSecond: ticksPerSecond}
}

// MillisNow implements Source.
func (s *System) MillisNow() uint32 {
	return uint32(time.Since(s.start).Milliseconds())
}

// TicksNow implements Source.
func (s *System) TicksNow() uint32 {
	elapsed := time.Since(s.start)
	return uint32(elapsed.Seconds() * float64(s.ticksPerSecond))
}

// TicksPerSecond implements Source.
func (s *System) TicksPerSecond() uint32 {
	return s.ticksPerSecond
}

// TicksToMicros converts a tick delta to microseconds at the given rate,
// saturating at math.MaxUint32 on overflow as spec.md mandates for
// ticks_to_us.
func TicksToMicros(ticks uint32, ticksPerSecond uint32) uint32 {
	if ticksPerSecond == 0 {
		return 0
	}
	us := uint64(ticks) * 1000000 / uint64(ticksPerSecond)
	if us > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(us)
}

// Fake is a Source driven explicitly by tests: it never advances on its
// own, only when Advance is called. Safe for concurrent use since the
// sample-producing goroutines in tests read it from a different goroutine
// than the one advancing it.
type Fake struct {
	millis         atomic.Uint32
	ticks          atomic.Uint32
	ticksPerSecond uint32
}

// NewFake returns a Fake clock starting at zero.
func NewFake(ticksPerSecond uint32) *Fake {
	return &Fake{ticksPerSecond: ticksPerSecond}
}

// MillisNow implements Source.
func (f *Fake) MillisNow() uint32 { return f.millis.Load() }

// TicksNow implements Source.
func (f *Fake) TicksNow() uint32 { return f.ticks.Load() }

// TicksPerSecond implements Source.
func (f *Fake) TicksPerSecond() uint32 { return f.ticksPerSecond }

// AdvanceMillis moves the millisecond clock and the tick clock forward
// together, consistent with TicksPerSecond.
func (f *Fake) AdvanceMillis(ms uint32) {
	f.millis.Add(ms)
	f.ticks.Add(uint32(uint64(ms) * uint64(f.ticksPerSecond) / 1000))
}
