// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package countdown implements the 1 Hz countdown ticker (spec.md §4.9)
// used by the burst manager's Countdown phase and the guided trigger flow's
// zero-calibration hold.
package countdown

// Ticker is a cooperative countdown: Pump must be called from the main
// pump and only advances the countdown once a full second has elapsed
// since the last tick.
type Ticker struct {
	active     bool
	remaining  int
	lastTickMs uint32

	// OnTick fires with the current id on Start and every subsequent
	// second, down to id=1. It never fires with id=0 on natural
	// expiry — only Stop does that, and only if the ticker was active.
	OnTick func(id int)
	// OnExpire fires exactly once when the countdown runs out naturally
	// (after emitting id=1, not before).
	OnExpire func()
}

// Start begins a countdown of `seconds` (spec.md's guided flows only ever
// pass 5, but the type itself doesn't constrain it — range validation, if
// any, belongs to the caller). Emits id=seconds immediately.
func (c *Ticker) Start(seconds int, nowMs uint32) {
	c.active = true
	c.remaining = seconds
	c.lastTickMs = nowMs
	if c.OnTick != nil {
		c.OnTick(seconds)
	}
}

// Pump advances the countdown by at most one second per call. It reports
// whether the countdown expired naturally on this call.
func (c *Ticker) Pump(nowMs uint32) bool {
	if !c.active {
		return false
	}
	if nowMs-c.lastTickMs < 1000 {
		return false
	}
	c.lastTickMs += 1000
	c.remaining--
	if c.remaining <= 0 {
		c.active = false
		if c.OnExpire != nil {
			c.OnExpire()
		}
		return true
	}
	if c.OnTick != nil {
		c.OnTick(c.remaining)
	}
	return false
}

// Stop cancels an active countdown, emitting id=0 exactly once. It is a
// no-op if the countdown isn't currently active.
func (c *Ticker) Stop() {
	if !c.active {
		return
	}
	c.active = false
	if c.OnTick != nil {
		c.OnTick(0)
	}
}

// Active reports whether a countdown is in progress.
func (c *Ticker) Active() bool { return c.active }

// Remaining returns the current id (undefined while inactive).
func (c *Ticker) Remaining() int { return c.remaining }
