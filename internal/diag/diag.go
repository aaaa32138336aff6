// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package diag holds the device's monotonic diagnostic counters
// (spec.md §3 "Diag counters") and the self-check verdict the simulator's
// `selftest` subcommand prints.
package diag

import "sync/atomic"

// Counters are the six monotonic diagnostics named in spec.md §3. They are
// written from multiple goroutines standing in for interrupt contexts, so
// every field is an atomic; Reset (driven by HELLO) is the only writer that
// touches all of them at once.
type Counters struct {
	i2cFail    atomic.Uint32
	ringOvf    atomic.Uint32
	liveDrops  atomic.Uint32
	hbPauses   atomic.Uint32
	txDrops    atomic.Uint32
	rxOverflow atomic.Uint32
}

// Snapshot is a point-in-time, non-atomic copy of Counters for GET_DIAG.
type Snapshot struct {
	I2CFail    uint32
	RingOvf    uint32
	LiveDrops  uint32
	HBPauses   uint32
	TXDrops    uint32
	RXOverflow uint32
}

func (c *Counters) IncI2CFail()           { c.i2cFail.Add(1) }
func (c *Counters) IncRingOvf()           { c.ringOvf.Add(1) }
func (c *Counters) IncLiveDrops()         { c.liveDrops.Add(1) }
func (c *Counters) IncHBPauses()          { c.hbPauses.Add(1) }
func (c *Counters) AddTXDrops(n uint32)   { c.txDrops.Add(n) }
func (c *Counters) IncRXOverflow(n uint32) {
	c.rxOverflow.Add(n)
}

// Reset zeroes every counter. HELLO does this, and so does REBOOT, which
// goes through the same devctx.Ctx.ResetOnHello path (spec.md §4.11,
// §8 property 9): "HELLO idempotently zeroes diag.* and returns mode to
// Idle regardless of prior mode".
func (c *Counters) Reset() {
	c.i2cFail.Store(0)
	c.ringOvf.Store(0)
	c.liveDrops.Store(0)
	c.hbPauses.Store(0)
	c.txDrops.Store(0)
	c.rxOverflow.Store(0)
}

// Snapshot returns a consistent-enough (not atomically joint, each field is
// itself atomic) point-in-time copy.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		I2CFail:    c.i2cFail.Load(),
		RingOvf:    c.ringOvf.Load(),
		LiveDrops:  c.liveDrops.Load(),
		HBPauses:   c.hbPauses.Load(),
		TXDrops:    c.txDrops.Load(),
		RXOverflow: c.rxOverflow.Load(),
	}
}

// Report is the composite health verdict the simulator's `selftest`
// subcommand prints (GET_DIAG reports only the raw Snapshot), supplementing
// the raw counters the way
// the original firmware's dev_diagnostics.c does (SPEC_FULL.md §4,
// "Supplemented from original_source/").
type Report struct {
	Snapshot
	Healthy bool
	Reasons []string
}

// SelfCheck evaluates whether the counters describe a healthy device: no
// I²C faults, at most 10 ring overflows, and no RX overflow. It does not
// reset anything.
func (c *Counters) SelfCheck() Report {
	snap := c.Snapshot()
	r := Report{Snapshot: snap, Healthy: true}
	if snap.I2CFail > 0 {
		r.Healthy = false
		r.Reasons = append(r.Reasons, "i2c_fail non-zero: sensor register access is failing")
	}
	if snap.RingOvf > 10 {
		r.Healthy = false
		r.Reasons = append(r.Reasons, "ring_ovf elevated: the sample ring is chronically full, the consumer is falling behind")
	}
	if snap.RXOverflow > 0 {
		r.Healthy = false
		r.Reasons = append(r.Reasons, "rx_overflow non-zero: the host is sending faster than the link can absorb")
	}
	return r
}
