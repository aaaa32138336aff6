// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package devctx bundles the device's owned state (spec.md §3's data
// model structs that aren't themselves a subsystem's private runtime
// state) plus its hardware handles into a single context the FSM
// dispatcher carries through every command. No other package holds a
// pointer to the hardware; devctx is the one place that does.
package devctx

import (
	"errors"
	"fmt"

	"github.com/engrove/vibracore/internal/clock"
	"github.com/engrove/vibracore/internal/diag"
	"github.com/engrove/vibracore/internal/sensor"
	"github.com/engrove/vibracore/internal/txring"
)

// OpMode is spec.md §3's OpMode enum. Its String form is the wire name
// used in STATUS,op=<name>.
type OpMode int

const (
	ModeInit OpMode = iota
	ModeIdle
	ModeWaitCalZero
	ModeTrgCalZero
	ModeWaitArm
	ModeArmed
	ModeCountdown
	ModeBurst
	ModeBurstSending
	ModeStaticRun
	ModeStreaming
	ModeError
)

func (m OpMode) String() string {
	switch m {
	case ModeInit:
		return "INIT"
	case ModeIdle:
		return "IDLE"
	case ModeWaitCalZero:
		return "WAIT_CAL_ZERO"
	case ModeTrgCalZero:
		return "TRG_CAL_ZERO"
	case ModeWaitArm:
		return "WAIT_ARM"
	case ModeArmed:
		return "ARMED"
	case ModeCountdown:
		return "COUNTDOWN"
	case ModeBurst:
		return "BURST"
	case ModeBurstSending:
		return "BURST_SENDING"
	case ModeStaticRun:
		return "STATIC_RUN"
	case ModeStreaming:
		return "STREAMING"
	default:
		return "ERROR"
	}
}

// RuntimeCfg is spec.md §3's RuntimeCfg, with its stated invariants
// validated by Validate rather than enforced at construction, since
// SET_CFG must be able to reject a bad value with NACK,code=102 instead
// of panicking.
type RuntimeCfg struct {
	OdrHz        uint32
	BurstMs      uint32
	HbMs         uint32
	StreamRateHz uint32
}

// DefaultRuntimeCfg matches spec.md §6's stated defaults.
func DefaultRuntimeCfg() RuntimeCfg {
	return RuntimeCfg{OdrHz: 800, BurstMs: 5000, HbMs: 1000, StreamRateHz: 100}
}

// ErrParamRange is returned by Validate methods when a field is outside
// spec.md §3's stated bounds; the FSM maps it to NACK,code=102.
var ErrParamRange = errors.New("devctx: parameter out of range")

// Validate checks RuntimeCfg's invariants. odr_hz isn't checked for exact
// set membership here — SET_CFG snaps a requested rate up via
// sensor.SnapODR before ever constructing a RuntimeCfg, so by the time one
// exists odr_hz is always a supported rate.
func (c RuntimeCfg) Validate() error {
	if c.BurstMs < 1 || c.BurstMs > 600000 {
		return fmt.Errorf("%w: burst_ms=%d", ErrParamRange, c.BurstMs)
	}
	if c.HbMs != 0 && c.HbMs < 100 {
		return fmt.Errorf("%w: hb_ms=%d", ErrParamRange, c.HbMs)
	}
	if c.StreamRateHz > c.OdrHz {
		return fmt.Errorf("%w: stream_rate_hz=%d > odr_hz=%d", ErrParamRange, c.StreamRateHz, c.OdrHz)
	}
	if c.StreamRateHz != 0 && c.OdrHz%c.StreamRateHz != 0 {
		return fmt.Errorf("%w: odr_hz=%d not a multiple of stream_rate_hz=%d", ErrParamRange, c.OdrHz, c.StreamRateHz)
	}
	return nil
}

// TriggerSettings is spec.md §3's TriggerSettings.
type TriggerSettings struct {
	KMult  float32
	WinMs  uint32
	HoldMs uint32
}

// DefaultTriggerSettings picks a value inside each stated range, since
// spec.md bounds TriggerSettings but never names a default.
func DefaultTriggerSettings() TriggerSettings {
	return TriggerSettings{KMult: 4.0, WinMs: 100, HoldMs: 200}
}

// Validate checks TriggerSettings' invariants.
func (t TriggerSettings) Validate() error {
	if t.KMult < 2.0 || t.KMult > 20.0 {
		return fmt.Errorf("%w: k_mult=%v", ErrParamRange, t.KMult)
	}
	if t.WinMs < 50 || t.WinMs > 500 {
		return fmt.Errorf("%w: win_ms=%d", ErrParamRange, t.WinMs)
	}
	if t.HoldMs < 100 || t.HoldMs > 10000 {
		return fmt.Errorf("%w: hold_ms=%d", ErrParamRange, t.HoldMs)
	}
	return nil
}

// BlocksCfg is spec.md §3's BlocksCfg.
type BlocksCfg struct {
	Window  int
	Lines   int
	Retries int
}

// DefaultBlocksCfg matches spec.md §6's stated defaults.
func DefaultBlocksCfg() BlocksCfg {
	return BlocksCfg{Window: 4, Lines: 128, Retries: 3}
}

// Validate checks BlocksCfg's invariants.
func (b BlocksCfg) Validate() error {
	if b.Window < 1 || b.Window > 8 {
		return fmt.Errorf("%w: window=%d", ErrParamRange, b.Window)
	}
	if b.Lines < 32 || b.Lines > 512 {
		return fmt.Errorf("%w: lines=%d", ErrParamRange, b.Lines)
	}
	if b.Retries < 1 {
		return fmt.Errorf("%w: retries=%d", ErrParamRange, b.Retries)
	}
	return nil
}

// TimeSync is spec.md §3's TimeSync: an anchor pairing a host-supplied
// millisecond timestamp with the device's own tick counter at the moment
// TIME_SYNC arrived.
type TimeSync struct {
	HasSync      bool
	HostMsAtSync uint64
	TickAtSync   uint32
}

// Set records a new anchor (from TIME_SYNC,host_ms=<u64>).
func (t *TimeSync) Set(hostMs uint64, nowTicks uint32) {
	t.HasSync = true
	t.HostMsAtSync = hostMs
	t.TickAtSync = nowTicks
}

// Clear drops the anchor (HELLO clears time sync per spec.md §4.11).
func (t *TimeSync) Clear() {
	*t = TimeSync{}
}

// HostTimeMs projects the current host-time estimate as
// host_ms_at_sync + (now_ticks - tick_at_sync) / ticks_per_ms, split into
// the hi/lo 32-bit halves HB reports. ok is false if no sync is set.
func (t TimeSync) HostTimeMs(nowTicks uint32, ticksPerMs uint32) (hi, lo uint32, ok bool) {
	if !t.HasSync || ticksPerMs == 0 {
		return 0, 0, false
	}
	elapsedTicks := nowTicks - t.TickAtSync // wraps correctly at u32
	estimate := t.HostMsAtSync + uint64(elapsedTicks)/uint64(ticksPerMs)
	return uint32(estimate >> 32), uint32(estimate), true
}

// Ctx is the single owned context every FSM command handler receives: the
// three spec.md §3 config/settings structs, diagnostics, time sync, the
// current OpMode, the test-trigger escape hatch, and the hardware handles
// (sensor, transport, clock) nothing else holds a reference to.
type Ctx struct {
	Cfg  RuntimeCfg
	Trg  TriggerSettings
	Blk  BlocksCfg
	Diag *diag.Counters
	Time TimeSync
	Mode OpMode

	// TestTriggerEnabled gates _TEST_FORCE_TRIGGER (spec.md §6: "test
	// builds" only); the simulator binary decides whether to set it.
	TestTriggerEnabled bool

	Sensor    *sensor.Sensor
	Transport *txring.Transport
	Clock     clock.Source
}

// New returns a Ctx with every config struct at its spec.md §6 default,
// wired to the given hardware handles.
func New(clk clock.Source, sens *sensor.Sensor, transport *txring.Transport, d *diag.Counters) *Ctx {
	return &Ctx{
		Cfg:       DefaultRuntimeCfg(),
		Trg:       DefaultTriggerSettings(),
		Blk:       DefaultBlocksCfg(),
		Diag:      d,
		Mode:      ModeInit,
		Clock:     clk,
		Sensor:    sens,
		Transport: transport,
	}
}

// ResetOnHello restores the context to the state HELLO mandates (spec.md
// §4.11): diagnostics zeroed, time sync cleared, mode forced to Idle. It
// deliberately leaves Cfg/Trg/Blk untouched — HELLO doesn't reset
// configuration, only diagnostics and mode.
func (c *Ctx) ResetOnHello() {
	if c.Diag != nil {
		c.Diag.Reset()
	}
	c.Time.Clear()
	c.Mode = ModeIdle
}
