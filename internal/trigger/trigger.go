// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package trigger implements the variance-based trigger engine (spec.md
// §4.7): zero-phase and arm-phase calibration, armed-state variance
// comparison against a per-axis noise envelope, and post-fire holdoff.
package trigger

import "github.com/engrove/vibracore/internal/sensor"

// State is TrgState (spec.md §3): transitions are a subset of
// Idle -> Armed -> Holdoff -> Armed.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateHoldoff
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateHoldoff:
		return "holdoff"
	default:
		return "idle"
	}
}

const (
	zeroPhaseDurationMs = 2000
	armPhaseDurationMs  = 2000
	minZeroSamples      = 100
	stallTimeoutMs      = 500
	minNoiseFloor       = 2
)

// Calibration holds the per-axis statistics computed by the zero and arm
// phases (spec.md §3).
type Calibration struct {
	MuZero     [3]int16
	NoiseMax   [3]uint16
	MuArm      [3]int16
	Calibrated bool
}

type phaseCollector struct {
	active     bool
	startMs    uint32
	lastMs     uint32
	count      int
	sum        [3]int64
	min, max   [3]int16
}

func (p *phaseCollector) start(nowMs uint32) {
	*p = phaseCollector{active: true, startMs: nowMs, lastMs: nowMs}
	for a := 0; a < 3; a++ {
		p.min[a] = 32767
		p.max[a] = -32768
	}
}

func (p *phaseCollector) feed(s sensor.Sample, nowMs uint32) {
	p.lastMs = nowMs
	p.count++
	axes := [3]int16{s.X, s.Y, s.Z}
	for a := 0; a < 3; a++ {
		p.sum[a] += int64(axes[a])
		if axes[a] < p.min[a] {
			p.min[a] = axes[a]
		}
		if axes[a] > p.max[a] {
			p.max[a] = axes[a]
		}
	}
}

func (p *phaseCollector) mean(axis int) int16 {
	if p.count == 0 {
		return 0
	}
	return int16(p.sum[axis] / int64(p.count))
}

// Engine is the trigger's runtime state, owned by the FSM and fed samples
// and pump ticks as they occur.
type Engine struct {
	cal   Calibration
	state State

	zero phaseCollector
	arm  phaseCollector

	kMult  float32
	holdMs uint32

	lastEventMs uint32

	// OnError reports a calibration failure or stall (src is "ZERO" or
	// "ARM", matching spec.md §4.7/§7).
	OnError func(src string, code uint32, msg string)
	// OnZeroDone fires once zero-phase calibration succeeds.
	OnZeroDone func()
	// OnArmed fires once arm-phase calibration succeeds and the engine
	// transitions to Armed.
	OnArmed func()
	// OnFire fires when an armed comparison trips. The engine doesn't own
	// burst_id allocation (that's global across burst kinds, owned by the
	// burst manager); OnFire's return value is the new burst_id to report
	// on TRIGGER_EDGE, and firing also starts the DAMP_TRG burst.
	OnFire func(diffRaw, thRaw float32, tsUs uint32) (burstID uint32)
}

// NewEngine returns an Engine with the given trigger settings.
func NewEngine(kMult float32, holdMs uint32) *Engine {
	return &Engine{kMult: kMult, holdMs: holdMs}
}

// SetSettings applies SET_TRG changes.
func (e *Engine) SetSettings(kMult float32, holdMs uint32) {
	e.kMult = kMult
	e.holdMs = holdMs
}

// IsCalibrated reports whether zero-phase calibration has completed.
func (e *Engine) IsCalibrated() bool { return e.cal.Calibrated }

// State returns the current TrgState.
func (e *Engine) State() State { return e.state }

// Reset clears calibration and returns the engine to Idle — used by STOP
// and HELLO.
func (e *Engine) Reset() {
	e.cal = Calibration{}
	e.state = StateIdle
	e.zero = phaseCollector{}
	e.arm = phaseCollector{}
}

// StartZeroPhase begins the 2 s zero-calibration window.
func (e *Engine) StartZeroPhase(nowMs uint32) {
	e.zero.start(nowMs)
}

// StartArmPhase begins the 2 s arm-calibration window. The caller must
// have verified IsCalibrated() first (spec.md §4.11: ARM requires
// calibrated).
func (e *Engine) StartArmPhase(nowMs uint32) {
	e.arm.start(nowMs)
}

// FeedSample routes a newly acquired sample to whichever phase is active.
func (e *Engine) FeedSample(s sensor.Sample, nowMs uint32, tsUs uint32) {
	switch {
	case e.zero.active:
		e.zero.feed(s, nowMs)
	case e.arm.active:
		e.arm.feed(s, nowMs)
	case e.state == StateArmed:
		e.evaluateArmed(s, nowMs, tsUs)
	}
}

// Pump advances phase timeouts and holdoff expiry. It must be called every
// main-pump iteration regardless of whether a sample arrived.
func (e *Engine) Pump(nowMs uint32) {
	if e.zero.active {
		if nowMs-e.zero.lastMs > stallTimeoutMs {
			e.zero = phaseCollector{}
			e.fail("ZERO", 500, "sampling_stalled")
			return
		}
		if nowMs-e.zero.startMs >= zeroPhaseDurationMs {
			e.finishZero()
		}
	}
	if e.arm.active {
		if nowMs-e.arm.lastMs > stallTimeoutMs {
			e.arm = phaseCollector{}
			e.fail("ARM", 500, "sampling_stalled")
			return
		}
		if nowMs-e.arm.startMs >= armPhaseDurationMs {
			e.finishArm()
		}
	}
	if e.state == StateHoldoff && nowMs-e.lastEventMs >= e.holdMs {
		e.state = StateArmed
	}
}

func (e *Engine) fail(src string, code uint32, msg string) {
	if e.OnError != nil {
		e.OnError(src, code, msg)
	}
}

func (e *Engine) finishZero() {
	p := e.zero
	e.zero = phaseCollector{}
	if p.count < minZeroSamples {
		e.fail("ZERO", 500, "insufficient_samples")
		return
	}
	for a := 0; a < 3; a++ {
		mu := p.mean(a)
		e.cal.MuZero[a] = mu
		hi := int32(p.max[a]) - int32(mu)
		lo := int32(mu) - int32(p.min[a])
		n := hi
		if lo > n {
			n = lo
		}
		if n < minNoiseFloor {
			n = minNoiseFloor
		}
		e.cal.NoiseMax[a] = uint16(n)
	}
	e.cal.Calibrated = true
	if e.OnZeroDone != nil {
		e.OnZeroDone()
	}
}

func (e *Engine) finishArm() {
	p := e.arm
	e.arm = phaseCollector{}
	for a := 0; a < 3; a++ {
		e.cal.MuArm[a] = p.mean(a)
	}
	e.state = StateArmed
	if e.OnArmed != nil {
		e.OnArmed()
	}
}

// evaluateArmed implements the per-sample armed comparison: for each axis,
// diff = |v - mu_arm| vs th = k_mult * noise_max; any axis over threshold
// fires.
func (e *Engine) evaluateArmed(s sensor.Sample, nowMs uint32, tsUs uint32) {
	axes := [3]int16{s.X, s.Y, s.Z}
	for a := 0; a < 3; a++ {
		diff := float32(axes[a]) - float32(e.cal.MuArm[a])
		if diff < 0 {
			diff = -diff
		}
		th := e.kMult * float32(e.cal.NoiseMax[a])
		if diff > th {
			e.fire(diff, th, nowMs, tsUs)
			return
		}
	}
}

func (e *Engine) fire(diff, th float32, nowMs, tsUs uint32) {
	e.state = StateHoldoff
	e.lastEventMs = nowMs
	if e.OnFire != nil {
		e.OnFire(diff, th, tsUs)
	}
}

// ForceFire immediately fires the armed comparison regardless of the
// variance threshold, backing the `_TEST_FORCE_TRIGGER` test-only command
// (spec.md §6). It reports false if the engine wasn't Armed.
func (e *Engine) ForceFire(nowMs, tsUs uint32) bool {
	if e.state != StateArmed {
		return false
	}
	e.fire(0, 0, nowMs, tsUs)
	return true
}
