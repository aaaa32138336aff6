// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fsm is the command dispatcher (spec.md §4.11): it owns the
// OpMode guard table, routes parsed command lines to the subsystem each
// verb belongs to, and drives the cooperative main pump that advances the
// burst manager, trigger engine, live streamer, and heartbeat pacing every
// iteration regardless of whether a command arrived.
package fsm

import (
	"strings"
	"time"

	"github.com/engrove/vibracore/internal/burst"
	"github.com/engrove/vibracore/internal/countdown"
	"github.com/engrove/vibracore/internal/devctx"
	"github.com/engrove/vibracore/internal/lineproto"
	"github.com/engrove/vibracore/internal/sensor"
	"github.com/engrove/vibracore/internal/stream"
	"github.com/engrove/vibracore/internal/telemetry"
	"github.com/engrove/vibracore/internal/trigger"
)

// guidedZeroHoldMs is how long CAL_INFO,status=hold_zero asks the operator
// to hold the device still before sending CAL_READY (spec.md §4.7's guided
// flow; distinct from the trigger engine's own 2s zero-phase window, which
// only starts once CAL_READY arrives).
const guidedZeroHoldMs = 5000

// fwVersion and protoVersion are HELLO_ACK's identity fields, pinned to
// spec.md §6/§8 scenario 1's literal banner
// (`HELLO_ACK,fw="3.3.7",proto=3.3.3,win=4,blk_lines=128`).
const (
	fwVersion    = "3.3.7"
	protoVersion = "3.3.3"
)

// lineBudget and pumpBudget are spec.md §4.1's "budgeted processing" cap:
// at most this many lines, or this much wall-clock time, drained per Pump
// call, so a flood of queued host lines can never starve the heartbeat,
// burst, and trigger pumping that must also happen every iteration.
const (
	lineBudget = 8
	pumpBudget = 2 * time.Millisecond
)

// Dispatcher wires the device context and every subsystem together and is
// the entry point cmd/vibracored drives: one QueueLine (or
// RejectOverLongLine) call per complete command line, one Pump call per
// main-loop iteration. Pump hands queued lines to HandleLine.
type Dispatcher struct {
	ctx *devctx.Ctx
	tel *telemetry.Emitter

	burst   *burst.Manager
	trigger *trigger.Engine
	stream  *stream.Streamer

	// zeroHold is the guided flow's WAIT_CAL_ZERO countdown, separate
	// from the burst manager's own countdown (spec.md §4.9: "one ticker
	// instance per concurrent countdown use").
	zeroHold countdown.Ticker

	// burstReturnMode is the OpMode a burst's ACK_COMPLETE restores:
	// Idle for WEIGHT/DAMP_CD, WaitArm for DAMP_TRG (spec.md §8 scenario
	// 4: "after ACK_COMPLETE the device returns to WAIT_ARM").
	burstReturnMode devctx.OpMode

	// lineQueue holds complete lines handed in via QueueLine but not yet
	// dispatched; Pump drains it under spec.md §4.1's budget instead of
	// HandleLine running unbounded for however many lines the transport
	// happened to assemble since the last pump.
	lineQueue [][]byte

	lastNowMs uint32
}

// New wires a Dispatcher around ctx. w is the transport both the burst
// manager's BLOCKS sender and the telemetry emitter write framed lines to.
func New(ctx *devctx.Ctx, tel *telemetry.Emitter, w burstWriter) *Dispatcher {
	d := &Dispatcher{
		ctx:     ctx,
		tel:     tel,
		burst:   burst.NewManager(w, ctx.Blk.Window, ctx.Blk.Retries, uint16(ctx.Blk.Lines)),
		trigger: trigger.NewEngine(ctx.Trg.KMult, ctx.Trg.HoldMs),
		stream:  stream.New(ctx.Diag, func() int { return ctx.Transport.Free() }),
	}
	d.wireBurst()
	d.wireTrigger()
	return d
}

// burstWriter is the line sink the BLOCKS sender needs; satisfied by
// *txring.Transport, kept local so this package doesn't have to import
// internal/blocks just to name the interface.
type burstWriter interface {
	WriteBlocking(b []byte) int
}

func (d *Dispatcher) wireBurst() {
	m := d.burst
	m.ConvertToMps2 = d.ctx.Sensor.ConvertToMps2
	m.TicksToUs = d.ctx.Sensor.TicksToUs
	m.OnCountdownID = d.tel.CountdownID
	m.OnDataHeader = func(kind burst.Kind, burstID, ts0Us uint32, samples uint16) {
		d.tel.DataHeader(kind.String(), burstID, ts0Us, samples)
	}
	m.OnComplete = func(burstID uint32, samples, dropped uint16, timeMs uint32, reason string, code uint32) {
		d.tel.Complete(burstID, samples, dropped, timeMs, reason, code)
		if reason != "" {
			// An abort finalizes the mode transition immediately; a clean
			// completion waits for ACK_COMPLETE (spec.md §4.6 step 6).
			d.ctx.Mode = d.burstReturnMode
		}
	}
	m.OnSummary = d.tel.Summary
	m.OnError = d.tel.Error
	m.OnStartSampling = func(odrHz uint32) {
		d.ctx.Sensor.SetODR(odrHz)
		d.ctx.Sensor.Start()
	}
	m.OnStopSampling = func() {
		d.ctx.Sensor.Stop()
	}
}

func (d *Dispatcher) wireTrigger() {
	t := d.trigger
	t.OnError = d.tel.Error
	t.OnZeroDone = func() {
		d.tel.CalInfoHoldZeroDone()
		d.ctx.Mode = devctx.ModeWaitArm
	}
	t.OnArmed = func() {
		d.tel.Status(d.ctx.Mode.String(), strings.ToUpper(d.trigger.State().String()))
	}
	t.OnFire = func(diffRaw, thRaw float32, tsUs uint32) uint32 {
		burstID := d.burst.StartTriggered(d.ctx.Cfg.BurstMs, d.ctx.Cfg.OdrHz, d.lastNowMs)
		d.burstReturnMode = devctx.ModeWaitArm
		d.ctx.Mode = devctx.ModeCountdown
		d.tel.TriggerEdge(burstID, tsUs, diffRaw, thRaw)
		return burstID
	}
}

// HandleLine parses and dispatches one already-framed command line. The
// BLOCKS transport gets first look at every line (spec.md §4.1's
// "dispatcher precedence": it may claim ACK_BLK/NACK_BLK/ACK_COMPLETE)
// before falling through to normal command dispatch.
//
// HandleLine dispatches immediately and ignores the §4.1 processing
// budget; it exists for callers (tests, and anything driving the FSM
// synchronously one line at a time) that want a line's effects to be
// visible before the call returns. cmd/vibracored's main loop instead
// uses QueueLine, so the budget in Pump is what actually governs the
// host-facing link.
func (d *Dispatcher) HandleLine(line []byte, nowMs uint32) {
	d.lastNowMs = nowMs
	cmd := lineproto.ParseCommand(line)
	if d.handleBlocksAck(cmd, nowMs) {
		return
	}
	d.dispatch(cmd, nowMs)
}

// RejectOverLongLine implements spec.md §4.1's line-length limit: a line
// whose payload exceeded lineproto.MaxPayload is never dispatched (its
// tail was already dropped by the Assembler as it arrived) and instead
// gets a single NACK,SUBJECT=UNKNOWN,reason=line_too_long,code=300. The
// caller (cmd/vibracored's main loop) invokes this for every line
// lineproto.Assembler.Feed reports with ok=false.
func (d *Dispatcher) RejectOverLongLine() {
	d.tel.Nack("UNKNOWN", "line_too_long", codeLineTooLong)
}

// QueueLine enqueues an already-framed line for dispatch on a future Pump
// call, rather than processing it inline. This is the entry point the
// budgeted processing of spec.md §4.1 applies to: a host that floods the
// link with lines faster than they can be drained never starves the
// heartbeat, burst, or trigger pumping Pump also has to do every
// iteration.
func (d *Dispatcher) QueueLine(line []byte) {
	d.lineQueue = append(d.lineQueue, line)
}

// drainLineQueue dispatches queued lines up to spec.md §4.1's budget: at
// most lineBudget lines, or pumpBudget of wall-clock time, whichever comes
// first. Anything left over waits for the next Pump call.
func (d *Dispatcher) drainLineQueue(nowMs uint32) {
	if len(d.lineQueue) == 0 {
		return
	}
	deadline := time.Now().Add(pumpBudget)
	n := 0
	for len(d.lineQueue) > 0 && n < lineBudget && time.Now().Before(deadline) {
		line := d.lineQueue[0]
		d.lineQueue = d.lineQueue[1:]
		d.HandleLine(line, nowMs)
		n++
	}
}

// Pump advances every subsystem by one cooperative tick: queued host
// commands under their processing budget, acquired samples, heartbeat
// pacing, the burst manager (which also pumps the BLOCKS transport and the
// burst countdown), the trigger engine, the live streamer, the zero-hold
// countdown, then the OpMode mirror of the burst phase. Pump has no STOP
// step; STOP takes effect when its command line is dispatched.
func (d *Dispatcher) Pump(nowMs uint32) {
	d.lastNowMs = nowMs
	d.drainLineQueue(nowMs)
	d.drainSamples(nowMs)

	hi, lo, synced := d.ctx.Time.HostTimeMs(d.ctx.Clock.TicksNow(), d.ctx.Clock.TicksPerSecond()/1000)
	d.tel.PumpHB(nowMs, !d.burst.IsIdle(), synced, hi, lo, uint16(d.ctx.Transport.Free()), d.ctx.Diag.Snapshot().TXDrops)

	d.burst.Pump(nowMs)
	d.trigger.Pump(nowMs)
	d.pumpStream()

	if d.zeroHold.Active() {
		d.zeroHold.Pump(nowMs)
	}
	d.syncModeFromBurst()
}

// syncModeFromBurst mirrors the burst manager's internal phase into the
// OpMode STATUS reports, since the manager (not the FSM) owns Countdown ->
// Sampling -> Sending transitions once a burst has started.
func (d *Dispatcher) syncModeFromBurst() {
	if d.burst.IsIdle() {
		return
	}
	switch d.burst.CurrentPhase() {
	case burst.PhaseCountdown:
		d.ctx.Mode = devctx.ModeCountdown
	case burst.PhaseSampling, burst.PhaseWeightSampling:
		d.ctx.Mode = devctx.ModeBurst
	case burst.PhaseSending:
		d.ctx.Mode = devctx.ModeBurstSending
	}
}

// drainSamples pops every sample the sensor's drain goroutine has queued
// since the last pump and routes it to whichever subsystems care, mirroring
// the main pump's role as the single consumer of the sample ring (spec.md
// §4.4/§5).
func (d *Dispatcher) drainSamples(nowMs uint32) {
	for {
		s, ok := d.ctx.Sensor.GetSample()
		if !ok {
			return
		}
		tsUs := d.ctx.Sensor.TicksToUs(s.TSTicks)
		if !d.burst.IsIdle() {
			d.burst.FeedSample(s, nowMs)
		}
		d.feedTrigger(s, nowMs, tsUs)
		if d.stream.Active() {
			d.stream.Feed(s, tsUs)
		}
	}
}

func (d *Dispatcher) feedTrigger(s sensor.Sample, nowMs, tsUs uint32) {
	switch d.ctx.Mode {
	case devctx.ModeTrgCalZero, devctx.ModeWaitArm, devctx.ModeArmed:
		d.trigger.FeedSample(s, nowMs, tsUs)
	}
}

func (d *Dispatcher) pumpStream() {
	for {
		frame, ok := d.stream.Take()
		if !ok {
			return
		}
		d.tel.Live(frame.Seq, frame.X, frame.Y, frame.Z, frame.TSUs)
	}
}
