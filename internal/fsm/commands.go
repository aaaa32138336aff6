// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fsm

import (
	"fmt"
	"strings"

	"github.com/engrove/vibracore/internal/burst"
	"github.com/engrove/vibracore/internal/countdown"
	"github.com/engrove/vibracore/internal/devctx"
	"github.com/engrove/vibracore/internal/lineproto"
	"github.com/engrove/vibracore/internal/sensor"
)

// NACK reason codes, taken verbatim from spec.md §6's "Error codes
// (selection)" table.
const (
	codeUnknownCommand    = 100
	codeBadState          = 103
	codeParamRange        = 102
	codeZeroNotCalibrated = 104
	codeArmedNeedsForce   = 201
	codeLineTooLong       = 300
)

// guard reports whether verb may run while the context is in mode.
// Unlisted verbs fall through to the default case (any mode), matching
// spec.md §4.11's table: only the verbs that actually narrow availability
// are listed explicitly.
func guard(verb string, mode devctx.OpMode) bool {
	switch verb {
	case "STREAM_START", "START_BURST_WEIGHT", "START_BURST_DAMPING", "GET_PREVIEW", "ZERO":
		return mode == devctx.ModeIdle
	case "MODE":
		// TRIGGER_ON is Idle-only; TRIGGER_OFF is idempotent in any mode.
		// The verb-level table can't distinguish the two variants, so
		// handleMode re-checks TRIGGER_ON's mode itself and always lets
		// MODE through here.
		return true
	case "CAL_READY":
		return mode == devctx.ModeWaitCalZero
	case "ARM":
		return mode == devctx.ModeWaitArm || mode == devctx.ModeArmed
	case "_TEST_FORCE_TRIGGER":
		return mode == devctx.ModeArmed
	default:
		return true
	}
}

// handleBlocksAck implements spec.md §4.1's dispatcher precedence: the
// BLOCKS transport claims ACK_BLK, NACK_BLK, and ACK_COMPLETE before any
// other verb reaches the guard table, since these arrive mid-burst and
// must never be rejected by an OpMode check. A malformed field is treated
// as absent rather than a parse failure, matching spec.md §4.3's "missing
// or zero code defaults to 400" and "(or no id given)" leniency.
func (d *Dispatcher) handleBlocksAck(cmd lineproto.Command, nowMs uint32) bool {
	switch cmd.Verb {
	case "ACK_BLK":
		if v, ok := cmd.Get("blk"); ok {
			if n, err := lineproto.ParseUint(v, 16); err == nil {
				d.burst.HandleACKBlk(uint16(n))
			}
		}
		return true
	case "NACK_BLK":
		var blk uint16
		var code uint32
		if v, ok := cmd.Get("blk"); ok {
			if n, err := lineproto.ParseUint(v, 16); err == nil {
				blk = uint16(n)
			}
		}
		if v, ok := cmd.Get("code"); ok {
			if n, err := lineproto.ParseUint(v, 32); err == nil {
				code = uint32(n)
			}
		}
		d.burst.HandleNACKBlk(blk, code, nowMs)
		return true
	case "ACK_COMPLETE":
		var burstID uint32
		hasID := false
		if v, ok := cmd.Get("burst_id"); ok {
			if n, err := lineproto.ParseUint(v, 32); err == nil {
				burstID = uint32(n)
				hasID = true
			}
		}
		if kind, ok := d.burst.HandleACKComplete(burstID, hasID); ok {
			if kind == burst.DampTrg {
				d.ctx.Mode = devctx.ModeWaitArm
			} else {
				d.ctx.Mode = d.burstReturnMode
			}
		}
		return true
	}
	return false
}

func (d *Dispatcher) dispatch(cmd lineproto.Command, nowMs uint32) {
	if !guard(cmd.Verb, d.ctx.Mode) {
		d.tel.Nack(cmd.Verb, "bad_state", codeBadState)
		return
	}
	switch cmd.Verb {
	case "HELLO":
		d.handleHello()
	case "GET_STATUS":
		d.tel.Status(d.ctx.Mode.String(), strings.ToUpper(d.trigger.State().String()))
	case "GET_CFG":
		d.emitCfg()
	case "SET_CFG":
		d.handleSetCfg(cmd)
	case "HB":
		d.handleHB(cmd)
	case "TIME_SYNC":
		d.handleTimeSync(cmd, nowMs)
	case "GET_TRG":
		d.tel.TrgSettings(d.ctx.Trg.KMult, d.ctx.Trg.HoldMs)
	case "SET_TRG":
		d.handleSetTrg(cmd)
	case "GET_DIAG":
		d.handleGetDiag()
	case "REBOOT":
		d.handleReboot()
	case "STOP":
		d.handleStop(cmd)
	case "STREAM_START":
		d.handleStreamStart(cmd)
	case "STREAM_STOP":
		d.handleStreamStop()
	case "MODE":
		d.handleMode(cmd, nowMs)
	case "CAL_READY":
		d.handleCalReady(cmd, nowMs)
	case "ARM":
		d.handleArm(nowMs)
	case "START_BURST_WEIGHT":
		d.handleStartWeight(cmd, nowMs)
	case "START_BURST_DAMPING":
		d.handleStartDamping(cmd, nowMs)
	case "GET_PREVIEW":
		d.handleGetPreview()
	case "ZERO":
		d.handleZero()
	case "_TEST_FORCE_TRIGGER":
		d.handleForceTrigger(nowMs)
	default:
		d.tel.Nack("UNKNOWN", "unknown_command", codeUnknownCommand)
	}
}

// handleHello implements spec.md §4.11/§8 property 9: HELLO idempotently
// zeroes diagnostics, clears time sync, and forces Idle regardless of prior
// mode, aborting anything in progress first so nothing keeps running
// behind the host's back.
func (d *Dispatcher) handleHello() {
	d.burst.Abort(0)
	d.stream.Stop()
	d.trigger.Reset()
	d.zeroHold.Stop()
	d.ctx.ResetOnHello()
	d.tel.HelloAck(fwVersion, protoVersion, uint16(d.ctx.Blk.Window), uint16(d.ctx.Blk.Lines))
}

func (d *Dispatcher) emitCfg() {
	c := d.ctx.Cfg
	d.tel.Cfg(c.OdrHz, c.BurstMs, c.HbMs, c.StreamRateHz)
}

func (d *Dispatcher) handleSetCfg(cmd lineproto.Command) {
	next := d.ctx.Cfg
	if v, ok := cmd.Get("odr_hz"); ok {
		n, err := lineproto.ParseUint(v, 32)
		if err != nil {
			d.tel.Nack("SET_CFG", "param_range", codeParamRange)
			return
		}
		next.OdrHz = sensor.SnapODR(uint32(n))
	}
	if v, ok := cmd.Get("burst_ms"); ok {
		n, err := lineproto.ParseUint(v, 32)
		if err != nil {
			d.tel.Nack("SET_CFG", "param_range", codeParamRange)
			return
		}
		next.BurstMs = uint32(n)
	}
	if v, ok := cmd.Get("hb_ms"); ok {
		n, err := lineproto.ParseUint(v, 32)
		if err != nil {
			d.tel.Nack("SET_CFG", "param_range", codeParamRange)
			return
		}
		next.HbMs = uint32(n)
	}
	if v, ok := cmd.Get("stream_rate_hz"); ok {
		n, err := lineproto.ParseUint(v, 32)
		if err != nil {
			d.tel.Nack("SET_CFG", "param_range", codeParamRange)
			return
		}
		next.StreamRateHz = uint32(n)
	}
	if err := next.Validate(); err != nil {
		d.tel.Nack("SET_CFG", "param_range", codeParamRange)
		return
	}
	d.ctx.Cfg = next
	d.ctx.Sensor.SetODR(next.OdrHz)
	d.tel.SetHBMs(next.HbMs)
	d.burst.SetBlocksCfg(d.ctx.Blk.Window, d.ctx.Blk.Retries, uint16(d.ctx.Blk.Lines))
	d.emitCfg()
}

func (d *Dispatcher) handleHB(cmd lineproto.Command) {
	if v, ok := cmd.Get("ms"); ok {
		n, err := lineproto.ParseUint(v, 32)
		if err != nil {
			d.tel.Nack("HB", "param_range", codeParamRange)
			return
		}
		d.ctx.Cfg.HbMs = uint32(n)
		d.tel.SetHBMs(uint32(n))
		d.tel.Ack("HB")
		return
	}
	if cmd.Has("ON") {
		if d.ctx.Cfg.HbMs == 0 {
			d.ctx.Cfg.HbMs = devctx.DefaultRuntimeCfg().HbMs
		}
		d.tel.SetHBMs(d.ctx.Cfg.HbMs)
		d.tel.Ack("HB")
		return
	}
	if cmd.Has("OFF") {
		d.ctx.Cfg.HbMs = 0
		d.tel.SetHBMs(0)
		d.tel.Ack("HB")
		return
	}
	d.tel.Nack("HB", "param_range", codeParamRange)
}

func (d *Dispatcher) handleTimeSync(cmd lineproto.Command, nowMs uint32) {
	v, ok := cmd.Get("host_ms")
	if !ok {
		d.tel.Nack("TIME_SYNC", "param_range", codeParamRange)
		return
	}
	n, err := lineproto.ParseUint(v, 64)
	if err != nil {
		d.tel.Nack("TIME_SYNC", "param_range", codeParamRange)
		return
	}
	d.ctx.Time.Set(n, d.ctx.Clock.TicksNow())
	d.tel.Ack("TIME_SYNC")
	_ = nowMs
}

func (d *Dispatcher) handleSetTrg(cmd lineproto.Command) {
	next := d.ctx.Trg
	if v, ok := cmd.Get("k_mult"); ok {
		f, err := lineproto.ParseFixedFloat(v)
		if err != nil {
			d.tel.Nack("SET_TRG", "param_range", codeParamRange)
			return
		}
		next.KMult = f
	}
	if v, ok := cmd.Get("win_ms"); ok {
		n, err := lineproto.ParseUint(v, 32)
		if err != nil {
			d.tel.Nack("SET_TRG", "param_range", codeParamRange)
			return
		}
		next.WinMs = uint32(n)
	}
	if v, ok := cmd.Get("hold_ms"); ok {
		n, err := lineproto.ParseUint(v, 32)
		if err != nil {
			d.tel.Nack("SET_TRG", "param_range", codeParamRange)
			return
		}
		next.HoldMs = uint32(n)
	}
	if err := next.Validate(); err != nil {
		d.tel.Nack("SET_TRG", "param_range", codeParamRange)
		return
	}
	d.ctx.Trg = next
	d.trigger.SetSettings(next.KMult, next.HoldMs)
	d.tel.TrgSettings(next.KMult, next.HoldMs)
}

func (d *Dispatcher) handleGetDiag() {
	snap := d.ctx.Diag.Snapshot()
	d.tel.Ack("GET_DIAG",
		field("i2c_fail", snap.I2CFail),
		field("ring_ovf", snap.RingOvf),
		field("live_drops", snap.LiveDrops),
		field("hb_pauses", snap.HBPauses),
		field("tx_drops", snap.TXDrops),
		field("rx_overflow", snap.RXOverflow),
	)
}

func (d *Dispatcher) handleReboot() {
	d.tel.Ack("REBOOT")
	d.burst.Abort(0)
	d.stream.Stop()
	d.trigger.Reset()
	d.zeroHold.Stop()
	d.ctx.ResetOnHello()
	d.ctx.Mode = devctx.ModeInit
}

// handleStop implements spec.md §7's "Armed requires FORCE" rule: stopping
// an armed trigger discards calibration the operator worked for, so it
// needs the explicit flag; every other mode stops unconditionally. Aborting
// from STOP isn't a stall (999) or a transport failure (400), so it uses
// its own code.
const codeStopAbort = 0

func (d *Dispatcher) handleStop(cmd lineproto.Command) {
	if d.ctx.Mode == devctx.ModeArmed && !cmd.Has("FORCE") {
		d.tel.Nack("STOP", "blocked_while_armed", codeArmedNeedsForce)
		return
	}
	wasArmed := d.ctx.Mode == devctx.ModeArmed || d.ctx.Mode == devctx.ModeWaitArm ||
		d.ctx.Mode == devctx.ModeCountdown || d.ctx.Mode == devctx.ModeBurst || d.ctx.Mode == devctx.ModeBurstSending
	d.burst.Abort(codeStopAbort)
	d.stream.Stop()
	d.zeroHold.Stop()
	if wasArmed && d.trigger.IsCalibrated() {
		d.ctx.Mode = devctx.ModeWaitArm
	} else {
		d.trigger.Reset()
		d.ctx.Mode = devctx.ModeIdle
	}
	d.tel.Ack("STOP")
}

func (d *Dispatcher) handleStreamStart(cmd lineproto.Command) {
	rate := d.ctx.Cfg.StreamRateHz
	if v, ok := cmd.Get("rate_hz"); ok {
		n, err := lineproto.ParseUint(v, 32)
		if err != nil {
			d.tel.Nack("STREAM_START", "param_range", codeParamRange)
			return
		}
		rate = uint32(n)
	}
	if rate == 0 || d.ctx.Cfg.OdrHz%rate != 0 {
		d.tel.Nack("STREAM_START", "param_range", codeParamRange)
		return
	}
	div := d.ctx.Cfg.OdrHz / rate
	d.ctx.Sensor.Start()
	d.stream.Start(div)
	d.ctx.Mode = devctx.ModeStreaming
	d.tel.Ack("STREAM_START", field("rate_hz", rate), field("div", div))
}

func (d *Dispatcher) handleStreamStop() {
	d.stream.Stop()
	if d.ctx.Mode == devctx.ModeStreaming {
		d.ctx.Mode = devctx.ModeIdle
	}
	d.tel.Ack("STREAM_STOP")
}

func (d *Dispatcher) handleMode(cmd lineproto.Command, nowMs uint32) {
	if cmd.Has("TRIGGER_OFF") {
		d.trigger.Reset()
		d.zeroHold.Stop()
		if d.ctx.Mode != devctx.ModeIdle {
			d.ctx.Mode = devctx.ModeIdle
		}
		d.tel.Ack("MODE")
		return
	}
	if !cmd.Has("TRIGGER_ON") {
		d.tel.Nack("MODE", "param_range", codeParamRange)
		return
	}
	if d.ctx.Mode != devctx.ModeIdle {
		d.tel.Nack("MODE", "bad_state", codeBadState)
		return
	}
	d.ctx.Mode = devctx.ModeWaitCalZero
	d.zeroHold = countdown.Ticker{OnTick: d.tel.CountdownID}
	d.zeroHold.Start(guidedZeroHoldMs/1000, nowMs)
	d.tel.CalInfoHoldZero(guidedZeroHoldMs)
}

func (d *Dispatcher) handleCalReady(cmd lineproto.Command, nowMs uint32) {
	if v, _ := cmd.Get("phase"); v != "hold_zero" {
		d.tel.Nack("CAL_READY", "param_range", codeParamRange)
		return
	}
	d.zeroHold.Stop()
	d.ctx.Mode = devctx.ModeTrgCalZero
	d.trigger.StartZeroPhase(nowMs)
	d.tel.Ack("CAL_READY")
}

func (d *Dispatcher) handleArm(nowMs uint32) {
	if d.ctx.Mode == devctx.ModeArmed {
		d.tel.Ack("ARM")
		return
	}
	if !d.trigger.IsCalibrated() {
		d.tel.Nack("ARM", "zero_not_calibrated", codeZeroNotCalibrated)
		return
	}
	d.ctx.Sensor.Start()
	d.trigger.StartArmPhase(nowMs)
	d.ctx.Mode = devctx.ModeArmed
	d.tel.Ack("ARM")
}

func (d *Dispatcher) handleStartWeight(cmd lineproto.Command, nowMs uint32) {
	v, ok := cmd.Get("cycles")
	n, err := lineproto.ParseUint(v, 32)
	if !ok || err != nil || n < 1 || n > 1024 {
		d.tel.Nack("START_BURST_WEIGHT", "param_range", codeParamRange)
		return
	}
	d.burstReturnMode = devctx.ModeIdle
	d.burst.StartWeight(uint16(n), d.ctx.Cfg.OdrHz, nowMs)
	d.ctx.Mode = devctx.ModeBurst
	d.tel.Ack("START_BURST_WEIGHT")
}

func (d *Dispatcher) handleStartDamping(cmd lineproto.Command, nowMs uint32) {
	v, ok := cmd.Get("seconds")
	n, err := lineproto.ParseUint(v, 32)
	if !ok || err != nil || n < 1 || n > 600 {
		d.tel.Nack("START_BURST_DAMPING", "param_range", codeParamRange)
		return
	}
	d.burstReturnMode = devctx.ModeIdle
	d.burst.StartDamping(uint32(n), d.ctx.Cfg.OdrHz, nowMs)
	d.ctx.Mode = devctx.ModeCountdown
	d.tel.Ack("START_BURST_DAMPING")
}

func (d *Dispatcher) handleGetPreview() {
	const previewCount = 32
	samples := d.ctx.Sensor.PreviewSnapshot(previewCount)
	d.tel.PreviewHeader(len(samples))
	for _, s := range samples {
		d.tel.Preview(s.X, s.Y, s.Z)
	}
	d.tel.PreviewEnd()
}

func (d *Dispatcher) handleZero() {
	if err := d.ctx.Sensor.OffsetCalibrate(32); err != nil {
		d.tel.Nack("ZERO", "sensor_fault", 500)
		return
	}
	d.tel.Ack("ZERO")
}

func (d *Dispatcher) handleForceTrigger(nowMs uint32) {
	if !d.ctx.TestTriggerEnabled {
		d.tel.Nack("_TEST_FORCE_TRIGGER", "unknown_command", codeUnknownCommand)
		return
	}
	tsUs := d.ctx.Sensor.TicksToUs(d.ctx.Clock.TicksNow())
	if !d.trigger.ForceFire(nowMs, tsUs) {
		d.tel.Nack("_TEST_FORCE_TRIGGER", "bad_state", codeBadState)
		return
	}
	d.tel.Ack("_TEST_FORCE_TRIGGER")
}

// field renders one already-typed diagnostic counter as a key=value pair
// for ACK,SUBJECT=GET_DIAG's extra fields.
func field(key string, v uint32) string {
	return fmt.Sprintf("%s=%d", key, v)
}
