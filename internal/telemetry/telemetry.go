// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package telemetry formats and emits every device → host line (spec.md
// §4.10, §6 "Complete message set") and paces the heartbeat. It never
// decides policy (when to transition modes, when a burst completes); it
// only renders the wire form of what the FSM, burst manager, and trigger
// engine tell it happened.
package telemetry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/engrove/vibracore/internal/diag"
	"github.com/engrove/vibracore/internal/lineproto"
)

// Writer is the blocking line sink telemetry writes to, satisfied by
// *txring.Transport (the same boundary internal/blocks.Sender uses).
type Writer interface {
	WriteBlocking(b []byte) int
}

// Emitter is the single owner of outbound line formatting. One Emitter
// exists per device.
type Emitter struct {
	w    Writer
	diag *diag.Counters
	log  *slog.Logger

	hbMs     uint32
	lastHBMs uint32
	hbArmed  bool

	lastStatusOp string
	haveStatus   bool
}

// NewEmitter returns an Emitter writing to w. d accumulates hb_pauses; log
// receives a structured record of every ERROR line (the only telemetry
// line that also represents an ambient, host-independent fault worth
// logging).
func NewEmitter(w Writer, d *diag.Counters, log *slog.Logger) *Emitter {
	return &Emitter{w: w, diag: d, log: log}
}

func (e *Emitter) emit(line string) {
	e.w.WriteBlocking([]byte(line))
}

func buildLine(verb string, fields ...string) string {
	var b strings.Builder
	b.WriteString(verb)
	for _, f := range fields {
		b.WriteByte(',')
		b.WriteString(f)
	}
	b.WriteString("\r\n")
	return b.String()
}

// HelloAck emits the protocol banner and clears STATUS idempotency, since
// HELLO forces Idle regardless of prior mode (spec.md §4.11).
func (e *Emitter) HelloAck(fw, proto string, win, blkLines uint16) {
	e.emit(fmt.Sprintf("HELLO_ACK,fw=%q,proto=%s,win=%d,blk_lines=%d\r\n", fw, proto, win, blkLines))
	e.haveStatus = false
	e.lastStatusOp = ""
}

// Ack emits ACK,SUBJECT=<subject>[,extra...]; extra entries are already
// formatted key=value pairs (e.g. "rate_hz=100").
func (e *Emitter) Ack(subject string, extra ...string) {
	e.emit(buildLine("ACK", append([]string{"SUBJECT=" + subject}, extra...)...))
}

// Nack emits a semantic or syntactic rejection (spec.md §7).
func (e *Emitter) Nack(subject, reason string, code uint32) {
	e.emit(fmt.Sprintf("NACK,SUBJECT=%s,reason=%s,code=%d\r\n", subject, reason, code))
}

// Error emits a liveness/fault report and mirrors it into the structured
// log, since an ERROR line on the wire represents a real device fault an
// operator would want in their logs too.
func (e *Emitter) Error(src string, code uint32, msg string) {
	e.emit(fmt.Sprintf("ERROR,src=%s,code=%d,msg=%q\r\n", src, code, msg))
	if e.log != nil {
		e.log.Error("device error", "src", src, "code", code, "msg", msg)
	}
}

// Status emits STATUS,op=<op>,trg=<trg>,axis=MAG, but only if op changed
// since the last Status call (spec.md §4.10: "idempotent on same-mode
// writes" — repeating a no-op mode transition, e.g. ARM while already
// Armed, must not duplicate the line).
func (e *Emitter) Status(op, trg string) {
	if e.haveStatus && e.lastStatusOp == op {
		return
	}
	e.haveStatus = true
	e.lastStatusOp = op
	e.emit(fmt.Sprintf("STATUS,op=%s,trg=%s,axis=MAG\r\n", op, trg))
}

// Cfg emits the four RuntimeCfg fields in response to GET_CFG or SET_CFG.
func (e *Emitter) Cfg(odrHz, burstMs, hbMs, streamRateHz uint32) {
	e.emit(fmt.Sprintf("CFG,odr_hz=%d,burst_ms=%d,hb_ms=%d,stream_rate_hz=%d\r\n", odrHz, burstMs, hbMs, streamRateHz))
}

// TrgSettings emits the two trigger-tunable fields.
func (e *Emitter) TrgSettings(kMult float32, holdMs uint32) {
	e.emit(fmt.Sprintf("TRG_SETTINGS,k_mult=%s,hold_ms=%d\r\n", lineproto.FormatFixed3(kMult), holdMs))
}

// TriggerEdge reports a fired comparison (spec.md §4.7).
func (e *Emitter) TriggerEdge(burstID uint32, tsUs uint32, diffRaw, thRaw float32) {
	e.emit(fmt.Sprintf("TRIGGER_EDGE,burst_id=%d,edge=RISING,ts_us=%d,val_raw=%s,th_raw=%s\r\n",
		burstID, tsUs, lineproto.FormatFixed3(diffRaw), lineproto.FormatFixed3(thRaw)))
}

// CountdownID emits one countdown tick (0 for the stop-cancellation case,
// per internal/countdown.Ticker's OnTick contract).
func (e *Emitter) CountdownID(id int) {
	e.emit(fmt.Sprintf("COUNTDOWN_ID,id=%d\r\n", id))
}

// CalInfoHoldZero announces the guided zero-calibration hold instruction.
func (e *Emitter) CalInfoHoldZero(durationMs uint32) {
	e.emit(fmt.Sprintf("CAL_INFO,status=hold_zero,duration_ms=%d,instr_id=HOLD_ZERO\r\n", durationMs))
}

// CalInfoHoldZeroDone announces zero-phase calibration succeeded.
func (e *Emitter) CalInfoHoldZeroDone() {
	e.emit("CAL_INFO,status=hold_zero_done\r\n")
}

// PreviewHeader/Preview/PreviewEnd bracket a GET_PREVIEW response. spec.md
// names these verbs in the message set but doesn't give their field
// grammar; this shape (a count header, one line per sample, a terminator)
// follows the same header/body/terminator shape as BLOCK_HEADER/DATA/
// BLOCK_END and DATA_HEADER/DATA/COMPLETE elsewhere in the protocol.
func (e *Emitter) PreviewHeader(count int) {
	e.emit(fmt.Sprintf("PREVIEW_HEADER,count=%d\r\n", count))
}

func (e *Emitter) Preview(x, y, z int16) {
	e.emit(fmt.Sprintf("PREVIEW,ax=%d,ay=%d,az=%d\r\n", x, y, z))
}

func (e *Emitter) PreviewEnd() {
	e.emit("PREVIEW_END\r\n")
}

// Live emits one decimated live-stream sample (spec.md §4.8).
func (e *Emitter) Live(seq uint32, x, y, z int16, tsUs uint32) {
	e.emit(fmt.Sprintf("LIVE,seq=%d,ax=%d,ay=%d,az=%d,ts_us=%d\r\n", seq, x, y, z, tsUs))
}

// DataHeader announces the start of a windowed burst's block stream
// (spec.md §4.6 step 5). kind is the burst kind's wire name (e.g.
// "DAMP_CD"); telemetry doesn't import internal/burst to stay a pure
// line-formatting leaf, so callers pass kind.String() already rendered.
func (e *Emitter) DataHeader(kind string, burstID, ts0Us uint32, samples uint16) {
	e.emit(fmt.Sprintf("DATA_HEADER,type=%s,burst_id=%d,ts0_us=%d,samples=%d,mode=CSV\r\n", kind, burstID, ts0Us, samples))
}

// Complete emits the end-of-burst summary line, with or without an abort
// reason (spec.md §4.6 step 6, §7).
func (e *Emitter) Complete(burstID uint32, samples, dropped uint16, timeMs uint32, reason string, code uint32) {
	if reason == "" {
		e.emit(fmt.Sprintf("COMPLETE,burst_id=%d,samples=%d,dropped=%d,time_ms=%d\r\n", burstID, samples, dropped, timeMs))
		return
	}
	e.emit(fmt.Sprintf("COMPLETE,burst_id=%d,samples=%d,dropped=%d,time_ms=%d,reason=%s,code=%d\r\n",
		burstID, samples, dropped, timeMs, reason, code))
}

// Summary emits the WEIGHT kind's single statistics line (spec.md §4.6).
func (e *Emitter) Summary(meanAxRaw, medianAxRaw, meanMs2, stdMs2 float32) {
	e.emit(fmt.Sprintf("SUMMARY,mean_ax_raw=%s,median_ax_raw=%s,mean_ms2=%s,std_ms2=%s,delta_vinkel_deg=0.000\r\n",
		lineproto.FormatFixed3(meanAxRaw), lineproto.FormatFixed3(medianAxRaw),
		lineproto.FormatFixed3(meanMs2), lineproto.FormatFixed3(stdMs2)))
}

// SetHBMs applies a SET_CFG change to the heartbeat period. 0 disables
// pacing entirely.
func (e *Emitter) SetHBMs(ms uint32) {
	e.hbMs = ms
	e.hbArmed = false
}

// PumpHB paces the heartbeat (spec.md §4.10): emits HB every hb_ms while
// no burst is active; while a burst is active, due ticks are skipped and
// counted as hb_pauses rather than queued up. timeSynced, hostHi, and
// hostLo mirror TIME_SYNC's host-time estimate; txFree/txDrops come from
// the TX ring.
func (e *Emitter) PumpHB(nowMs uint32, burstActive bool, timeSynced bool, hostHi, hostLo uint32, txFree uint16, txDrops uint32) {
	if e.hbMs == 0 {
		return
	}
	if !e.hbArmed {
		e.hbArmed = true
		e.lastHBMs = nowMs
	}
	if nowMs-e.lastHBMs < e.hbMs {
		return
	}
	e.lastHBMs = nowMs
	if burstActive {
		if e.diag != nil {
			e.diag.IncHBPauses()
		}
		return
	}
	if timeSynced {
		e.emit(fmt.Sprintf("HB,tick=%d,host_hi=%d,host_lo=%d,tx_free=%d,tx_drop=%d\r\n", nowMs, hostHi, hostLo, txFree, txDrops))
		return
	}
	e.emit(fmt.Sprintf("HB,tick=%d,tx_free=%d,tx_drop=%d\r\n", nowMs, txFree, txDrops))
}
