// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package burst implements the burst manager (spec.md §4.6): countdown,
// sample aggregation, stall detection, block generation over the BLOCKS
// transport for the two windowed kinds, and the weight kind's direct
// SUMMARY statistics.
package burst

import (
	"fmt"
	"math"

	"github.com/engrove/vibracore/internal/blocks"
	"github.com/engrove/vibracore/internal/countdown"
	"github.com/engrove/vibracore/internal/lineproto"
	"github.com/engrove/vibracore/internal/sensor"
)

// Kind is BurstSession.kind (spec.md §3).
type Kind int

const (
	Weight Kind = iota
	DampTrg
	DampCd
)

func (k Kind) String() string {
	switch k {
	case Weight:
		return "WEIGHT"
	case DampTrg:
		return "DAMP_TRG"
	default:
		return "DAMP_CD"
	}
}

// Phase is the manager's internal lifecycle position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCountdown
	PhaseSampling
	PhaseSending
	PhaseWeightSampling
)

const (
	countdownSeconds   = 5
	samplesPerBurst    = 8000 // SAMPLES_PER_BURST
	stallTimeoutMs     = 500
	defaultBlockLines  = 128
)

// Session mirrors spec.md §3's BurstSession.
type Session struct {
	ID                  uint32
	Kind                Kind
	TS0Us               uint32
	PlannedSamples       uint16
	Collected            uint16
	ODRHz                uint32
	StartedMs            uint32
	LastSampleMs         uint32
	AwaitingAckComplete  bool
	Aborted              bool
	AbortCode            uint32
	burstMs              uint32
	completeEmitted      bool
}

// Manager is the burst manager. One Manager exists per device; callers
// (the FSM) drive it via Pump and FeedSample, and receive emitted lines
// through the On* callbacks.
type Manager struct {
	sender    *blocks.Sender
	countdown countdown.Ticker

	phase   Phase
	session *Session
	nextID  uint32

	samples []sensor.Sample // fixed scratch, len capped at samplesPerBurst
	blockLines uint16

	// ConvertToMps2 converts a raw sample to m/s² per axis; injected so
	// this package doesn't depend on conn/i2c or a concrete Sensor.
	ConvertToMps2 func(sensor.Sample) (ax, ay, az float32)
	// TicksToUs converts a sample's tick timestamp to microseconds,
	// mirroring Sensor.TicksToUs; injected for the same reason.
	TicksToUs func(ticks uint32) uint32

	// Callbacks emit the corresponding wire messages; the manager never
	// touches a transport directly except through blocks.Sender.
	OnCountdownID func(id int)
	OnDataHeader  func(kind Kind, burstID uint32, ts0Us uint32, samples uint16)
	OnComplete    func(burstID uint32, samples uint16, dropped uint16, timeMs uint32, reason string, code uint32)
	OnSummary     func(meanAxRaw, medianAxRaw, meanMs2, stdMs2 float32)
	OnError       func(src string, code uint32, msg string)
	// OnStartSampling/OnStopSampling bracket the acquisition window so
	// the caller can Start/Stop the sensor.
	OnStartSampling func(odrHz uint32)
	OnStopSampling  func()
}

// NewManager returns a Manager sending blocks through w with the given
// BlocksCfg window/retries/lines.
func NewManager(w blocks.Writer, window, retries int, blockLines uint16) *Manager {
	m := &Manager{
		sender:     blocks.NewSender(w, window, retries),
		blockLines: blockLines,
		samples:    make([]sensor.Sample, 0, samplesPerBurst),
	}
	m.sender.OnAbort = m.onTransportAbort
	return m
}

// SetBlocksCfg applies BlocksCfg changes; only valid between bursts.
func (m *Manager) SetBlocksCfg(window, retries int, blockLines uint16) {
	m.sender.SetWindow(window)
	m.sender.SetMaxRetries(retries)
	m.blockLines = blockLines
}

// IsIdle reports whether the manager has no session in progress and the
// transport has nothing queued or in flight.
func (m *Manager) IsIdle() bool {
	return m.phase == PhaseIdle && m.sender.IsIdle()
}

// Session returns the active session, or nil if idle.
func (m *Manager) Session() *Session { return m.session }

// Phase returns the manager's current phase.
func (m *Manager) CurrentPhase() Phase { return m.phase }

// StartWeight begins a WEIGHT-kind burst: cycles samples, no countdown, no
// BLOCKS transport.
func (m *Manager) StartWeight(cycles uint16, odrHz uint32, nowMs uint32) {
	m.nextID++
	m.session = &Session{ID: m.nextID, Kind: Weight, PlannedSamples: cycles, ODRHz: odrHz, StartedMs: nowMs, LastSampleMs: nowMs}
	m.samples = m.samples[:0]
	m.phase = PhaseWeightSampling
	if m.OnStartSampling != nil {
		m.OnStartSampling(odrHz)
	}
}

// StartDamping begins a DAMP_CD-kind burst. Per spec.md §8 scenario 2,
// `seconds` (not RuntimeCfg.burst_ms) sets the session's acquisition
// window: burst_ms = seconds * 1000.
func (m *Manager) StartDamping(seconds uint32, odrHz uint32, nowMs uint32) {
	m.startNonWeight(DampCd, seconds*1000, odrHz, nowMs)
}

// StartTriggered begins a DAMP_TRG-kind burst fired by the trigger engine,
// using the configured burst_ms.
func (m *Manager) StartTriggered(burstMs uint32, odrHz uint32, nowMs uint32) uint32 {
	m.startNonWeight(DampTrg, burstMs, odrHz, nowMs)
	return m.session.ID
}

func (m *Manager) startNonWeight(kind Kind, burstMs uint32, odrHz uint32, nowMs uint32) {
	m.nextID++
	planned := uint32(burstMs) * odrHz / 1000
	if planned > samplesPerBurst {
		planned = samplesPerBurst
	}
	m.session = &Session{
		ID: m.nextID, Kind: kind, ODRHz: odrHz,
		PlannedSamples: uint16(planned), burstMs: burstMs,
	}
	m.samples = m.samples[:0]
	m.phase = PhaseCountdown
	m.countdown = countdown.Ticker{OnTick: m.onCountdownTick, OnExpire: func() { m.enterSampling(nowMs + countdownSeconds*1000) }}
	m.countdown.Start(countdownSeconds, nowMs)
}

func (m *Manager) onCountdownTick(id int) {
	if m.OnCountdownID != nil {
		m.OnCountdownID(id)
	}
}

func (m *Manager) enterSampling(nowMs uint32) {
	m.phase = PhaseSampling
	m.session.StartedMs = nowMs
	m.session.LastSampleMs = nowMs
	if m.OnStartSampling != nil {
		m.OnStartSampling(m.session.ODRHz)
	}
}

// FeedSample appends a newly acquired sample during PhaseSampling or
// PhaseWeightSampling.
func (m *Manager) FeedSample(s sensor.Sample, nowMs uint32) {
	if m.session == nil {
		return
	}
	switch m.phase {
	case PhaseSampling, PhaseWeightSampling:
	default:
		return
	}
	if len(m.samples) == 0 && m.TicksToUs != nil {
		m.session.TS0Us = m.TicksToUs(s.TSTicks)
	}
	if len(m.samples) < cap(m.samples) {
		m.samples = append(m.samples, s)
	}
	m.session.Collected = uint16(len(m.samples))
	m.session.LastSampleMs = nowMs
}

// Pump advances countdown, stall detection, phase transitions, and the
// underlying BLOCKS transport. Must be called every main-pump iteration.
func (m *Manager) Pump(nowMs uint32) {
	if m.countdown.Active() {
		m.countdown.Pump(nowMs)
	}
	if m.session == nil {
		return
	}
	switch m.phase {
	case PhaseSampling:
		m.pumpSampling(nowMs)
	case PhaseWeightSampling:
		m.pumpWeight(nowMs)
	case PhaseSending:
		m.sender.Pump(nowMs)
		// A transport abort inside sender.Pump resets the session to nil.
		if m.session != nil && !m.session.completeEmitted && m.sender.QueueDepth() == 0 {
			m.emitComplete(nowMs)
		}
	}
}

func (m *Manager) pumpSampling(nowMs uint32) {
	s := m.session
	timeUp := nowMs-s.StartedMs >= s.burstMs
	targetReached := s.Collected >= s.PlannedSamples
	if s.Collected > 0 && nowMs-s.LastSampleMs > stallTimeoutMs && !timeUp {
		// spec.md §7: the ERROR report uses code 500, but the COMPLETE
		// that follows a liveness abort uses 999, distinct from the
		// transport-exhaustion abort's 400.
		m.fail(500, "sampling_stalled")
		m.abortSession(999)
		return
	}
	if targetReached || timeUp {
		m.enterSending(nowMs)
	}
}

func (m *Manager) pumpWeight(nowMs uint32) {
	s := m.session
	if s.Collected > 0 && nowMs-s.LastSampleMs > stallTimeoutMs {
		m.fail(500, "sampling_stalled")
		m.resetToIdle()
		return
	}
	if s.Collected >= s.PlannedSamples {
		if m.OnStopSampling != nil {
			m.OnStopSampling()
		}
		m.emitSummary()
		m.resetToIdle()
	}
}

func (m *Manager) enterSending(nowMs uint32) {
	if m.OnStopSampling != nil {
		m.OnStopSampling()
	}
	s := m.session
	m.phase = PhaseSending
	if m.OnDataHeader != nil {
		m.OnDataHeader(s.Kind, s.ID, s.TS0Us, s.Collected)
	}
	m.sender.StartBurst(s.ID)
	lines := m.blockLines
	if lines == 0 {
		lines = defaultBlockLines
	}
	for start := 0; start < int(s.Collected); start += int(lines) {
		end := start + int(lines)
		if end > int(s.Collected) {
			end = int(s.Collected)
		}
		gen := &dataGenerator{m: m, start: start, count: end - start}
		m.sender.Enqueue(uint16(end-start), gen)
	}
	m.sender.Pump(nowMs)
	if m.sender.QueueDepth() == 0 {
		m.emitComplete(nowMs)
	}
}

func (m *Manager) emitComplete(nowMs uint32) {
	s := m.session
	s.completeEmitted = true
	s.AwaitingAckComplete = true
	timeMs := uint32(0)
	if s.ODRHz > 0 {
		timeMs = uint32(math.Round(float64(s.Collected) * 1000 / float64(s.ODRHz)))
	}
	if m.OnComplete != nil {
		m.OnComplete(s.ID, s.Collected, 0, timeMs, "", 0)
	}
}

// HandleACKBlk, HandleNACKBlk, and HandleACKComplete pass through to the
// BLOCKS sender, which is the dispatcher's first hook for every line
// (spec.md §4.1, "dispatcher precedence").
func (m *Manager) HandleACKBlk(blk uint16) { m.sender.HandleACKBlk(blk) }

func (m *Manager) HandleNACKBlk(blk uint16, code uint32, nowMs uint32) {
	m.sender.HandleNACKBlk(blk, code, nowMs)
}

// HandleACKComplete finalizes the session if it matches, transitioning
// back to idle (the FSM decides the follow-on OpMode: WaitArm for
// DAMP_TRG, the previous mode otherwise).
func (m *Manager) HandleACKComplete(burstID uint32, hasID bool) (kind Kind, ok bool) {
	if m.session == nil {
		return 0, false
	}
	k := m.session.Kind
	if !m.sender.HandleACKComplete(burstID, hasID) {
		return 0, false
	}
	m.resetToIdle()
	return k, true
}

func (m *Manager) onTransportAbort(code uint32) {
	m.abortSession(code)
}

func (m *Manager) abortSession(code uint32) {
	if m.session == nil {
		return
	}
	s := m.session
	s.Aborted = true
	s.AbortCode = code
	if m.OnStopSampling != nil {
		m.OnStopSampling()
	}
	if m.OnComplete != nil {
		m.OnComplete(s.ID, s.Collected, 0, 0, "aborted", code)
	}
	m.resetToIdle()
}

// Abort cancels the in-progress session (e.g. from STOP), same semantics
// as a transport abort but without a COMPLETE time-out code.
func (m *Manager) Abort(code uint32) {
	if m.session == nil {
		return
	}
	m.sender.HandleACKComplete(m.session.ID, false) // drains sender state
	m.abortSession(code)
}

func (m *Manager) resetToIdle() {
	m.countdown.Stop()
	m.phase = PhaseIdle
	m.session = nil
	m.samples = m.samples[:0]
}

func (m *Manager) fail(code uint32, msg string) {
	src := "BURST"
	if m.OnError != nil {
		m.OnError(src, code, msg)
	}
}

// emitSummary computes the WEIGHT kind's statistics and reports them via
// OnSummary: mean/median of raw X, and mean/stddev of per-sample magnitude
// in m/s².
func (m *Manager) emitSummary() {
	n := len(m.samples)
	if n == 0 || m.OnSummary == nil {
		return
	}
	rawX := make([]int32, n)
	var sumX int64
	var sumMag, sumMagSq float64
	for i, s := range m.samples {
		rawX[i] = int32(s.X)
		sumX += int64(s.X)
		var ax, ay, az float32
		if m.ConvertToMps2 != nil {
			ax, ay, az = m.ConvertToMps2(s)
		}
		mag := float64(math.Sqrt(float64(ax)*float64(ax) + float64(ay)*float64(ay) + float64(az)*float64(az)))
		sumMag += mag
		sumMagSq += mag * mag
	}
	meanAxRaw := float32(sumX) / float32(n)
	medianAxRaw := medianInt16(rawX)
	meanMs2 := float32(sumMag / float64(n))
	variance := sumMagSq/float64(n) - float64(meanMs2)*float64(meanMs2)
	if variance < 0 {
		variance = 0
	}
	stdMs2 := float32(math.Sqrt(variance))
	m.OnSummary(meanAxRaw, medianAxRaw, meanMs2, stdMs2)
}

// dataGenerator emits the DATA lines for one block, reading from the
// manager's sample scratch at a fixed offset — deterministic across the
// two invocations the sender makes (CRC pass, transmit pass).
type dataGenerator struct {
	m     *Manager
	start int
	count int
}

func (g *dataGenerator) Emit(index int, out []byte) (int, error) {
	if index < 0 || index >= g.count {
		return 0, fmt.Errorf("burst: line index %d out of range [0,%d)", index, g.count)
	}
	s := g.m.samples[g.start+index]
	var ax, ay, az float32
	if g.m.ConvertToMps2 != nil {
		ax, ay, az = g.m.ConvertToMps2(s)
	}
	var tsUs uint32
	if g.m.TicksToUs != nil {
		tsUs = g.m.TicksToUs(s.TSTicks)
	}
	line := fmt.Sprintf("DATA,%d,%s,%s,%s,0.000\r\n",
		tsUs, lineproto.FormatFixed3(ax), lineproto.FormatFixed3(ay), lineproto.FormatFixed3(az))
	return copy(out, line), nil
}
