// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package burst

import (
	"strings"
	"testing"

	"github.com/engrove/vibracore/internal/sensor"
)

// recordingWriter is a blocks.Writer double that records every write.
type recordingWriter struct {
	lines []string
}

func (w *recordingWriter) WriteBlocking(b []byte) int {
	w.lines = append(w.lines, string(b))
	return len(b)
}

func (w *recordingWriter) countPrefix(prefix string) int {
	n := 0
	for _, l := range w.lines {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

func convertIdentity(s sensor.Sample) (float32, float32, float32) {
	return float32(s.X), float32(s.Y), float32(s.Z)
}

func ticksIdentity(t uint32) uint32 { return t }

func TestQuickselectMedianOdd(t *testing.T) {
	buf := []int32{5, 1, 4, 2, 3}
	if got := medianInt16(buf); got != 3 {
		t.Fatalf("median = %v, want 3", got)
	}
}

func TestQuickselectMedianEven(t *testing.T) {
	buf := []int32{1, 2, 3, 4}
	if got := medianInt16(buf); got != 2.5 {
		t.Fatalf("median = %v, want 2.5", got)
	}
}

func TestWeightBurstEmitsSummary(t *testing.T) {
	w := &recordingWriter{}
	m := NewManager(w, 4, 3, 128)
	m.ConvertToMps2 = convertIdentity
	m.TicksToUs = ticksIdentity

	var gotMean, gotMedian, gotMeanMs2, gotStdMs2 float32
	called := false
	m.OnSummary = func(meanAxRaw, medianAxRaw, meanMs2, stdMs2 float32) {
		called = true
		gotMean, gotMedian, gotMeanMs2, gotStdMs2 = meanAxRaw, medianAxRaw, meanMs2, stdMs2
	}

	m.StartWeight(4, 100, 0)
	if m.CurrentPhase() != PhaseWeightSampling {
		t.Fatalf("phase = %v, want PhaseWeightSampling", m.CurrentPhase())
	}
	samples := []int16{10, 20, 30, 40}
	for i, x := range samples {
		m.FeedSample(sensor.Sample{X: x, TSTicks: uint32(i)}, uint32(i*10))
	}
	m.Pump(40)

	if !called {
		t.Fatal("expected OnSummary to fire")
	}
	if gotMean != 25 {
		t.Fatalf("meanAxRaw = %v, want 25", gotMean)
	}
	if gotMedian != 25 {
		t.Fatalf("medianAxRaw = %v, want 25", gotMedian)
	}
	if gotMeanMs2 <= 0 || gotStdMs2 < 0 {
		t.Fatalf("unexpected magnitude stats mean=%v std=%v", gotMeanMs2, gotStdMs2)
	}
	if m.CurrentPhase() != PhaseIdle {
		t.Fatalf("expected reset to idle, got %v", m.CurrentPhase())
	}
}

func TestWeightBurstStallAborts(t *testing.T) {
	w := &recordingWriter{}
	m := NewManager(w, 4, 3, 128)
	var gotMsg string
	m.OnError = func(src string, code uint32, msg string) { gotMsg = msg }
	m.StartWeight(10, 100, 0)
	m.FeedSample(sensor.Sample{X: 1}, 0)
	m.Pump(600)
	if gotMsg != "sampling_stalled" {
		t.Fatalf("expected sampling_stalled, got %q", gotMsg)
	}
	if m.CurrentPhase() != PhaseIdle {
		t.Fatal("expected reset to idle after stall")
	}
}

func TestDampingLifecycleCountdownThroughComplete(t *testing.T) {
	w := &recordingWriter{}
	m := NewManager(w, 4, 3, 4) // 4 lines per block, small to force multiple blocks
	m.ConvertToMps2 = convertIdentity
	m.TicksToUs = ticksIdentity

	var ticks []int
	m.OnCountdownID = func(id int) { ticks = append(ticks, id) }
	startedSampling := false
	m.OnStartSampling = func(odrHz uint32) { startedSampling = true }
	stoppedSampling := false
	m.OnStopSampling = func() { stoppedSampling = true }
	var headerKind Kind
	var headerSamples uint16
	m.OnDataHeader = func(kind Kind, burstID uint32, ts0Us uint32, samples uint16) {
		headerKind = kind
		headerSamples = samples
	}
	var completeBurstID uint32
	var completeSamples uint16
	var completeReason string
	m.OnComplete = func(burstID uint32, samples, dropped uint16, timeMs uint32, reason string, code uint32) {
		completeBurstID = burstID
		completeSamples = samples
		completeReason = reason
	}

	// seconds=1 -> burst_ms override of 1000ms (spec.md §8 scenario 2).
	m.StartDamping(1, 100, 0)
	if m.CurrentPhase() != PhaseCountdown {
		t.Fatalf("phase = %v, want PhaseCountdown", m.CurrentPhase())
	}
	if len(ticks) != 1 || ticks[0] != countdownSeconds {
		t.Fatalf("expected immediate tick at %d, got %v", countdownSeconds, ticks)
	}

	now := uint32(0)
	for i := 0; i < countdownSeconds; i++ {
		now += 1000
		m.Pump(now)
	}
	if !startedSampling {
		t.Fatal("expected sampling to start once countdown expires")
	}
	if m.CurrentPhase() != PhaseSampling {
		t.Fatalf("phase = %v, want PhaseSampling", m.CurrentPhase())
	}

	sess := m.Session()
	if sess == nil || sess.PlannedSamples != 100 { // 1000ms * 100Hz / 1000
		t.Fatalf("expected planned samples = 100, got %+v", sess)
	}

	sampleStart := now
	for i := 0; i < 100; i++ {
		now += 10
		m.FeedSample(sensor.Sample{X: int16(i), TSTicks: uint32(i)}, now)
		m.Pump(now)
	}
	_ = sampleStart

	// 100 samples / 4 lines-per-block = 25 blocks; window=4 means only the
	// first 4 are in flight at a time. ACK them in order to drain the rest
	// of the queue, the same way the real host would.
	for blk := uint16(1); blk <= 25; blk++ {
		m.HandleACKBlk(blk)
		now += 10
		m.Pump(now)
	}

	if !stoppedSampling {
		t.Fatal("expected sampling to stop once target reached")
	}
	if m.CurrentPhase() != PhaseSending && m.CurrentPhase() != PhaseIdle {
		t.Fatalf("phase = %v, want PhaseSending or PhaseIdle after drain", m.CurrentPhase())
	}
	if headerKind != DampCd {
		t.Fatalf("header kind = %v, want DampCd", headerKind)
	}
	if headerSamples != 100 {
		t.Fatalf("header samples = %d, want 100", headerSamples)
	}
	// 100 samples at 4 lines/block = 25 blocks.
	if got := w.countPrefix("BLOCK_HEADER,"); got != 25 {
		t.Fatalf("expected 25 BLOCK_HEADER lines, got %d", got)
	}
	if got := w.countPrefix("BLOCK_END,"); got != 25 {
		t.Fatalf("expected 25 BLOCK_END lines, got %d", got)
	}
	if got := w.countPrefix("DATA,"); got != 100 {
		t.Fatalf("expected 100 DATA lines, got %d", got)
	}
	if completeReason != "" {
		t.Fatalf("expected non-aborted COMPLETE, got reason=%q", completeReason)
	}
	if completeSamples != 100 {
		t.Fatalf("COMPLETE samples = %d, want 100", completeSamples)
	}
	if completeBurstID == 0 {
		t.Fatal("expected a nonzero burst id in COMPLETE")
	}

	kind, ok := m.HandleACKComplete(completeBurstID, true)
	if !ok || kind != DampCd {
		t.Fatalf("expected ACK_COMPLETE to finalize DampCd, ok=%v kind=%v", ok, kind)
	}
	if m.CurrentPhase() != PhaseIdle || !m.IsIdle() {
		t.Fatal("expected manager to be idle after ACK_COMPLETE")
	}
}

func TestTriggeredBurstUsesBurstMsDirectly(t *testing.T) {
	w := &recordingWriter{}
	m := NewManager(w, 4, 3, 128)
	burstID := m.StartTriggered(500, 200, 0) // 500ms * 200Hz / 1000 = 100 samples
	sess := m.Session()
	if sess == nil || sess.Kind != DampTrg {
		t.Fatalf("expected a DampTrg session, got %+v", sess)
	}
	if sess.PlannedSamples != 100 {
		t.Fatalf("planned samples = %d, want 100", sess.PlannedSamples)
	}
	if sess.ID != burstID {
		t.Fatalf("session id %d != returned burst id %d", sess.ID, burstID)
	}
	if m.CurrentPhase() != PhaseCountdown {
		t.Fatalf("expected DampTrg to also go through Countdown, got %v", m.CurrentPhase())
	}
}

func TestSamplingStallAbortsSessionAndPropagatesToComplete(t *testing.T) {
	w := &recordingWriter{}
	m := NewManager(w, 4, 3, 128)
	var errMsg string
	m.OnError = func(src string, code uint32, msg string) { errMsg = msg }
	var completeReason string
	var completeCode uint32
	m.OnComplete = func(burstID uint32, samples, dropped uint16, timeMs uint32, reason string, code uint32) {
		completeReason = reason
		completeCode = code
	}

	m.StartDamping(10, 100, 0) // burst_ms = 10000
	now := uint32(0)
	for i := 0; i < countdownSeconds; i++ {
		now += 1000
		m.Pump(now)
	}
	if m.CurrentPhase() != PhaseSampling {
		t.Fatalf("phase = %v, want PhaseSampling", m.CurrentPhase())
	}
	m.FeedSample(sensor.Sample{X: 1}, now)
	m.Pump(now + 600) // > stallTimeoutMs since last sample, well under burst_ms
	if errMsg != "sampling_stalled" {
		t.Fatalf("expected sampling_stalled error, got %q", errMsg)
	}
	if completeReason != "aborted" || completeCode != 999 {
		t.Fatalf("expected aborted COMPLETE with code 999, got reason=%q code=%d", completeReason, completeCode)
	}
	if m.CurrentPhase() != PhaseIdle {
		t.Fatal("expected reset to idle after stall abort")
	}
}

func TestTransportAbortPropagatesThroughComplete(t *testing.T) {
	w := &recordingWriter{}
	m := NewManager(w, 4, 1, 128) // maxRetries=1: first retry exhausts it
	var completeReason string
	var completeCode uint32
	m.OnComplete = func(burstID uint32, samples, dropped uint16, timeMs uint32, reason string, code uint32) {
		completeReason = reason
		completeCode = code
	}

	m.StartDamping(1, 100, 0) // 100 planned samples
	now := uint32(0)
	for i := 0; i < countdownSeconds; i++ {
		now += 1000
		m.Pump(now)
	}
	for i := 0; i < 100; i++ {
		now += 10
		m.FeedSample(sensor.Sample{X: int16(i)}, now)
	}
	m.Pump(now) // enters sending, transmits first window

	// Let every inflight block time out past its retry budget.
	now += blockTimeoutOverrun()
	m.Pump(now)
	now += blockTimeoutOverrun()
	m.Pump(now)

	if completeReason != "aborted" || completeCode != 400 {
		t.Fatalf("expected transport-aborted COMPLETE with code 400, got reason=%q code=%d", completeReason, completeCode)
	}
	if m.CurrentPhase() != PhaseIdle {
		t.Fatal("expected reset to idle after transport abort")
	}
}

// blockTimeoutOverrun returns a duration comfortably longer than
// blocks.BlockTimeoutMillis, used to force retransmit/abort timing in tests
// without importing the blocks package just for the constant.
func blockTimeoutOverrun() uint32 { return 1100 }

func TestAbortFromStopClearsSession(t *testing.T) {
	w := &recordingWriter{}
	m := NewManager(w, 4, 3, 128)
	var completeReason string
	m.OnComplete = func(burstID uint32, samples, dropped uint16, timeMs uint32, reason string, code uint32) {
		completeReason = reason
	}
	m.StartWeight(10, 100, 0)
	m.Abort(900)
	if completeReason != "aborted" {
		t.Fatalf("expected aborted COMPLETE, got %q", completeReason)
	}
	if !m.IsIdle() {
		t.Fatal("expected manager idle after Abort")
	}
}
