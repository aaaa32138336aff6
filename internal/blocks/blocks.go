// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package blocks implements the BLOCKS reliable windowed transport
// (spec.md §4.5): a sliding-window sender that frames DATA lines into
// CRC-16-protected blocks, retransmits on NACK or timeout, and aborts the
// burst when retries are exhausted.
package blocks

import (
	"fmt"

	"github.com/engrove/vibracore/internal/crc16"
)

// Generator emits the i-th line of a block into out, returning the number
// of bytes written (including the trailing CRLF). It is invoked twice per
// block in the worst case — once while computing the CRC, once while
// transmitting — so it must be deterministic for a given index.
type Generator interface {
	Emit(index int, out []byte) (int, error)
}

// Writer is the blocking line sink the sender writes framed lines to. It
// is satisfied by *txring.Transport.
type Writer interface {
	WriteBlocking(b []byte) int
}

// Default tunables from spec.md §4.5 / §6.
const (
	DefaultWindow      = 4
	DefaultBlockLines  = 128
	DefaultRetries     = 3
	BlockTimeoutMillis = 1000

	MaxWindow    = 8
	QueueCap     = 16
	lineScratch  = 512
)

// queuedBlock is a block that hasn't been assigned a number or sent yet.
type queuedBlock struct {
	lines uint16
	gen   Generator
}

// inflightEntry is a block that has been sent at least once and is
// awaiting ACK_BLK/NACK_BLK.
type inflightEntry struct {
	blk     uint16
	lines   uint16
	gen     Generator
	crc     uint16
	retries int
	sentMs  uint32
}

// Sender is the BLOCKS transport's sending half. One Sender exists per
// device; StartBurst resets it for a new burst_id.
type Sender struct {
	w          Writer
	window     int
	maxRetries int

	active   bool
	burstID  uint32
	nextBlk  uint16

	queue    []*queuedBlock
	inflight []*inflightEntry

	scratch [lineScratch]byte

	// OnAbort is called once, synchronously, when the sender aborts a
	// burst (timeout exhaustion, explicit NACK abort). code is the abort
	// reason (400 unless the host supplied one via NACK_BLK).
	OnAbort func(code uint32)
}

// NewSender returns a Sender writing framed lines to w. window is clamped
// to [1, MaxWindow]; maxRetries must be >= 1.
func NewSender(w Writer, window, maxRetries int) *Sender {
	if window < 1 {
		window = 1
	}
	if window > MaxWindow {
		window = MaxWindow
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Sender{w: w, window: window, maxRetries: maxRetries}
}

// SetWindow and SetMaxRetries apply BlocksCfg changes. Neither checks
// whether a burst is in flight; the FSM's SET_CFG handler calls them
// (through burst.Manager.SetBlocksCfg) in any mode.
func (s *Sender) SetWindow(window int) {
	if window < 1 {
		window = 1
	}
	if window > MaxWindow {
		window = MaxWindow
	}
	s.window = window
}

func (s *Sender) SetMaxRetries(n int) {
	if n < 1 {
		n = 1
	}
	s.maxRetries = n
}

// StartBurst resets the sender for a new burst identified by burstID.
func (s *Sender) StartBurst(burstID uint32) {
	s.active = true
	s.burstID = burstID
	s.nextBlk = 1
	s.queue = s.queue[:0]
	s.inflight = s.inflight[:0]
}

// Enqueue appends a block of `lines` lines generated by gen to the send
// queue. It reports false if the queue is already at capacity.
func (s *Sender) Enqueue(lines uint16, gen Generator) bool {
	if len(s.queue) >= QueueCap {
		return false
	}
	s.queue = append(s.queue, &queuedBlock{lines: lines, gen: gen})
	return true
}

// IsIdle reports whether the sender has nothing queued or in flight.
func (s *Sender) IsIdle() bool {
	return len(s.queue) == 0 && len(s.inflight) == 0
}

// QueueDepth and InflightCount expose sender state for telemetry/tests.
func (s *Sender) QueueDepth() int     { return len(s.queue) }
func (s *Sender) InflightCount() int  { return len(s.inflight) }

// Pump advances the sender: it fills the window from the queue, then
// resends any inflight block whose timeout has elapsed. nowMs is the
// caller's current millisecond clock reading.
func (s *Sender) Pump(nowMs uint32) {
	if !s.active {
		return
	}
	for len(s.inflight) < s.window && len(s.queue) > 0 {
		qb := s.queue[0]
		s.queue = s.queue[1:]
		blk := s.nextBlk
		s.nextBlk++
		crc := s.computeCRC(qb.gen, qb.lines)
		s.transmit(blk, qb.lines, qb.gen, crc)
		s.inflight = append(s.inflight, &inflightEntry{
			blk: blk, lines: qb.lines, gen: qb.gen, crc: crc, sentMs: nowMs,
		})
	}
	for i := 0; i < len(s.inflight); i++ {
		e := s.inflight[i]
		if nowMs-e.sentMs < BlockTimeoutMillis {
			continue
		}
		if e.retries >= s.maxRetries {
			s.abort(400)
			return
		}
		e.retries++
		e.sentMs = nowMs
		s.transmit(e.blk, e.lines, e.gen, e.crc)
	}
}

// HandleACKBlk removes the matching inflight entry. Unknown block numbers
// are ignored (idempotent, per spec.md §4.5).
func (s *Sender) HandleACKBlk(blk uint16) {
	for i, e := range s.inflight {
		if e.blk == blk {
			s.inflight = append(s.inflight[:i], s.inflight[i+1:]...)
			return
		}
	}
}

// HandleNACKBlk retransmits the matching inflight block if retries remain,
// otherwise aborts with code (or 400 if code is zero).
func (s *Sender) HandleNACKBlk(blk uint16, code uint32, nowMs uint32) {
	for _, e := range s.inflight {
		if e.blk != blk {
			continue
		}
		if e.retries >= s.maxRetries {
			if code == 0 {
				code = 400
			}
			s.abort(code)
			return
		}
		e.retries++
		e.sentMs = nowMs
		s.transmit(e.blk, e.lines, e.gen, e.crc)
		return
	}
}

// HandleACKComplete finalizes the active burst if burstID matches (or
// hasID is false, meaning the host omitted it). It reports whether the
// session was finalized.
func (s *Sender) HandleACKComplete(burstID uint32, hasID bool) bool {
	if !s.active {
		return false
	}
	if hasID && burstID != s.burstID {
		return false
	}
	s.active = false
	s.queue = s.queue[:0]
	s.inflight = s.inflight[:0]
	return true
}

// abort clears all sender state and notifies the burst manager, per
// spec.md §4.5's abort semantics: "clears inflight and queue, preserves
// burst_active=false, and signals the burst manager".
func (s *Sender) abort(code uint32) {
	s.active = false
	s.queue = s.queue[:0]
	s.inflight = s.inflight[:0]
	if s.OnAbort != nil {
		s.OnAbort(code)
	}
}

// computeCRC invokes gen over all `lines` lines and folds each emitted
// line (CRLF included) into a CRC-16/CCITT-FALSE accumulator.
func (s *Sender) computeCRC(gen Generator, lines uint16) uint16 {
	st := crc16.NewState()
	for i := 0; i < int(lines); i++ {
		n, err := gen.Emit(i, s.scratch[:])
		if err != nil {
			continue
		}
		st = st.Update(s.scratch[:n])
	}
	return st.Sum()
}

// transmit sends BLOCK_HEADER, the `lines` DATA lines, then BLOCK_END.
func (s *Sender) transmit(blk, lines uint16, gen Generator, crc uint16) {
	header := fmt.Sprintf("BLOCK_HEADER,burst_id=%d,blk=%d,lines=%d,crc16=%d\r\n", s.burstID, blk, lines, crc)
	s.w.WriteBlocking([]byte(header))
	for i := 0; i < int(lines); i++ {
		n, err := gen.Emit(i, s.scratch[:])
		if err != nil {
			continue
		}
		s.w.WriteBlocking(s.scratch[:n])
	}
	end := fmt.Sprintf("BLOCK_END,blk=%d,crc16=%d\r\n", blk, crc)
	s.w.WriteBlocking([]byte(end))
}
