// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package blocks

import (
	"fmt"
	"strings"
	"testing"

	"github.com/engrove/vibracore/internal/crc16"
)

// recordingWriter captures every WriteBlocking call as a string, in order.
type recordingWriter struct {
	lines []string
}

func (r *recordingWriter) WriteBlocking(b []byte) int {
	r.lines = append(r.lines, string(b))
	return len(b)
}

// counterGen emits deterministic DATA lines: "DATA,<index>\r\n".
type counterGen struct{}

func (counterGen) Emit(index int, out []byte) (int, error) {
	s := fmt.Sprintf("DATA,%d\r\n", index)
	return copy(out, s), nil
}

func TestSenderSendsFullWindowThenWaitsForACK(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(w, 2, 3)
	s.StartBurst(1)
	for i := 0; i < 3; i++ {
		if !s.Enqueue(2, counterGen{}) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	s.Pump(0)
	if s.InflightCount() != 2 {
		t.Fatalf("expected window of 2 in flight, got %d", s.InflightCount())
	}
	if s.QueueDepth() != 1 {
		t.Fatalf("expected 1 still queued, got %d", s.QueueDepth())
	}
	headers := 0
	for _, l := range w.lines {
		if strings.HasPrefix(l, "BLOCK_HEADER") {
			headers++
		}
	}
	if headers != 2 {
		t.Fatalf("expected 2 BLOCK_HEADER lines sent, got %d", headers)
	}
}

func TestACKBlkFreesWindowSlot(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(w, 1, 3)
	s.StartBurst(1)
	s.Enqueue(1, counterGen{})
	s.Enqueue(1, counterGen{})
	s.Pump(0)
	if s.InflightCount() != 1 || s.QueueDepth() != 1 {
		t.Fatalf("unexpected state before ACK: inflight=%d queue=%d", s.InflightCount(), s.QueueDepth())
	}
	s.HandleACKBlk(1)
	s.Pump(1)
	if s.InflightCount() != 1 || s.QueueDepth() != 0 {
		t.Fatalf("expected block 2 sent after ACK: inflight=%d queue=%d", s.InflightCount(), s.QueueDepth())
	}
}

func TestUnknownACKBlkIsIgnored(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(w, 1, 3)
	s.StartBurst(1)
	s.Enqueue(1, counterGen{})
	s.Pump(0)
	s.HandleACKBlk(99)
	if s.InflightCount() != 1 {
		t.Fatal("expected unknown ACK_BLK to be a no-op")
	}
}

func TestNACKRetransmitsUntilRetriesExhausted(t *testing.T) {
	w := &recordingWriter{}
	aborted := false
	var abortCode uint32
	s := NewSender(w, 1, 2)
	s.OnAbort = func(code uint32) { aborted = true; abortCode = code }
	s.StartBurst(1)
	s.Enqueue(1, counterGen{})
	s.Pump(0)

	s.HandleNACKBlk(1, 0, 10)
	if aborted {
		t.Fatal("should not abort on first NACK with retries remaining")
	}
	s.HandleNACKBlk(1, 0, 20)
	if aborted {
		t.Fatal("should not abort on second NACK: maxRetries=2")
	}
	s.HandleNACKBlk(1, 0, 30)
	if !aborted {
		t.Fatal("expected abort once retries exhausted")
	}
	if abortCode != 400 {
		t.Fatalf("expected default abort code 400, got %d", abortCode)
	}
	if !s.IsIdle() {
		t.Fatal("expected sender idle after abort")
	}
}

func TestTimeoutTriggersRetransmit(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(w, 1, 3)
	s.StartBurst(1)
	s.Enqueue(1, counterGen{})
	s.Pump(0)
	headersBefore := countPrefix(w.lines, "BLOCK_HEADER")

	s.Pump(BlockTimeoutMillis + 1)
	headersAfter := countPrefix(w.lines, "BLOCK_HEADER")
	if headersAfter != headersBefore+1 {
		t.Fatalf("expected a resend on timeout, headers %d -> %d", headersBefore, headersAfter)
	}
}

func TestACKCompleteFinalizesMatchingBurst(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(w, 1, 3)
	s.StartBurst(7)
	s.Enqueue(1, counterGen{})
	s.Pump(0)
	s.HandleACKBlk(1)

	if s.HandleACKComplete(8, true) {
		t.Fatal("should not finalize on mismatched burst id")
	}
	if !s.HandleACKComplete(7, true) {
		t.Fatal("expected finalize on matching burst id")
	}
	if !s.IsIdle() {
		t.Fatal("expected idle after ACK_COMPLETE")
	}
}

func TestCRCCoversOnlyDataLines(t *testing.T) {
	w := &recordingWriter{}
	s := NewSender(w, 1, 3)
	s.StartBurst(1)
	s.Enqueue(2, counterGen{})
	s.Pump(0)

	var headerCRC, endCRC string
	for _, l := range w.lines {
		if strings.HasPrefix(l, "BLOCK_HEADER") {
			headerCRC = l
		}
		if strings.HasPrefix(l, "BLOCK_END") {
			endCRC = l
		}
	}
	if headerCRC == "" || endCRC == "" {
		t.Fatal("expected both header and end lines")
	}
	hc := strings.TrimSpace(strings.Split(headerCRC, "crc16=")[1])
	ec := strings.TrimSpace(strings.Split(endCRC, "crc16=")[1])
	if hc != ec {
		t.Fatalf("header/end CRC mismatch: %s vs %s", hc, ec)
	}
	want := fmt.Sprintf("%d", crc16.Checksum([]byte("DATA,0\r\nDATA,1\r\n")))
	if hc != want {
		t.Fatalf("header CRC = %s, want %s (CRC-16 over the DATA lines only)", hc, want)
	}
}

func countPrefix(lines []string, prefix string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}
