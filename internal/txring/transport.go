// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package txring

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/engrove/vibracore/internal/diag"
)

// Default ring capacities from spec.md §4.3: "RX (≥2 KiB) and TX (≥4 KiB)".
const (
	DefaultRXCapacity = 2048
	DefaultTXCapacity = 4096
)

// blockingRetryInterval is how long write_blocking sleeps between attempts
// while "yielding the mask" (spec.md §4.3). It is one of the three bounded
// suspension points the spec allows the main pump (§5).
const blockingRetryInterval = 200 * time.Microsecond

// Transport is the UART ring transport: two statically-sized rings plus the
// background drain/fill loops that bridge them to a real or simulated link.
// It implements conn.Resource.
type Transport struct {
	tx *ring
	rx *ring

	sink io.Writer
	busy atomic.Bool

	diag *diag.Counters

	stop chan struct{}
	wg   sync.WaitGroup
	name string
}

// New wires a Transport to sink (the byte sink, e.g. a real serial port or
// an io.Pipe in tests) and source (the byte source). Diag counters for
// tx_drops and rx_overflow are accumulated into d.
func New(name string, sink io.Writer, source io.Reader, d *diag.Counters) *Transport {
	t := &Transport{
		tx:   newRing(DefaultTXCapacity),
		rx:   newRing(DefaultRXCapacity),
		sink: sink,
		diag: d,
		stop: make(chan struct{}),
		name: name,
	}
	t.wg.Add(2)
	go t.drainLoop()
	go t.fillLoop(source)
	return t
}

func (t *Transport) String() string {
	return fmt.Sprintf("txring.Transport(%s)", t.name)
}

// Halt stops the background loops. Idempotent.
func (t *Transport) Halt() error {
	select {
	case <-t.stop:
		return nil
	default:
		close(t.stop)
	}
	t.wg.Wait()
	return nil
}

// WriteAtomic enqueues the entire block or none of it; on refusal the full
// length is accumulated into diag.tx_drops, and the refusal itself never
// splits a message.
func (t *Transport) WriteAtomic(b []byte) int {
	if t.tx.tryPush(b) {
		return len(b)
	}
	if t.diag != nil {
		t.diag.AddTXDrops(uint32(len(b)))
	}
	return 0
}

// WriteBlocking spins, releasing and retrying, until the full block fits,
// then enqueues it in one atomic step. Used by the BLOCKS sender for
// header/data/end lines (spec.md §4.5, §5).
func (t *Transport) WriteBlocking(b []byte) int {
	for {
		if t.tx.tryPush(b) {
			return len(b)
		}
		select {
		case <-t.stop:
			return 0
		case <-time.After(blockingRetryInterval):
		}
	}
}

// IsIdle reports whether the transmitter isn't busy, the ring is empty, and
// no bytes are staged.
func (t *Transport) IsIdle() bool {
	return !t.busy.Load() && t.tx.isEmpty()
}

// Free returns the number of free TX bytes.
func (t *Transport) Free() int { return t.tx.free() }

// Usage returns the number of buffered TX bytes.
func (t *Transport) Usage() int { return t.tx.usage() }

// RXUsage returns the number of buffered RX bytes.
func (t *Transport) RXUsage() int { return t.rx.usage() }

// PullRX copies up to len(out) received bytes into out, returning the
// count. Used by the line assembler.
func (t *Transport) PullRX(out []byte) int {
	return t.rx.pop(out)
}

// drainLoop stands in for the UART-TX-DMA-complete interrupt: it pulls
// whatever is queued and writes it to the sink, marking busy for the
// duration so IsIdle reflects an in-flight transfer.
func (t *Transport) drainLoop() {
	defer t.wg.Done()
	buf := make([]byte, DefaultTXCapacity)
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		n := t.tx.pop(buf)
		if n == 0 {
			time.Sleep(blockingRetryInterval)
			continue
		}
		t.busy.Store(true)
		if t.sink != nil {
			_, _ = t.sink.Write(buf[:n])
		}
		t.busy.Store(false)
	}
}

// fillLoop stands in for the UART-RX "receive to idle" DMA interrupt: it
// reads from source and pushes into the RX ring, dropping and counting
// rx_overflow on a full ring.
func (t *Transport) fillLoop(source io.Reader) {
	defer t.wg.Done()
	if source == nil {
		return
	}
	buf := make([]byte, 256)
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		n, err := source.Read(buf)
		if n > 0 {
			accepted := t.rx.pushPartial(buf[:n])
			if dropped := n - accepted; dropped > 0 && t.diag != nil {
				t.diag.IncRXOverflow(uint32(dropped))
			}
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			time.Sleep(blockingRetryInterval)
		}
	}
}
