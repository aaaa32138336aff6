// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sensor implements the accelerometer sampling pipeline (spec.md
// §4.4): the FIFO-watermark drain state machine, the SPSC sample ring, and
// single-precision unit conversion and self-test.
package sensor

import "sync"

// Sample is one 3-axis reading plus its acquisition timestamp, matching
// spec.md §3 exactly: {x, y, z: i16, ts_ticks: u32}.
type Sample struct {
	X, Y, Z int16
	TSTicks uint32
}

// SampleRingCapacity is the spec-mandated ring size.
const SampleRingCapacity = 512

// SampleRing is a single-producer single-consumer ring of Sample, capacity
// 512 (spec.md §3). The producer is the sensor's drain goroutine (standing
// in for the FIFO-watermark ISR chain); the consumer is the main pump.
//
// On overflow Push drops the newest sample and reports false; the drain
// chain counts each such drop as ring_ovf.
type SampleRing struct {
	mu   sync.Mutex
	buf  [SampleRingCapacity]Sample
	head uint16 // next to read
	tail uint16 // next to write
}

// Push enqueues s. It reports false (and drops s) if the ring is full,
// i.e. (tail+1) mod cap == head (one slot always stays empty).
func (r *SampleRing) Push(s Sample) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := (r.tail + 1) % SampleRingCapacity
	if next == r.head {
		return false
	}
	r.buf[r.tail] = s
	r.tail = next
	return true
}

// Pop dequeues the oldest sample, if any.
func (r *SampleRing) Pop() (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.head == r.tail {
		return Sample{}, false
	}
	s := r.buf[r.head]
	r.head = (r.head + 1) % SampleRingCapacity
	return s, true
}

// Len returns the number of buffered samples.
func (r *SampleRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tail >= r.head {
		return int(r.tail - r.head)
	}
	return SampleRingCapacity - int(r.head-r.tail)
}

// Snapshot returns a non-destructive copy of up to n of the most recently
// written samples, oldest first, for GET_PREVIEW (SPEC_FULL.md §4,
// "Supplemented from original_source/"). It never pops.
func (r *SampleRing) Snapshot(n int) []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int
	if r.tail >= r.head {
		count = int(r.tail - r.head)
	} else {
		count = SampleRingCapacity - int(r.head-r.tail)
	}
	if n > count {
		n = count
	}
	start := (int(r.tail) - n + SampleRingCapacity) % SampleRingCapacity
	out := make([]Sample, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%SampleRingCapacity]
	}
	return out
}
