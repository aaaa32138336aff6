// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package uart defines the API to communicate with the host over the UART
// protocol.
//
// See https://en.wikipedia.org/wiki/UART for more information.
//
// This package only defines the boundary between the firmware core and the
// link hardware (or its DMA/driver internals, both out of scope per the
// spec): a byte sink the core can enqueue bytes into, and a byte source the
// core drains received bytes from. internal/txring is the concrete,
// statically-sized implementation the core actually runs against.
package uart

// ByteSink is the transmit half of the link. It is implemented by the host
// UART/DMA driver (out of scope) and consumed by internal/txring.
type ByteSink interface {
	// WriteAtomic enqueues the entire block or none of it. It must report
	// back how many bytes were actually accepted so the caller can account
	// drops; a partial accept is never allowed to split a logical message.
	WriteAtomic(b []byte) (enqueued int)
	// IsIdle reports whether the transmitter is not busy, the ring is
	// empty, and no DMA transfer is staged.
	IsIdle() bool
	// Free returns the number of free bytes in the transmit path.
	Free() int
}

// ByteSource is the receive half of the link.
type ByteSource interface {
	// Pull copies as many buffered bytes as fit into b and returns the
	// count. It never blocks.
	Pull(b []byte) (n int)
}
