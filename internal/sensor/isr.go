// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import "time"

// isrState mirrors spec.md §4.4's FIFO-watermark ISR chain states. A
// hosted Go process has no interrupt contexts, so the chain is realized as
// a single goroutine instead of nested interrupt handlers; the state field
// still exists because it is what the original rejects a re-entrant
// watermark edge against, and that guard is an observable property the
// tests exercise directly.
type isrState int32

const (
	stIdle isrState = iota
	stWaitFifoData
	stDrainStatus
	stClearIntSource
)

const fifoBurstMax = 32

// drainPump stands in for the watermark-interrupt chain: it waits for INT1
// edges and, for each one, drains the FIFO into the sample ring. A new edge
// arriving while the chain isn't Idle is rejected and counted rather than
// queued, matching the original's "single in-flight drain" discipline.
func (s *Sensor) drainPump() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if !s.running.Load() {
			time.Sleep(edgePollInterval)
			continue
		}
		if !s.int1.WaitForEdge(edgePollInterval) {
			continue
		}
		if !s.state.CompareAndSwap(int32(stIdle), int32(stWaitFifoData)) {
			s.extiRejected.Add(1)
			continue
		}
		s.drainFIFO()
		s.state.Store(int32(stIdle))
	}
}

// drainFIFO reads FIFO_STATUS in a loop (WaitFifoData -> DrainStatus) until
// empty, pushing each sample into the ring, then clears the interrupt
// source (ClearIntSource) by reading INT_SOURCE.
func (s *Sensor) drainFIFO() {
	for {
		status, err := s.reg.ReadRegUint8(regFIFOStatus)
		if err != nil {
			if s.diag != nil {
				s.diag.IncI2CFail()
			}
			return
		}
		count := int(status & 0x3F)
		if count == 0 {
			break
		}
		if count > fifoBurstMax {
			count = fifoBurstMax
		}
		for i := 0; i < count; i++ {
			smp, err := s.readOneSample()
			if err != nil {
				if s.diag != nil {
					s.diag.IncI2CFail()
				}
				continue
			}
			if !s.ring.Push(smp) && s.diag != nil {
				s.diag.IncRingOvf()
			}
		}
		s.state.Store(int32(stDrainStatus))
	}
	s.state.Store(int32(stClearIntSource))
	if _, err := s.reg.ReadRegUint8(regIntSource); err != nil && s.diag != nil {
		s.diag.IncI2CFail()
	}
}

// readOneSample performs the burst read of DATAX0..DATAZ1 (6 bytes,
// little-endian per axis) and timestamps it against the bound clock.
func (s *Sensor) readOneSample() (Sample, error) {
	var raw [6]byte
	if err := s.reg.ReadRegBytes(regDataX0, raw[:]); err != nil {
		return Sample{}, err
	}
	return Sample{
		X:       int16(uint16(raw[0]) | uint16(raw[1])<<8),
		Y:       int16(uint16(raw[2]) | uint16(raw[3])<<8),
		Z:       int16(uint16(raw[4]) | uint16(raw[5])<<8),
		TSTicks: s.clk.TicksNow(),
	}, nil
}
