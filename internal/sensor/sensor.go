// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/engrove/vibracore/conn/gpio"
	"github.com/engrove/vibracore/conn/i2c"
	"github.com/engrove/vibracore/internal/clock"
	"github.com/engrove/vibracore/internal/diag"
)

// edgePollInterval is how often the drain goroutine polls INT1 for a new
// edge while running. It bounds how quickly Stop takes effect and stands in
// for the hardware's edge-triggered interrupt without blocking forever on
// WaitForEdge, which would make Halt un-interruptible.
const edgePollInterval = 2 * time.Millisecond

// Sensor drives the 3-axis accelerometer: register programming, the
// FIFO-watermark drain chain (spec.md §4.4's ISR chain, realized here as a
// goroutine since a hosted Go process has no interrupt contexts), and unit
// conversion. It implements conn.Resource.
type Sensor struct {
	reg    *i2c.DevReg8
	int1   gpio.PinIO
	clk    clock.Source
	diag   *diag.Counters
	ring   *SampleRing

	initMu sync.Mutex // serializes Init/Start/Stop/SelfTest/OffsetCalibrate register programming; SetODR takes no lock

	odrHz   atomic.Uint32
	state   atomic.Int32
	running atomic.Bool
	extiRejected atomic.Uint32

	offsetMu sync.Mutex
	offX, offY, offZ int16

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns a Sensor bound to reg (the device's register window), int1
// (the FIFO watermark interrupt pin), and clk (the tick source used to
// timestamp samples).
func New(reg *i2c.DevReg8, int1 gpio.PinIO, clk clock.Source, d *diag.Counters) *Sensor {
	return &Sensor{
		reg:  reg,
		int1: int1,
		clk:  clk,
		diag: d,
		ring: &SampleRing{},
		stop: make(chan struct{}),
	}
}

func (s *Sensor) String() string { return "sensor.Sensor" }

// Halt stops sampling and releases the drain goroutine. Idempotent.
func (s *Sensor) Halt() error {
	_ = s.Stop()
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.wg.Wait()
	return nil
}

// Init brings the device up in standby with the core's fixed configuration:
// full-resolution ±16g, stream-mode FIFO at the default watermark, and
// watermark interrupt routed to INT1. Every write is read back and retried
// up to 3 times, matching the original HAL's defensive register discipline.
func (s *Sensor) Init() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if err := s.int1.In(gpio.Down, gpio.Rising); err != nil {
		return fmt.Errorf("sensor: configuring INT1: %w", err)
	}
	if err := s.writeVerify(regDataFormat, dataFormatFullRes|dataFormatRange16); err != nil {
		return err
	}
	if err := s.writeVerify(regFIFOCtl, fifoModeStream|fifoWatermark); err != nil {
		return err
	}
	if err := s.writeVerify(regIntEnable, intWatermark); err != nil {
		return err
	}
	if err := s.SetODR(100); err != nil {
		return err
	}
	return s.writeVerify(regPowerCtl, powerStandby)
}

// writeVerify writes v to reg, then reads it back, retrying up to 3 times
// total before giving up and counting an i2c_fail (spec.md §7: "register
// writes are verified by read-back; a persistent mismatch is an i2c_fail").
func (s *Sensor) writeVerify(reg uint8, v uint8) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := s.reg.WriteRegUint8(reg, v); err != nil {
			lastErr = err
			continue
		}
		got, err := s.reg.ReadRegUint8(reg)
		if err != nil {
			lastErr = err
			continue
		}
		if got == v {
			return nil
		}
		lastErr = fmt.Errorf("sensor: register 0x%02X read back 0x%02X, wrote 0x%02X", reg, got, v)
	}
	if s.diag != nil {
		s.diag.IncI2CFail()
	}
	return lastErr
}

// SnapODR rounds req up to the nearest rate the device supports, saturating
// at the table's maximum (spec.md §4.4).
func SnapODR(req uint32) uint32 {
	for _, e := range odrTable {
		if e.hz >= req {
			return e.hz
		}
	}
	return odrTable[len(odrTable)-1].hz
}

// SetODR snaps hz to a supported rate and programs BW_RATE. It may be
// called while running.
func (s *Sensor) SetODR(hz uint32) error {
	snapped := SnapODR(hz)
	code := odrTable[0].code
	for _, e := range odrTable {
		if e.hz == snapped {
			code = e.code
			break
		}
	}
	if err := s.writeVerify(regBWRate, code); err != nil {
		return err
	}
	s.odrHz.Store(snapped)
	return nil
}

// ODRHz returns the last-programmed output data rate.
func (s *Sensor) ODRHz() uint32 { return s.odrHz.Load() }

// Start begins measurement and spawns the drain goroutine if not already
// running.
func (s *Sensor) Start() error {
	s.initMu.Lock()
	err := s.writeVerify(regPowerCtl, powerMeasure)
	s.initMu.Unlock()
	if err != nil {
		return err
	}
	if s.running.CompareAndSwap(false, true) {
		s.state.Store(int32(stIdle))
		s.wg.Add(1)
		go s.drainPump()
	}
	return nil
}

// Stop halts measurement. The drain goroutine keeps running (so Start can
// resume cheaply within the same session) but becomes a no-op.
func (s *Sensor) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.writeVerify(regPowerCtl, powerStandby)
}

// GetSample pops the oldest buffered sample, if any.
func (s *Sensor) GetSample() (Sample, bool) { return s.ring.Pop() }

// PreviewSnapshot returns up to n of the most recently captured samples
// without draining the ring, for GET_PREVIEW.
func (s *Sensor) PreviewSnapshot(n int) []Sample { return s.ring.Snapshot(n) }

// TicksToUs converts a tick delta using the bound clock's rate.
func (s *Sensor) TicksToUs(ticks uint32) uint32 {
	return clock.TicksToMicros(ticks, s.clk.TicksPerSecond())
}

// ExtiRejected reports how many watermark edges arrived while the drain
// chain was already busy (a diagnostic local to the sensor, distinct from
// diag.Counters, matching the original HAL's own exti_rejected_state
// bookkeeping).
func (s *Sensor) ExtiRejected() uint32 { return s.extiRejected.Load() }

// ConvertToMps2 converts a raw 13-bit-in-16 sample to m/s² per axis, using
// only single-precision arithmetic as spec.md §4.4 mandates.
func (s *Sensor) ConvertToMps2(raw Sample) (ax, ay, az float32) {
	return float32(raw.X) * mps2PerLSB, float32(raw.Y) * mps2PerLSB, float32(raw.Z) * mps2PerLSB
}

// OffsetCalibrate averages n stationary samples and stores per-axis offsets
// in the device's OFSX/OFSY/OFSZ registers (15.6 mg/LSB), the bias
// calibration the original HAL exposes separately from the trigger engine's
// zero/arm calibration.
func (s *Sensor) OffsetCalibrate(n int) error {
	if n <= 0 {
		n = 32
	}
	var sx, sy, sz int64
	got := 0
	deadline := time.Now().Add(2 * time.Second)
	for got < n && time.Now().Before(deadline) {
		smp, ok := s.GetSample()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		sx += int64(smp.X)
		sy += int64(smp.Y)
		sz += int64(smp.Z)
		got++
	}
	if got == 0 {
		return fmt.Errorf("sensor: offset_calibrate saw no samples")
	}
	// OFSx registers are in 15.6 mg/LSB steps while raw samples are in
	// 3.9 mg/LSB (full-res) steps, a factor of 4.
	ox := int16(-(sx / int64(got)) / 4)
	oy := int16(-(sy / int64(got)) / 4)
	oz := int16(-(sz / int64(got)) / 4)

	s.initMu.Lock()
	defer s.initMu.Unlock()
	if err := s.writeVerify(regOfsX, uint8(ox)); err != nil {
		return err
	}
	if err := s.writeVerify(regOfsY, uint8(oy)); err != nil {
		return err
	}
	if err := s.writeVerify(regOfsZ, uint8(oz)); err != nil {
		return err
	}
	s.offsetMu.Lock()
	s.offX, s.offY, s.offZ = ox, oy, oz
	s.offsetMu.Unlock()
	return nil
}
