// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import (
	"fmt"
	"time"
)

// SelfTestResult is the per-axis self-test verdict (spec.md §4.4): the
// measured self-test-on minus self-test-off delta, and whether it falls
// inside the datasheet's acceptance window.
type SelfTestResult struct {
	DeltaX, DeltaY, DeltaZ int32
	Pass                   bool
	FailReason             string
}

// selfTestWindow is [lo, hi] in raw LSB.
type selfTestWindow struct{ lo, hi int32 }

// Acceptance windows per axis, taken from the ADXL345 datasheet's self-test
// delta table at ±16g full resolution.
var (
	selfTestX = selfTestWindow{50, 540}
	selfTestY = selfTestWindow{-540, -50}
	selfTestZ = selfTestWindow{75, 875}
)

func (w selfTestWindow) contains(v int32) bool { return v >= w.lo && v <= w.hi }

// SelfTest bypasses the FIFO, forces forceODR, averages avg samples with
// the self-test bit off then on (each preceded by settle milliseconds to
// let the electrostatic deflection stabilize), and reports the per-axis
// delta against the datasheet windows. Bypass and sampling must not be
// entered from a running acquisition; the caller (the mode guard table) is
// responsible for that.
func (s *Sensor) SelfTest(avg, settleMillis int, forceODR uint32) (SelfTestResult, error) {
	if avg <= 0 {
		avg = 16
	}
	if settleMillis <= 0 {
		settleMillis = 10
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	savedODR := s.odrHz.Load()
	defer func() {
		if savedODR != 0 {
			_ = s.setODRLocked(savedODR)
		}
		_ = s.writeVerify(regFIFOCtl, fifoModeStream|fifoWatermark)
		_ = s.writeVerify(regDataFormat, dataFormatFullRes|dataFormatRange16)
	}()

	if err := s.setODRLocked(forceODR); err != nil {
		return SelfTestResult{}, err
	}
	if err := s.writeVerify(regFIFOCtl, fifoModeBypass); err != nil {
		return SelfTestResult{}, err
	}

	if err := s.writeVerify(regDataFormat, dataFormatFullRes|dataFormatRange16); err != nil {
		return SelfTestResult{}, err
	}
	time.Sleep(time.Duration(settleMillis) * time.Millisecond)
	offX, offY, offZ, err := s.averageRaw(avg)
	if err != nil {
		return SelfTestResult{}, err
	}

	if err := s.writeVerify(regDataFormat, dataFormatFullRes|dataFormatRange16|dataFormatSelfTest); err != nil {
		return SelfTestResult{}, err
	}
	time.Sleep(time.Duration(settleMillis) * time.Millisecond)
	onX, onY, onZ, err := s.averageRaw(avg)
	if err != nil {
		return SelfTestResult{}, err
	}

	res := SelfTestResult{
		DeltaX: onX - offX,
		DeltaY: onY - offY,
		DeltaZ: onZ - offZ,
	}
	res.Pass = selfTestX.contains(res.DeltaX) && selfTestY.contains(res.DeltaY) && selfTestZ.contains(res.DeltaZ)
	if !res.Pass {
		res.FailReason = fmt.Sprintf("self-test delta (%d,%d,%d) outside acceptance window", res.DeltaX, res.DeltaY, res.DeltaZ)
	}
	return res, nil
}

// setODRLocked assumes initMu is already held.
func (s *Sensor) setODRLocked(hz uint32) error {
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

// averageRaw reads n direct (non-FIFO) samples and returns the mean per
// axis, used only while the FIFO is bypassed during SelfTest.
func (s *Sensor) averageRaw(n int) (x, y, z int32, err error) {
	var sx, sy, sz int64
	for i := 0; i < n; i++ {
		var raw [6]byte
		if err := s.reg.ReadRegBytes(regDataX0, raw[:]); err != nil {
			if s.diag != nil {
				s.diag.IncI2CFail()
			}
			return 0, 0, 0, err
		}
		sx += int64(int16(uint16(raw[0]) | uint16(raw[1])<<8))
		sy += int64(int16(uint16(raw[2]) | uint16(raw[3])<<8))
		sz += int64(int16(uint16(raw[4]) | uint16(raw[5])<<8))
		time.Sleep(time.Millisecond)
	}
	return int32(sx / int64(n)), int32(sy / int64(n)), int32(sz / int64(n)), nil
}
