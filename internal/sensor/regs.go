// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

// Register map, grounded on the ADXL345-class accelerometer driven by
// original_source/Engrove/adxl345-prod's sensor_hal.c: a 3-axis, 13-bit
// resolution part with a 32-sample FIFO and a watermark interrupt.
const (
	regBWRate     = 0x2C
	regPowerCtl   = 0x2D
	regDataFormat = 0x31
	regFIFOCtl    = 0x38
	regFIFOStatus = 0x39
	regIntEnable  = 0x2E
	regIntSource  = 0x30
	regDataX0     = 0x32
	regOfsX       = 0x1E
	regOfsY       = 0x1F
	regOfsZ       = 0x20

	deviceAddr = 0x53
)

// POWER_CTL bits.
const (
	powerMeasure = 1 << 3
	powerStandby = 0
)

// DATA_FORMAT bits.
const (
	dataFormatFullRes = 1 << 3
	dataFormatRange16 = 0x03
	dataFormatSelfTest = 1 << 7
)

// FIFO_CTL: stream mode with a 16-sample watermark, grounded on the
// original's "stream until drained" FIFO discipline.
const (
	fifoModeBypass = 0x00 << 6
	fifoModeStream = 0x02 << 6
	fifoWatermark  = 16
)

// INT_ENABLE / INT_SOURCE watermark bit.
const intWatermark = 1 << 1

// odrTable is the ADXL345 BW_RATE code table restricted to the rates the
// firmware core actually offers (spec.md §4.4 "SnapODR rounds the request
// up to the nearest supported rate").
var odrTable = []struct {
	hz   uint32
	code uint8
}{
	{100, 0x0A},
	{200, 0x0B},
	{400, 0x0C},
	{800, 0x0D},
	{1600, 0x0E},
	{3200, 0x0F},
}

// mps2PerLSB is the full-resolution (±16g) scale factor: 3.9 mg/LSB,
// expressed in m/s².
const mps2PerLSB = float32(0.0039 * 9.80665)
