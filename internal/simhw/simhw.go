// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package simhw is a synthetic ADXL345-class accelerometer: an i2c.Bus and
// a gpio.PinIO standing in for real hardware so cmd/vibracored can run the
// whole pump without an attached sensor. It mirrors internal/sensor's own
// test double (sensor_test.go's fakeADXL/memPin) but paces its FIFO fill
// against a real wall clock at the programmed ODR instead of being driven
// step-by-step by a test, matching the "ODR-paced synthetic/real sampling"
// stand-in for the sampling-timer interrupt context.
package simhw

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/engrove/vibracore/conn/gpio"
)

// Register map, duplicated from the ADXL345 datasheet rather than imported
// from internal/sensor (whose register constants are unexported): this is
// hardware knowledge the simulator needs independently of the driver.
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
)

const powerMeasureBit = 1 << 3

// defaultWatermark matches internal/sensor/regs.go's fifoWatermark; used
// until a FIFO_CTL write programs a different value.
const defaultWatermark = 16

const fifoCapacity = 32

// gravityLSB is 1g at full-resolution (+/-16g, 3.9 mg/LSB): 1000/3.9.
const gravityLSB = 256

var odrCodeToHz = map[uint8]uint32{
	0x0A: 100,
	0x0B: 200,
	0x0C: 400,
	0x0D: 800,
	0x0E: 1600,
	0x0F: 3200,
}

type sample struct{ x, y, z int16 }

// Device is the synthetic sensor: an i2c.Bus (via Tx) plus the watermark
// interrupt pin (via Pin). One Device goroutine paces a sine-plus-noise
// vibration signal into a simulated FIFO and fires the pin at watermark,
// exactly like the real part's hardware behavior that internal/sensor's
// drain chain expects.
type Device struct {
	mu        sync.Mutex
	regs      [256]byte
	fifo      []sample
	odrHz     uint32
	measuring bool
	watermark int

	pin *edgePin

	start time.Time
	rng   *rand.Rand

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewDevice returns a running simulated sensor. Call Halt to stop it.
func NewDevice() *Device {
	d := &Device{
		odrHz:     100,
		watermark: defaultWatermark,
		pin:       newEdgePin(),
		start:     time.Now(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		stop:      make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Pin returns the simulated INT1 (FIFO watermark) line.
func (d *Device) Pin() gpio.PinIO { return d.pin }

func (d *Device) String() string { return "simhw.Device" }

// Halt stops the signal generator. Implements conn.Resource. Idempotent.
func (d *Device) Halt() error {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	d.wg.Wait()
	return nil
}

// Speed implements i2c.Bus; the simulator has no real bus clock to change.
func (d *Device) Speed(hz int64) error { return nil }

// Tx implements i2c.Bus: a single-register write (reg, value) or a
// register-address-then-read, exactly as internal/sensor's DevReg8 issues
// them. Grounded on sensor_test.go's fakeADXL.Tx.
func (d *Device) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(w) == 0 {
		return nil
	}
	reg := w[0]
	if len(w) >= 2 {
		d.regs[reg] = w[1]
		switch reg {
		case regBWRate:
			if hz, ok := odrCodeToHz[w[1]]; ok {
				d.odrHz = hz
			}
		case regPowerCtl:
			d.measuring = w[1]&powerMeasureBit != 0
		case regFIFOCtl:
			if wm := int(w[1] & 0x3F); wm > 0 {
				d.watermark = wm
			}
		}
		return nil
	}
	switch reg {
	case regFIFOStatus:
		if len(r) > 0 {
			r[0] = byte(len(d.fifo))
		}
	case regDataX0:
		var s sample
		if len(d.fifo) > 0 {
			s = d.fifo[0]
			d.fifo = d.fifo[1:]
		}
		if len(r) >= 6 {
			binary.LittleEndian.PutUint16(r[0:2], uint16(s.x))
			binary.LittleEndian.PutUint16(r[2:4], uint16(s.y))
			binary.LittleEndian.PutUint16(r[4:6], uint16(s.z))
		}
	default:
		if len(r) > 0 {
			r[0] = d.regs[reg]
		}
	}
	return nil
}

// run paces the synthetic FIFO fill against the programmed ODR, firing the
// watermark edge once enough samples have accumulated.
func (d *Device) run() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		hz := d.odrHz
		d.mu.Unlock()
		if hz == 0 {
			hz = 100
		}
		select {
		case <-d.stop:
			return
		case <-time.After(time.Second / time.Duration(hz)):
		}
		d.tick()
	}
}

func (d *Device) tick() {
	d.mu.Lock()
	if !d.measuring {
		d.mu.Unlock()
		return
	}
	elapsed := time.Since(d.start).Seconds()
	// A light vibration signature on X plus sensor noise on every axis,
	// gravity resting on Z: enough for the trigger and burst paths to see
	// real variance without needing a physical shake.
	vib := 40 * math.Sin(2*math.Pi*12*elapsed)
	x := int16(vib + d.rng.NormFloat64()*6)
	y := int16(d.rng.NormFloat64() * 6)
	z := int16(gravityLSB + d.rng.NormFloat64()*6)
	if len(d.fifo) >= fifoCapacity {
		d.fifo = d.fifo[1:]
	}
	d.fifo = append(d.fifo, sample{x, y, z})
	depth := len(d.fifo)
	wm := d.watermark
	d.mu.Unlock()
	if depth >= wm {
		d.pin.trigger()
	}
}

// edgePin implements gpio.PinIO for the watermark interrupt line, grounded
// on sensor_test.go's memPin.
type edgePin struct {
	pull gpio.Pull
	edge gpio.Edge
	fire chan struct{}
}

func newEdgePin() *edgePin { return &edgePin{fire: make(chan struct{}, 1)} }

func (p *edgePin) String() string { return "simhw.INT1" }

func (p *edgePin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.pull, p.edge = pull, edge
	return nil
}

func (p *edgePin) Read() gpio.Level { return gpio.Low }

func (p *edgePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.fire:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *edgePin) Pull() gpio.Pull { return p.pull }

func (p *edgePin) Out(gpio.Level) error { return nil }

func (p *edgePin) trigger() {
	select {
	case p.fire <- struct{}{}:
	default:
	}
}
