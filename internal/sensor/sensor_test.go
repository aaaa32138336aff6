// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/engrove/vibracore/conn/gpio"
	"github.com/engrove/vibracore/conn/i2c"
	"github.com/engrove/vibracore/internal/clock"
	"github.com/engrove/vibracore/internal/diag"
)

// fakeADXL is a minimal in-memory register model of the accelerometer,
// enough to drive Init/Start/drain and SelfTest deterministically.
type fakeADXL struct {
	mu        sync.Mutex
	regs      [256]byte
	fifoCount uint8
	sampleX, sampleY, sampleZ int16
	selfTestDelta             [3]int16
}

func newFakeADXL() *fakeADXL {
	return &fakeADXL{sampleX: 100, sampleY: -200, sampleZ: 300}
}

func (f *fakeADXL) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(w) == 0 {
		return nil
	}
	reg := w[0]
	if len(w) >= 2 {
		// write path: reg, value
		f.regs[reg] = w[1]
		return nil
	}
	// read path
	switch reg {
	case regFIFOStatus:
		if len(r) > 0 {
			r[0] = f.fifoCount
		}
	case regDataX0:
		x, y, z := f.sampleX, f.sampleY, f.sampleZ
		if f.regs[regDataFormat]&dataFormatSelfTest != 0 {
			x += f.selfTestDelta[0]
			y += f.selfTestDelta[1]
			z += f.selfTestDelta[2]
		}
		if len(r) >= 6 {
			binary.LittleEndian.PutUint16(r[0:2], uint16(x))
			binary.LittleEndian.PutUint16(r[2:4], uint16(y))
			binary.LittleEndian.PutUint16(r[4:6], uint16(z))
		}
		if f.fifoCount > 0 {
			f.fifoCount--
		}
	default:
		if len(r) > 0 {
			r[0] = f.regs[reg]
		}
	}
	return nil
}

func (f *fakeADXL) Speed(hz int64) error { return nil }
func (f *fakeADXL) String() string       { return "fakeADXL" }

func newTestSensor(bus *fakeADXL) (*Sensor, *memPin) {
	dev := &i2c.DevReg8{Dev: i2c.Dev{Bus: bus, Addr: deviceAddr}, Order: binary.LittleEndian}
	pin := newMemPin("INT1")
	clk := clock.NewFake(1000)
	return New(dev, pin, clk, &diag.Counters{}), pin
}

// memPin is a local PinIO test double (sensor_test.go needs its own since
// conn/gpio's memPin is unexported to that package's own tests).
type memPin struct {
	name string
	pull gpio.Pull
	edge gpio.Edge
	fire chan struct{}
}

func newMemPin(name string) *memPin { return &memPin{name: name, fire: make(chan struct{}, 1)} }

func (p *memPin) String() string { return p.name }
func (p *memPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.pull, p.edge = pull, edge
	return nil
}
func (p *memPin) Read() gpio.Level { return gpio.Low }
func (p *memPin) Out(gpio.Level) error { return nil }
func (p *memPin) Pull() gpio.Pull      { return p.pull }
func (p *memPin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.fire:
		return true
	case <-time.After(timeout):
		return false
	}
}
func (p *memPin) Trigger() {
	select {
	case p.fire <- struct{}{}:
	default:
	}
}

func TestSnapODR(t *testing.T) {
	cases := map[uint32]uint32{0: 100, 100: 100, 150: 200, 3200: 3200, 5000: 3200}
	for in, want := range cases {
		if got := SnapODR(in); got != want {
			t.Fatalf("SnapODR(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestInitAndStartDrainsFIFO(t *testing.T) {
	bus := newFakeADXL()
	s, pin := newTestSensor(bus)
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Halt()

	bus.mu.Lock()
	bus.fifoCount = 3
	bus.mu.Unlock()
	pin.Trigger()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.ring.Len() >= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if s.ring.Len() < 3 {
		t.Fatalf("expected at least 3 buffered samples, got %d", s.ring.Len())
	}
	smp, ok := s.GetSample()
	if !ok {
		t.Fatal("expected a sample")
	}
	if smp.X != 100 || smp.Y != -200 || smp.Z != 300 {
		t.Fatalf("unexpected sample %+v", smp)
	}
}

func TestExtiRejectedWhileDraining(t *testing.T) {
	bus := newFakeADXL()
	s, pin := newTestSensor(bus)
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.state.Store(int32(stWaitFifoData)) // simulate mid-drain
	pin.Trigger()
	time.Sleep(edgePollInterval * 3)
	if s.ExtiRejected() == 0 {
		t.Fatal("expected the edge to be rejected while not Idle")
	}
	s.state.Store(int32(stIdle))
	_ = s.Halt()
}

func TestConvertToMps2(t *testing.T) {
	s, _ := newTestSensor(newFakeADXL())
	ax, ay, az := s.ConvertToMps2(Sample{X: 256, Y: -256, Z: 0})
	want := float32(256) * mps2PerLSB
	if ax != want || ay != -want || az != 0 {
		t.Fatalf("ConvertToMps2 = (%v,%v,%v), want (%v,%v,0)", ax, ay, az, want, -want)
	}
}

func TestSelfTestPassesWithinWindow(t *testing.T) {
	bus := newFakeADXL()
	bus.selfTestDelta = [3]int16{300, -300, 400}
	s, _ := newTestSensor(bus)
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	res, err := s.SelfTest(4, 1, 1600)
	if err != nil {
		t.Fatalf("SelfTest: %v", err)
	}
	if !res.Pass {
		t.Fatalf("expected pass, got %+v", res)
	}
}

func TestSelfTestFailsOutsideWindow(t *testing.T) {
	bus := newFakeADXL()
	bus.selfTestDelta = [3]int16{5, -5, 5}
	s, _ := newTestSensor(bus)
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	res, err := s.SelfTest(4, 1, 1600)
	if err != nil {
		t.Fatalf("SelfTest: %v", err)
	}
	if res.Pass {
		t.Fatal("expected failure outside acceptance window")
	}
}

func TestSampleRingOverflowDropsNewest(t *testing.T) {
	r := &SampleRing{}
	for i := 0; i < SampleRingCapacity-1; i++ {
		if !r.Push(Sample{X: int16(i)}) {
			t.Fatalf("unexpected overflow at %d", i)
		}
	}
	if r.Push(Sample{X: 9999}) {
		t.Fatal("expected the ring to report full")
	}
	first, ok := r.Pop()
	if !ok || first.X != 0 {
		t.Fatalf("expected oldest sample first, got %+v", first)
	}
}
