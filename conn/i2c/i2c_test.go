// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package i2c

import (
	"encoding/binary"
	"errors"
	"testing"
)

type fakeBus struct {
	regs [256]byte
	err  error
}

func (f *fakeBus) String() string { return "fakeBus" }

func (f *fakeBus) Speed(hz int64) error { return nil }

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	if len(w) == 0 {
		return errors.New("i2c: empty write")
	}
	reg := w[0]
	if len(w) > 1 {
		for i, b := range w[1:] {
			f.regs[int(reg)+i] = b
		}
		return nil
	}
	for i := range r {
		r[i] = f.regs[int(reg)+i]
	}
	return nil
}

func TestDevReg8_ReadWriteUint8(t *testing.T) {
	bus := &fakeBus{}
	d := DevReg8{Dev: Dev{Bus: bus, Addr: 0x53}, Order: binary.LittleEndian}
	if err := d.WriteRegUint8(0x2D, 0x08); err != nil {
		t.Fatal(err)
	}
	v, err := d.ReadRegUint8(0x2D)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x08 {
		t.Fatalf("got %#x, want 0x08", v)
	}
}

func TestDevReg8_ReadRegBytes(t *testing.T) {
	bus := &fakeBus{}
	bus.regs[0x32] = 0x01
	bus.regs[0x33] = 0x02
	d := DevReg8{Dev: Dev{Bus: bus, Addr: 0x53}, Order: binary.LittleEndian}
	var buf [2]byte
	if err := d.ReadRegBytes(0x32, buf[:]); err != nil {
		t.Fatal(err)
	}
	if buf != [2]byte{0x01, 0x02} {
		t.Fatalf("got %v", buf)
	}
}

func TestDevString(t *testing.T) {
	bus := &fakeBus{}
	d := Dev{Bus: bus, Addr: 0x53}
	if d.String() != "fakeBus(83)" {
		t.Fatalf("got %q", d.String())
	}
}

func TestTxPropagatesError(t *testing.T) {
	bus := &fakeBus{err: errors.New("nack")}
	d := Dev{Bus: bus, Addr: 0x53}
	if _, err := d.Write([]byte{0x00}); err == nil {
		t.Fatal("expected error")
	}
}
