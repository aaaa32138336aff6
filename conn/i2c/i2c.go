// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package i2c defines an I²C bus.
//
// It includes an adapter to directly address an I²C device on an I²C bus
// without having to continuously specify the address when doing I/O.
//
// This is the boundary the core consumes for the accelerometer: the core
// never programs I²C controller registers directly, it only ever talks
// through a Bus.
package i2c

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"github.com/engrove/vibracore/conn/gpio"
)

// Bus defines the interface a concrete I²C driver must implement.
//
// This interface is consumed by a device driver for a device sitting on a
// bus.
type Bus interface {
	fmt.Stringer
	Tx(addr uint16, w, r []byte) error
	// Speed changes the bus speed, if supported.
	Speed(hz int64) error
}

// BusCloser is an I²C bus that can be closed.
type BusCloser interface {
	Bus
	Close() error
}

// Pins defines the pins an I²C bus interconnect is using on the host.
type Pins interface {
	// SCL returns the CLK (clock) pin.
	SCL() gpio.PinIO
	// SDA returns the DATA pin.
	SDA() gpio.PinIO
}

// Dev is a device on an I²C bus.
//
// It saves from repeatedly specifying the device address.
type Dev struct {
	Bus  Bus
	Addr uint16
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s(%d)", d.Bus, d.Addr)
}

// Tx does a transaction by adding the device's address to each command.
func (d *Dev) Tx(w, r []byte) error {
	return d.Bus.Tx(d.Addr, w, r)
}

// Write writes to the I²C bus without reading, implementing io.Writer.
func (d *Dev) Write(b []byte) (int, error) {
	if err := d.Tx(b, nil); err != nil {
		return 0, err
	}
	return len(b), nil
}

// DevReg8 is a Dev that exposes memory-mapped registers in an 8 bit address
// space.
//
// This is the register-access primitive the sensor driver's write-then-
// read-back-verify discipline is built on.
type DevReg8 struct {
	Dev
	// Order specifies the binary encoding of multi-byte words.
	Order binary.ByteOrder
}

// ReadRegUint8 reads an 8 bit register.
func (d *DevReg8) ReadRegUint8(reg uint8) (uint8, error) {
	var v [1]uint8
	err := d.Tx([]byte{reg}, v[:])
	return v[0], err
}

// ReadRegUint16 reads a 16 bit register.
func (d *DevReg8) ReadRegUint16(reg uint8) (uint16, error) {
	if d.Order == nil {
		return 0, errors.New("i2c: don't know if big or little endian")
	}
	var v [2]byte
	err := d.Tx([]byte{reg}, v[:])
	return d.Order.Uint16(v[:]), err
}

// ReadRegBytes reads len(b) bytes starting at reg, e.g. a burst read of the
// sensor's X/Y/Z output registers.
func (d *DevReg8) ReadRegBytes(reg uint8, b []byte) error {
	return d.Tx([]byte{reg}, b)
}

// ReadRegStruct writes the register number, then reads data into b and
// unmarshals it via .Order.
func (d *DevReg8) ReadRegStruct(reg uint8, b interface{}) error {
	if d.Order == nil {
		return errors.New("i2c: don't know if big or little endian")
	}
	return readReg(&d.Dev, d.Order, []byte{reg}, b)
}

// WriteRegUint8 writes an 8 bit register.
func (d *DevReg8) WriteRegUint8(reg uint8, v uint8) error {
	return d.Tx([]byte{reg, v}, nil)
}

// WriteRegUint16 writes a 16 bit register.
func (d *DevReg8) WriteRegUint16(reg uint8, v uint16) error {
	if d.Order == nil {
		return errors.New("i2c: don't know if big or little endian")
	}
	var a [3]byte
	a[0] = reg
	d.Order.PutUint16(a[1:], v)
	return d.Tx(a[:], nil)
}

func readReg(d *Dev, order binary.ByteOrder, reg []byte, b interface{}) error {
	if b == nil {
		return errors.New("i2c: ReadRegStruct() requires a pointer or slice, got nil")
	}
	v := reflect.ValueOf(b)
	if !isAcceptable(v.Type()) {
		return fmt.Errorf("i2c: ReadRegStruct() requires a slice or a pointer to an int or struct, got %s", v.Kind())
	}
	buf := make([]byte, getSize(v))
	if err := d.Tx(reg, buf); err != nil {
		return err
	}
	if err := binary.Read(bytes.NewReader(buf), order, b); err != nil {
		return fmt.Errorf("i2c: decoding failed: %w", err)
	}
	return nil
}

func isAcceptable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Slice:
		return isAcceptableInner(t.Elem())
	default:
		return false
	}
}

func getSize(v reflect.Value) int {
	switch v.Kind() {
	case reflect.Ptr:
		return int(v.Type().Elem().Size())
	case reflect.Slice:
		return int(v.Type().Elem().Size()) * v.Len()
	default:
		return 0
	}
}

func isAcceptableInner(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Array:
		return isAcceptableInner(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if f := t.Field(i); !isAcceptableInner(f.Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
