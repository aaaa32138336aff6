// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package crc16 implements CRC-16/CCITT-FALSE: polynomial 0x1021, init
// 0xFFFF, no input/output reflection, xor-out 0.
//
// The BLOCKS transport uses it over every DATA line of a block exactly as
// transmitted (CRLF included), excluding BLOCK_HEADER and BLOCK_END.
package crc16

const (
	poly    = 0x1021
	initVal = 0xFFFF
)

var table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
}

// State is an incremental CRC-16/CCITT-FALSE accumulator, used by block
// generators that emit lines one at a time rather than buffering the whole
// block before computing its CRC.
type State struct {
	crc uint16
}

// NewState returns a fresh accumulator, primed to the algorithm's initial
// value.
func NewState() State {
	return State{crc: initVal}
}

// Update folds b into the running CRC and returns the accumulator for
// chaining.
func (s State) Update(b []byte) State {
	crc := s.crc
	for _, c := range b {
		crc = crc<<8 ^ table[byte(crc>>8)^c]
	}
	return State{crc: crc}
}

// Sum returns the CRC-16 computed so far.
func (s State) Sum() uint16 {
	return s.crc
}

// Checksum is the one-shot form: CRC-16/CCITT-FALSE of b.
func Checksum(b []byte) uint16 {
	return NewState().Update(b).Sum()
}
