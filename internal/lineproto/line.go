// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package lineproto implements the wire protocol's line framing and
// command grammar (spec.md §4.1): CRLF-terminated lines, a bounded payload
// length, and a `<VERB>[,<key>=<value>]*` command shape with a strict
// ABNF-equivalent numeric input policy.
package lineproto

import "errors"

// MaxPayload is the maximum number of bytes accepted for one logical line,
// not counting the terminator. Bytes received past this limit within the
// same line are dropped; a single NACK is emitted when the terminator
// finally arrives.
const MaxPayload = 254

// ErrLineTooLong names the over-long line condition. Assembler.Feed does
// not return it; it reports a line that exceeded MaxPayload by calling emit
// with ok=false, and the caller is expected to emit NACK,SUBJECT=UNKNOWN,
// reason=line_too_long,code=300 exactly once per offending line.
var ErrLineTooLong = errors.New("lineproto: line too long")

// Assembler turns a raw byte stream into logical lines. Any CR, LF, or CRLF
// delimits a line; a run of CRLF is treated as a single terminator (an
// empty line isn't re-emitted for the LF half of a CRLF pair).
type Assembler struct {
	buf        []byte
	overLength bool
	sawCR      bool
}

// NewAssembler returns an empty line assembler.
func NewAssembler() *Assembler {
	return &Assembler{buf: make([]byte, 0, MaxPayload)}
}

// Feed appends b to the assembler's state and invokes emit once per
// complete line recognized (without its terminator). If a line exceeded
// MaxPayload, emit is still called with the truncated prefix and ok=false,
// signaling the caller to NACK it; the oversized remainder was already
// dropped as it arrived.
func (a *Assembler) Feed(b []byte, emit func(line []byte, ok bool)) {
	for _, c := range b {
		if c == '\n' {
			if a.sawCR {
				// second half of a CRLF pair already handled by the '\r' below.
				a.sawCR = false
				continue
			}
			a.flush(emit)
			continue
		}
		if c == '\r' {
			a.sawCR = true
			a.flush(emit)
			continue
		}
		a.sawCR = false
		if len(a.buf) >= MaxPayload {
			a.overLength = true
			continue
		}
		a.buf = append(a.buf, c)
	}
}

func (a *Assembler) flush(emit func(line []byte, ok bool)) {
	if len(a.buf) == 0 && !a.overLength {
		// Bare CR/LF with nothing buffered: nothing to report.
		return
	}
	line := a.buf
	ok := !a.overLength
	a.buf = make([]byte, 0, MaxPayload)
	a.overLength = false
	emit(line, ok)
}
