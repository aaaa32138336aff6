// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lineproto

import (
	"errors"
	"strconv"
)

// ErrBadNumber is returned by the numeric parsers when the input doesn't
// match the protocol's strict grammar, even if it would parse under Go's
// looser strconv rules (e.g. a leading '+', an exponent, or more than three
// decimal digits).
var ErrBadNumber = errors.New("lineproto: malformed number")

// ParseUint parses an unsigned integer per the protocol's grammar: 1*DIGIT,
// no sign, strict decimal, bounded by bitSize. "+5", "-5", "0x5", and
// leading/trailing whitespace are all rejected.
func ParseUint(s string, bitSize int) (uint64, error) {
	if len(s) == 0 {
		return 0, ErrBadNumber
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, ErrBadNumber
		}
	}
	v, err := strconv.ParseUint(s, 10, bitSize)
	if err != nil {
		return 0, ErrBadNumber
	}
	return v, nil
}

// ParseFixedFloat parses a fixed-point float per the protocol's grammar:
// optional leading sign, integer part, optional '.' and up to three
// decimal digits, no exponent. "1e3" and "1.2345" are both rejected.
func ParseFixedFloat(s string) (float32, error) {
	if len(s) == 0 {
		return 0, ErrBadNumber
	}
	i := 0
	neg := false
	if s[i] == '+' || s[i] == '-' {
		neg = s[i] == '-'
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start {
		return 0, ErrBadNumber
	}
	intPart := s[start:i]
	fracPart := ""
	if i < len(s) {
		if s[i] != '.' {
			return 0, ErrBadNumber
		}
		i++
		fracStart := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		fracPart = s[fracStart:i]
		if len(fracPart) == 0 || len(fracPart) > 3 {
			return 0, ErrBadNumber
		}
	}
	if i != len(s) {
		return 0, ErrBadNumber
	}
	whole, err := strconv.ParseUint(intPart, 10, 32)
	if err != nil {
		return 0, ErrBadNumber
	}
	var frac uint64
	scale := uint64(1)
	for range [3]struct{}{} {
		scale *= 10
	}
	if fracPart != "" {
		f, err := strconv.ParseUint(fracPart, 10, 32)
		if err != nil {
			return 0, ErrBadNumber
		}
		frac = f
		for j := len(fracPart); j < 3; j++ {
			frac *= 10
		}
	}
	v := float32(whole) + float32(frac)/float32(scale)
	if neg {
		v = -v
	}
	return v, nil
}

// ParseQuotedString extracts the content of a double-quoted string with no
// escape sequences defined (used only for fw= and msg=).
func ParseQuotedString(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", ErrBadNumber
	}
	return s[1 : len(s)-1], nil
}

// FormatFixed3 formats a float32 with exactly three decimal digits, as
// required for every DATA line and for k_mult in TRG_SETTINGS.
func FormatFixed3(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 3, 32)
}
