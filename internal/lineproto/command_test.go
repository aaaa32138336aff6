// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lineproto

import "testing"

func TestParseCommandSimple(t *testing.T) {
	cmd := ParseCommand([]byte("HELLO"))
	if cmd.Verb != "HELLO" || len(cmd.Fields) != 0 {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseCommandFields(t *testing.T) {
	cmd := ParseCommand([]byte("SET_CFG,odr_hz=800,burst_ms=5000"))
	if cmd.Verb != "SET_CFG" {
		t.Fatalf("verb = %q", cmd.Verb)
	}
	if v, ok := cmd.Get("odr_hz"); !ok || v != "800" {
		t.Fatalf("odr_hz = %q, %v", v, ok)
	}
	if v, ok := cmd.Get("burst_ms"); !ok || v != "5000" {
		t.Fatalf("burst_ms = %q, %v", v, ok)
	}
}

func TestParseCommandBareFlag(t *testing.T) {
	cmd := ParseCommand([]byte("STOP,FORCE"))
	if cmd.Verb != "STOP" || !cmd.Has("FORCE") {
		t.Fatalf("got %+v", cmd)
	}
	if _, hasValue := cmd.Get("FORCE"); hasValue {
		t.Fatal("bare flag should not report HasValue")
	}
}
