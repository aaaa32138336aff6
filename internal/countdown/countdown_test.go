// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package countdown

import "testing"

func TestStartEmitsImmediately(t *testing.T) {
	var ids []int
	c := &Ticker{OnTick: func(id int) { ids = append(ids, id) }}
	c.Start(5, 0)
	if len(ids) != 1 || ids[0] != 5 {
		t.Fatalf("expected [5], got %v", ids)
	}
}

func TestFullCountdownEndsSilently(t *testing.T) {
	var ids []int
	expired := false
	c := &Ticker{
		OnTick:   func(id int) { ids = append(ids, id) },
		OnExpire: func() { expired = true },
	}
	c.Start(5, 0)
	now := uint32(0)
	for i := 0; i < 5; i++ {
		now += 1000
		c.Pump(now)
	}
	want := []int{5, 4, 3, 2, 1}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	if !expired {
		t.Fatal("expected OnExpire to fire")
	}
	if c.Active() {
		t.Fatal("expected inactive after expiry")
	}
}

func TestStopEmitsZeroOnlyOnce(t *testing.T) {
	var ids []int
	c := &Ticker{OnTick: func(id int) { ids = append(ids, id) }}
	c.Start(5, 0)
	c.Stop()
	c.Stop() // second Stop is a no-op
	if len(ids) != 2 || ids[1] != 0 {
		t.Fatalf("expected [5, 0], got %v", ids)
	}
}

func TestStopWhileInactiveIsNoop(t *testing.T) {
	var ids []int
	c := &Ticker{OnTick: func(id int) { ids = append(ids, id) }}
	c.Stop()
	if len(ids) != 0 {
		t.Fatalf("expected no ticks, got %v", ids)
	}
}

func TestPumpIgnoresSubSecondCalls(t *testing.T) {
	var ids []int
	c := &Ticker{OnTick: func(id int) { ids = append(ids, id) }}
	c.Start(5, 1000)
	c.Pump(1500)
	if len(ids) != 1 {
		t.Fatalf("expected no extra tick before 1s elapsed, got %v", ids)
	}
	c.Pump(2000)
	if len(ids) != 2 || ids[1] != 4 {
		t.Fatalf("expected a tick to id=4 at the 1s mark, got %v", ids)
	}
}
