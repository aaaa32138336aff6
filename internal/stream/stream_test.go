// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stream

import (
	"testing"

	"github.com/engrove/vibracore/internal/diag"
	"github.com/engrove/vibracore/internal/sensor"
)

func TestDecimationOnlyLatchesEveryDivider(t *testing.T) {
	s := New(nil, func() int { return 4096 })
	s.Start(4)
	for i := 0; i < 3; i++ {
		s.Feed(sensor.Sample{X: int16(i)}, uint32(i))
		if _, ok := s.Take(); ok {
			t.Fatalf("unexpected frame before divider reached, i=%d", i)
		}
	}
	s.Feed(sensor.Sample{X: 99}, 4)
	f, ok := s.Take()
	if !ok || f.X != 99 {
		t.Fatalf("expected a latched frame with X=99, got %+v ok=%v", f, ok)
	}
}

func TestFullSlotCountsLiveDrops(t *testing.T) {
	d := &diag.Counters{}
	s := New(d, func() int { return 4096 })
	s.Start(1)
	s.Feed(sensor.Sample{X: 1}, 0)
	s.Feed(sensor.Sample{X: 2}, 1) // slot still full, not yet Take()n
	if d.Snapshot().LiveDrops != 1 {
		t.Fatalf("expected 1 live_drop, got %d", d.Snapshot().LiveDrops)
	}
	f, ok := s.Take()
	if !ok || f.X != 1 {
		t.Fatalf("expected the first frame to survive, got %+v", f)
	}
}

func TestLowTXFreeSkipsLatch(t *testing.T) {
	s := New(nil, func() int { return 10 })
	s.Start(1)
	s.Feed(sensor.Sample{X: 1}, 0)
	if _, ok := s.Take(); ok {
		t.Fatal("expected no frame latched when TX headroom is low")
	}
}

func TestSeqIncrementsMonotonically(t *testing.T) {
	s := New(nil, func() int { return 4096 })
	s.Start(1)
	for i := 0; i < 5; i++ {
		s.Feed(sensor.Sample{}, uint32(i))
		f, ok := s.Take()
		if !ok || f.Seq != uint32(i) {
			t.Fatalf("frame %d: seq=%d, want %d", i, f.Seq, i)
		}
	}
}

func TestStopMakesFeedANoop(t *testing.T) {
	s := New(nil, func() int { return 4096 })
	s.Start(1)
	s.Stop()
	s.Feed(sensor.Sample{X: 1}, 0)
	if _, ok := s.Take(); ok {
		t.Fatal("expected Feed to be a no-op once stopped")
	}
}
