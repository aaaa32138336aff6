// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package devctx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/engrove/vibracore/internal/diag"
)

func TestDefaultRuntimeCfgValidates(t *testing.T) {
	if err := DefaultRuntimeCfg().Validate(); err != nil {
		t.Fatalf("default RuntimeCfg should validate, got %v", err)
	}
	// spec.md §6's stated defaults, checked field-by-field in one go.
	assert.Equal(t, RuntimeCfg{OdrHz: 800, BurstMs: 5000, HbMs: 1000, StreamRateHz: 100}, DefaultRuntimeCfg())
}

func TestRuntimeCfgRejectsBadBurstMs(t *testing.T) {
	c := DefaultRuntimeCfg()
	c.BurstMs = 0
	if err := c.Validate(); !errors.Is(err, ErrParamRange) {
		t.Fatalf("expected ErrParamRange, got %v", err)
	}
}

func TestRuntimeCfgAllowsHbMsZeroButRejectsSmallNonzero(t *testing.T) {
	c := DefaultRuntimeCfg()
	c.HbMs = 0
	if err := c.Validate(); err != nil {
		t.Fatalf("hb_ms=0 should be valid, got %v", err)
	}
	c.HbMs = 50
	if err := c.Validate(); !errors.Is(err, ErrParamRange) {
		t.Fatalf("expected ErrParamRange for hb_ms=50, got %v", err)
	}
}

func TestRuntimeCfgRequiresStreamRateDividesOdr(t *testing.T) {
	c := RuntimeCfg{OdrHz: 100, BurstMs: 1000, HbMs: 1000, StreamRateHz: 30}
	if err := c.Validate(); !errors.Is(err, ErrParamRange) {
		t.Fatalf("expected ErrParamRange for non-dividing stream rate, got %v", err)
	}
	c.StreamRateHz = 25
	if err := c.Validate(); err != nil {
		t.Fatalf("25 divides 100, should validate, got %v", err)
	}
}

func TestTriggerSettingsValidate(t *testing.T) {
	if err := DefaultTriggerSettings().Validate(); err != nil {
		t.Fatalf("default TriggerSettings should validate, got %v", err)
	}
	bad := TriggerSettings{KMult: 1.0, WinMs: 100, HoldMs: 200}
	if err := bad.Validate(); !errors.Is(err, ErrParamRange) {
		t.Fatalf("expected ErrParamRange for k_mult below range, got %v", err)
	}
}

func TestBlocksCfgValidate(t *testing.T) {
	if err := DefaultBlocksCfg().Validate(); err != nil {
		t.Fatalf("default BlocksCfg should validate, got %v", err)
	}
	bad := BlocksCfg{Window: 9, Lines: 128, Retries: 3}
	if err := bad.Validate(); !errors.Is(err, ErrParamRange) {
		t.Fatalf("expected ErrParamRange for window > 8, got %v", err)
	}
}

func TestTimeSyncHostTimeMs(t *testing.T) {
	var ts TimeSync
	if _, _, ok := ts.HostTimeMs(1000, 1); ok {
		t.Fatal("expected no sync before Set")
	}
	ts.Set(5000, 100)
	_, lo, ok := ts.HostTimeMs(1100, 1) // 1000 ticks elapsed, 1 tick/ms -> +1000ms
	if !ok || lo != 6000 {
		t.Fatalf("expected host time 6000, got lo=%d ok=%v", lo, ok)
	}
	ts.Clear()
	if ts.HasSync {
		t.Fatal("expected Clear to drop sync")
	}
}

func TestResetOnHelloZeroesDiagAndForcesIdle(t *testing.T) {
	d := &diag.Counters{}
	d.IncI2CFail()
	c := &Ctx{Diag: d, Mode: ModeArmed}
	c.Time.Set(123, 456)
	c.ResetOnHello()
	if c.Mode != ModeIdle {
		t.Fatalf("mode = %v, want ModeIdle", c.Mode)
	}
	if c.Time.HasSync {
		t.Fatal("expected time sync cleared")
	}
	if d.Snapshot().I2CFail != 0 {
		t.Fatal("expected diag counters reset")
	}
}

func TestOpModeStringMatchesWireNames(t *testing.T) {
	cases := map[OpMode]string{
		ModeIdle:      "IDLE",
		ModeWaitArm:   "WAIT_ARM",
		ModeArmed:     "ARMED",
		ModeBurst:     "BURST",
		ModeStreaming: "STREAMING",
	}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Fatalf("OpMode(%d).String() = %q, want %q", mode, got, want)
		}
	}
}
