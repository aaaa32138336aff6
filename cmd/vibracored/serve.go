// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	serial "github.com/daedaluz/goserial"
	"github.com/spf13/cobra"

	"github.com/engrove/vibracore/conn/i2c"
	"github.com/engrove/vibracore/internal/clock"
	"github.com/engrove/vibracore/internal/devctx"
	"github.com/engrove/vibracore/internal/diag"
	"github.com/engrove/vibracore/internal/fsm"
	"github.com/engrove/vibracore/internal/lineproto"
	"github.com/engrove/vibracore/internal/sensor"
	"github.com/engrove/vibracore/internal/simhw"
	"github.com/engrove/vibracore/internal/telemetry"
	"github.com/engrove/vibracore/internal/txring"
)

// devAddr is the sensor's fixed I²C address (ADXL345, SDO pulled low).
const devAddr = 0x53

// tickHz is the clock.System tick resolution the whole core times against.
const tickHz = 1_000_000

// pumpInterval is how often the main loop drives Dispatcher.Pump, whether
// or not a line arrived; it bounds host-command and heartbeat latency
// without busy-spinning.
const pumpInterval = time.Millisecond

func newServeCommand() *cobra.Command {
	var port string
	var baud uint32
	var testTrigger bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the device core against a serial port",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port, baud, testTrigger)
		},
	}
	cmd.Flags().StringVar(&port, "port", "/dev/ttyUSB0", "serial device to bridge the host protocol over")
	cmd.Flags().Uint32Var(&baud, "baud", 115200, "serial line rate")
	cmd.Flags().BoolVar(&testTrigger, "test-trigger", false, "enable _TEST_FORCE_TRIGGER (spec.md §6: test builds only)")
	return cmd
}

func runServe(portName string, baud uint32, testTrigger bool) error {
	opts := serial.NewOptions()
	opts.SetReadTimeout(pumpInterval)
	link, err := serial.Open(portName, opts)
	if err != nil {
		return fmt.Errorf("open %s: %w", portName, err)
	}
	defer link.Close()
	if err := link.MakeRaw(); err != nil {
		return fmt.Errorf("set raw mode on %s: %w", portName, err)
	}
	attrs, err := link.GetAttr2()
	if err != nil {
		return fmt.Errorf("read termios for %s: %w", portName, err)
	}
	attrs.SetCustomIOSpeed(baud, baud)
	if err := link.SetAttr2(serial.TCSANOW, attrs); err != nil {
		return fmt.Errorf("set %d baud on %s: %w", baud, portName, err)
	}

	d := &diag.Counters{}
	clk := clock.NewSystem(tickHz)
	hw := simhw.NewDevice()
	defer hw.Halt()

	reg := &i2c.DevReg8{Dev: i2c.Dev{Bus: hw, Addr: devAddr}, Order: binary.LittleEndian}
	sens := sensor.New(reg, hw.Pin(), clk, d)
	defer sens.Halt()
	if err := sens.Init(); err != nil {
		slog.Warn("sensor init reported a fault, continuing with a degraded device", "error", err)
	}

	transport := txring.New(portName, link, link, d)
	defer transport.Halt()

	ctx := devctx.New(clk, sens, transport, d)
	ctx.TestTriggerEnabled = testTrigger

	tel := telemetry.NewEmitter(transport, d, slog.Default())
	disp := fsm.New(ctx, tel, transport)

	slog.Info("vibracored serving", "port", portName, "baud", baud)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	asm := lineproto.NewAssembler()
	rxBuf := make([]byte, txring.DefaultRXCapacity)
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			slog.Info("shutting down", "signal", sig)
			return nil
		case <-ticker.C:
			now := clk.MillisNow()
			if n := transport.PullRX(rxBuf); n > 0 {
				asm.Feed(rxBuf[:n], func(line []byte, ok bool) {
					if ok {
						disp.QueueLine(line)
						return
					}
					disp.RejectOverLongLine()
				})
			}
			disp.Pump(now)
		}
	}
}
