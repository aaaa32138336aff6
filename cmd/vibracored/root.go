// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command vibracored hosts the vibration-measurement device core: a serial
// link speaking the line-oriented host protocol (spec.md §4.1) in front of
// the FSM dispatcher, sensor driver, and BLOCKS transport that make up the
// rest of this module.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var logLevel string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vibracored",
		Short:         "Vibration-measurement device core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(newLogger(logLevel))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSelftestCommand())
	return cmd
}

// newLogger mirrors the tint-by-level wiring used throughout the pack's
// cobra-based daemons: a colorized handler whose level gates what gets
// printed, with no separate structured/JSON mode since this binary only
// ever runs attached to a terminal or a log file, never scraped.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: lvl}))
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
