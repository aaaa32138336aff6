// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package conn defines the common contract shared by the hardware boundary
// packages (conn/gpio, conn/i2c, conn/uart).
package conn

// Resource is implemented by every long-lived hardware-backed component
// (the sensor driver, the UART ring transport).
//
// Halt() must be safe to call multiple times and during error unwinding; it
// stops any background activity and releases the underlying handle.
type Resource interface {
	// String returns a human-readable name, e.g. "Sensor(I2C1.83)".
	String() string
	// Halt stops the resource. It is idempotent.
	Halt() error
}
