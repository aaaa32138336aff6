// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package conn and its subpackages define the hardware boundary the
// vibracore firmware core consumes: an I²C bus for the accelerometer
// (conn/i2c), GPIO/interrupt primitives for INT1 and the status LED
// (conn/gpio), and a byte sink/source for the host link (conn/uart).
//
// Everything on the other side of these interfaces — chip register
// programming, DMA, clock configuration — is out of scope for the core.
package conn
