// go-coapchannel
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-coapchannel.
//
// go-coapchannel is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-coapchannel is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-coapchannel; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package i2c carries framed CoAP messages over I2C to a peer at a fixed
// address. Every read transaction starts with a status byte; when it is
// ready the frame follows from its first byte, and the peer keeps the frame
// until a read covered all of it.
package i2c

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/go-coapchannel/internal/frame"
	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/ZaparooProject/go-coapchannel/internal/syncutil"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddr is the 7-bit address of the peer.
	DefaultAddr = 0x24

	statusReady = 0x01

	// Max clock frequency (400 kHz).
	maxClockFreq = 400 * physic.KiloHertz

	// DefaultPollInterval is the pause between status reads while the peer
	// has nothing to send.
	DefaultPollInterval = 5 * time.Millisecond
)

// ErrBadAddress is returned for an unparsable device path.
var ErrBadAddress = errors.New("invalid I2C address")

// Conn is the part of i2c.Dev the link needs.
type Conn interface {
	Tx(w, r []byte) error
}

// Link implements transport.Link over I2C.
type Link struct {
	conn     Conn
	bus      i2c.BusCloser
	clock    clockwork.Clock
	name     string
	poll     time.Duration
	mu       syncutil.Mutex
	corrupts int
}

// parsePath splits "/dev/i2c-1:0x24" into bus and address. A bare bus uses
// DefaultAddr.
func parsePath(path string) (string, uint16, error) {
	bus, addr, found := strings.Cut(path, ":")
	if !found {
		return bus, DefaultAddr, nil
	}
	v, err := strconv.ParseUint(addr, 0, 7)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrBadAddress, addr)
	}
	return bus, uint16(v), nil
}

// Open initializes the host drivers and opens the bus named in path, which
// may carry the peer address after a colon.
func Open(path string) (*Link, error) {
	busName, addr, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}
	if err := bus.SetSpeed(maxClockFreq); err != nil {
		logger.Debugf("I2C %s: keeping default speed: %v", busName, err)
	}
	l := NewLink(&i2c.Dev{Addr: addr, Bus: bus}, path, nil)
	l.bus = bus
	return l, nil
}

// NewLink wraps an existing device. A nil clock uses the real clock.
func NewLink(conn Conn, name string, clock clockwork.Clock) *Link {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Link{
		conn:  conn,
		name:  name,
		clock: clock,
		poll:  DefaultPollInterval,
	}
}

// SetPollInterval changes the pause between status reads.
func (l *Link) SetPollInterval(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.poll = d
}

// WriteFrame frames data and writes it in one transaction.
func (l *Link) WriteFrame(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := frame.GetBuffer(frame.FrameBufferSize)
	defer frame.PutBuffer(tx)

	out, err := frame.Encode(tx[:0], data)
	if err != nil {
		return fmt.Errorf("I2C %s: %w", l.name, err)
	}
	if err := l.conn.Tx(out, nil); err != nil {
		return fmt.Errorf("I2C write frame failed: %w", err)
	}
	return nil
}

// ReadFrame polls until the peer has a frame and copies its data into buf.
// Corrupt frames are skipped.
func (l *Link) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		n, ready, err := l.readFrame(buf)
		switch {
		case err == nil && ready:
			return n, nil
		case isFrameError(err):
			l.corrupts++
			logger.Debugf("I2C %s: skipping frame: %v", l.name, err)
			continue
		case err != nil:
			return 0, err
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err() //nolint:wrapcheck // context errors are returned as is
		case <-l.clock.After(l.poll):
		}
	}
}

// Corrupted returns the number of frames skipped as corrupt.
func (l *Link) Corrupted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.corrupts
}

func isFrameError(err error) bool {
	return errors.Is(err, frame.ErrFrameCorrupted) ||
		errors.Is(err, frame.ErrChecksumMismatch) ||
		errors.Is(err, frame.ErrFrameTooLarge)
}

func (l *Link) read(dst []byte) error {
	if err := l.conn.Tx(nil, dst); err != nil {
		return fmt.Errorf("I2C read failed: %w", err)
	}
	return nil
}

// readFrame reads the header behind the status byte and, when the peer is
// ready, the whole frame in a second transaction.
func (l *Link) readFrame(buf []byte) (int, bool, error) {
	full := frame.GetBuffer(frame.FrameBufferSize)
	defer frame.PutBuffer(full)

	if err := l.read(full[:1+frame.HeaderSize]); err != nil {
		return 0, false, err
	}
	if full[0] != statusReady {
		return 0, false, nil
	}
	dataLen, err := frame.ValidateHeader(full[1 : 1+frame.HeaderSize])
	if err != nil {
		return 0, true, err
	}
	size := frame.HeaderSize + dataLen + frame.TrailerSize
	if err := l.read(full[:1+size]); err != nil {
		return 0, true, err
	}
	data, _, err := frame.Parse(full[1 : 1+size])
	if err != nil {
		return 0, true, err
	}
	if len(data) > len(buf) {
		return 0, true, fmt.Errorf("%w: %d byte frame for %d byte buffer", frame.ErrFrameTooLarge, len(data), len(buf))
	}
	return copy(buf, data), true, nil
}

// Close releases the bus.
func (l *Link) Close() error {
	if l.bus == nil {
		return nil
	}
	if err := l.bus.Close(); err != nil {
		return fmt.Errorf("I2C close failed: %w", err)
	}
	return nil
}
