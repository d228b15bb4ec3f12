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

// Package spi carries framed CoAP messages over an SPI bus to a peer that
// queues its outgoing frames. The host polls the peer's status and reads a
// frame in two transfers: the header, then data and trailer. A status read
// discards whatever is left unread of the previous frame. Bytes travel LSB
// first.
package spi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-coapchannel/internal/frame"
	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/ZaparooProject/go-coapchannel/internal/syncutil"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// SPI protocol constants
	spiDataWrite = 0x01
	spiStatRead  = 0x02
	spiDataRead  = 0x03
	spiReady     = 0x01

	// DefaultFrequency is the bus clock used by Open when none is given.
	DefaultFrequency = 1 * physic.MegaHertz
	mode             = spi.Mode0 // CPOL=0, CPHA=0 (LSB first is handled by bit reversal)

	// DefaultPollInterval is the pause between status reads while the peer
	// has nothing to send.
	DefaultPollInterval = 5 * time.Millisecond
)

// Conn is the part of spi.Conn the link needs.
type Conn interface {
	Tx(w, r []byte) error
}

// Link implements transport.Link over SPI.
type Link struct {
	conn     Conn
	port     spi.PortCloser
	clock    clockwork.Clock
	name     string
	poll     time.Duration
	mu       syncutil.Mutex
	corrupts int
}

// Open initializes the host drivers and connects to portName. A zero freq
// uses DefaultFrequency.
func Open(portName string, freq physic.Frequency) (*Link, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}
	if freq == 0 {
		freq = DefaultFrequency
	}
	conn, err := port.Connect(freq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}
	l := NewLink(conn, portName, nil)
	l.port = port
	return l, nil
}

// NewLink wraps an existing connection. A nil clock uses the real clock.
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

// reverseBit reverses the bits in a byte (LSB <-> MSB)
func reverseBit(b byte) byte {
	var result byte
	for range 8 {
		result <<= 1
		result |= b & 1
		b >>= 1
	}
	return result
}

// reverseBytes reverses the bits of every byte of data in place.
func reverseBytes(data []byte) {
	for i, b := range data {
		data[i] = reverseBit(b)
	}
}

// WriteFrame frames data and sends it in one transfer.
func (l *Link) WriteFrame(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := frame.GetBuffer(frame.FrameBufferSize)
	defer frame.PutBuffer(tx)

	out, err := frame.Encode(tx[:1], data)
	if err != nil {
		return fmt.Errorf("SPI %s: %w", l.name, err)
	}
	out[0] = spiDataWrite
	reverseBytes(out)
	if err := l.conn.Tx(out, nil); err != nil {
		return fmt.Errorf("SPI write frame failed: %w", err)
	}
	return nil
}

// ReadFrame polls until the peer has a frame and copies its data into buf.
// Corrupt frames are skipped.
func (l *Link) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		ready, err := l.ready()
		if err != nil {
			return 0, err
		}
		if ready {
			n, err := l.readFrame(buf)
			if err == nil {
				return n, nil
			}
			if !isFrameError(err) {
				return 0, err
			}
			l.corrupts++
			logger.Debugf("SPI %s: skipping frame: %v", l.name, err)
			continue
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

// ready reads the peer status.
func (l *Link) ready() (bool, error) {
	w := []byte{reverseBit(spiStatRead), 0}
	r := make([]byte, 2)
	if err := l.conn.Tx(w, r); err != nil {
		return false, fmt.Errorf("SPI status read failed: %w", err)
	}
	return reverseBit(r[1]) == spiReady, nil
}

// read clocks len(dst)-1 bytes out of the peer into dst[1:].
func (l *Link) read(dst []byte) error {
	w := frame.GetBuffer(len(dst))
	defer frame.PutBuffer(w)
	w[0] = reverseBit(spiDataRead)
	if err := l.conn.Tx(w, dst); err != nil {
		return fmt.Errorf("SPI data read failed: %w", err)
	}
	reverseBytes(dst[1:])
	return nil
}

func (l *Link) readFrame(buf []byte) (int, error) {
	full := frame.GetBuffer(frame.FrameBufferSize)
	defer frame.PutBuffer(full)

	// full[0] receives the echoed command byte of each transfer
	if err := l.read(full[:1+frame.HeaderSize]); err != nil {
		return 0, err
	}
	dataLen, err := frame.ValidateHeader(full[1 : 1+frame.HeaderSize])
	if err != nil {
		return 0, err
	}
	rest := full[frame.HeaderSize : 1+frame.HeaderSize+dataLen+frame.TrailerSize]
	saved := rest[0]
	if err := l.read(rest); err != nil {
		return 0, err
	}
	rest[0] = saved

	data, _, err := frame.Parse(full[1 : 1+frame.HeaderSize+dataLen+frame.TrailerSize])
	if err != nil {
		return 0, err
	}
	if len(data) > len(buf) {
		return 0, fmt.Errorf("%w: %d byte frame for %d byte buffer", frame.ErrFrameTooLarge, len(data), len(buf))
	}
	return copy(buf, data), nil
}

// Close closes the SPI port.
func (l *Link) Close() error {
	if l.port == nil {
		return nil
	}
	if err := l.port.Close(); err != nil {
		return fmt.Errorf("SPI close failed: %w", err)
	}
	return nil
}
