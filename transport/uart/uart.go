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

// Package uart carries framed CoAP messages over a serial port.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-coapchannel/internal/frame"
	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/ZaparooProject/go-coapchannel/internal/syncutil"
	"go.bug.st/serial"
)

// DefaultBaudRate is the line speed used by Open when none is given.
const DefaultBaudRate = 115200

// ErrShortWrite is returned when the port accepted only part of a frame.
var ErrShortWrite = errors.New("UART short write")

// Port is the part of serial.Port the link needs.
type Port interface {
	io.ReadWriteCloser
	Drain() error
}

// Link implements transport.Link over a serial port. Frames may arrive in
// arbitrary pieces and are reassembled; line noise and corrupt frames are
// skipped.
type Link struct {
	port    Port
	dec     *frame.Decoder
	name    string
	wbuf    []byte
	writeMu syncutil.Mutex
	readMu  syncutil.Mutex
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// readTimeout bounds a single port read so ReadFrame can notice
// cancellation. Windows drivers need longer.
func readTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// Open opens portName at baud 8N1. A zero baud uses DefaultBaudRate.
func Open(portName string, baud int) (*Link, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		logger.Debugf("UART %s: reset input buffer: %v", portName, err)
	}
	return NewLink(port, portName), nil
}

// NewLink wraps an already open port.
func NewLink(port Port, name string) *Link {
	return &Link{
		port: port,
		name: name,
		dec:  frame.NewDecoder(),
		wbuf: make([]byte, 0, frame.MaxFrameSize),
	}
}

// Name returns the port name.
func (l *Link) Name() string {
	return l.name
}

// WriteFrame frames data and writes it to the port.
func (l *Link) WriteFrame(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	out, err := frame.Encode(l.wbuf[:0], data)
	if err != nil {
		return fmt.Errorf("UART %s: %w", l.name, err)
	}
	l.wbuf = out
	n, err := l.port.Write(out)
	if err != nil {
		return fmt.Errorf("UART write frame failed: %w", err)
	} else if n != len(out) {
		return fmt.Errorf("%w: %d of %d bytes on %s", ErrShortWrite, n, len(out), l.name)
	}
	return l.drainWithRetry("write frame")
}

// ReadFrame reads until a complete frame is available and copies its data
// into buf.
func (l *Link) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	l.readMu.Lock()
	defer l.readMu.Unlock()

	chunk := frame.GetBuffer(frame.MediumBufferSize)
	defer frame.PutBuffer(chunk)

	for {
		n, err := l.dec.Next(buf)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, frame.ErrIncomplete):
		default:
			logger.Debugf("UART %s: skipping frame: %v", l.name, err)
			continue
		}

		if err := ctx.Err(); err != nil {
			return 0, err //nolint:wrapcheck // context errors are returned as is
		}
		got, err := l.port.Read(chunk)
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return 0, fmt.Errorf("UART read failed: %w", err)
		}
		// zero bytes means the read timeout elapsed
		if got > 0 {
			_, _ = l.dec.Write(chunk[:got])
		}
	}
}

// Dropped returns the number of received bytes that were not part of a
// valid frame.
func (l *Link) Dropped() int {
	l.readMu.Lock()
	defer l.readMu.Unlock()
	return l.dec.Dropped()
}

// Close closes the port.
func (l *Link) Close() error {
	if err := l.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (l *Link) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := l.port.Drain()
		if err == nil {
			return nil
		}
		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay << attempt) // 2ms, 4ms
			continue
		}
		return fmt.Errorf("UART %s drain failed: %w", operation, err)
	}
	return fmt.Errorf("UART %s drain failed after %d retries", operation, maxRetries)
}
