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

package frame

import (
	"bytes"
	"errors"
	"fmt"
)

var startMarker = []byte{Preamble, StartCode}

// Encode appends the frame carrying data to dst.
func Encode(dst, data []byte) ([]byte, error) {
	if len(data) > MaxDataLength {
		return dst, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	n := len(data)
	dst = append(dst, Preamble, StartCode, byte(n>>8), byte(n), LengthChecksum(n))
	dst = append(dst, data...)
	return append(dst, ^CalculateChecksum(data)+1, Postamble), nil
}

// Parse looks for the first frame in buf. On success it returns the frame
// data, which aliases buf, and the number of bytes up to the end of the
// frame. Otherwise n is the number of leading bytes that can never be part
// of a frame: garbage before a start marker, or the first byte of a corrupt
// frame so that the caller resynchronizes on the next marker. ErrIncomplete
// means the rest of buf may still become a frame.
func Parse(buf []byte) (data []byte, n int, err error) {
	start := bytes.Index(buf, startMarker)
	if start < 0 {
		// a trailing preamble may begin the next frame
		skip := len(buf)
		if skip > 0 && buf[skip-1] == Preamble {
			skip--
		}
		return nil, skip, ErrIncomplete
	}

	dataLen, err := ValidateHeader(buf[start:])
	switch {
	case errors.Is(err, ErrIncomplete):
		return nil, start, ErrIncomplete
	case err != nil:
		return nil, start + 1, err
	}

	body := start + HeaderSize
	end := body + dataLen + TrailerSize
	if len(buf) < end {
		return nil, start, ErrIncomplete
	}
	if !ValidChecksum(buf, body, body+dataLen+1) {
		return nil, start + 1, ErrChecksumMismatch
	}
	if buf[end-1] != Postamble {
		return nil, start + 1, ErrFrameCorrupted
	}
	return buf[body : body+dataLen], end, nil
}

// Decoder reassembles frames from a byte stream that may deliver them in
// arbitrary pieces.
type Decoder struct {
	buf     []byte
	dropped int
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, MaxFrameSize)}
}

// Write buffers stream bytes. It never fails; input beyond two maximum
// frames without a complete frame is discarded from the front.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	if excess := len(d.buf) - 2*MaxFrameSize; excess > 0 {
		d.consume(excess)
		d.dropped += excess
	}
	return len(p), nil
}

// Next copies the data of the next complete frame into dst. It returns
// ErrIncomplete when more input is needed. A corrupt frame is skipped and
// reported once; calling Next again continues after it.
func (d *Decoder) Next(dst []byte) (int, error) {
	data, n, err := Parse(d.buf)
	if err == nil {
		if len(data) > len(dst) {
			d.consume(n)
			d.dropped += n
			return 0, fmt.Errorf("%w: %d byte frame for %d byte buffer", ErrFrameTooLarge, len(data), len(dst))
		}
		copied := copy(dst, data)
		d.consume(n)
		return copied, nil
	}
	d.consume(n)
	d.dropped += n
	return 0, err
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Dropped returns the number of bytes discarded while resynchronizing.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Reset discards buffered input.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

func (d *Decoder) consume(n int) {
	d.buf = d.buf[:copy(d.buf, d.buf[n:])]
}
