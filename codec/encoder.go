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

package codec

import (
	"encoding/binary"

	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// Encoder writes a single CoAP message into a fixed buffer. The header must
// be written first, then options in non-decreasing number order, then the
// payload. An Encoder never grows its buffer.
type Encoder struct {
	buf        []byte
	n          int
	lastOption uint16
	hasHeader  bool
	hasPayload bool
}

// NewEncoder returns an encoder writing into buf.
func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf}
}

// Reset discards any encoded data and starts over with buf.
func (e *Encoder) Reset(buf []byte) {
	*e = Encoder{buf: buf}
}

// Header writes the fixed header and the token.
func (e *Encoder) Header(typ Type, code codes.Code, id uint16, token []byte) error {
	if e.hasHeader {
		return ErrHeaderEncoded
	}
	if len(token) > MaxTokenSize {
		return ErrInvalidTokenLength
	}
	if len(e.buf) < HeaderSize+len(token) {
		return ErrBufferTooSmall
	}
	e.buf[0] = Version<<6 | byte(typ&0x03)<<4 | byte(len(token))
	e.buf[1] = byte(code)
	binary.BigEndian.PutUint16(e.buf[2:4], id)
	copy(e.buf[HeaderSize:], token)
	e.n = HeaderSize + len(token)
	e.hasHeader = true
	return nil
}

// Option appends an option. Numbers must not decrease.
func (e *Encoder) Option(num uint16, value []byte) error {
	if !e.hasHeader {
		return ErrNoHeader
	}
	if e.hasPayload || num < e.lastOption {
		return ErrOptionOrder
	}
	if len(value) > maxOptionValue {
		return ErrOptionTooLong
	}
	delta := int(num - e.lastOption)
	deltaNibble, deltaExt := optionNibble(delta)
	lenNibble, lenExt := optionNibble(len(value))
	size := 1 + deltaExt + lenExt + len(value)
	if e.n+size > len(e.buf) {
		return ErrBufferTooSmall
	}
	e.buf[e.n] = deltaNibble<<4 | lenNibble
	e.n++
	e.n += putOptionExt(e.buf[e.n:], delta, deltaExt)
	e.n += putOptionExt(e.buf[e.n:], len(value), lenExt)
	e.n += copy(e.buf[e.n:], value)
	e.lastOption = num
	return nil
}

// UintOption appends an option holding the minimal encoding of v.
func (e *Encoder) UintOption(num uint16, v uint32) error {
	var tmp [MaxUintValueSize]byte
	n, _ := EncodeUint(tmp[:], v)
	return e.Option(num, tmp[:n])
}

// Payload appends payload bytes. The payload marker is written before the
// first non-empty chunk; Payload may be called repeatedly.
func (e *Encoder) Payload(data []byte) error {
	if !e.hasHeader {
		return ErrNoHeader
	}
	if len(data) == 0 {
		return nil
	}
	need := len(data)
	if !e.hasPayload {
		need++
	}
	if e.n+need > len(e.buf) {
		return ErrBufferTooSmall
	}
	if !e.hasPayload {
		e.buf[e.n] = PayloadMarker
		e.n++
		e.hasPayload = true
	}
	e.n += copy(e.buf[e.n:], data)
	return nil
}

// PayloadRoom returns how many payload bytes still fit in the buffer.
func (e *Encoder) PayloadRoom() int {
	room := len(e.buf) - e.n
	if !e.hasPayload {
		room--
	}
	if room < 0 {
		return 0
	}
	return room
}

// Len returns the number of bytes encoded so far.
func (e *Encoder) Len() int {
	return e.n
}

// Bytes returns the encoded message. It aliases the encoder's buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf[:e.n]
}

// EncodeEmpty writes a 4-byte empty message (ACK or RST) into buf.
func EncodeEmpty(buf []byte, typ Type, id uint16) (int, error) {
	e := Encoder{buf: buf}
	if err := e.Header(typ, codes.Empty, id, nil); err != nil {
		return 0, err
	}
	return e.Len(), nil
}

func optionNibble(v int) (nibble byte, extLen int) {
	switch {
	case v < extByteBase:
		return byte(v), 0
	case v < extWordBase:
		return extByteNibble, 1
	default:
		return extWordNibble, 2
	}
}

func putOptionExt(buf []byte, v, extLen int) int {
	switch extLen {
	case 1:
		buf[0] = byte(v - extByteBase)
	case 2:
		binary.BigEndian.PutUint16(buf, uint16(v-extWordBase))
	}
	return extLen
}
