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

// Package codec encodes and decodes CoAP messages (RFC 7252) to and from a
// caller-provided byte buffer without allocating.
package codec

import (
	"fmt"
	"strings"

	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// Wire format constants
const (
	Version          = 1
	HeaderSize       = 4
	MaxTokenSize     = 8
	PayloadMarker    = 0xFF
	MaxUintValueSize = 4

	// Option delta/length nibble extensions
	extByteNibble  = 13
	extWordNibble  = 14
	reservedNibble = 15
	extByteBase    = 13
	extWordBase    = 269
	maxOptionValue = 0xFFFF + extWordBase
)

// Codes missing from the plgd code table.
const (
	CodeContinue                codes.Code = 2<<5 | 31 // 2.31
	CodeRequestEntityIncomplete codes.Code = 4<<5 | 8  // 4.08
)

// Type is the CoAP message type.
type Type uint8

// Message types
const (
	Confirmable     Type = 0
	NonConfirmable  Type = 1
	Acknowledgement Type = 2
	Reset           Type = 3
)

func (t Type) String() string {
	switch t {
	case Confirmable:
		return "CON"
	case NonConfirmable:
		return "NON"
	case Acknowledgement:
		return "ACK"
	case Reset:
		return "RST"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// CodeClass returns the class digit of a code (the "2" in 2.05).
func CodeClass(c codes.Code) int {
	return int(c) >> 5
}

// CodeDetail returns the detail digits of a code (the "05" in 2.05).
func CodeDetail(c codes.Code) int {
	return int(c) & 0x1F
}

// IsRequest reports whether c is a method code.
func IsRequest(c codes.Code) bool {
	return c != codes.Empty && CodeClass(c) == 0
}

// IsResponse reports whether c is a response code.
func IsResponse(c codes.Code) bool {
	class := CodeClass(c)
	return class >= 2 && class <= 5
}

// FormatCode renders a code as "c.dd", falling back to plgd's names for
// codes that it knows about.
func FormatCode(c codes.Code) string {
	switch c {
	case CodeContinue:
		return "Continue"
	case CodeRequestEntityIncomplete:
		return "RequestEntityIncomplete"
	}
	if s := c.String(); !strings.HasPrefix(s, "Code(") {
		return s
	}
	return fmt.Sprintf("%d.%02d", CodeClass(c), CodeDetail(c))
}
