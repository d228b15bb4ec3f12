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

// Package frame implements the byte framing that carries one CoAP message
// per frame over serial and SPI links:
//
//	00 FF LENH LENL LCS DATA... DCS 00
//
// LCS makes LENH+LENL+LCS sum to zero and DCS does the same for the data.
package frame

const (
	Preamble  = 0x00 // Frame preamble byte
	StartCode = 0xFF // Start code byte
	Postamble = 0x00 // Frame postamble byte
)

const (
	// HeaderSize is preamble, start code, both length bytes and LCS.
	HeaderSize = 5
	// TrailerSize is DCS and postamble.
	TrailerSize = 2
	// Overhead is the number of framing bytes around the data.
	Overhead = HeaderSize + TrailerSize
	// MaxDataLength bounds the data of one frame.
	MaxDataLength = 2048
	// MaxFrameSize is the largest encoded frame.
	MaxFrameSize = MaxDataLength + Overhead
)
