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

// UintLen returns the number of bytes in the minimal encoding of v.
func UintLen(v uint32) int {
	switch {
	case v == 0:
		return 0
	case v <= 0xFF:
		return 1
	case v <= 0xFFFF:
		return 2
	case v <= 0xFFFFFF:
		return 3
	default:
		return 4
	}
}

// EncodeUint writes the minimal big-endian encoding of v into buf and returns
// the number of bytes written. Zero encodes as zero bytes.
func EncodeUint(buf []byte, v uint32) (int, error) {
	n := UintLen(v)
	if len(buf) < n {
		return 0, ErrBufferTooSmall
	}
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return n, nil
}

// AppendUint appends the minimal encoding of v to dst.
func AppendUint(dst []byte, v uint32) []byte {
	var tmp [MaxUintValueSize]byte
	n, _ := EncodeUint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

// DecodeUint decodes a big-endian unsigned value of at most four bytes.
// Leading zero bytes are accepted.
func DecodeUint(data []byte) (uint32, error) {
	if len(data) > MaxUintValueSize {
		return 0, ErrInvalidUint
	}
	var v uint32
	for _, b := range data {
		v = v<<8 | uint32(b)
	}
	return v, nil
}
