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

import "fmt"

// ValidateHeader checks the frame header at the start of buf and returns
// the data length it announces.
func ValidateHeader(buf []byte) (dataLen int, err error) {
	if len(buf) < HeaderSize {
		return 0, ErrIncomplete
	}
	if buf[0] != Preamble || buf[1] != StartCode {
		return 0, ErrFrameCorrupted
	}
	// LENH + LENL + LCS must sum to zero
	if buf[2]+buf[3]+buf[4] != 0 {
		return 0, ErrChecksumMismatch
	}
	dataLen = int(buf[2])<<8 | int(buf[3])
	if dataLen > MaxDataLength {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, dataLen)
	}
	return dataLen, nil
}

// ValidChecksum reports whether buf[start:end], data followed by its DCS,
// sums to zero. Out of range bounds are never valid.
func ValidChecksum(buf []byte, start, end int) bool {
	if start < 0 || end < 0 || start > end || end > len(buf) {
		return false
	}
	return CalculateChecksum(buf[start:end]) == 0
}
