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

import "errors"

var (
	// ErrIncomplete means more input is needed for a whole frame.
	ErrIncomplete = errors.New("incomplete frame")
	// ErrFrameCorrupted is a frame with a bad start code or postamble.
	ErrFrameCorrupted = errors.New("frame corrupted")
	// ErrChecksumMismatch is a frame whose LCS or DCS does not match.
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	// ErrFrameTooLarge is data longer than MaxDataLength or than the
	// caller's buffer.
	ErrFrameTooLarge = errors.New("frame too large")
)
