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

import "errors"

// Decoding errors
var (
	ErrTruncated          = errors.New("message truncated")
	ErrInvalidVersion     = errors.New("invalid protocol version")
	ErrInvalidTokenLength = errors.New("invalid token length")
	ErrInvalidOption      = errors.New("invalid option encoding")
	ErrEmptyPayload       = errors.New("payload marker without payload")
	ErrInvalidUint        = errors.New("uint option value too long")
	ErrInvalidBlock       = errors.New("invalid block option value")
)

// Encoding errors
var (
	ErrBufferTooSmall = errors.New("message buffer too small")
	ErrOptionOrder    = errors.New("options must be encoded in ascending order before the payload")
	ErrOptionTooLong  = errors.New("option value too long")
	ErrNoHeader       = errors.New("message header not encoded")
	ErrHeaderEncoded  = errors.New("message header already encoded")
)
