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

import "fmt"

// Block option limits (RFC 7959)
const (
	MaxBlockNum  = 1<<20 - 1
	MinBlockSZX  = 0
	MaxBlockSZX  = 6
	reservedSZX  = 7
	blockMoreBit = 0x08
)

// Block is the decoded value of a Block1 or Block2 option.
type Block struct {
	Num  uint32
	More bool
	SZX  uint8
}

// Value returns the option value (num<<4 | more<<3 | szx).
func (b Block) Value() uint32 {
	v := b.Num<<4 | uint32(b.SZX&0x07)
	if b.More {
		v |= blockMoreBit
	}
	return v
}

// Size returns the block size in bytes.
func (b Block) Size() int {
	return 1 << (b.SZX + 4)
}

// Offset returns the byte offset of the block within the body.
func (b Block) Offset() int {
	return int(b.Num) * b.Size()
}

func (b Block) String() string {
	return fmt.Sprintf("%d/%t/%d", b.Num, b.More, b.Size())
}

// ParseBlock decodes a block option value.
func ParseBlock(v uint32) (Block, error) {
	szx := uint8(v & 0x07)
	if szx == reservedSZX {
		return Block{}, ErrInvalidBlock
	}
	num := v >> 4
	if num > MaxBlockNum {
		return Block{}, ErrInvalidBlock
	}
	return Block{Num: num, More: v&blockMoreBit != 0, SZX: szx}, nil
}

// SZXForSize returns the size exponent for a block size of 16..1024 bytes.
func SZXForSize(size int) (uint8, error) {
	for szx := uint8(MinBlockSZX); szx <= MaxBlockSZX; szx++ {
		if 1<<(szx+4) == size {
			return szx, nil
		}
	}
	return 0, fmt.Errorf("%w: size %d", ErrInvalidBlock, size)
}
