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

import "sync"

// BufferPool manages reusable byte slices for different size categories.
type BufferPool struct {
	// control frames and SPI status polls
	smallPool sync.Pool
	// frames carrying small CoAP messages
	mediumPool sync.Pool
	// anything up to a maximum frame
	framePool sync.Pool
}

// Size thresholds for buffer categories
const (
	SmallBufferSize  = 16
	MediumBufferSize = 256
	FrameBufferSize  = MaxFrameSize + 1 // SPI prefixes a command byte
)

var defaultPool = NewBufferPool()

// NewBufferPool creates a new buffer pool
func NewBufferPool() *BufferPool {
	return &BufferPool{
		smallPool:  sync.Pool{New: newBuffer(SmallBufferSize)},
		mediumPool: sync.Pool{New: newBuffer(MediumBufferSize)},
		framePool:  sync.Pool{New: newBuffer(FrameBufferSize)},
	}
}

func newBuffer(size int) func() any {
	return func() any {
		buf := make([]byte, size)
		return &buf
	}
}

// GetBuffer returns a buffer of length size. It should be returned with
// PutBuffer when done.
func (p *BufferPool) GetBuffer(size int) []byte {
	var pool *sync.Pool
	switch {
	case size <= SmallBufferSize:
		pool = &p.smallPool
	case size <= MediumBufferSize:
		pool = &p.mediumPool
	case size <= FrameBufferSize:
		pool = &p.framePool
	default:
		// oversized requests bypass the pool
		return make([]byte, size)
	}
	bufPtr, ok := pool.Get().(*[]byte)
	if !ok {
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// PutBuffer clears buf and returns it to the pool it came from. The buffer
// must not be used afterwards.
func (p *BufferPool) PutBuffer(buf []byte) {
	if buf == nil {
		return
	}
	clear(buf)

	full := buf[:cap(buf)]
	switch cap(buf) {
	case SmallBufferSize:
		p.smallPool.Put(&full)
	case MediumBufferSize:
		p.mediumPool.Put(&full)
	case FrameBufferSize:
		p.framePool.Put(&full)
	default:
		// directly allocated, let GC handle it
	}
}

// GetBuffer acquires a buffer from the default pool
func GetBuffer(size int) []byte {
	return defaultPool.GetBuffer(size)
}

// PutBuffer returns a buffer to the default pool
func PutBuffer(buf []byte) {
	defaultPool.PutBuffer(buf)
}
