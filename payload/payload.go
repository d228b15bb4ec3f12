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

package payload

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/spf13/afero"
)

// Payload is a seekable byte buffer of up to MaxSize bytes. Bytes
// [0, min(size, RAMCap)) live in memory, the rest in a spill file created
// on the first write past RAMCap.
//
// A Payload is not safe for concurrent use. It is reference counted: the
// spill file is removed when the last reference is released.
type Payload struct {
	store    *Store
	file     afero.File
	fileName string
	ram      []byte
	size     int
	pos      int
	refs     atomic.Int32
}

var _ io.ReadWriteSeeker = (*Payload)(nil)

// Read reads from the current position. It returns io.EOF at the end of the
// payload and ErrBadData if the spill file holds fewer bytes than the
// payload size says it should.
func (p *Payload) Read(b []byte) (int, error) {
	if p.refs.Load() <= 0 {
		return 0, ErrReleased
	}
	if len(b) == 0 {
		return 0, nil
	}
	if p.pos >= p.size {
		return 0, io.EOF
	}
	n := min(len(b), p.size-p.pos)
	done := 0
	if p.pos < len(p.ram) {
		done = copy(b[:n], p.ram[p.pos:])
	}
	if done < n {
		off := int64(p.pos + done - p.store.ramCap)
		got, err := p.store.readAt(p.file, b[done:n], off)
		if got != n-done {
			if err != nil && !errors.Is(err, io.EOF) {
				return done, fmt.Errorf("%w: read %s: %w", ErrFilesystem, p.fileName, err)
			}
			return done, fmt.Errorf("%w: read %d of %d bytes from %s", ErrBadData, got, n-done, p.fileName)
		}
	}
	p.pos += n
	return n, nil
}

// Peek reads from the current position without advancing it.
func (p *Payload) Peek(b []byte) (int, error) {
	pos := p.pos
	n, err := p.Read(b)
	p.pos = pos
	return n, err
}

// Write writes at the current position, extending the payload as needed.
func (p *Payload) Write(b []byte) (int, error) {
	if p.refs.Load() <= 0 {
		return 0, ErrReleased
	}
	if len(b) == 0 {
		return 0, nil
	}
	end := p.pos + len(b)
	if end > MaxSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, end)
	}
	ramCap := p.store.ramCap
	done := 0
	if p.pos < ramCap {
		ramEnd := min(end, ramCap)
		p.growRAM(ramEnd)
		done = copy(p.ram[p.pos:ramEnd], b)
	}
	if done < len(b) {
		if err := p.ensureFile(); err != nil {
			p.advance(done)
			return done, err
		}
		off := int64(p.pos + done - ramCap)
		n, err := p.store.writeAt(p.file, b[done:], off)
		done += n
		if err != nil {
			p.advance(done)
			return done, fmt.Errorf("%w: write %s: %w", ErrFilesystem, p.fileName, err)
		}
	}
	p.advance(done)
	return done, nil
}

// WriteString writes s at the current position.
func (p *Payload) WriteString(s string) (int, error) {
	return p.Write([]byte(s))
}

func (p *Payload) advance(n int) {
	p.pos += n
	if p.pos > p.size {
		p.size = p.pos
	}
}

// SetSize truncates or zero-extends the payload. The position is clamped to
// the new size. Setting the current size again only clamps the position.
func (p *Payload) SetSize(n int) error {
	if p.refs.Load() <= 0 {
		return ErrReleased
	}
	if n < 0 {
		return ErrInvalidSize
	}
	if n > MaxSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	if n != p.size {
		ramCap := p.store.ramCap
		ramLen := min(n, ramCap)
		if ramLen > len(p.ram) {
			p.growRAM(ramLen)
		} else {
			p.ram = p.ram[:ramLen]
		}
		switch {
		case n > ramCap:
			if err := p.ensureFile(); err != nil {
				return err
			}
			if err := p.store.truncate(p.file, int64(n-ramCap)); err != nil {
				return fmt.Errorf("%w: truncate %s: %w", ErrFilesystem, p.fileName, err)
			}
		case p.file != nil:
			if err := p.store.truncate(p.file, 0); err != nil {
				return fmt.Errorf("%w: truncate %s: %w", ErrFilesystem, p.fileName, err)
			}
		}
		p.size = n
	}
	p.pos = min(p.pos, n)
	return nil
}

// Size returns the payload length.
func (p *Payload) Size() int {
	return p.size
}

// SetPos moves the position, clamped to [0, Size()], and returns the
// effective position.
func (p *Payload) SetPos(pos int) int {
	p.pos = max(0, min(pos, p.size))
	return p.pos
}

// Pos returns the current position.
func (p *Payload) Pos() int {
	return p.pos
}

// Seek implements io.Seeker. Positions past the end are clamped to Size().
func (p *Payload) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(p.pos) + offset
	case io.SeekEnd:
		abs = int64(p.size) + offset
	default:
		return int64(p.pos), fmt.Errorf("payload seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return int64(p.pos), fmt.Errorf("payload seek: negative position %d", abs)
	}
	if abs > MaxSize {
		abs = MaxSize
	}
	return int64(p.SetPos(int(abs))), nil
}

// HasFile reports whether the payload has spilled to a file.
func (p *Payload) HasFile() bool {
	return p.file != nil
}

// Retain adds a reference and returns p.
func (p *Payload) Retain() *Payload {
	p.refs.Add(1)
	return p
}

// Release drops a reference. The last release removes the spill file.
func (p *Payload) Release() error {
	refs := p.refs.Add(-1)
	if refs > 0 {
		return nil
	}
	if refs < 0 {
		return ErrReleased
	}
	p.ram = nil
	p.size = 0
	p.pos = 0
	if p.file == nil {
		return nil
	}
	f, name := p.file, p.fileName
	p.file = nil
	return p.store.removeFile(f, name)
}

// growRAM makes the in-memory part n bytes long, zero-filling new bytes.
// Capacity grows by half again, starting at 128 bytes and capped at RAMCap.
func (p *Payload) growRAM(n int) {
	if n <= len(p.ram) {
		return
	}
	old := len(p.ram)
	if n > cap(p.ram) {
		newCap := max(cap(p.ram)*3/2, n, initialCapacity)
		newCap = min(newCap, p.store.ramCap)
		buf := make([]byte, old, newCap)
		copy(buf, p.ram)
		p.ram = buf
	}
	p.ram = p.ram[:n]
	clear(p.ram[old:])
}

func (p *Payload) ensureFile() error {
	if p.file != nil {
		return nil
	}
	f, name, err := p.store.createFile()
	if err != nil {
		return err
	}
	p.file = f
	p.fileName = name
	return nil
}
