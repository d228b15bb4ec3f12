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
	"bytes"
	"io"
	"math/rand"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s := NewStore(fs)
	require.NoError(t, s.InitTempDir())
	return s, fs
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func readAll(t *testing.T, p *Payload) []byte {
	t.Helper()
	p.SetPos(0)
	out, err := io.ReadAll(p)
	require.NoError(t, err)
	return out
}

func TestPayload_InMemoryOnly(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	p := s.New()
	n, err := p.WriteString("hello")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, p.Size())
	assert.Equal(t, 5, p.Pos())
	assert.False(t, p.HasFile())

	buf := make([]byte, 8)
	_, err = p.Read(buf)
	require.ErrorIs(t, err, io.EOF)

	assert.Equal(t, []byte("hello"), readAll(t, p))
	require.NoError(t, p.Release())
}

// Writing a full payload in 4 KiB chunks creates exactly one spill file and
// reads back unchanged.
func TestPayload_LargeChunkedWrite(t *testing.T) {
	t.Parallel()
	s, fs := newTestStore(t)

	data := pattern(MaxSize)
	p := s.New()
	for off := 0; off < len(data); off += 4096 {
		end := min(off+4096, len(data))
		n, err := p.Write(data[off:end])
		require.NoError(t, err)
		require.Equal(t, end-off, n)
		if off == 0 {
			assert.Equal(t, 1, s.OpenFiles(), "file created once writes pass the RAM cap")
		}
	}
	assert.Equal(t, 1, s.OpenFiles())
	assert.Equal(t, MaxSize, p.Size())

	entries, err := afero.ReadDir(fs, DefaultTempDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p1", entries[0].Name())

	_, err = p.Write([]byte{1})
	require.ErrorIs(t, err, ErrTooLarge)

	assert.Equal(t, data, readAll(t, p))

	require.NoError(t, p.Release())
	assert.Equal(t, 0, s.OpenFiles())
	entries, err = afero.ReadDir(fs, DefaultTempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// A 20000-byte body is cut off at MaxSize; everything accepted reads back.
func TestPayload_TwentyThousandBytes(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	s := NewStore(fs, WithRAMCap(1024))
	require.NoError(t, s.InitTempDir())

	data := pattern(20000)
	p := s.New()
	written := 0
	var werr error
	for off := 0; off < len(data) && werr == nil; off += 4096 {
		var n int
		n, werr = p.Write(data[off:min(off+4096, len(data))])
		written += n
	}
	require.ErrorIs(t, werr, ErrTooLarge)
	assert.Equal(t, 16384, written)
	assert.Equal(t, 1, s.OpenFiles())
	assert.Equal(t, data[:written], readAll(t, p))
}

func TestPayload_CrossBoundaryReadWrite(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	p := s.New()
	_, err := p.Write(pattern(1000))
	require.NoError(t, err)
	assert.False(t, p.HasFile())

	// Straddles the 1024-byte boundary.
	_, err = p.Write(bytes.Repeat([]byte{0xEE}, 100))
	require.NoError(t, err)
	assert.True(t, p.HasFile())
	assert.Equal(t, 1100, p.Size())

	p.SetPos(1020)
	buf := make([]byte, 8)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, bytes.Repeat([]byte{0xEE}, 8), buf)

	// Overwrite in the middle does not grow the payload.
	p.SetPos(500)
	_, err = p.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 1100, p.Size())
	assert.Equal(t, 503, p.Pos())
}

func TestPayload_SetSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		initial  int
		pos      int
		newSize  int
		wantPos  int
		wantFile bool
	}{
		{name: "Shrink_In_RAM", initial: 800, pos: 800, newSize: 100, wantPos: 100},
		{name: "Grow_In_RAM", initial: 10, pos: 5, newSize: 600, wantPos: 5},
		{name: "Grow_Into_File", initial: 10, pos: 10, newSize: 3000, wantPos: 10, wantFile: true},
		{name: "Shrink_Out_Of_File", initial: 3000, pos: 2500, newSize: 1024, wantPos: 1024, wantFile: true},
		{name: "Shrink_To_Zero", initial: 3000, pos: 3000, newSize: 0, wantPos: 0, wantFile: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newTestStore(t)
			p := s.New()
			data := pattern(tt.initial)
			_, err := p.Write(data)
			require.NoError(t, err)
			p.SetPos(tt.pos)

			require.NoError(t, p.SetSize(tt.newSize))
			assert.Equal(t, tt.newSize, p.Size())
			assert.Equal(t, tt.wantPos, p.Pos())
			assert.Equal(t, tt.wantFile, p.HasFile())

			want := make([]byte, tt.newSize)
			copy(want, data)
			assert.Equal(t, want, readAll(t, p), "kept bytes preserved, new bytes zero")
		})
	}
}

func TestPayload_SetSizeIdempotent(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	p := s.New()
	_, err := p.Write(pattern(2000))
	require.NoError(t, err)
	p.SetPos(1500)

	require.NoError(t, p.SetSize(1800))
	size, pos := p.Size(), p.Pos()
	require.NoError(t, p.SetSize(1800))
	assert.Equal(t, size, p.Size())
	assert.Equal(t, pos, p.Pos())

	require.ErrorIs(t, p.SetSize(MaxSize+1), ErrTooLarge)
	require.ErrorIs(t, p.SetSize(-1), ErrInvalidSize)
	assert.Equal(t, 1800, p.Size())
}

func TestPayload_ShrinkThenGrowZeroFills(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	p := s.New()
	_, err := p.Write(bytes.Repeat([]byte{0xAA}, 1500))
	require.NoError(t, err)
	require.NoError(t, p.SetSize(10))
	require.NoError(t, p.SetSize(1500))

	got := readAll(t, p)
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 10), got[:10])
	assert.Equal(t, make([]byte, 1490), got[10:])
}

// Property: after any sequence of operations the payload matches a plain
// byte slice model and 0 <= pos <= size <= MaxSize holds.
func TestPayload_RandomOperationsMatchModel(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	rng := rand.New(rand.NewSource(42))

	p := s.New()
	var model []byte
	pos := 0
	for i := range 500 {
		switch rng.Intn(3) {
		case 0:
			chunk := make([]byte, rng.Intn(900))
			rng.Read(chunk)
			n, err := p.Write(chunk)
			if pos+len(chunk) > MaxSize {
				require.ErrorIs(t, err, ErrTooLarge, "step %d", i)
				continue
			}
			require.NoError(t, err, "step %d", i)
			require.Equal(t, len(chunk), n)
			if end := pos + len(chunk); end > len(model) {
				model = append(model, make([]byte, end-len(model))...)
			}
			copy(model[pos:], chunk)
			pos += len(chunk)
		case 1:
			size := rng.Intn(MaxSize + 1)
			require.NoError(t, p.SetSize(size), "step %d", i)
			if size > len(model) {
				model = append(model, make([]byte, size-len(model))...)
			}
			model = model[:size]
			pos = min(pos, size)
		case 2:
			want := rng.Intn(MaxSize+200) - 100
			pos = max(0, min(want, len(model)))
			require.Equal(t, pos, p.SetPos(want))
		}
		require.Equal(t, len(model), p.Size(), "step %d", i)
		require.Equal(t, pos, p.Pos(), "step %d", i)
		require.LessOrEqual(t, p.Size(), MaxSize)
	}

	assert.Equal(t, model, readAll(t, p))
}

func TestPayload_TamperedFileIsBadData(t *testing.T) {
	t.Parallel()
	s, fs := newTestStore(t)

	p := s.New()
	_, err := p.Write(pattern(2000))
	require.NoError(t, err)

	f, err := fs.OpenFile(DefaultTempDir+"/p1", os.O_RDWR, 0)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(10))
	require.NoError(t, f.Close())

	p.SetPos(0)
	buf := make([]byte, 2000)
	_, err = p.Read(buf)
	require.ErrorIs(t, err, ErrBadData)
}

func TestPayload_PeekAndSeek(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	p := s.New()
	_, err := p.WriteString("0123456789")
	require.NoError(t, err)

	off, err := p.Seek(-4, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), off)

	buf := make([]byte, 2)
	_, err = p.Peek(buf)
	require.NoError(t, err)
	assert.Equal(t, "67", string(buf))
	assert.Equal(t, 6, p.Pos())

	off, err = p.Seek(100, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(10), off)

	_, err = p.Seek(-1, io.SeekStart)
	require.Error(t, err)
	_, err = p.Seek(0, 42)
	require.Error(t, err)
}

func TestPayload_RefCounting(t *testing.T) {
	t.Parallel()
	s, fs := newTestStore(t)

	p := s.New()
	_, err := p.Write(pattern(3000))
	require.NoError(t, err)
	p.Retain()

	require.NoError(t, p.Release())
	exists, err := afero.Exists(fs, DefaultTempDir+"/p1")
	require.NoError(t, err)
	assert.True(t, exists, "file kept while a reference remains")

	require.NoError(t, p.Release())
	exists, err = afero.Exists(fs, DefaultTempDir+"/p1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.ErrorIs(t, p.Release(), ErrReleased)
	_, err = p.Write([]byte{1})
	require.ErrorIs(t, err, ErrReleased)
}

func TestStore_InitTempDirWipesLeftovers(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(DefaultTempDir, 0o700))
	require.NoError(t, afero.WriteFile(fs, DefaultTempDir+"/p7", []byte("stale"), 0o600))

	s := NewStore(fs)
	require.NoError(t, s.InitTempDir())

	entries, err := afero.ReadDir(fs, DefaultTempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_SequentialFileNames(t *testing.T) {
	t.Parallel()
	s, fs := newTestStore(t)

	a, b := s.New(), s.New()
	_, err := a.Write(pattern(1100))
	require.NoError(t, err)
	_, err = b.Write(pattern(1100))
	require.NoError(t, err)

	for _, name := range []string{"p1", "p2"} {
		exists, err := afero.Exists(fs, DefaultTempDir+"/"+name)
		require.NoError(t, err)
		assert.True(t, exists, name)
	}
	assert.Equal(t, 2, s.OpenFiles())
}

func TestStore_PathTooLong(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	s := NewStore(fs, WithTempDir("/"+strings.Repeat("d", MaxPathLength)))
	require.NoError(t, s.InitTempDir())

	p := s.New()
	n, err := p.Write(pattern(1500))
	require.ErrorIs(t, err, ErrPathTooLong)
	assert.Equal(t, DefaultRAMCap, n, "RAM part is still written")
	assert.Equal(t, DefaultRAMCap, p.Size())
}
