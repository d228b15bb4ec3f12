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

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	got, err := Encode(nil, []byte{0x40, 0x00, 0x12, 0x34})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xFF, 0x00, 0x04, 0xFC, 0x40, 0x00, 0x12, 0x34, 0x7A, 0x00}, got)

	_, err = Encode(nil, make([]byte, MaxDataLength+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestParse(t *testing.T) {
	t.Parallel()

	valid, err := Encode(nil, []byte("coap"))
	require.NoError(t, err)
	badDCS := bytes.Clone(valid)
	badDCS[len(badDCS)-2]++
	badLCS := bytes.Clone(valid)
	badLCS[4]++
	badPost := bytes.Clone(valid)
	badPost[len(badPost)-1] = 0x55

	tests := []struct {
		wantErr  error
		name     string
		buf      []byte
		wantData []byte
		wantN    int
	}{
		{name: "Valid", buf: valid, wantData: []byte("coap"), wantN: len(valid)},
		{name: "LeadingGarbage", buf: append([]byte{0x55, 0x12}, valid...), wantData: []byte("coap"), wantN: len(valid) + 2},
		{name: "OnlyGarbage", buf: []byte{0x55, 0x12}, wantErr: ErrIncomplete, wantN: 2},
		{name: "TrailingPreambleKept", buf: []byte{0x55, 0x00}, wantErr: ErrIncomplete, wantN: 1},
		{name: "PartialHeader", buf: []byte{0x01, 0x00, 0xFF, 0x00}, wantErr: ErrIncomplete, wantN: 1},
		{name: "PartialData", buf: valid[:len(valid)-1], wantErr: ErrIncomplete, wantN: 0},
		{name: "BadDataChecksum", buf: badDCS, wantErr: ErrChecksumMismatch, wantN: 1},
		{name: "BadLengthChecksum", buf: badLCS, wantErr: ErrChecksumMismatch, wantN: 1},
		{name: "BadPostamble", buf: badPost, wantErr: ErrFrameCorrupted, wantN: 1},
		{name: "TooLong", buf: []byte{0x00, 0xFF, 0x10, 0x00, 0xF0}, wantErr: ErrFrameTooLarge, wantN: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, n, err := Parse(tt.buf)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantData, data)
			assert.Equal(t, tt.wantN, n)
		})
	}
}

func TestDecoder_Reassembles(t *testing.T) {
	t.Parallel()

	var stream []byte
	want := [][]byte{[]byte("first"), bytes.Repeat([]byte{0xFF, 0x00}, 600), []byte("third")}
	for i, data := range want {
		if i == 1 {
			stream = append(stream, 0xAA, 0x00, 0x00) // line noise
		}
		var err error
		stream, err = Encode(stream, data)
		require.NoError(t, err)
	}

	d := NewDecoder()
	dst := make([]byte, MaxDataLength)
	var got [][]byte
	for i := 0; i < len(stream); i += 7 {
		_, _ = d.Write(stream[i:min(i+7, len(stream))])
		for {
			n, err := d.Next(dst)
			if err != nil {
				require.ErrorIs(t, err, ErrIncomplete)
				break
			}
			got = append(got, bytes.Clone(dst[:n]))
		}
	}
	assert.Equal(t, want, got)
	assert.Zero(t, d.Buffered())
	assert.Equal(t, 3, d.Dropped())
}

func TestDecoder_SkipsCorruptFrame(t *testing.T) {
	t.Parallel()

	bad, err := Encode(nil, []byte("bad"))
	require.NoError(t, err)
	bad[len(bad)-2] ^= 0x01
	stream, err := Encode(bad, []byte("good"))
	require.NoError(t, err)

	d := NewDecoder()
	_, _ = d.Write(stream)
	dst := make([]byte, 16)
	_, err = d.Next(dst)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	var n int
	for {
		n, err = d.Next(dst)
		if err == nil {
			break
		}
		require.ErrorIs(t, err, ErrIncomplete)
	}
	assert.Equal(t, "good", string(dst[:n]))
}

func TestDecoder_FrameLargerThanBuffer(t *testing.T) {
	t.Parallel()

	stream, err := Encode(nil, make([]byte, 32))
	require.NoError(t, err)
	d := NewDecoder()
	_, _ = d.Write(stream)
	_, err = d.Next(make([]byte, 8))
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, d.Buffered())

	d.Reset()
	_, err = d.Next(make([]byte, 8))
	require.ErrorIs(t, err, ErrIncomplete)
}

func TestBufferPool(t *testing.T) {
	t.Parallel()

	p := NewBufferPool()
	for _, size := range []int{1, SmallBufferSize, 100, FrameBufferSize, FrameBufferSize + 1} {
		buf := p.GetBuffer(size)
		require.Len(t, buf, size)
		buf[0] = 0xAA
		p.PutBuffer(buf)
	}
	p.PutBuffer(nil)
}
