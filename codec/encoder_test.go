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

import (
	"bytes"
	"testing"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	udp "github.com/plgd-dev/go-coap/v2/udp/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoder_PostWithUintOption(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 64)
	enc := NewEncoder(buf)
	require.NoError(t, enc.Header(Confirmable, codes.POST, 0x1234, []byte{0xAB}))
	require.NoError(t, enc.Option(11, []byte("E")))
	require.NoError(t, enc.Option(11, []byte("temp")))
	require.NoError(t, enc.UintOption(12, 42))
	require.NoError(t, enc.Payload([]byte("23.5")))

	want := []byte{
		0x41, 0x02, 0x12, 0x34, // ver 1, CON, tkl 1, POST, id
		0xAB,                   // token
		0xB1, 'E', // Uri-Path, delta 11
		0x04, 't', 'e', 'm', 'p', // Uri-Path, delta 0
		0x11, 42, // Content-Format, delta 1, one byte
		0xFF, '2', '3', '.', '5',
	}
	assert.Equal(t, want, enc.Bytes())
}

func TestEncoder_ExtendedOptionNibbles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		wantStart []byte
		value     []byte
		num       uint16
	}{
		{
			name:      "Delta_13_Extension",
			num:       27,
			value:     []byte{0x06},
			wantStart: []byte{0xD1, 27 - 13},
		},
		{
			name:      "Delta_14_Extension",
			num:       292,
			value:     []byte{0x01},
			wantStart: []byte{0xE1, 0x00, 292 - 269},
		},
		{
			name:      "Length_13_Extension",
			num:       11,
			value:     bytes.Repeat([]byte{'a'}, 20),
			wantStart: []byte{0xBD, 20 - 13},
		},
		{
			name:      "Length_14_Extension",
			num:       11,
			value:     bytes.Repeat([]byte{'a'}, 300),
			wantStart: []byte{0xBE, 0x00, 300 - 269},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			enc := NewEncoder(make([]byte, 512))
			require.NoError(t, enc.Header(NonConfirmable, codes.GET, 1, nil))
			require.NoError(t, enc.Option(tt.num, tt.value))

			got := enc.Bytes()[HeaderSize:]
			assert.Equal(t, tt.wantStart, got[:len(tt.wantStart)])
			assert.Equal(t, tt.value, got[len(tt.wantStart):])
		})
	}
}

func TestEncoder_Errors(t *testing.T) {
	t.Parallel()

	t.Run("Option_Before_Header", func(t *testing.T) {
		t.Parallel()
		enc := NewEncoder(make([]byte, 16))
		require.ErrorIs(t, enc.Option(11, nil), ErrNoHeader)
	})

	t.Run("Header_Twice", func(t *testing.T) {
		t.Parallel()
		enc := NewEncoder(make([]byte, 16))
		require.NoError(t, enc.Header(Confirmable, codes.GET, 1, nil))
		require.ErrorIs(t, enc.Header(Confirmable, codes.GET, 1, nil), ErrHeaderEncoded)
	})

	t.Run("Token_Too_Long", func(t *testing.T) {
		t.Parallel()
		enc := NewEncoder(make([]byte, 32))
		require.ErrorIs(t, enc.Header(Confirmable, codes.GET, 1, make([]byte, 9)), ErrInvalidTokenLength)
	})

	t.Run("Descending_Options", func(t *testing.T) {
		t.Parallel()
		enc := NewEncoder(make([]byte, 32))
		require.NoError(t, enc.Header(Confirmable, codes.GET, 1, nil))
		require.NoError(t, enc.Option(12, nil))
		require.ErrorIs(t, enc.Option(11, nil), ErrOptionOrder)
	})

	t.Run("Option_After_Payload", func(t *testing.T) {
		t.Parallel()
		enc := NewEncoder(make([]byte, 32))
		require.NoError(t, enc.Header(Confirmable, codes.GET, 1, nil))
		require.NoError(t, enc.Payload([]byte{1}))
		require.ErrorIs(t, enc.Option(11, nil), ErrOptionOrder)
	})

	t.Run("Buffer_Exhausted", func(t *testing.T) {
		t.Parallel()
		enc := NewEncoder(make([]byte, 8))
		require.NoError(t, enc.Header(Confirmable, codes.GET, 1, nil))
		assert.Equal(t, 3, enc.PayloadRoom())
		require.ErrorIs(t, enc.Payload([]byte{1, 2, 3, 4}), ErrBufferTooSmall)
		require.NoError(t, enc.Payload([]byte{1, 2, 3}))
		assert.Equal(t, 0, enc.PayloadRoom())
		assert.Equal(t, 8, enc.Len())
	})
}

func TestEncoder_PayloadMarkerWrittenOnce(t *testing.T) {
	t.Parallel()

	enc := NewEncoder(make([]byte, 32))
	require.NoError(t, enc.Header(Confirmable, codes.PUT, 7, nil))
	require.NoError(t, enc.Payload([]byte("ab")))
	require.NoError(t, enc.Payload(nil))
	require.NoError(t, enc.Payload([]byte("cd")))

	assert.Equal(t, []byte{0x40, 0x03, 0x00, 0x07, 0xFF, 'a', 'b', 'c', 'd'}, enc.Bytes())
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 4)
	n, err := EncodeEmpty(buf, Reset, 0xBEEF)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0x70, 0x00, 0xBE, 0xEF}, buf)

	_, err = EncodeEmpty(buf[:3], Acknowledgement, 1)
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

// The encoder output must be readable by an independent CoAP implementation.
func TestEncoder_DecodedByPlgd(t *testing.T) {
	t.Parallel()

	enc := NewEncoder(make([]byte, 1152))
	token := []byte{1, 2, 3, 4}
	body := bytes.Repeat([]byte{0x5A}, 1024)
	require.NoError(t, enc.Header(Confirmable, codes.POST, 0x0102, token))
	require.NoError(t, enc.Option(uint16(message.URIPath), []byte("E")))
	require.NoError(t, enc.Option(uint16(message.URIPath), []byte("name")))
	require.NoError(t, enc.UintOption(uint16(message.ContentFormat), 0))
	require.NoError(t, enc.UintOption(uint16(message.Block1), Block{Num: 3, More: true, SZX: 6}.Value()))
	require.NoError(t, enc.Payload(body))

	m := udp.Message{Options: make(message.Options, 0, 16)}
	_, err := m.Unmarshal(enc.Bytes())
	require.NoError(t, err)

	assert.Equal(t, udp.Confirmable, m.Type)
	assert.Equal(t, codes.POST, m.Code)
	assert.Equal(t, uint16(0x0102), m.MessageID)
	assert.Equal(t, message.Token(token), m.Token)
	assert.Equal(t, body, m.Payload)

	var segments []string
	for _, opt := range m.Options {
		if opt.ID == message.URIPath {
			segments = append(segments, string(opt.Value))
		}
	}
	assert.Equal(t, []string{"E", "name"}, segments)

	block, err := m.Options.GetUint32(message.Block1)
	require.NoError(t, err)
	assert.Equal(t, uint32(3<<4|0x08|6), block)
}
