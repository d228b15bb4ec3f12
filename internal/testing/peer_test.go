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

package testing

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualPeer_BufferExclusive(t *testing.T) {
	t.Parallel()

	p := NewVirtualPeer()
	buf, err := p.AcquireBuffer()
	require.NoError(t, err)
	assert.Len(t, buf, DefaultBufferSize)
	assert.True(t, p.Held())

	_, err = p.AcquireBuffer()
	require.ErrorIs(t, err, ErrBufferHeld)

	p.ReleaseBuffer()
	_, err = p.AcquireBuffer()
	require.NoError(t, err)
	assert.Equal(t, 2, p.Acquires())
}

func TestVirtualPeer_SendRecordsCopies(t *testing.T) {
	t.Parallel()

	p := NewVirtualPeer()
	data := BuildRequest(7, codes.POST, "/E/temp", []byte{1, 2}, []byte("23.5"))
	require.NoError(t, p.Send(data))
	data[len(data)-1] = 'X'

	require.Len(t, p.Sent, 1)
	last := p.Last()
	require.NotNil(t, last)
	assert.Equal(t, codes.POST, last.Code)
	assert.Equal(t, "E/temp", last.Path(OptURIPath))
	assert.Equal(t, []byte("23.5"), last.Payload)
	assert.True(t, p.HasCode(codes.POST))
	assert.Equal(t, 0, p.CodeCount(codes.GET))
	assert.Len(t, p.Filter(codec.Confirmable), 1)

	p.ClearSent()
	assert.Nil(t, p.Last())
}

func TestVirtualPeer_SendRejectsGarbage(t *testing.T) {
	t.Parallel()

	p := NewVirtualPeer()
	require.Error(t, p.Send([]byte{0xFF}))
	assert.Empty(t, p.Sent)
}

func TestVirtualPeer_MessageIDsAreSequential(t *testing.T) {
	t.Parallel()

	p := NewVirtualPeer()
	first := p.NextMessageID()
	assert.Equal(t, first+1, p.NextMessageID())
}

func TestVirtualPeer_Deliver(t *testing.T) {
	t.Parallel()

	p := NewVirtualPeer()
	msg := BuildAck(42)
	var got []byte
	handled, err := p.Deliver(func(data []byte) (bool, error) {
		got = bytes.Clone(data)
		assert.True(t, p.Held())
		p.ReleaseBuffer()
		return true, nil
	}, msg)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, msg, got)

	_, err = p.AcquireBuffer()
	require.NoError(t, err)
	_, err = p.Deliver(func([]byte) (bool, error) { return true, nil }, msg)
	require.ErrorIs(t, err, ErrBufferHeld)
}

func TestMessageBuilder_SortsOptions(t *testing.T) {
	t.Parallel()

	data := NewMessage(codec.Confirmable, codes.PUT, 1).
		Token([]byte{9}).
		Block1(2, true).
		Path("/a/b").
		Opaque(OptRequestTag, []byte{5}).
		Payload([]byte("x")).
		Bytes()

	msg, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "a/b", msg.Path(OptURIPath))
	b, ok, err := msg.Block(OptBlock1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(2), b.Num)
	assert.True(t, b.More)
	tag, ok := msg.Option(OptRequestTag)
	require.True(t, ok)
	assert.Equal(t, []byte{5}, tag.Value)
}

func TestBuildContinue(t *testing.T) {
	t.Parallel()

	req, err := codec.Decode(BuildRequest(3, codes.POST, "/up", []byte{1}, nil))
	require.NoError(t, err)
	msg, err := codec.Decode(BuildContinue(&req, 0))
	require.NoError(t, err)
	assert.Equal(t, codec.Acknowledgement, msg.Type)
	assert.Equal(t, codec.CodeContinue, msg.Code)
	assert.Equal(t, uint16(3), msg.ID)
	assert.Equal(t, []byte{1}, msg.Token)
}

func TestPipeLink_Delivery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       JitterConfig
		wantReads int
	}{
		{name: "clean", cfg: JitterConfig{}, wantReads: 1},
		{name: "duplicated", cfg: JitterConfig{DuplicatePercent: 100, Seed: 1}, wantReads: 2},
		{name: "dropped", cfg: JitterConfig{DropFrames: 1}, wantReads: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, b := NewLinkPair(tt.cfg)
			defer func() { _ = a.Close() }()
			require.NoError(t, a.WriteFrame([]byte("frame")))

			reads := 0
			buf := make([]byte, 16)
			for {
				ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
				n, err := b.ReadFrame(ctx, buf)
				cancel()
				if err != nil {
					require.ErrorIs(t, err, context.DeadlineExceeded)
					break
				}
				assert.Equal(t, "frame", string(buf[:n]))
				reads++
			}
			assert.Equal(t, tt.wantReads, reads)
		})
	}
}

func TestPipeLink_Close(t *testing.T) {
	t.Parallel()

	a, b := NewLinkPair(JitterConfig{})
	require.NoError(t, b.Close())
	require.ErrorIs(t, a.WriteFrame([]byte{1}), ErrLinkClosed)
	_, err := a.ReadFrame(context.Background(), make([]byte, 4))
	require.ErrorIs(t, err, ErrLinkClosed)
}

type loopback struct {
	bytes.Buffer
}

func TestJitteryStream_FragmentsWithoutLoss(t *testing.T) {
	t.Parallel()

	var backend loopback
	want := bytes.Repeat([]byte("0123456789"), 50)
	j := NewJitteryStream(&backend, JitterConfig{FragmentReads: true, Seed: 12345})
	_, err := j.Write(want)
	require.NoError(t, err)

	got := make([]byte, 0, len(want))
	buf := make([]byte, 64)
	reads := 0
	for len(got) < len(want) {
		n, err := j.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, buf[:n]...)
		reads++
	}
	assert.Equal(t, want, got)
	assert.Greater(t, reads, len(want)/len(buf))
}
