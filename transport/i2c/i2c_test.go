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

package i2c

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-coapchannel/internal/frame"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer answers reads with a status byte and the head of its queue. A
// frame leaves the queue once a read covered all of it.
type fakePeer struct {
	txErr   error
	queue   [][]byte
	written [][]byte
	reads   int
}

func (p *fakePeer) Tx(w, r []byte) error {
	if p.txErr != nil {
		return p.txErr
	}
	if len(w) > 0 && len(r) > 0 {
		return errors.New("combined transaction")
	}
	if len(w) > 0 {
		p.written = append(p.written, bytes.Clone(w))
		return nil
	}
	p.reads++
	clear(r)
	if len(p.queue) == 0 {
		return nil
	}
	r[0] = statusReady
	n := copy(r[1:], p.queue[0])
	if n == len(p.queue[0]) {
		p.queue = p.queue[1:]
	}
	return nil
}

func encode(t *testing.T, data []byte) []byte {
	t.Helper()
	out, err := frame.Encode(nil, data)
	require.NoError(t, err)
	return out
}

func TestParsePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path    string
		bus     string
		addr    uint16
		wantErr bool
	}{
		{path: "/dev/i2c-1", bus: "/dev/i2c-1", addr: DefaultAddr},
		{path: "/dev/i2c-1:0x48", bus: "/dev/i2c-1", addr: 0x48},
		{path: "I2C1:36", bus: "I2C1", addr: 36},
		{path: "/dev/i2c-1:0x80", wantErr: true},
		{path: "/dev/i2c-1:zz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			bus, addr, err := parsePath(tt.path)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBadAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bus, bus)
			assert.Equal(t, tt.addr, addr)
		})
	}
}

func TestLink_WriteFrame(t *testing.T) {
	t.Parallel()

	peer := &fakePeer{}
	l := NewLink(peer, "test", clockwork.NewFakeClock())
	require.NoError(t, l.WriteFrame([]byte{0x40, 0x00, 0x12, 0x34}))
	require.Len(t, peer.written, 1)
	assert.Equal(t, encode(t, []byte{0x40, 0x00, 0x12, 0x34}), peer.written[0])

	require.ErrorIs(t, l.WriteFrame(make([]byte, frame.MaxDataLength+1)), frame.ErrFrameTooLarge)
}

func TestLink_ReadFrame(t *testing.T) {
	t.Parallel()

	badDCS := encode(t, []byte("broken"))
	badDCS[len(badDCS)-2] ^= 0xFF
	long := bytes.Repeat([]byte{0x5A}, frame.MaxDataLength)
	peer := &fakePeer{queue: [][]byte{
		encode(t, []byte("hello")),
		badDCS,
		encode(t, long),
	}}
	l := NewLink(peer, "test", clockwork.NewFakeClock())

	buf := make([]byte, frame.MaxDataLength)
	n, err := l.ReadFrame(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	n, err = l.ReadFrame(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, long, buf[:n])
	assert.Equal(t, 1, l.Corrupted())
	assert.Empty(t, peer.queue)
}

func TestLink_ReadFramePollsUntilCancelled(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	peer := &fakePeer{}
	l := NewLink(peer, "test", clock)
	l.SetPollInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.ReadFrame(ctx, make([]byte, 64))
		done <- err
	}()
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Millisecond)
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, peer.reads, 2)
}

func TestLink_ReadFrameBufferTooSmall(t *testing.T) {
	t.Parallel()

	peer := &fakePeer{queue: [][]byte{encode(t, []byte("too long")), encode(t, []byte("ok"))}}
	l := NewLink(peer, "test", clockwork.NewFakeClock())

	buf := make([]byte, 4)
	n, err := l.ReadFrame(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:n]))
	assert.Equal(t, 1, l.Corrupted())
}

func TestLink_TxError(t *testing.T) {
	t.Parallel()

	peer := &fakePeer{txErr: errors.New("bus stuck")}
	l := NewLink(peer, "test", clockwork.NewFakeClock())
	_, err := l.ReadFrame(context.Background(), make([]byte, 16))
	require.ErrorContains(t, err, "bus stuck")
	require.ErrorContains(t, l.WriteFrame([]byte{1}), "bus stuck")
	require.NoError(t, l.Close())
}
