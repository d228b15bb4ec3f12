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

package uart

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/ZaparooProject/go-coapchannel/internal/frame"
	testutil "github.com/ZaparooProject/go-coapchannel/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInterrupted = errors.New("read /dev/ttyUSB0: interrupted system call")

// mockPort reads from a scripted stream and records what is written.
type mockPort struct {
	io.Reader
	written   bytes.Buffer
	drainErrs []error
	drains    int
	closed    bool
}

func (m *mockPort) Write(p []byte) (int, error) {
	return m.written.Write(p)
}

func (m *mockPort) Drain() error {
	m.drains++
	if len(m.drainErrs) > 0 {
		err := m.drainErrs[0]
		m.drainErrs = m.drainErrs[1:]
		return err
	}
	return nil
}

func (m *mockPort) Close() error {
	m.closed = true
	return nil
}

// stream joins the reading and writing halves of a test backend.
type stream struct {
	io.Reader
	io.Writer
}

func encode(t *testing.T, parts ...[]byte) []byte {
	t.Helper()
	var out []byte
	for _, p := range parts {
		var err error
		out, err = frame.Encode(out, p)
		require.NoError(t, err)
	}
	return out
}

func TestReadTimeout(t *testing.T) {
	t.Parallel()

	want := 50 * time.Millisecond
	if runtime.GOOS == "windows" {
		want = 100 * time.Millisecond
	}
	assert.Equal(t, want, readTimeout())
}

func TestLink_WriteFrame(t *testing.T) {
	t.Parallel()

	port := &mockPort{Reader: bytes.NewReader(nil)}
	l := NewLink(port, "mock")
	require.NoError(t, l.WriteFrame([]byte{0x40, 0x00, 0x12, 0x34}))
	require.NoError(t, l.WriteFrame([]byte("second")))

	assert.Equal(t, encode(t, []byte{0x40, 0x00, 0x12, 0x34}, []byte("second")), port.written.Bytes())
	assert.Equal(t, 2, port.drains)
	assert.Equal(t, "mock", l.Name())

	require.NoError(t, l.Close())
	assert.True(t, port.closed)
}

func TestLink_WriteFrameDrain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr    error
		name       string
		drainErrs  []error
		wantDrains int
	}{
		{name: "RetriesInterruptedCall", drainErrs: []error{errInterrupted}, wantDrains: 2},
		{name: "GivesUpAfterRetries", drainErrs: []error{errInterrupted, errInterrupted, errInterrupted}, wantDrains: 3, wantErr: errInterrupted},
		{name: "OtherErrorFailsAtOnce", drainErrs: []error{io.ErrClosedPipe}, wantDrains: 1, wantErr: io.ErrClosedPipe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			port := &mockPort{Reader: bytes.NewReader(nil), drainErrs: tt.drainErrs}
			err := NewLink(port, "mock").WriteFrame([]byte{1})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantDrains, port.drains)
		})
	}
}

func TestLink_WriteFrameTooLarge(t *testing.T) {
	t.Parallel()

	port := &mockPort{Reader: bytes.NewReader(nil)}
	err := NewLink(port, "mock").WriteFrame(make([]byte, frame.MaxDataLength+1))
	require.ErrorIs(t, err, frame.ErrFrameTooLarge)
	assert.Zero(t, port.written.Len())
}

func TestLink_ReadFrameFragmented(t *testing.T) {
	t.Parallel()

	want := [][]byte{[]byte("first"), bytes.Repeat([]byte{0x00, 0xFF}, 700), []byte("third")}
	corrupt := encode(t, []byte("corrupt"))
	corrupt[len(corrupt)-2]++

	var data []byte
	data = append(data, 0x55, 0x00, 0x00) // wake-up noise
	data = append(data, encode(t, want[0])...)
	data = append(data, corrupt...)
	data = append(data, encode(t, want[1], want[2])...)

	jittery := testutil.NewJitteryStream(stream{Reader: bytes.NewReader(data), Writer: io.Discard}, testutil.JitterConfig{
		FragmentReads:    true,
		FragmentMinBytes: 1,
		Seed:             7,
	})
	l := NewLink(&mockPort{Reader: jittery}, "jittery")

	buf := make([]byte, frame.MaxDataLength)
	for _, w := range want {
		n, err := l.ReadFrame(context.Background(), buf)
		require.NoError(t, err)
		assert.Equal(t, w, buf[:n])
	}
	assert.Equal(t, 3+len(corrupt), l.Dropped())

	_, err := l.ReadFrame(context.Background(), buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestLink_ReadFrameRetriesInterruptedRead(t *testing.T) {
	t.Parallel()

	r := &interruptOnce{r: bytes.NewReader(encode(t, []byte("ok")))}
	l := NewLink(&mockPort{Reader: r}, "mock")
	buf := make([]byte, 16)
	n, err := l.ReadFrame(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:n]))
}

func TestLink_ReadFrameCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLink(&mockPort{Reader: bytes.NewReader(nil)}, "mock")
	_, err := l.ReadFrame(ctx, make([]byte, 16))
	require.ErrorIs(t, err, context.Canceled)
}

func TestLink_PipeRoundTrip(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	host := NewLink(&connPort{Conn: a}, "host")
	peer := NewLink(&connPort{Conn: b}, "peer")
	t.Cleanup(func() {
		_ = host.Close()
		_ = peer.Close()
	})

	errs := make(chan error, 1)
	go func() { errs <- host.WriteFrame([]byte("ping")) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	buf := make([]byte, 64)
	n, err := peer.ReadFrame(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	require.NoError(t, <-errs)
}

func TestIsInterruptedSystemCall(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "interrupted", err: errInterrupted, want: true},
		{name: "eintr", err: errors.New("EINTR"), want: true},
		{name: "other", err: io.EOF, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isInterruptedSystemCall(tt.err); got != tt.want {
				t.Errorf("isInterruptedSystemCall() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInclude(t *testing.T) {
	t.Parallel()

	assert.True(t, include(PortInfo{Path: "/dev/ttyUSB0", IsUSB: true, VIDPID: "10c4:ea60"}, nil))
	assert.False(t, include(PortInfo{Path: "/dev/ttyUSB0", IsUSB: true}, []string{"/dev/ttyUSB0"}))
	assert.False(t, include(PortInfo{Path: "/dev/ttyACM0", IsUSB: true, VIDPID: "1366:1015"}, nil))
	assert.True(t, include(PortInfo{Path: "/dev/ttyAMA0"}, nil))
	assert.False(t, include(PortInfo{Path: "/dev/tty0"}, nil))
}

// interruptOnce fails its first read like a signal arriving mid read.
type interruptOnce struct {
	r           io.Reader
	interrupted bool
}

func (i *interruptOnce) Read(p []byte) (int, error) {
	if !i.interrupted {
		i.interrupted = true
		return 0, errInterrupted
	}
	return i.r.Read(p)
}

// connPort adapts a net.Conn, which has nothing to drain.
type connPort struct {
	net.Conn
}

func (*connPort) Drain() error { return nil }
