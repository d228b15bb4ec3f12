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
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// ErrLinkClosed is returned by a closed PipeLink.
var ErrLinkClosed = errors.New("pipe link closed")

// JitterConfig configures how a PipeLink or JitteryStream mangles traffic.
type JitterConfig struct {
	MaxLatency time.Duration
	// DropFrames drops the first n frames written
	DropFrames int
	// DropPercent drops frames at random after the first DropFrames
	DropPercent int
	// DuplicatePercent delivers frames twice at random
	DuplicatePercent int
	// FragmentMinBytes bounds fragments returned by JitteryStream reads
	FragmentMinBytes int
	Seed             uint64
	FragmentReads    bool
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0xC0A9)) //nolint:gosec // Test code, not crypto
}

type pipeEnd struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (e *pipeEnd) close() {
	e.once.Do(func() { close(e.done) })
}

// PipeLink is one end of an in-memory frame link.
type PipeLink struct {
	rng     *rand.Rand
	in      *pipeEnd
	out     *pipeEnd
	config  JitterConfig
	mu      sync.Mutex
	written int
	dropped int
}

// NewLinkPair creates two connected links. Frames written to a are read from
// b and the other way round; cfg applies to frames written to a.
func NewLinkPair(cfg JitterConfig) (a, b *PipeLink) {
	ab := &pipeEnd{frames: make(chan []byte, 64), done: make(chan struct{})}
	ba := &pipeEnd{frames: make(chan []byte, 64), done: make(chan struct{})}
	a = &PipeLink{in: ba, out: ab, config: cfg, rng: newRand(cfg.Seed)}
	b = &PipeLink{in: ab, out: ba, rng: newRand(cfg.Seed + 1)}
	return a, b
}

// WriteFrame queues a frame for the other end, subject to the jitter
// configuration.
func (l *PipeLink) WriteFrame(data []byte) error {
	select {
	case <-l.out.done:
		return ErrLinkClosed
	case <-l.in.done:
		return ErrLinkClosed
	default:
	}
	l.mu.Lock()
	l.written++
	drop := l.written <= l.config.DropFrames ||
		(l.config.DropPercent > 0 && l.rng.IntN(100) < l.config.DropPercent)
	dup := l.config.DuplicatePercent > 0 && l.rng.IntN(100) < l.config.DuplicatePercent
	var delay time.Duration
	if l.config.MaxLatency > 0 {
		delay = time.Duration(l.rng.Int64N(int64(l.config.MaxLatency) + 1))
	}
	if drop {
		l.dropped++
	}
	l.mu.Unlock()

	if drop {
		return nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	copies := 1
	if dup {
		copies = 2
	}
	for range copies {
		select {
		case l.out.frames <- slices.Clone(data):
		case <-l.out.done:
			return ErrLinkClosed
		}
	}
	return nil
}

// ReadFrame blocks until a frame arrives, the link is closed or ctx is done.
func (l *PipeLink) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	select {
	case frame := <-l.in.frames:
		if len(frame) > len(buf) {
			return 0, io.ErrShortBuffer
		}
		return copy(buf, frame), nil
	case <-l.in.done:
		return 0, ErrLinkClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close closes both directions.
func (l *PipeLink) Close() error {
	l.in.close()
	l.out.close()
	return nil
}

// Dropped returns the number of frames dropped so far.
func (l *PipeLink) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// JitteryStream wraps a byte stream to simulate USB-UART bridges that
// deliver data in unpredictable fragments.
type JitteryStream struct {
	backend io.ReadWriter
	rng     *rand.Rand
	readBuf []byte
	config  JitterConfig
}

// NewJitteryStream wraps backend.
func NewJitteryStream(backend io.ReadWriter, config JitterConfig) *JitteryStream {
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	return &JitteryStream{
		backend: backend,
		config:  config,
		rng:     newRand(config.Seed),
		readBuf: make([]byte, 0, DefaultBufferSize),
	}
}

// Write passes writes through to the backend without modification.
func (j *JitteryStream) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read returns buffered backend data in random fragments.
func (j *JitteryStream) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}
	if len(j.readBuf) == 0 {
		tmp := make([]byte, DefaultBufferSize)
		n, err := j.backend.Read(tmp)
		if err != nil {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		j.readBuf = append(j.readBuf, tmp[:n]...)
	}
	n := min(len(j.readBuf), len(buf))
	if j.config.FragmentReads && n > j.config.FragmentMinBytes {
		n = j.config.FragmentMinBytes + j.rng.IntN(n-j.config.FragmentMinBytes+1)
	}
	copy(buf, j.readBuf[:n])
	j.readBuf = j.readBuf[n:]
	return n, nil
}

// Close closes the backend if it can be closed.
func (j *JitteryStream) Close() error {
	if c, ok := j.backend.(io.Closer); ok {
		return c.Close() //nolint:wrapcheck // Pass-through wrapper
	}
	return nil
}
