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

// Package testing provides test utilities for the CoAP exchange engine: a
// virtual peer standing in for the message channel, builders for wire
// messages, and an in-memory frame link that can drop, duplicate and delay
// frames.
//
// The package only depends on codec so that the engine's own tests can use
// it without an import cycle.
package testing

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// DefaultBufferSize fits one full block plus header, token and options.
const DefaultBufferSize = 1280

// ErrBufferHeld is returned by AcquireBuffer while the buffer is out.
var ErrBufferHeld = errors.New("virtual peer: buffer is held")

// SentMessage records a message the engine handed to the peer.
type SentMessage struct {
	Timestamp time.Time
	Data      []byte
	Msg       codec.Message
}

// VirtualPeer implements the engine's transport interface in memory. It owns
// one shared buffer, hands out sequential message ids and records every
// message sent through it. Retransmission is not simulated; tests report a
// give-up through the engine's HandleTimeout.
type VirtualPeer struct {
	SendErr    error
	buf        []byte
	Sent       []SentMessage
	// ids the engine stopped waiting an ACK for
	Settled    []uint16
	ackTimeout time.Duration
	acquires   int
	nextID     uint16
	held       bool
	connected  bool
}

// NewVirtualPeer creates a connected peer with a DefaultBufferSize buffer.
func NewVirtualPeer() *VirtualPeer {
	return &VirtualPeer{
		buf:        make([]byte, DefaultBufferSize),
		ackTimeout: 93 * time.Second,
		nextID:     0x1000,
		connected:  true,
		Sent:       make([]SentMessage, 0),
	}
}

// AcquireBuffer returns the shared buffer unless it is already out.
func (p *VirtualPeer) AcquireBuffer() ([]byte, error) {
	if p.held {
		return nil, ErrBufferHeld
	}
	p.held = true
	p.acquires++
	return p.buf, nil
}

// ReleaseBuffer gives the buffer back.
func (p *VirtualPeer) ReleaseBuffer() {
	p.held = false
}

// Send records a copy of data.
func (p *VirtualPeer) Send(data []byte) error {
	if p.SendErr != nil {
		return p.SendErr
	}
	cp := slices.Clone(data)
	msg, err := codec.Decode(cp)
	if err != nil {
		return fmt.Errorf("virtual peer: engine sent a malformed message: %w", err)
	}
	p.Sent = append(p.Sent, SentMessage{
		Data:      cp,
		Msg:       msg,
		Timestamp: time.Now(),
	})
	return nil
}

// NextMessageID returns sequential ids.
func (p *VirtualPeer) NextMessageID() uint16 {
	id := p.nextID
	p.nextID++
	return id
}

// Settle records that the engine no longer waits for the ACK of id.
func (p *VirtualPeer) Settle(id uint16) {
	p.Settled = append(p.Settled, id)
}

// AckTimeout returns the configured ACK timeout.
func (p *VirtualPeer) AckTimeout() time.Duration {
	return p.ackTimeout
}

// SetAckTimeout changes the ACK timeout reported to the engine.
func (p *VirtualPeer) SetAckTimeout(d time.Duration) {
	p.ackTimeout = d
}

// IsConnected reports the simulated connection state.
func (p *VirtualPeer) IsConnected() bool {
	return p.connected
}

// SetConnected changes the simulated connection state.
func (p *VirtualPeer) SetConnected(connected bool) {
	p.connected = connected
}

// Held reports whether the buffer is currently out.
func (p *VirtualPeer) Held() bool {
	return p.held
}

// Acquires returns how often the buffer was handed out.
func (p *VirtualPeer) Acquires() int {
	return p.acquires
}

// Deliver hands data to handle the way a message channel delivers a
// received message: it takes the shared buffer, copies data into it and
// passes the filled prefix. The receiver is responsible for releasing the
// buffer.
func (p *VirtualPeer) Deliver(handle func([]byte) (bool, error), data []byte) (bool, error) {
	buf, err := p.AcquireBuffer()
	if err != nil {
		return false, err
	}
	if len(data) > len(buf) {
		p.ReleaseBuffer()
		return false, fmt.Errorf("virtual peer: %d byte message exceeds the %d byte buffer", len(data), len(buf))
	}
	n := copy(buf, data)
	return handle(buf[:n])
}

// ClearSent clears the sent log.
func (p *VirtualPeer) ClearSent() {
	p.Sent = p.Sent[:0]
}

// Last returns the last message sent, or nil.
func (p *VirtualPeer) Last() *codec.Message {
	if len(p.Sent) == 0 {
		return nil
	}
	return &p.Sent[len(p.Sent)-1].Msg
}

// HasCode checks if a message with the given code was sent
func (p *VirtualPeer) HasCode(code codes.Code) bool {
	return p.CodeCount(code) > 0
}

// CodeCount returns the number of times a message with the given code was
// sent
func (p *VirtualPeer) CodeCount(code codes.Code) int {
	count := 0
	for i := range p.Sent {
		if p.Sent[i].Msg.Code == code {
			count++
		}
	}
	return count
}

// Filter returns the sent messages of the given type.
func (p *VirtualPeer) Filter(typ codec.Type) []codec.Message {
	var out []codec.Message
	for i := range p.Sent {
		if p.Sent[i].Msg.Type == typ {
			out = append(out, p.Sent[i].Msg)
		}
	}
	return out
}
