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

package coap

import (
	"fmt"
	"slices"
	"time"

	"github.com/ZaparooProject/go-coapchannel/payload"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// MessageType is the role of a message within an exchange.
type MessageType int

const (
	// MessageRequest is a request, sent or received
	MessageRequest MessageType = iota + 1
	// MessageBlockRequest is a request for the next block of a response
	MessageBlockRequest
	// MessageResponse is a response, sent or received
	MessageResponse
)

func (t MessageType) String() string {
	switch t {
	case MessageRequest:
		return "request"
	case MessageBlockRequest:
		return "block_request"
	case MessageResponse:
		return "response"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// MessageState is the state of an exchange.
type MessageState int

const (
	// StateNew is a message that was created but not yet opened for writing
	StateNew MessageState = iota
	// StateRead is a received message whose body can be read
	StateRead
	// StateWrite is an outbound message being composed
	StateWrite
	// StateWaitAck is a confirmable message waiting for its ACK
	StateWaitAck
	// StateWaitResponse is a request waiting for its response
	StateWaitResponse
	// StateWaitBlock is a blockwise exchange waiting for the peer's next step
	StateWaitBlock
	// StateDone is a finished exchange
	StateDone
)

func (s MessageState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRead:
		return "read"
	case StateWrite:
		return "write"
	case StateWaitAck:
		return "wait_ack"
	case StateWaitResponse:
		return "wait_response"
	case StateWaitBlock:
		return "wait_block"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("MessageState(%d)", int(s))
	}
}

// pendingOp is work deferred because the shared buffer was busy.
type pendingOp int

const (
	pendingNone pendingOp = iota
	// next Block1 upload block accepted by the peer
	pendingUploadBlock
	// 2.31 Continue for the next Block1 block of an inbound request
	pendingContinue
	// next Block2 block requested by the peer
	pendingResponseBlock
	// next Block2 block of a response we are downloading
	pendingBlockRequest
)

// Message is one exchange: an outbound request with its response, or an
// inbound request with our response. Messages returned by BeginRequest and
// BeginResponse carry one reference owned by the caller; messages passed to
// callbacks are borrowed and must be retained to outlive the callback.
type Message struct {
	ch      *Channel
	request *Message
	// response being assembled from Block2 blocks
	resp *Message
	opts *Options
	// outbound: body source set with SetPayload; inbound: assembled body
	body *payload.Payload

	respCb  ResponseFunc
	ackCb   AckFunc
	errCb   ErrorFunc
	blockCb BlockFunc

	started       time.Time
	ackDeadline   time.Time
	respDeadline  time.Time
	blockDeadline time.Time

	uri   string
	token []byte
	tag   []byte
	// outbound: staged bytes of the current block; inbound: current block
	block []byte

	timeout time.Duration
	id      int
	// id reported to the callbacks of a response: the request it answers
	reqID   int
	session int
	refs    int
	readPos int

	typ     MessageType
	state   MessageState
	pending pendingOp

	blockNum  uint32
	nextBlock uint32
	// size exponent of the blocks of this exchange, the peer's once it sent one
	szx       uint8
	coapID    uint16
	method    codes.Code
	code      codes.Code

	hasCoapID bool
	hasTag    bool
	inbound   bool
	engineRef bool
	acked     bool
	// outbound: the last block sent had the more flag set;
	// inbound: more blocks follow the current one
	more      bool
	blockwise bool
	// response was sent for this inbound request
	answered bool
}

// ID returns the request id callbacks refer to.
func (m *Message) ID() int {
	return m.id
}

// Type returns the role of the message.
func (m *Message) Type() MessageType {
	return m.typ
}

// State returns the exchange state.
func (m *Message) State() MessageState {
	return m.state
}

// URI returns the request path, with a leading slash.
func (m *Message) URI() string {
	return m.uri
}

// Method returns the request method.
func (m *Message) Method() codes.Code {
	return m.method
}

// Code returns the response code, or the method of a request.
func (m *Message) Code() codes.Code {
	if m.typ == MessageResponse {
		return m.code
	}
	return m.method
}

// Token returns a copy of the current token.
func (m *Message) Token() []byte {
	return slices.Clone(m.token)
}

// RequestTag returns the tag grouping the blocks of this exchange.
func (m *Message) RequestTag() ([]byte, bool) {
	return slices.Clone(m.tag), m.hasTag
}

// Options returns the options of the message. Received messages expose the
// options of the last block received.
func (m *Message) Options() *Options {
	return m.opts
}

// Option returns the first option with the given number, or nil.
func (m *Message) Option(num uint16) *Option {
	return m.opts.FindFirst(num)
}

// NextOption returns the first option with a number above num, or nil.
func (m *Message) NextOption(num uint16) *Option {
	return m.opts.FindNext(num)
}

func (m *Message) checkWritable() error {
	if m.inbound || m.state != StateWrite {
		return fmt.Errorf("%w: message %d is %s", ErrInvalidState, m.id, m.state)
	}
	if m.blockNum > 0 {
		return fmt.Errorf("%w: options are fixed after the first block", ErrInvalidState)
	}
	return nil
}

// AddEmptyOption adds a flag option.
func (m *Message) AddEmptyOption(num uint16) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	return m.opts.AddEmpty(num)
}

// AddUintOption adds a uint option.
func (m *Message) AddUintOption(num uint16, v uint32) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	return m.opts.AddUint(num, v)
}

// AddStringOption adds a string option.
func (m *Message) AddStringOption(num uint16, v string) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	return m.opts.AddString(num, v)
}

// AddOpaqueOption adds an option with an opaque value.
func (m *Message) AddOpaqueOption(num uint16, v []byte) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	return m.opts.Add(num, v)
}

// SetPayload makes p the body of an outbound message. The body is sent from
// its start when the message is ended, blockwise if it is larger than one
// block. The message keeps a reference to p.
func (m *Message) SetPayload(p *payload.Payload) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if len(m.block) > 0 {
		return fmt.Errorf("%w: message already has a body", ErrInvalidState)
	}
	m.ch.releaseBody(m)
	if p != nil {
		m.body = p.Retain()
	}
	return nil
}

// Payload returns the body of the message. For a received response this is
// the complete body; for a received request it holds what remains of the
// current block. The returned payload is owned by the message; retain it to
// keep it past the message.
func (m *Message) Payload() (*payload.Payload, error) {
	if m.body != nil {
		return m.body, nil
	}
	if !m.inbound {
		return nil, nil
	}
	p := m.ch.store.New()
	if _, err := p.Write(m.block[m.readPos:]); err != nil {
		if rerr := p.Release(); rerr != nil {
			m.ch.log.Warnf("release payload of message %d: %v", m.id, rerr)
		}
		return nil, err
	}
	p.SetPos(0)
	m.body = p
	m.readPos = len(m.block)
	return p, nil
}

// Retain adds a reference.
func (m *Message) Retain() *Message {
	m.refs++
	return m
}

// Release drops a reference. Releasing the last reference of a message that
// was never sent cancels it without invoking any callback; a message that is
// in flight completes and is freed afterwards.
func (m *Message) Release() {
	if m.refs <= 0 {
		return
	}
	m.refs--
	if m.refs == 0 {
		m.ch.destroy(m)
	}
}

func (m *Message) done() bool {
	return m.state == StateDone
}
