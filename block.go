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
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// WriteBlock appends data to the body of an outbound message. When the
// current block fills up while data remains, the block is sent and
// WriteBlock returns wait=true with the number of bytes consumed; blockCb is
// called once the peer wants the next block, and writing resumes from
// data[n:] there.
func (c *Channel) WriteBlock(m *Message, data []byte, blockCb BlockFunc, errCb ErrorFunc) (n int, wait bool, err error) {
	if err := c.checkMessage(m); err != nil {
		return 0, false, err
	}
	if m.inbound || m.state != StateWrite {
		return 0, false, fmt.Errorf("%w: cannot write %s in state %s", ErrInvalidState, m.typ, m.state)
	}
	if m.body != nil {
		return 0, false, fmt.Errorf("%w: message body was set with SetPayload", ErrInvalidState)
	}
	if blockCb != nil {
		m.blockCb = blockCb
	}
	if errCb != nil {
		m.errCb = errCb
	}
	if m.block == nil {
		m.block = make([]byte, 0, BlockSize)
	}
	n = min(BlockSize-len(m.block), len(data))
	m.block = append(m.block, data[:n]...)
	if n == len(data) {
		return n, false, nil
	}
	if m.blockCb == nil {
		return n, false, fmt.Errorf("%w: body exceeds one block and no block callback is set", ErrTooLarge)
	}
	if m.typ == MessageResponse {
		err = c.sendResponseBlock(m, true)
	} else {
		err = c.sendRequestBlock(m, true)
	}
	if err != nil {
		return n, false, err
	}
	return n, true, nil
}

// ReadBlock reads the body of a received message into b. At the end of a
// block of a blockwise request it asks the peer for the next block and
// returns wait=true; blockCb is called when that block arrives. At the end
// of the body it returns io.EOF.
func (c *Channel) ReadBlock(m *Message, b []byte, blockCb BlockFunc, errCb ErrorFunc) (n int, wait bool, err error) {
	if m == nil || m.ch != c || !m.inbound {
		return 0, false, fmt.Errorf("%w: not a received message", ErrInvalidParameter)
	}
	if blockCb != nil {
		m.blockCb = blockCb
	}
	if errCb != nil {
		m.errCb = errCb
	}
	switch m.state {
	case StateRead:
	case StateWaitBlock:
		return 0, true, nil
	default:
		return 0, false, fmt.Errorf("%w: cannot read %s in state %s", ErrInvalidState, m.typ, m.state)
	}
	if m.body != nil {
		n, err = m.body.Read(b)
		if !errors.Is(err, ErrEndOfStream) || !m.more {
			return n, false, err
		}
		// the materialized part of a blockwise request is used up
		c.releaseBody(m)
		if n > 0 {
			return n, false, nil
		}
	}
	n = copy(b, m.block[m.readPos:])
	m.readPos += n
	if m.readPos < len(m.block) {
		return n, false, nil
	}
	if m.more {
		c.requestNextBlock(m)
		return n, true, nil
	}
	if n == 0 && len(b) > 0 {
		return 0, false, ErrEndOfStream
	}
	return n, false, nil
}

// PeekBlock copies unread bytes of the current block into b without
// consuming them.
func (c *Channel) PeekBlock(m *Message, b []byte) (int, error) {
	if m == nil || m.ch != c || !m.inbound {
		return 0, fmt.Errorf("%w: not a received message", ErrInvalidParameter)
	}
	if m.state != StateRead {
		return 0, fmt.Errorf("%w: cannot peek %s in state %s", ErrInvalidState, m.typ, m.state)
	}
	if m.body != nil {
		n, err := m.body.Peek(b)
		if errors.Is(err, ErrEndOfStream) {
			return n, nil
		}
		return n, err
	}
	return copy(b, m.block[m.readPos:]), nil
}

// requestNextBlock waits for the next block of an inbound blockwise request
// and tells the peer to send it.
func (c *Channel) requestNextBlock(m *Message) {
	m.block = nil
	m.readPos = 0
	c.startBlockWait(m)
	c.sendContinue(m)
}

// sendContinue answers the current block of an inbound request with 2.31
// Continue.
func (c *Channel) sendContinue(m *Message) {
	opts := NewOptions()
	if err := opts.AddUint(OptionBlock1, blockOption(m.blockNum, true, m.szx)); err != nil {
		c.fail(m, err)
		return
	}
	if err := c.send(m, codec.Confirmable, codec.CodeContinue, opts, nil); err != nil {
		if errors.Is(err, ErrBusy) {
			m.pending = pendingContinue
			return
		}
		c.fail(m, err)
		return
	}
	c.log.Debugf("request %d: continue after block %d", m.id, m.blockNum)
}

// rejectRequest answers an inbound request with an error code and drops it.
func (c *Channel) rejectRequest(m *Message, code codes.Code, cause error) {
	if m.done() {
		return
	}
	if !m.answered {
		m.answered = true
		if err := c.send(m, codec.Confirmable, code, NewOptions(), nil); err != nil {
			c.log.Warnf("reject request %d: %v", m.id, err)
		}
		// nobody waits for the ACK, but the transport keeps retransmitting
		c.reg.unacked.remove(m)
	}
	c.fail(m, cause)
}
