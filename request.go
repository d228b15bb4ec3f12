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
	"time"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// BeginRequest starts composing a confirmable request. The message holds the
// shared buffer until it is ended or released, so other exchanges get
// ErrBusy meanwhile. A zero timeout waits for the response until the session
// ends.
func (c *Channel) BeginRequest(uri string, method codes.Code, timeout time.Duration) (*Message, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if !codec.IsRequest(method) {
		return nil, fmt.Errorf("%w: %s is not a method", ErrInvalidParameter, codec.FormatCode(method))
	}
	uri = normalizePath(uri)
	if len(uri) > MaxURIPathLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(uri))
	}
	m := c.newMessage(MessageRequest, false)
	if err := c.acquireBuffer(m); err != nil {
		c.retire(m)
		return nil, err
	}
	m.uri = uri
	m.method = method
	m.timeout = timeout
	m.state = StateWrite
	return m, nil
}

// EndRequest sends the request and returns its id. respCb is called once
// with the complete response, ackCb when the peer acknowledged the request,
// errCb if the exchange fails. Without respCb the exchange completes when
// the peer acknowledges the request. A body set with SetPayload that is larger
// than one block is uploaded blockwise.
func (c *Channel) EndRequest(m *Message, respCb ResponseFunc, ackCb AckFunc, errCb ErrorFunc) (int, error) {
	if err := c.checkMessage(m); err != nil {
		return 0, err
	}
	if m.typ != MessageRequest || m.inbound || m.state != StateWrite {
		return 0, fmt.Errorf("%w: cannot end %s in state %s", ErrInvalidState, m.typ, m.state)
	}
	m.respCb = respCb
	m.ackCb = ackCb
	if errCb != nil {
		m.errCb = errCb
	}
	more := false
	if m.body != nil {
		if m.blockNum == 0 {
			m.body.SetPos(0)
		}
		var err error
		if more, err = c.fillFromBody(m); err != nil {
			c.retire(m)
			return 0, NewExchangeError("EndRequest", m.id, err)
		}
	}
	if err := c.sendRequestBlock(m, more); err != nil {
		c.retire(m)
		c.dropEngine(m)
		return 0, NewExchangeError("EndRequest", m.id, err)
	}
	return m.id, nil
}

// sendRequestBlock sends the staged block of an outbound request. Block1
// and Request-Tag are added once the body needs more than one block.
func (c *Channel) sendRequestBlock(m *Message, more bool) error {
	opts, err := c.requestOptions(m)
	if err != nil {
		return err
	}
	if more || m.blockwise {
		if !m.hasTag {
			m.tag = c.nextRequestTag()
			m.hasTag = true
		}
		if err := opts.AddUint(OptionBlock1, blockOption(m.blockNum, more, m.szx)); err != nil {
			return err
		}
		if m.blockNum == 0 && m.body != nil {
			if err := opts.AddUint(OptionSize1, uint32(m.body.Size())); err != nil {
				return err
			}
		}
		if err := opts.Add(OptionRequestTag, m.tag); err != nil {
			return err
		}
		m.blockwise = true
	}
	if m.token, err = newToken(); err != nil {
		return err
	}
	if err := c.send(m, codec.Confirmable, m.method, opts, m.block); err != nil {
		return err
	}
	if m.blockwise {
		c.observer.BlockTransferred(m.typ)
	}
	m.more = more
	if more {
		m.blockNum++
	}
	m.block = m.block[:0]
	m.state = StateWaitAck
	if !m.engineRef {
		now := c.clock.Now()
		m.started = now
		m.respDeadline = deadline(now, m.timeout)
		c.retainEngine(m)
	}
	c.reg.sentReqs.add(m)
	c.log.Debugf("request %d: %s %s sent (block %d, more %t)", m.id, codec.FormatCode(m.method), m.uri, m.blockNum, more)
	return nil
}

// requestOptions returns the options of the next message of a request: the
// caller's options plus the path.
func (c *Channel) requestOptions(m *Message) (*Options, error) {
	opts := m.opts.Clone()
	opts.Remove(OptionURIPath)
	for _, seg := range pathSegments(m.uri) {
		if err := opts.AddString(OptionURIPath, seg); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// fillFromBody stages the next block from the message body and reports
// whether more of the body remains.
func (c *Channel) fillFromBody(m *Message) (bool, error) {
	if cap(m.block) < BlockSize {
		m.block = make([]byte, 0, BlockSize)
	}
	m.block = m.block[:BlockSize]
	n := 0
	for n < BlockSize {
		got, err := m.body.Read(m.block[n:])
		n += got
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			m.block = m.block[:0]
			return false, err
		}
	}
	m.block = m.block[:n]
	return m.body.Pos() < m.body.Size(), nil
}

// resumeUpload continues a Block1 upload after the peer asked for the next
// block.
func (c *Channel) resumeUpload(m *Message) {
	if err := c.acquireBuffer(m); err != nil {
		if errors.Is(err, ErrBusy) {
			m.pending = pendingUploadBlock
			c.startBlockWait(m)
			return
		}
		c.fail(m, err)
		return
	}
	m.state = StateWrite
	m.more = false
	if m.body != nil {
		more, err := c.fillFromBody(m)
		if err == nil {
			err = c.sendRequestBlock(m, more)
		}
		if err != nil {
			c.fail(m, err)
		}
		return
	}
	if m.blockCb == nil {
		c.fail(m, fmt.Errorf("%w: no block callback for request %d", ErrInvalidState, m.id))
		return
	}
	c.invokeBlock(m)
}

// requestResponseBlock asks the peer for the next block of a response.
func (c *Channel) requestResponseBlock(m *Message) {
	if err := c.acquireBuffer(m); err != nil {
		if errors.Is(err, ErrBusy) {
			m.pending = pendingBlockRequest
			c.startBlockWait(m)
			return
		}
		c.fail(m, err)
		return
	}
	m.typ = MessageBlockRequest
	opts, err := c.requestOptions(m)
	if err == nil {
		if !m.hasTag {
			m.tag = c.nextRequestTag()
			m.hasTag = true
		}
		err = errors.Join(
			opts.AddUint(OptionBlock2, blockOption(m.nextBlock, false, m.szx)),
			opts.Add(OptionRequestTag, m.tag),
		)
	}
	if err == nil {
		m.token, err = newToken()
	}
	if err == nil {
		err = c.send(m, codec.Confirmable, m.method, opts, nil)
	}
	if err != nil {
		c.fail(m, err)
		return
	}
	m.more = false
	m.state = StateWaitAck
	c.log.Debugf("request %d: asked for block %d", m.id, m.nextBlock)
}

// invokeBlock calls the block callback of m. An error from the callback
// fails the exchange; a received request is answered with 5.00 first.
func (c *Channel) invokeBlock(m *Message) {
	blockCb := m.blockCb
	var err error
	c.callback(func() { err = blockCb(m, m.reqID) })
	if err == nil || m.done() {
		return
	}
	if m.inbound && m.typ == MessageRequest {
		c.rejectRequest(m, codes.InternalServerError, err)
		return
	}
	c.fail(m, err)
}
