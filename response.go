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
	"slices"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// BeginResponse starts composing the response to an inbound request. The
// response is sent as a separate confirmable message carrying the request's
// token.
func (c *Channel) BeginResponse(code codes.Code, requestID int) (*Message, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if !codec.IsResponse(code) {
		return nil, fmt.Errorf("%w: %s is not a response code", ErrInvalidParameter, codec.FormatCode(code))
	}
	req := c.reg.recvReqs.byID(requestID)
	if req == nil {
		return nil, fmt.Errorf("%w: request %d", ErrNotFound, requestID)
	}
	if req.answered {
		return nil, fmt.Errorf("%w: request %d already has a response", ErrInvalidState, requestID)
	}
	m := c.newMessage(MessageResponse, false)
	if err := c.acquireBuffer(m); err != nil {
		c.retire(m)
		return nil, err
	}
	m.request = req
	m.reqID = req.id
	m.code = code
	m.uri = req.uri
	m.method = req.method
	m.token = slices.Clone(req.token)
	m.tag = slices.Clone(req.tag)
	m.hasTag = req.hasTag
	m.state = StateWrite
	req.answered = true
	return m, nil
}

// EndResponse sends the response. ackCb is called once the peer
// acknowledged the (last block of the) response, errCb if it fails.
func (c *Channel) EndResponse(m *Message, ackCb AckFunc, errCb ErrorFunc) error {
	if err := c.checkMessage(m); err != nil {
		return err
	}
	if m.typ != MessageResponse || m.inbound || m.state != StateWrite {
		return fmt.Errorf("%w: cannot end %s in state %s", ErrInvalidState, m.typ, m.state)
	}
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
			return NewExchangeError("EndResponse", m.reqID, err)
		}
	}
	if err := c.sendResponseBlock(m, more); err != nil {
		c.retire(m)
		c.dropEngine(m)
		return NewExchangeError("EndResponse", m.reqID, err)
	}
	return nil
}

// sendResponseBlock sends the staged block of a response. The first send
// finishes the request being answered.
func (c *Channel) sendResponseBlock(m *Message, more bool) error {
	opts := m.opts.Clone()
	req := m.request
	if req != nil && req.blockwise {
		// final response to a Block1 upload echoes its last block
		if err := opts.AddUint(OptionBlock1, blockOption(req.blockNum, false, req.szx)); err != nil {
			return err
		}
	}
	if more || m.blockwise {
		if err := opts.AddUint(OptionBlock2, blockOption(m.blockNum, more, m.szx)); err != nil {
			return err
		}
		if m.blockNum == 0 && m.body != nil {
			if err := opts.AddUint(OptionSize2, uint32(m.body.Size())); err != nil {
				return err
			}
		}
		m.blockwise = true
	}
	if err := c.send(m, codec.Confirmable, m.code, opts, m.block); err != nil {
		return err
	}
	if m.blockwise {
		c.observer.BlockTransferred(m.typ)
	}
	if req != nil {
		m.request = nil
		c.complete(req)
		c.dropEngine(req)
	}
	c.retainEngine(m)
	m.more = more
	if more {
		m.blockNum++
	}
	m.block = m.block[:0]
	m.state = StateWaitAck
	if more {
		c.reg.blockResps.add(m)
	} else {
		c.reg.blockResps.remove(m)
	}
	c.log.Debugf("response to %d: %s sent (block %d, more %t)", m.reqID, codec.FormatCode(m.code), m.blockNum, more)
	return nil
}

// resumeResponse continues a Block2 response after the peer asked for the
// next block.
func (c *Channel) resumeResponse(m *Message) {
	if err := c.acquireBuffer(m); err != nil {
		if errors.Is(err, ErrBusy) {
			m.pending = pendingResponseBlock
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
			err = c.sendResponseBlock(m, more)
		}
		if err != nil {
			c.fail(m, err)
		}
		return
	}
	if m.blockCb == nil {
		c.fail(m, fmt.Errorf("%w: no block callback for response to %d", ErrInvalidState, m.reqID))
		return
	}
	c.invokeBlock(m)
}
