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
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// HandleMessage processes a message received by the transport. The data
// must be a prefix of the shared buffer, which the transport acquired for
// delivery; the channel releases it once the message is consumed. handled
// reports whether the message belonged to an exchange or was answered.
// Errors describe messages that were dropped; they never fail the session.
func (c *Channel) HandleMessage(data []byte) (handled bool, err error) {
	c.buf = data[:cap(data)]
	c.bufOwner = nil
	defer c.settleInbound()

	if c.state != StateOpen {
		return false, fmt.Errorf("%w: channel is %s", ErrInvalidState, c.state)
	}
	c.trace.RecordRX(data, "")
	msg, err := codec.Decode(data)
	if err != nil {
		// a confirmable message we cannot parse is rejected
		if h, herr := codec.DecodeHeader(data); herr == nil && h.Type == codec.Confirmable {
			c.reply(codec.Reset, codes.Empty, h.ID, nil)
			return true, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		return false, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	c.observer.MessageReceived(msg.Type, msg.Code)

	switch msg.Type {
	case codec.Confirmable:
		return c.handleCon(&msg)
	case codec.NonConfirmable:
		return c.handleNon(&msg)
	case codec.Acknowledgement:
		return c.handleAck(&msg)
	case codec.Reset:
		return c.handleRst(&msg)
	default:
		return false, fmt.Errorf("%w: message type %d", ErrMalformedMessage, msg.Type)
	}
}

// HandleCon processes a confirmable message.
func (c *Channel) HandleCon(data []byte) (bool, error) {
	return c.handleTyped(data, codec.Confirmable)
}

// HandleAck processes an acknowledgement.
func (c *Channel) HandleAck(data []byte) (bool, error) {
	return c.handleTyped(data, codec.Acknowledgement)
}

// HandleRst processes a reset.
func (c *Channel) HandleRst(data []byte) (bool, error) {
	return c.handleTyped(data, codec.Reset)
}

func (c *Channel) handleTyped(data []byte, typ codec.Type) (bool, error) {
	h, err := codec.DecodeHeader(data)
	if err == nil && h.Type != typ {
		c.buf = data[:cap(data)]
		c.bufOwner = nil
		c.settleInbound()
		return false, fmt.Errorf("%w: expected %s, got %s", ErrInvalidParameter, typ, h.Type)
	}
	return c.HandleMessage(data)
}

func (c *Channel) handleCon(msg *codec.Message) (bool, error) {
	if c.duplicate(msg.ID) {
		c.log.Debugf("duplicate message %d", msg.ID)
		return true, nil
	}
	switch {
	case msg.Code == codes.Empty:
		// CoAP ping
		c.reply(codec.Reset, codes.Empty, msg.ID, nil)
		return true, nil
	case codec.IsRequest(msg.Code):
		return c.handleRequest(msg)
	case codec.IsResponse(msg.Code):
		return c.handleSeparateResponse(msg)
	default:
		c.reply(codec.Reset, codes.Empty, msg.ID, nil)
		return false, fmt.Errorf("%w: code %s", ErrMalformedMessage, codec.FormatCode(msg.Code))
	}
}

func (c *Channel) handleNon(msg *codec.Message) (bool, error) {
	switch {
	case codec.IsRequest(msg.Code):
		return c.handleRequest(msg)
	case codec.IsResponse(msg.Code):
		return c.handleSeparateResponse(msg)
	default:
		return false, nil
	}
}

func (c *Channel) handleAck(msg *codec.Message) (bool, error) {
	m := c.reg.unacked.byCoapID(msg.ID)
	if m == nil {
		return false, nil
	}
	c.reg.unacked.remove(m)
	if msg.Code != codes.Empty {
		if !bytes.Equal(msg.Token, m.token) {
			c.settleInbound()
			c.fail(m, fmt.Errorf("%w: piggybacked response with wrong token", ErrProtocol))
			return true, nil
		}
		c.handleResponse(m, msg)
		return true, nil
	}
	c.settleInbound()
	c.acked(m)
	return true, nil
}

// acked moves m on after the peer acknowledged its last message.
func (c *Channel) acked(m *Message) {
	switch {
	case m.inbound:
		// our 2.31 Continue for an inbound request
	case m.typ == MessageResponse:
		if m.more {
			c.startBlockWait(m)
			return
		}
		c.complete(m)
		if ackCb := m.ackCb; ackCb != nil {
			c.invokeAck(ackCb, m.reqID)
		}
		c.dropEngine(m)
	case m.state == StateWaitAck:
		if m.more {
			// the peer answers with 2.31 Continue separately
			c.startBlockWait(m)
			return
		}
		if m.respCb == nil {
			// nobody waits for a response
			c.complete(m)
			c.firstAck(m)
			c.dropEngine(m)
			return
		}
		m.state = StateWaitResponse
		c.firstAck(m)
	}
}

// firstAck calls the ack callback of a request once.
func (c *Channel) firstAck(m *Message) {
	if m.acked {
		return
	}
	m.acked = true
	if ackCb := m.ackCb; ackCb != nil {
		c.invokeAck(ackCb, m.id)
	}
}

func (c *Channel) invokeAck(ackCb AckFunc, id int) {
	var err error
	c.callback(func() { err = ackCb(id) })
	if err != nil {
		c.log.Warnf("ack callback of %d: %v", id, err)
	}
}

func (c *Channel) handleRst(msg *codec.Message) (bool, error) {
	m := c.reg.unacked.byCoapID(msg.ID)
	if m == nil {
		return false, nil
	}
	c.settleInbound()
	c.fail(m, fmt.Errorf("%w: reset of message %d", ErrMessageRejected, msg.ID))
	return true, nil
}

func (c *Channel) handleSeparateResponse(msg *codec.Message) (bool, error) {
	m := c.reg.sentReqs.byToken(msg.Token)
	if m == nil {
		if msg.Type == codec.Confirmable {
			c.reply(codec.Reset, codes.Empty, msg.ID, nil)
		}
		return false, nil
	}
	if msg.Type == codec.Confirmable {
		c.reply(codec.Acknowledgement, codes.Empty, msg.ID, nil)
	}
	// a separate response implies the ACK we may have missed
	c.dropUnacked(m)
	c.handleResponse(m, msg)
	return true, nil
}

// handleResponse processes a response to the request m, piggybacked or
// separate.
func (c *Channel) handleResponse(m *Message, msg *codec.Message) {
	if m.more {
		if msg.Code == codec.CodeContinue {
			c.handleContinue(m, msg)
			return
		}
		// any other code ends the upload early and is the final response
		m.more = false
	} else if msg.Code == codec.CodeContinue {
		c.settleInbound()
		c.fail(m, fmt.Errorf("%w: 2.31 Continue without a pending block", ErrUnexpectedOption))
		return
	}

	b2, ok, err := msg.Block(OptionBlock2)
	if err != nil {
		c.settleInbound()
		c.fail(m, fmt.Errorf("%w: Block2: %w", ErrProtocol, err))
		return
	}
	if ok && (b2.More || b2.Num > 0) {
		c.handleResponseBlock(m, msg, b2)
		return
	}
	if m.nextBlock > 0 {
		c.settleInbound()
		c.fail(m, fmt.Errorf("%w: response without Block2 after block %d", ErrBlockOutOfOrder, m.nextBlock-1))
		return
	}

	resp, err := c.newResponse(m, msg)
	if err != nil {
		c.settleInbound()
		c.fail(m, err)
		return
	}
	resp.block = msg.Payload
	c.bufOwner = resp
	c.completeRequest(m, resp)
}

func (c *Channel) handleContinue(m *Message, msg *codec.Message) {
	b, ok, err := msg.Block(OptionBlock1)
	c.settleInbound()
	switch {
	case err != nil:
		c.fail(m, fmt.Errorf("%w: Block1: %w", ErrProtocol, err))
		return
	case !ok:
		c.fail(m, fmt.Errorf("%w: 2.31 Continue without Block1", ErrProtocol))
		return
	case b.SZX != m.szx:
		c.fail(m, fmt.Errorf("%w: peer wants %d-byte blocks", ErrProtocol, b.Size()))
		return
	case b.Num != m.blockNum-1:
		c.fail(m, fmt.Errorf("%w: continue for block %d, sent block %d", ErrBlockOutOfOrder, b.Num, m.blockNum-1))
		return
	}
	c.resumeUpload(m)
}

// handleResponseBlock adds one Block2 block to the response body and asks
// for the next one, or completes the request after the last.
func (c *Channel) handleResponseBlock(m *Message, msg *codec.Message, b codec.Block) {
	defer c.settleInbound()
	if b.Num != m.nextBlock {
		c.fail(m, fmt.Errorf("%w: got block %d, want %d", ErrBlockOutOfOrder, b.Num, m.nextBlock))
		return
	}
	if b.Num == 0 {
		// the peer picks the block size; later requests ask for the same
		m.szx = b.SZX
	}
	if err := checkBlockSize(b, m.szx, msg.Payload); err != nil {
		c.fail(m, err)
		return
	}
	if b.Num == 0 {
		c.firstAck(m)
		if m.done() {
			return
		}
	}
	if m.resp == nil {
		resp, err := c.newResponse(m, msg)
		if err != nil {
			c.fail(m, err)
			return
		}
		resp.body = c.store.New()
		m.resp = resp
	}
	resp := m.resp
	resp.code = msg.Code
	if _, err := resp.body.Write(msg.Payload); err != nil {
		c.fail(m, err)
		return
	}
	c.observer.BlockTransferred(MessageResponse)
	if b.More {
		m.nextBlock++
		c.settleInbound()
		c.requestResponseBlock(m)
		return
	}
	m.resp = nil
	resp.body.SetPos(0)
	c.settleInbound()
	c.completeRequest(m, resp)
}

func (c *Channel) newResponse(m *Message, msg *codec.Message) (*Message, error) {
	opts, err := optionsFromWire(msg.Options)
	if err != nil {
		return nil, err
	}
	resp := c.newMessage(MessageResponse, true)
	resp.reqID = m.id
	resp.code = msg.Code
	resp.uri = m.uri
	resp.method = m.method
	resp.token = slices.Clone(msg.Token)
	resp.coapID = msg.ID
	resp.hasCoapID = true
	resp.opts = opts
	resp.state = StateRead
	return resp, nil
}

// completeRequest finishes the request m with its response. The response
// is readable during the callback and freed afterwards unless retained.
func (c *Channel) completeRequest(m *Message, resp *Message) {
	c.complete(m)
	c.firstAck(m)
	if respCb := m.respCb; respCb != nil {
		var err error
		c.callback(func() { err = respCb(resp, m.id) })
		if err != nil {
			c.log.Warnf("response callback of %d: %v", m.id, err)
		}
	}
	if c.bufOwner == resp {
		c.releaseBuffer()
	}
	c.dropEngine(resp)
	c.dropEngine(m)
}

// handleRequest dispatches an inbound request: a follow-up block of a
// known exchange, or a new request for a registered handler.
func (c *Channel) handleRequest(msg *codec.Message) (bool, error) {
	uri := "/" + msg.Path(OptionURIPath)
	b1, has1, err1 := msg.Block(OptionBlock1)
	b2, has2, err2 := msg.Block(OptionBlock2)
	if err := errors.Join(err1, err2); err != nil {
		c.replyTo(msg, codes.BadOption)
		return true, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	tagOpt, hasTag := msg.Option(OptionRequestTag)

	if has2 && b2.Num > 0 {
		return c.handleResponseBlockRequest(msg, uri, tagOpt.Value, hasTag, b2)
	}
	if has1 && b1.Num > 0 {
		return c.handleRequestBlock(msg, uri, tagOpt.Value, hasTag, b1)
	}
	if has1 {
		if err := checkBlockSize(b1, b1.SZX, msg.Payload); err != nil {
			c.replyTo(msg, codes.BadRequest)
			return true, err
		}
	}

	h, status := c.matchHandler(uri, msg.Code)
	if h == nil {
		c.log.Debugf("no handler for %s %s: %s", codec.FormatCode(msg.Code), uri, codec.FormatCode(status))
		c.replyTo(msg, status)
		return true, nil
	}
	opts, err := optionsFromWire(msg.Options)
	if err != nil {
		c.replyTo(msg, codes.BadOption)
		return true, err
	}
	if msg.Type == codec.Confirmable {
		c.reply(codec.Acknowledgement, codes.Empty, msg.ID, nil)
	}

	m := c.newMessage(MessageRequest, true)
	m.uri = uri
	m.method = msg.Code
	m.token = slices.Clone(msg.Token)
	m.coapID = msg.ID
	m.hasCoapID = true
	m.opts = opts
	m.tag = slices.Clone(tagOpt.Value)
	m.hasTag = hasTag
	m.blockwise = has1
	m.more = has1 && b1.More
	if has1 {
		m.szx = b1.SZX
	}
	m.block = msg.Payload
	m.state = StateRead
	c.reg.recvReqs.add(m)
	c.bufOwner = m
	if m.blockwise {
		c.observer.BlockTransferred(MessageRequest)
	}

	fn := h.fn
	var herr error
	c.callback(func() { herr = fn(m, uri, m.method, m.id) })
	if herr != nil && !m.done() {
		c.rejectRequest(m, codes.InternalServerError, herr)
	}
	return true, nil
}

// handleRequestBlock accepts block n>0 of an inbound Block1 request.
func (c *Channel) handleRequestBlock(msg *codec.Message, uri string, tag []byte, hasTag bool, b codec.Block) (bool, error) {
	m := c.reg.recvReqs.find(func(m *Message) bool {
		return m.blockwise && m.uri == uri && m.method == msg.Code && sameTag(m, tag, hasTag)
	})
	if m == nil {
		c.replyTo(msg, codec.CodeRequestEntityIncomplete)
		return true, fmt.Errorf("%w: block %d of unknown request %s", ErrEntityIncomplete, b.Num, uri)
	}
	if m.state != StateWaitBlock || b.Num != m.blockNum+1 {
		c.replyTo(msg, codec.CodeRequestEntityIncomplete)
		c.settleInbound()
		c.fail(m, fmt.Errorf("%w: got block %d, want %d", ErrBlockOutOfOrder, b.Num, m.blockNum+1))
		return true, nil
	}
	if err := checkBlockSize(b, m.szx, msg.Payload); err != nil {
		c.replyTo(msg, codec.CodeRequestEntityIncomplete)
		c.settleInbound()
		c.fail(m, err)
		return true, nil
	}
	opts, err := optionsFromWire(msg.Options)
	if err != nil {
		c.replyTo(msg, codes.BadOption)
		c.settleInbound()
		c.fail(m, err)
		return true, nil
	}
	if msg.Type == codec.Confirmable {
		c.reply(codec.Acknowledgement, codes.Empty, msg.ID, nil)
	}
	// the next block implies the ACK of our Continue
	c.dropUnacked(m)
	m.pending = pendingNone
	m.token = slices.Clone(msg.Token)
	m.coapID = msg.ID
	m.opts = opts
	m.blockNum = b.Num
	m.more = b.More
	m.block = msg.Payload
	m.readPos = 0
	m.state = StateRead
	c.bufOwner = m
	c.observer.BlockTransferred(MessageRequest)
	if m.blockCb != nil {
		c.invokeBlock(m)
	}
	return true, nil
}

// handleResponseBlockRequest serves the peer's request for block n>0 of a
// Block2 response.
func (c *Channel) handleResponseBlockRequest(msg *codec.Message, uri string, tag []byte, hasTag bool, b codec.Block) (bool, error) {
	m := c.reg.blockResps.find(func(m *Message) bool {
		return m.uri == uri && m.method == msg.Code && (!hasTag || sameTag(m, tag, hasTag))
	})
	if m == nil {
		c.replyTo(msg, codec.CodeRequestEntityIncomplete)
		return true, fmt.Errorf("%w: block %d of unknown response %s", ErrEntityIncomplete, b.Num, uri)
	}
	if b.Num != m.blockNum {
		c.replyTo(msg, codec.CodeRequestEntityIncomplete)
		c.settleInbound()
		c.fail(m, fmt.Errorf("%w: peer asked for block %d, next is %d", ErrBlockOutOfOrder, b.Num, m.blockNum))
		return true, nil
	}
	if b.SZX != m.szx {
		c.replyTo(msg, codes.BadOption)
		c.settleInbound()
		c.fail(m, fmt.Errorf("%w: peer asked for %d-byte blocks", ErrProtocol, b.Size()))
		return true, nil
	}
	if msg.Type == codec.Confirmable {
		c.reply(codec.Acknowledgement, codes.Empty, msg.ID, nil)
	}
	c.dropUnacked(m)
	m.token = slices.Clone(msg.Token)
	c.settleInbound()
	c.resumeResponse(m)
	return true, nil
}

func sameTag(m *Message, tag []byte, hasTag bool) bool {
	return m.hasTag == hasTag && bytes.Equal(m.tag, tag)
}
