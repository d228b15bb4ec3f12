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

// Package coap multiplexes CoAP request/response exchanges onto a message
// channel that can hold a single message at a time. It implements blockwise
// transfers in both directions, keeps large bodies in payloads that spill to
// temporary files, and tracks every exchange through explicit states driven
// by Run and the Handle entry points.
package coap

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/ZaparooProject/go-coapchannel/payload"
	"github.com/jonboulle/clockwork"
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// State is the channel state.
type State int

const (
	// StateClosed is a channel without a session
	StateClosed State = iota
	// StateOpening waits for the transport to connect
	StateOpening
	// StateOpen is a channel with a session
	StateOpen
	// StateClosing is a channel failing its exchanges
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// blockSZX is the size exponent of BlockSize.
const blockSZX = 6

type recentReply struct {
	reply [codec.HeaderSize + codec.MaxTokenSize]byte
	n     int
	id    uint16
	valid bool
}

// Channel is the exchange engine of one CoAP session.
//
// Thread Safety: Channel is NOT thread-safe. Every method and every callback
// runs on the goroutine that calls Run and delivers inbound messages. No
// method blocks.
type Channel struct {
	lastCloseErr     error
	deferredCloseErr error
	transport        Transport
	settler          Settler
	clock            clockwork.Clock
	store            *payload.Store
	observer         Observer
	log              *logger.Logger
	trace            *TraceBuffer
	cfg              *Config
	bufOwner         *Message

	buf          []byte
	live         messageList
	reqHandlers  []requestHandler
	connHandlers []connectionHandler
	reg          registry
	recent       [recentIDCount]recentReply

	state             State
	sessionID         int
	lastID            int
	lastConnHandlerID int
	recentNext        int
	dispatching       int
	lastTag           uint32

	deferredClose bool
	deferredOpen  bool
}

// New creates a closed channel over transport.
func New(transport Transport, opts ...ChannelOption) (*Channel, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.SkipTempDirInit {
		if err := cfg.Store.InitTempDir(); err != nil {
			return nil, fmt.Errorf("init payload store: %w", err)
		}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	settler, _ := transport.(Settler)
	return &Channel{
		transport: transport,
		settler:   settler,
		cfg:       cfg,
		clock:     cfg.Clock,
		store:     cfg.Store,
		observer:  cfg.Observer,
		log:       log.With("channel", cfg.Name),
		trace:     NewTraceBuffer(cfg.Name, cfg.TraceSize, cfg.Clock.Now),
	}, nil
}

// State returns the channel state.
func (c *Channel) State() State {
	return c.state
}

// SessionID returns the id of the current session. It increments every
// time the channel opens.
func (c *Channel) SessionID() int {
	return c.sessionID
}

// LastCloseError returns the error the previous session was closed with.
func (c *Channel) LastCloseError() error {
	return c.lastCloseErr
}

// Store returns the payload store of the channel.
func (c *Channel) Store() *payload.Store {
	return c.store
}

// NewPayload creates an empty payload.
func (c *Channel) NewPayload() *payload.Payload {
	return c.store.New()
}

// Open starts a session. The channel becomes open once the transport is
// connected, possibly in a later Run.
func (c *Channel) Open() error {
	if c.dispatching > 0 {
		c.deferredOpen = true
		return nil
	}
	if c.state != StateClosed {
		return fmt.Errorf("%w: channel is %s", ErrInvalidState, c.state)
	}
	c.state = StateOpening
	c.log.Debugf("opening")
	c.completeOpen()
	return nil
}

func (c *Channel) completeOpen() {
	if c.state != StateOpening || !c.transport.IsConnected() {
		return
	}
	c.state = StateOpen
	c.sessionID++
	c.recent = [recentIDCount]recentReply{}
	c.trace.Clear()
	c.log.Infof("session %d open", c.sessionID)
	c.notifyConnection(nil, true)
}

// Close ends the session. Every exchange fails with err, or with
// ErrConnectionClosed if err is nil. A close requested from a callback takes
// effect in the next Run.
func (c *Channel) Close(err error) {
	if c.dispatching > 0 {
		c.deferredClose = true
		c.deferredCloseErr = err
		return
	}
	c.close(err)
}

func (c *Channel) close(err error) {
	if c.state == StateClosed || c.state == StateClosing {
		return
	}
	switch {
	case err == nil:
		err = ErrConnectionClosed
	case !errors.Is(err, ErrConnectionClosed):
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	wasOpen := c.state == StateOpen
	c.state = StateClosing
	for _, m := range slices.Clone(c.live) {
		c.fail(m, err)
	}
	c.releaseBuffer()
	c.lastCloseErr = err
	c.state = StateClosed
	c.log.Infof("session %d closed: %v", c.sessionID, err)
	if wasOpen {
		c.notifyConnection(err, false)
	}
}

// HandleProtocolError reports a failure of the session below. The channel
// is closed.
func (c *Channel) HandleProtocolError(err error) {
	if err == nil {
		err = ErrProtocol
	}
	c.log.Warnf("transport error: %v", err)
	c.Close(err)
}

// Run drives time-based work: deferred open and close, buffer release,
// replay of work deferred by buffer contention, and timeouts.
func (c *Channel) Run() error {
	if c.dispatching > 0 {
		return fmt.Errorf("%w: Run called from a callback", ErrInvalidState)
	}
	if c.deferredClose {
		err := c.deferredCloseErr
		c.deferredClose, c.deferredCloseErr = false, nil
		c.close(err)
	}
	if c.deferredOpen {
		c.deferredOpen = false
		if err := c.Open(); err != nil {
			return err
		}
	}
	if c.state == StateOpening {
		c.completeOpen()
	}
	if c.state != StateOpen {
		return nil
	}
	c.settleBuffer()
	c.replayPending()
	c.checkTimeouts()
	return nil
}

func (c *Channel) checkTimeouts() {
	now := c.clock.Now()
	for _, m := range slices.Clone(c.live) {
		if m.done() {
			continue
		}
		switch {
		case c.reg.unacked.contains(m) && !m.ackDeadline.IsZero() && !now.Before(m.ackDeadline):
			c.trace.RecordTimeout(fmt.Sprintf("no ACK for id %d", m.coapID))
			c.fail(m, fmt.Errorf("%w: no ACK for message %d", ErrTimeout, m.coapID))
		case c.reg.sentReqs.contains(m) && !m.respDeadline.IsZero() && !now.Before(m.respDeadline):
			c.fail(m, fmt.Errorf("%w: no response after %v", ErrTimeout, m.timeout))
		case m.state == StateWaitBlock && !m.blockDeadline.IsZero() && !now.Before(m.blockDeadline):
			c.fail(m, fmt.Errorf("%w: no block %d after %v", ErrTimeout, m.blockNum+1, c.cfg.BlockTimeout))
		}
	}
}

func (c *Channel) replayPending() {
	for _, m := range slices.Clone(c.live) {
		if m.done() || m.pending == pendingNone {
			continue
		}
		op := m.pending
		m.pending = pendingNone
		switch op {
		case pendingUploadBlock:
			c.resumeUpload(m)
		case pendingContinue:
			c.sendContinue(m)
		case pendingResponseBlock:
			c.resumeResponse(m)
		case pendingBlockRequest:
			c.requestResponseBlock(m)
		case pendingNone:
		}
		if c.buf != nil && c.bufOwner != nil && c.bufOwner.state == StateWrite {
			// the buffer went to a message being composed
			return
		}
	}
}

// HandleTimeout reports that the transport gave up retransmitting the
// confirmable message with the given id.
func (c *Channel) HandleTimeout(coapID uint16) bool {
	m := c.reg.unacked.byCoapID(coapID)
	if m == nil {
		return false
	}
	c.trace.RecordTimeout(fmt.Sprintf("retransmissions exhausted for id %d", coapID))
	c.fail(m, fmt.Errorf("%w: message %d not acknowledged", ErrTimeout, coapID))
	return true
}

// CancelRequest fails the exchange with ErrCancelled. Nothing is sent to the
// peer.
func (c *Channel) CancelRequest(requestID int) error {
	m := c.live.byID(requestID)
	if m == nil || m.done() {
		return fmt.Errorf("%w: request %d", ErrNotFound, requestID)
	}
	c.fail(m, ErrCancelled)
	return nil
}

// PendingCount returns the number of exchanges waiting on the peer.
func (c *Channel) PendingCount() int {
	return c.reg.len()
}

func (c *Channel) checkOpen() error {
	if c.state != StateOpen {
		return fmt.Errorf("%w: channel is %s", ErrInvalidState, c.state)
	}
	return nil
}

func (c *Channel) checkMessage(m *Message) error {
	if m == nil || m.ch != c {
		return fmt.Errorf("%w: foreign message", ErrInvalidParameter)
	}
	if err := c.checkOpen(); err != nil {
		return err
	}
	if m.session != c.sessionID {
		return fmt.Errorf("%w: message %d belongs to session %d", ErrInvalidState, m.id, m.session)
	}
	return nil
}

func (c *Channel) newMessage(typ MessageType, inbound bool) *Message {
	if c.lastID == math.MaxInt32 {
		c.lastID = 0
	}
	c.lastID++
	m := &Message{
		ch:      c,
		id:      c.lastID,
		reqID:   c.lastID,
		session: c.sessionID,
		typ:     typ,
		inbound: inbound,
		opts:    NewOptions(),
		refs:    1,
		szx:     blockSZX,
		started: c.clock.Now(),
	}
	if inbound {
		m.engineRef = true
	}
	c.live.add(m)
	return m
}

func (c *Channel) nextRequestTag() []byte {
	c.lastTag++
	if c.lastTag == 0 {
		c.lastTag = 1
	}
	return codec.AppendUint(nil, c.lastTag)
}

func newToken() ([]byte, error) {
	token, err := message.GetToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// acquireBuffer gives the shared buffer to m. A holder that is only reading
// a received block gives it up; a holder composing a message does not.
func (c *Channel) acquireBuffer(m *Message) error {
	if c.buf != nil {
		if c.bufOwner == m {
			return nil
		}
		owner := c.bufOwner
		if owner == nil || (owner.state == StateWrite && !owner.done()) {
			c.observer.BufferBusy()
			return ErrBusy
		}
		c.releaseBuffer()
	}
	buf, err := c.transport.AcquireBuffer()
	if err != nil {
		c.observer.BufferBusy()
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	c.buf = buf[:cap(buf)]
	c.bufOwner = m
	return nil
}

// releaseBuffer hands the buffer back to the transport. A reader keeps the
// unread part of its block in a private copy.
func (c *Channel) releaseBuffer() {
	if c.buf == nil {
		return
	}
	if o := c.bufOwner; o != nil && o.inbound && o.block != nil {
		if o.readPos < len(o.block) {
			o.block = slices.Clone(o.block[o.readPos:])
		} else {
			o.block = nil
		}
		o.readPos = 0
	}
	c.buf = nil
	c.bufOwner = nil
	c.transport.ReleaseBuffer()
}

// settleBuffer releases the buffer unless a message is being composed in it.
func (c *Channel) settleBuffer() {
	if c.buf == nil {
		return
	}
	if o := c.bufOwner; o != nil && o.state == StateWrite && !o.done() {
		return
	}
	c.releaseBuffer()
}

// settleInbound releases the buffer if the inbound message in it was not
// claimed by an exchange.
func (c *Channel) settleInbound() {
	if c.buf != nil && c.bufOwner == nil {
		c.releaseBuffer()
	}
}

// callback runs fn with close and open deferred until the next Run.
func (c *Channel) callback(fn func()) {
	c.dispatching++
	defer func() { c.dispatching-- }()
	fn()
}

// retire takes m out of every list. Its payloads stay until the last
// reference is released.
func (c *Channel) retire(m *Message) {
	c.dropUnacked(m)
	c.reg.removeAll(m)
	c.live.remove(m)
	m.state = StateDone
	m.pending = pendingNone
	if c.bufOwner == m {
		c.releaseBuffer()
	}
}

// dropUnacked stops waiting for the ACK of m's last confirmable message and
// tells the transport to stop retransmitting it.
func (c *Channel) dropUnacked(m *Message) {
	if c.reg.unacked.remove(m) && c.settler != nil {
		c.settler.Settle(m.coapID)
	}
}

// retainEngine makes the engine hold a reference while m is in flight.
func (c *Channel) retainEngine(m *Message) {
	if !m.engineRef {
		m.engineRef = true
		m.refs++
	}
}

func (c *Channel) dropEngine(m *Message) {
	if m.engineRef {
		m.engineRef = false
		m.Release()
	}
}

// destroy frees a message whose last reference was released.
func (c *Channel) destroy(m *Message) {
	if !m.done() {
		c.log.Debugf("message %d released in state %s", m.id, m.state)
		c.retire(m)
	}
	c.live.remove(m)
	if c.bufOwner == m {
		c.releaseBuffer()
	}
	if m.resp != nil {
		resp := m.resp
		m.resp = nil
		c.dropEngine(resp)
	}
	c.releaseBody(m)
	m.block = nil
}

// releaseBody drops the message's reference to its body.
func (c *Channel) releaseBody(m *Message) {
	if m.body == nil {
		return
	}
	if err := m.body.Release(); err != nil {
		c.log.Warnf("release payload of message %d: %v", m.id, err)
	}
	m.body = nil
}

// fail ends the exchange of m with err and calls its error callback.
func (c *Channel) fail(m *Message, err error) {
	if m.done() {
		return
	}
	c.retire(m)
	if ErrorTypeOf(err) == ErrorTypeProtocol && !HasTrace(err) {
		err = c.trace.WrapError(err)
	}
	c.observer.ExchangeFailed(m.typ, ErrorTypeOf(err))
	c.log.Debugf("%v", NewExchangeError(m.typ.String(), m.reqID, err))
	if m.resp != nil {
		resp := m.resp
		m.resp = nil
		c.retire(resp)
		c.dropEngine(resp)
	}
	if errCb := m.errCb; errCb != nil {
		c.callback(func() { errCb(err, m.reqID) })
	}
	c.dropEngine(m)
}

// complete ends the exchange of m successfully.
func (c *Channel) complete(m *Message) {
	c.retire(m)
	c.observer.ExchangeCompleted(m.typ, c.clock.Since(m.started))
}

// send encodes a message of m's exchange into the shared buffer and hands it
// to the transport. The buffer is released afterwards.
func (c *Channel) send(m *Message, typ codec.Type, code codes.Code, opts *Options, body []byte) error {
	if err := c.acquireBuffer(m); err != nil {
		return err
	}
	defer c.releaseBuffer()

	id := c.transport.NextMessageID()
	enc := codec.NewEncoder(c.buf)
	if err := enc.Header(typ, code, id, m.token); err != nil {
		return fmt.Errorf("%w: %w", ErrMessageTooLarge, err)
	}
	if err := opts.encode(enc); err != nil {
		return fmt.Errorf("%w: %w", ErrMessageTooLarge, err)
	}
	if err := enc.Payload(body); err != nil {
		return fmt.Errorf("%w: %w", ErrMessageTooLarge, err)
	}
	data := enc.Bytes()
	c.trace.RecordTX(data, "")
	if err := c.transport.Send(data); err != nil {
		return fmt.Errorf("send %s %s: %w", typ, codec.FormatCode(code), err)
	}
	c.observer.MessageSent(typ, code)
	m.coapID = id
	m.hasCoapID = true
	if typ == codec.Confirmable {
		m.ackDeadline = c.clock.Now().Add(c.transport.AckTimeout())
		c.reg.unacked.add(m)
	}
	return nil
}

// reply sends a small message outside of the shared buffer: an empty ACK or
// RST, or a response without options piggybacked on an ACK. Replies to
// confirmable messages are remembered for duplicate detection.
func (c *Channel) reply(typ codec.Type, code codes.Code, id uint16, token []byte) {
	var buf [codec.HeaderSize + codec.MaxTokenSize]byte
	if code == codes.Empty {
		token = nil
	}
	if typ == codec.NonConfirmable {
		id = c.transport.NextMessageID()
	}
	enc := codec.NewEncoder(buf[:])
	if err := enc.Header(typ, code, id, token); err != nil {
		c.log.Warnf("encode reply: %v", err)
		return
	}
	data := enc.Bytes()
	if typ == codec.Acknowledgement || typ == codec.Reset {
		c.remember(id, data)
	}
	c.trace.RecordTX(data, "")
	if err := c.transport.Send(data); err != nil {
		c.log.Warnf("send %s %s: %v", typ, codec.FormatCode(code), err)
		return
	}
	c.observer.MessageSent(typ, code)
}

// replyTo answers an inbound request directly, piggybacked if it was
// confirmable.
func (c *Channel) replyTo(msg *codec.Message, code codes.Code) {
	if msg.Type == codec.Confirmable {
		c.reply(codec.Acknowledgement, code, msg.ID, msg.Token)
		return
	}
	c.reply(codec.NonConfirmable, code, msg.ID, msg.Token)
}

func (c *Channel) remember(id uint16, data []byte) {
	r := &c.recent[c.recentNext]
	r.id = id
	r.n = copy(r.reply[:], data)
	r.valid = true
	c.recentNext = (c.recentNext + 1) % recentIDCount
}

// duplicate resends the reply to a confirmable message seen before.
func (c *Channel) duplicate(id uint16) bool {
	for i := range c.recent {
		r := &c.recent[i]
		if !r.valid || r.id != id {
			continue
		}
		data := r.reply[:r.n]
		c.trace.RecordTX(data, "duplicate")
		if err := c.transport.Send(data); err != nil {
			c.log.Warnf("resend reply to %d: %v", id, err)
		}
		return true
	}
	return false
}

func blockOption(num uint32, more bool, szx uint8) uint32 {
	return codec.Block{Num: num, More: more, SZX: szx}.Value()
}

// checkBlockSize verifies that b uses the block size szx of its exchange
// and that a block with more set is full.
func checkBlockSize(b codec.Block, szx uint8, payload []byte) error {
	if b.SZX != szx {
		return fmt.Errorf("%w: block %d is %d bytes, exchange uses %d", ErrProtocol, b.Num, b.Size(), codec.Block{SZX: szx}.Size())
	}
	if b.More && len(payload) != b.Size() {
		return fmt.Errorf("%w: block %d carries %d of %d bytes", ErrProtocol, b.Num, len(payload), b.Size())
	}
	return nil
}

func (c *Channel) startBlockWait(m *Message) {
	m.state = StateWaitBlock
	m.blockDeadline = c.clock.Now().Add(c.cfg.BlockTimeout)
}

func deadline(now time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return now.Add(d)
}
