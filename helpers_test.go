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
	"io"
	"testing"
	"time"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	testutil "github.com/ZaparooProject/go-coapchannel/internal/testing"
	"github.com/ZaparooProject/go-coapchannel/payload"
	"github.com/jonboulle/clockwork"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// harness is an open channel talking to a virtual peer.
type harness struct {
	ch    *Channel
	peer  *testutil.VirtualPeer
	clock *clockwork.FakeClock
	store *payload.Store
	obs   *countingObserver
}

func newHarness(t *testing.T, opts ...ChannelOption) *harness {
	t.Helper()

	h := &harness{
		peer:  testutil.NewVirtualPeer(),
		clock: clockwork.NewFakeClock(),
		store: payload.NewStore(afero.NewMemMapFs()),
		obs:   &countingObserver{},
	}
	all := []ChannelOption{
		WithClock(h.clock),
		WithPayloadStore(h.store),
		WithObserver(h.obs),
		WithLogger(logger.New(io.Discard, logger.DebugLevel)),
		WithName(t.Name()),
	}
	ch, err := New(h.peer, append(all, opts...)...)
	require.NoError(t, err)
	require.NoError(t, ch.Open())
	require.Equal(t, StateOpen, ch.State())
	h.ch = ch
	return h
}

// deliver hands a wire message to the channel.
func (h *harness) deliver(data []byte) (bool, error) {
	return h.peer.Deliver(h.ch.HandleMessage, data)
}

// mustDeliver delivers a message the channel is expected to accept.
func (h *harness) mustDeliver(t *testing.T, data []byte) {
	t.Helper()
	handled, err := h.deliver(data)
	require.NoError(t, err)
	require.True(t, handled)
}

// last returns the last message the channel sent.
func (h *harness) last(t *testing.T) *codec.Message {
	t.Helper()
	msg := h.peer.Last()
	require.NotNil(t, msg, "nothing was sent")
	return msg
}

// exchangeLog records the callbacks of one exchange.
type exchangeLog struct {
	errs      []error
	responses []*Message
	bodies    [][]byte
	respCodes []codes.Code
	acks      int
}

func (l *exchangeLog) onResponse(msg *Message, _ int) error {
	l.responses = append(l.responses, msg)
	l.respCodes = append(l.respCodes, msg.Code())
	p, err := msg.Payload()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if p != nil {
		if _, err := io.Copy(&buf, p); err != nil {
			return err
		}
	}
	l.bodies = append(l.bodies, buf.Bytes())
	return nil
}

func (l *exchangeLog) onAck(int) error {
	l.acks++
	return nil
}

func (l *exchangeLog) onError(err error, _ int) {
	l.errs = append(l.errs, err)
}

// sendRequest begins and ends a request with an optional body.
func (h *harness) sendRequest(t *testing.T, uri string, method codes.Code, body []byte, log *exchangeLog) *Message {
	t.Helper()
	m, err := h.ch.BeginRequest(uri, method, 30*time.Second)
	require.NoError(t, err)
	if body != nil {
		n, wait, err := h.ch.WriteBlock(m, body, nil, nil)
		require.NoError(t, err)
		require.False(t, wait)
		require.Equal(t, len(body), n)
	}
	_, err = h.ch.EndRequest(m, log.onResponse, log.onAck, log.onError)
	require.NoError(t, err)
	return m
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

// countingObserver counts engine events.
type countingObserver struct {
	sent      map[codes.Code]int
	failed    map[ErrorType]int
	completed int
	blocks    int
	busy      int
	received  int
}

func (o *countingObserver) MessageSent(_ codec.Type, code codes.Code) {
	if o.sent == nil {
		o.sent = make(map[codes.Code]int)
	}
	o.sent[code]++
}

func (o *countingObserver) MessageReceived(codec.Type, codes.Code) { o.received++ }

func (o *countingObserver) ExchangeCompleted(MessageType, time.Duration) { o.completed++ }

func (o *countingObserver) ExchangeFailed(_ MessageType, errType ErrorType) {
	if o.failed == nil {
		o.failed = make(map[ErrorType]int)
	}
	o.failed[errType]++
}

func (o *countingObserver) BlockTransferred(MessageType) { o.blocks++ }

func (o *countingObserver) BufferBusy() { o.busy++ }
