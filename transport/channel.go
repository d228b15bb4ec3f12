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

// Package transport is the message channel underneath the CoAP engine for
// framed point-to-point links. It owns the shared message buffer, numbers
// outgoing messages and retransmits confirmable ones until the peer
// acknowledges them.
package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	coap "github.com/ZaparooProject/go-coapchannel"
	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/ZaparooProject/go-coapchannel/internal/frame"
	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/ZaparooProject/go-coapchannel/internal/syncutil"
	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	udp "github.com/plgd-dev/go-coap/v2/udp/message"
)

// Link carries one message per frame. ReadFrame blocks until a frame
// arrives, the link fails or ctx is done.
type Link interface {
	WriteFrame(data []byte) error
	ReadFrame(ctx context.Context, buf []byte) (int, error)
	Close() error
}

// Handler consumes what the channel receives. *coap.Channel implements it.
type Handler interface {
	HandleMessage(data []byte) (bool, error)
	HandleTimeout(coapID uint16) bool
	HandleProtocolError(err error)
}

// outstanding is a confirmable message waiting for its ACK.
type outstanding struct {
	due     time.Time
	backoff backoff.BackOff
	data    []byte
}

// Channel is a message channel over a Link.
//
// Send, Poll and the buffer methods belong to the goroutine driving the
// engine. Received frames are read on a separate goroutine started by Start
// and handed over through a queue.
type Channel struct {
	link      Link
	clock     clockwork.Clock
	observer  Observer
	log       *logger.Logger
	cfg       *Config
	cancel    context.CancelFunc
	inbox     chan []byte
	failures  chan error
	done      chan struct{}
	unacked   map[uint16]*outstanding
	buf       []byte
	waiting   []byte
	mu        syncutil.Mutex
	closeOnce sync.Once
	connected atomic.Bool
	nextID    uint16
	held      bool
	started   bool
}

// New creates a channel over link. A nil config uses DefaultConfig.
func New(link Link, cfg *Config) (*Channel, error) {
	if link == nil {
		return nil, fmt.Errorf("%w: nil link", ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Channel{
		link:     link,
		clock:    cfg.Clock,
		observer: obs,
		log:      log.With("component", "transport"),
		cfg:      cfg,
		inbox:    make(chan []byte, cfg.InboxSize),
		failures: make(chan error, 1),
		done:     make(chan struct{}),
		unacked:  make(map[uint16]*outstanding),
		buf:      make([]byte, cfg.BufferSize),
		nextID:   udp.GetMID(),
	}, nil
}

// Start begins receiving frames. The channel reports connected until the
// link fails or Close is called.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("%w: already started", ErrClosed)
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.started = true
	c.connected.Store(true)
	go c.receive(ctx)
	return nil
}

func (c *Channel) receive(ctx context.Context) {
	defer close(c.done)
	buf := frame.GetBuffer(frame.MaxDataLength)
	defer frame.PutBuffer(buf)

	for {
		n, err := c.link.ReadFrame(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.connected.Store(false)
			c.log.Warnf("receive failed: %v", err)
			c.failures <- fmt.Errorf("%w: %w", ErrLinkFailed, err)
			return
		}
		select {
		case c.inbox <- slices.Clone(buf[:n]):
		case <-ctx.Done():
			return
		}
	}
}

// Close stops receiving and closes the link. Unacknowledged messages are
// forgotten.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.mu.Lock()
		started := c.started
		if c.cancel != nil {
			c.cancel()
		}
		clear(c.unacked)
		c.mu.Unlock()

		err = c.link.Close()
		if started {
			<-c.done
		}
	})
	return err
}

// AcquireBuffer returns the shared buffer, or ErrBufferBusy while it is out.
func (c *Channel) AcquireBuffer() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		return nil, ErrBufferBusy
	}
	c.held = true
	return c.buf, nil
}

// ReleaseBuffer gives the shared buffer back.
func (c *Channel) ReleaseBuffer() {
	c.mu.Lock()
	c.held = false
	c.mu.Unlock()
}

// Send writes one message to the link. Confirmable messages are kept for
// retransmission until acknowledged or reset.
func (c *Channel) Send(data []byte) error {
	if !c.connected.Load() {
		return ErrNotStarted
	}
	h, err := codec.DecodeHeader(data)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := c.link.WriteFrame(data); err != nil {
		return fmt.Errorf("%w: %w", ErrLinkFailed, err)
	}
	if h.Type != codec.Confirmable {
		return nil
	}
	o := &outstanding{data: slices.Clone(data), backoff: c.newBackOff()}
	o.due = c.clock.Now().Add(o.backoff.NextBackOff())

	c.mu.Lock()
	c.unacked[h.ID] = o
	c.mu.Unlock()
	return nil
}

// newBackOff returns the retransmission schedule of one message: a first
// timeout drawn from [AckTimeout, AckTimeout*AckRandomFactor], doubled for
// every retransmission.
func (c *Channel) newBackOff() backoff.BackOff {
	f := c.cfg.AckRandomFactor
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(float64(c.cfg.AckTimeout) * (1 + f) / 2)
	bo.RandomizationFactor = (f - 1) / (f + 1)
	bo.Multiplier = 2
	bo.MaxInterval = bo.InitialInterval << c.cfg.MaxRetransmit
	bo.MaxElapsedTime = 0
	bo.Clock = c.clock
	bo.Reset()
	// one interval before the first retransmission and one after the last
	return backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetransmit)+1)
}

// NextMessageID returns the id for the next outgoing message.
func (c *Channel) NextMessageID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

// AckTimeout is the longest a confirmable message can stay unacknowledged.
func (c *Channel) AckTimeout() time.Duration {
	return c.cfg.MaxTransmitWait()
}

// IsConnected returns true while the receive loop is running.
func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// Unacked returns the number of confirmable messages awaiting an ACK.
func (c *Channel) Unacked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unacked)
}

// Poll resends overdue confirmable messages and hands received messages to
// h for as long as the shared buffer is free. It returns the number of
// messages delivered. A failed link is reported to h after everything
// received before the failure.
func (c *Channel) Poll(h Handler) int {
	c.retransmit(h)
	n := c.deliver(h)
	if len(c.inbox) == 0 && c.waiting == nil {
		select {
		case err := <-c.failures:
			h.HandleProtocolError(err)
		default:
		}
	}
	return n
}

func (c *Channel) deliver(h Handler) int {
	delivered := 0
	for {
		if c.waiting == nil {
			select {
			case data := <-c.inbox:
				c.waiting = data
			default:
				return delivered
			}
		}
		buf, err := c.AcquireBuffer()
		if err != nil {
			// the engine still holds it; try again on the next poll
			return delivered
		}
		data := c.waiting
		c.waiting = nil
		if len(data) > len(buf) {
			c.ReleaseBuffer()
			c.log.Warnf("dropping %d byte message, buffer is %d bytes", len(data), len(buf))
			c.observer.FrameDropped("oversized")
			continue
		}
		c.settle(data)
		n := copy(buf, data)
		if _, err := h.HandleMessage(buf[:n]); err != nil {
			c.log.Debugf("message dropped: %v", err)
		}
		delivered++
	}
}

// settle stops retransmitting the message an ACK or RST refers to.
func (c *Channel) settle(data []byte) {
	h, err := codec.DecodeHeader(data)
	if err != nil || (h.Type != codec.Acknowledgement && h.Type != codec.Reset) {
		return
	}
	c.Settle(h.ID)
}

// Settle stops retransmitting the confirmable message id. The engine calls
// it when a later message implied the ACK or the exchange ended.
func (c *Channel) Settle(id uint16) {
	c.mu.Lock()
	delete(c.unacked, id)
	c.mu.Unlock()
}

func (c *Channel) retransmit(h Handler) {
	now := c.clock.Now()
	var resend [][]byte
	var expired []uint16

	c.mu.Lock()
	for id, o := range c.unacked {
		if now.Before(o.due) {
			continue
		}
		next := o.backoff.NextBackOff()
		if next == backoff.Stop {
			delete(c.unacked, id)
			expired = append(expired, id)
			continue
		}
		o.due = now.Add(next)
		resend = append(resend, o.data)
	}
	c.mu.Unlock()

	for _, data := range resend {
		if err := c.link.WriteFrame(data); err != nil {
			c.log.Warnf("retransmission failed: %v", err)
			continue
		}
		c.observer.Retransmitted()
	}
	slices.Sort(expired)
	for _, id := range expired {
		c.log.Debugf("message %d not acknowledged after %d retransmissions", id, c.cfg.MaxRetransmit)
		h.HandleTimeout(id)
	}
}

var (
	_ coap.Transport = (*Channel)(nil)
	_ coap.Settler   = (*Channel)(nil)
)
