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

// Package cloud implements the device side of the event protocol on top of
// a [coap.Channel]. Events are POST requests to E/<name>; their bodies are
// streamed blockwise in both directions.
package cloud

import (
	"errors"
	"fmt"
	"io"
	"strings"

	coap "github.com/ZaparooProject/go-coapchannel"
	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/ZaparooProject/go-coapchannel/payload"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// EventPath is the URI path under which events are exchanged.
const EventPath = "/E"

const (
	// MaxEventNameLength bounds the name of a published event.
	MaxEventNameLength = 64

	readChunk = 128
)

// ErrInvalidName is returned by Publish for an empty or malformed name.
var ErrInvalidName = errors.New("invalid event name")

// EventFunc receives an event. data is positioned at the start of the body
// and released after the call unless the subscriber retains it.
type EventFunc func(name string, data *payload.Payload) error

type subscription struct {
	fn     EventFunc
	prefix string
}

// Client publishes events to the cloud and dispatches the events it sends.
// Like the channel it runs on, a Client is not safe for concurrent use.
type Client struct {
	ch         *coap.Channel
	log        *logger.Logger
	subs       []subscription
	registered bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger of the client.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a client on ch.
func New(ch *coap.Channel, opts ...Option) *Client {
	c := &Client{ch: ch, log: logger.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "cloud")
	return c
}

func validName(name string) error {
	if name == "" || len(name) > MaxEventNameLength || strings.ContainsAny(name, "?#") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Publish sends the event name with the contents of body. done is called
// once, with nil when the cloud acknowledged the event or with the error
// that ended the exchange. It is not called when Publish itself fails.
func (c *Client) Publish(name string, body io.ReadSeeker, done func(error)) error {
	if err := validName(name); err != nil {
		return err
	}
	m, err := c.ch.BeginRequest(EventPath+"/"+name, codes.POST, 0)
	if err != nil {
		return fmt.Errorf("begin event %s: %w", name, err)
	}
	p := &publication{
		client: c,
		name:   name,
		body:   body,
		done:   done,
		buf:    make([]byte, readChunk),
	}
	err = p.sendNext(m)
	// the channel holds the message from here on
	m.Release()
	if err != nil {
		return fmt.Errorf("send event %s: %w", name, err)
	}
	return nil
}

type publication struct {
	client   *Client
	body     io.ReadSeeker
	done     func(error)
	name     string
	buf      []byte
	finished bool
}

// sendNext feeds the body into the request until a block goes out and the
// channel waits for the peer, or the body ends.
func (p *publication) sendNext(m *coap.Message) error {
	ch := p.client.ch
	for {
		n, rerr := p.body.Read(p.buf)
		if n > 0 {
			written, wait, err := ch.WriteBlock(m, p.buf[:n], p.nextBlock, p.failed)
			if err != nil {
				return err
			}
			if written < n {
				if _, err := p.body.Seek(int64(written-n), io.SeekCurrent); err != nil {
					return fmt.Errorf("rewind event body: %w", err)
				}
			}
			if wait {
				return nil
			}
		}
		switch {
		case errors.Is(rerr, io.EOF):
			_, err := ch.EndRequest(m, nil, p.acked, p.failed)
			return err
		case rerr != nil:
			return fmt.Errorf("read event body: %w", rerr)
		}
	}
}

func (p *publication) nextBlock(m *coap.Message, _ int) error {
	return p.sendNext(m)
}

func (p *publication) acked(int) error {
	p.finish(nil)
	return nil
}

func (p *publication) failed(err error, _ int) {
	p.finish(err)
}

func (p *publication) finish(err error) {
	if p.finished {
		return
	}
	p.finished = true
	if err != nil {
		p.client.log.Warnf("event %s failed: %v", p.name, err)
	} else {
		p.client.log.Debugf("event %s acknowledged", p.name)
	}
	if p.done != nil {
		p.done(err)
	}
}

// Subscribe calls fn for every received event whose name starts with
// prefix. When several subscriptions match, the one added first wins.
func (c *Client) Subscribe(prefix string, fn EventFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: nil subscriber", coap.ErrInvalidParameter)
	}
	if !c.registered {
		if err := c.ch.AddRequestHandler(EventPath, codes.POST, c.handleEvent); err != nil {
			return fmt.Errorf("register event handler: %w", err)
		}
		c.registered = true
	}
	c.subs = append(c.subs, subscription{prefix: prefix, fn: fn})
	return nil
}

// Unsubscribe removes the subscriptions for prefix.
func (c *Client) Unsubscribe(prefix string) {
	kept := c.subs[:0]
	for _, s := range c.subs {
		if s.prefix != prefix {
			kept = append(kept, s)
		}
	}
	c.subs = kept
}

func (c *Client) match(name string) EventFunc {
	for _, s := range c.subs {
		if strings.HasPrefix(name, s.prefix) {
			return s.fn
		}
	}
	return nil
}

func (c *Client) handleEvent(m *coap.Message, uri string, _ codes.Code, requestID int) error {
	name := strings.TrimPrefix(strings.TrimPrefix(uri, EventPath), "/")
	fn := c.match(name)
	if fn == nil {
		c.log.Debugf("ignoring event %q", name)
		return c.respond(requestID, codes.NotFound)
	}
	r := &reception{client: c, name: name, fn: fn, data: c.ch.NewPayload(), buf: make([]byte, readChunk)}
	return r.read(m, requestID)
}

func (c *Client) respond(requestID int, code codes.Code) error {
	resp, err := c.ch.BeginResponse(code, requestID)
	if err != nil {
		return err
	}
	defer resp.Release()
	return c.ch.EndResponse(resp, nil, nil)
}

// reception collects the body of one inbound event.
type reception struct {
	client *Client
	fn     EventFunc
	data   *payload.Payload
	name   string
	buf    []byte
}

func (r *reception) read(m *coap.Message, requestID int) error {
	ch := r.client.ch
	for {
		n, wait, err := ch.ReadBlock(m, r.buf, r.read, r.failed)
		if n > 0 {
			if _, werr := r.data.Write(r.buf[:n]); werr != nil {
				r.release()
				return werr
			}
		}
		switch {
		case wait:
			return nil
		case errors.Is(err, coap.ErrEndOfStream):
			return r.deliver(requestID)
		case err != nil:
			r.release()
			return err
		}
	}
}

func (r *reception) deliver(requestID int) error {
	r.data.SetPos(0)
	err := r.fn(r.name, r.data)
	r.release()
	if err != nil {
		return fmt.Errorf("event %s: %w", r.name, err)
	}
	return r.client.respond(requestID, codes.Changed)
}

func (r *reception) failed(err error, _ int) {
	r.client.log.Warnf("receiving event %s: %v", r.name, err)
	r.release()
}

func (r *reception) release() {
	if r.data == nil {
		return
	}
	if err := r.data.Release(); err != nil {
		r.client.log.Warnf("release event %s: %v", r.name, err)
	}
	r.data = nil
}
