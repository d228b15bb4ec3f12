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
	"strings"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// ResponseFunc is called once with the complete response to a request.
type ResponseFunc func(msg *Message, requestID int) error

// AckFunc is called when the peer acknowledged the (last block of the)
// request.
type AckFunc func(requestID int) error

// ErrorFunc is called at most once when an exchange fails. No other callback
// of the exchange is called afterwards.
type ErrorFunc func(err error, requestID int)

// BlockFunc is called when the next block of a blockwise exchange can be
// read or written.
type BlockFunc func(msg *Message, requestID int) error

// RequestFunc handles an inbound request. The message is borrowed; its body
// is read with ReadBlock and it is answered with BeginResponse.
type RequestFunc func(msg *Message, uri string, method codes.Code, requestID int) error

// ConnectionFunc is called when the channel opens (err is nil) or closes.
type ConnectionFunc func(err error, open bool)

type requestHandler struct {
	fn     RequestFunc
	path   string
	method codes.Code
}

type connectionHandler struct {
	fn ConnectionFunc
	id int
}

// AddRequestHandler registers fn for requests with the given method whose
// path is path or below it. Registering the same path and method again
// replaces the handler.
func (c *Channel) AddRequestHandler(path string, method codes.Code, fn RequestFunc) error {
	if fn == nil || !codec.IsRequest(method) {
		return fmt.Errorf("%w: request handler for %s %q", ErrInvalidParameter, method, path)
	}
	path = normalizePath(path)
	if len(path) > MaxURIPathLength {
		return fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(path))
	}
	for i := range c.reqHandlers {
		if c.reqHandlers[i].path == path && c.reqHandlers[i].method == method {
			c.reqHandlers[i].fn = fn
			return nil
		}
	}
	if len(c.reqHandlers) >= MaxRequestHandlers {
		return fmt.Errorf("%w: %d request handlers", ErrNoMemory, len(c.reqHandlers))
	}
	c.reqHandlers = append(c.reqHandlers, requestHandler{path: path, method: method, fn: fn})
	return nil
}

// RemoveRequestHandler removes the handler registered for path and method.
func (c *Channel) RemoveRequestHandler(path string, method codes.Code) error {
	path = normalizePath(path)
	n := len(c.reqHandlers)
	c.reqHandlers = slices.DeleteFunc(c.reqHandlers, func(h requestHandler) bool {
		return h.path == path && h.method == method
	})
	if len(c.reqHandlers) == n {
		return fmt.Errorf("%w: request handler %s %q", ErrNotFound, method, path)
	}
	return nil
}

// AddConnectionHandler registers fn for open and close notifications and
// returns an id for RemoveConnectionHandler.
func (c *Channel) AddConnectionHandler(fn ConnectionFunc) (int, error) {
	if fn == nil {
		return 0, fmt.Errorf("%w: nil connection handler", ErrInvalidParameter)
	}
	c.lastConnHandlerID++
	c.connHandlers = append(c.connHandlers, connectionHandler{id: c.lastConnHandlerID, fn: fn})
	return c.lastConnHandlerID, nil
}

// RemoveConnectionHandler removes a connection handler.
func (c *Channel) RemoveConnectionHandler(id int) error {
	n := len(c.connHandlers)
	c.connHandlers = slices.DeleteFunc(c.connHandlers, func(h connectionHandler) bool {
		return h.id == id
	})
	if len(c.connHandlers) == n {
		return fmt.Errorf("%w: connection handler %d", ErrNotFound, id)
	}
	return nil
}

// matchHandler finds the handler for an inbound request. The longest
// matching path wins. If some path matches but no handler accepts the
// method, the reply is 4.05, otherwise 4.04.
func (c *Channel) matchHandler(uri string, method codes.Code) (*requestHandler, codes.Code) {
	var best *requestHandler
	pathKnown := false
	for i := range c.reqHandlers {
		h := &c.reqHandlers[i]
		if !pathMatches(h.path, uri) {
			continue
		}
		pathKnown = true
		if h.method != method {
			continue
		}
		if best == nil || len(h.path) > len(best.path) {
			best = h
		}
	}
	switch {
	case best != nil:
		return best, codes.Empty
	case pathKnown:
		return nil, codes.MethodNotAllowed
	default:
		return nil, codes.NotFound
	}
}

func (c *Channel) notifyConnection(err error, open bool) {
	for _, h := range slices.Clone(c.connHandlers) {
		c.callback(func() { h.fn(err, open) })
	}
}

// pathMatches reports whether uri is prefix or lies below it.
func pathMatches(prefix, uri string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(uri, prefix) {
		return false
	}
	return len(uri) == len(prefix) || uri[len(prefix)] == '/'
}

// normalizePath returns path with exactly one leading slash and no trailing
// slash.
func normalizePath(path string) string {
	path = strings.Trim(path, "/")
	return "/" + path
}

// pathSegments splits a normalized path into Uri-Path option values.
func pathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
