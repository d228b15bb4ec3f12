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
	"slices"
)

type messageList []*Message

func (l *messageList) add(m *Message) {
	if !slices.Contains(*l, m) {
		*l = append(*l, m)
	}
}

func (l *messageList) remove(m *Message) bool {
	i := slices.Index(*l, m)
	if i < 0 {
		return false
	}
	*l = slices.Delete(*l, i, i+1)
	return true
}

func (l messageList) contains(m *Message) bool {
	return slices.Contains(l, m)
}

func (l messageList) find(fn func(*Message) bool) *Message {
	for _, m := range l {
		if fn(m) {
			return m
		}
	}
	return nil
}

func (l messageList) byID(id int) *Message {
	return l.find(func(m *Message) bool { return m.id == id })
}

func (l messageList) byCoapID(id uint16) *Message {
	return l.find(func(m *Message) bool { return m.hasCoapID && m.coapID == id })
}

func (l messageList) byToken(token []byte) *Message {
	return l.find(func(m *Message) bool { return bytes.Equal(m.token, token) })
}

// registry holds every exchange waiting on the peer. A message is in at most
// one of sentReqs, recvReqs and blockResps, and additionally in unacked while
// a confirmable message of it awaits its ACK.
type registry struct {
	// requests sent by us, waiting for a response
	sentReqs messageList
	// requests received from the peer, waiting for our response
	recvReqs messageList
	// blockwise responses waiting for the peer to ask for the next block
	blockResps messageList
	// confirmable messages waiting for an ACK
	unacked messageList
}

func (r *registry) removeAll(m *Message) {
	r.sentReqs.remove(m)
	r.recvReqs.remove(m)
	r.blockResps.remove(m)
	r.unacked.remove(m)
}

func (r *registry) contains(m *Message) bool {
	return r.sentReqs.contains(m) || r.recvReqs.contains(m) ||
		r.blockResps.contains(m) || r.unacked.contains(m)
}

func (r *registry) byID(id int) *Message {
	for _, l := range r.lists() {
		if m := l.byID(id); m != nil {
			return m
		}
	}
	return nil
}

// all returns every registered message once, in list order.
func (r *registry) all() []*Message {
	var out []*Message
	for _, l := range r.lists() {
		for _, m := range l {
			if !slices.Contains(out, m) {
				out = append(out, m)
			}
		}
	}
	return out
}

func (r *registry) len() int {
	return len(r.all())
}

func (r *registry) lists() []messageList {
	return []messageList{r.sentReqs, r.recvReqs, r.blockResps, r.unacked}
}
