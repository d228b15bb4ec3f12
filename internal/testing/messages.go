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

package testing

import (
	"slices"
	"strings"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// Option numbers used by the builders
const (
	OptURIPath    uint16 = 11
	OptBlock2     uint16 = 23
	OptBlock1     uint16 = 27
	OptSize2      uint16 = 28
	OptSize1      uint16 = 60
	OptRequestTag uint16 = 292

	// SZX of 1024 byte blocks
	BlockSZX = 6
)

// MessageBuilder composes a wire message as the peer would send it. Options
// may be added in any order.
type MessageBuilder struct {
	token   []byte
	opts    []codec.Option
	payload []byte
	id      uint16
	code    codes.Code
	typ     codec.Type
}

// NewMessage starts a message.
func NewMessage(typ codec.Type, code codes.Code, id uint16) *MessageBuilder {
	return &MessageBuilder{typ: typ, code: code, id: id}
}

// Token sets the token.
func (b *MessageBuilder) Token(token []byte) *MessageBuilder {
	b.token = slices.Clone(token)
	return b
}

// Path adds one Uri-Path option per segment.
func (b *MessageBuilder) Path(path string) *MessageBuilder {
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg != "" {
			b.Opaque(OptURIPath, []byte(seg))
		}
	}
	return b
}

// Opaque adds an option.
func (b *MessageBuilder) Opaque(num uint16, value []byte) *MessageBuilder {
	b.opts = append(b.opts, codec.Option{Number: num, Value: slices.Clone(value)})
	return b
}

// Uint adds a uint option.
func (b *MessageBuilder) Uint(num uint16, v uint32) *MessageBuilder {
	return b.Opaque(num, codec.AppendUint(nil, v))
}

// Block1 adds a Block1 option for a 1024 byte block.
func (b *MessageBuilder) Block1(num uint32, more bool) *MessageBuilder {
	return b.Block(OptBlock1, codec.Block{Num: num, More: more, SZX: BlockSZX})
}

// Block2 adds a Block2 option for a 1024 byte block.
func (b *MessageBuilder) Block2(num uint32, more bool) *MessageBuilder {
	return b.Block(OptBlock2, codec.Block{Num: num, More: more, SZX: BlockSZX})
}

// Block adds a block option of any size.
func (b *MessageBuilder) Block(num uint16, blk codec.Block) *MessageBuilder {
	return b.Uint(num, blk.Value())
}

// Payload sets the payload.
func (b *MessageBuilder) Payload(p []byte) *MessageBuilder {
	b.payload = slices.Clone(p)
	return b
}

// Bytes encodes the message. It panics if the message does not fit a
// DefaultBufferSize buffer.
func (b *MessageBuilder) Bytes() []byte {
	buf := make([]byte, DefaultBufferSize)
	enc := codec.NewEncoder(buf)
	must(enc.Header(b.typ, b.code, b.id, b.token))
	opts := slices.Clone(b.opts)
	slices.SortStableFunc(opts, func(x, y codec.Option) int {
		return int(x.Number) - int(y.Number)
	})
	for _, o := range opts {
		must(enc.Option(o.Number, o.Value))
	}
	must(enc.Payload(b.payload))
	return slices.Clone(enc.Bytes())
}

// BuildAck creates an empty ACK.
func BuildAck(id uint16) []byte {
	return NewMessage(codec.Acknowledgement, codes.Empty, id).Bytes()
}

// BuildReset creates a RST.
func BuildReset(id uint16) []byte {
	return NewMessage(codec.Reset, codes.Empty, id).Bytes()
}

// BuildPing creates an empty CON.
func BuildPing(id uint16) []byte {
	return NewMessage(codec.Confirmable, codes.Empty, id).Bytes()
}

// BuildPiggybacked creates a response piggybacked on the ACK of request.
func BuildPiggybacked(request *codec.Message, code codes.Code, payload []byte) []byte {
	return NewMessage(codec.Acknowledgement, code, request.ID).
		Token(request.Token).
		Payload(payload).
		Bytes()
}

// BuildContinue creates the 2.31 Continue piggybacked on the ACK of block
// num of an upload.
func BuildContinue(request *codec.Message, num uint32) []byte {
	return NewMessage(codec.Acknowledgement, codec.CodeContinue, request.ID).
		Token(request.Token).
		Block1(num, true).
		Bytes()
}

// BuildRequest creates a confirmable request.
func BuildRequest(id uint16, method codes.Code, path string, token []byte, payload []byte) []byte {
	return NewMessage(codec.Confirmable, method, id).
		Token(token).
		Path(path).
		Payload(payload).
		Bytes()
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
