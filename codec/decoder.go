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

package codec

import (
	"encoding/binary"
	"strings"

	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// Option is a decoded option. Value aliases the decoded buffer.
type Option struct {
	Value  []byte
	Number uint16
}

// Message is a decoded CoAP message. Token, option values and Payload alias
// the buffer passed to Decode.
type Message struct {
	Token   []byte
	Options []Option
	Payload []byte
	ID      uint16
	Code    codes.Code
	Type    Type
}

// Header holds the fixed header fields of a message.
type Header struct {
	ID          uint16
	Code        codes.Code
	Type        Type
	TokenLength int
}

// DecodeHeader parses only the fixed 4-byte header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrTruncated
	}
	if buf[0]>>6 != Version {
		return Header{}, ErrInvalidVersion
	}
	h := Header{
		Type:        Type(buf[0] >> 4 & 0x03),
		TokenLength: int(buf[0] & 0x0F),
		Code:        codes.Code(buf[1]),
		ID:          binary.BigEndian.Uint16(buf[2:4]),
	}
	if h.TokenLength > MaxTokenSize {
		return Header{}, ErrInvalidTokenLength
	}
	return h, nil
}

// Decode parses a complete message.
func Decode(buf []byte) (Message, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Message{}, err
	}
	pos := HeaderSize
	if len(buf) < pos+h.TokenLength {
		return Message{}, ErrTruncated
	}
	msg := Message{
		Type:  h.Type,
		Code:  h.Code,
		ID:    h.ID,
		Token: buf[pos : pos+h.TokenLength],
	}
	pos += h.TokenLength

	num := 0
	for pos < len(buf) {
		if buf[pos] == PayloadMarker {
			pos++
			if pos == len(buf) {
				return Message{}, ErrEmptyPayload
			}
			msg.Payload = buf[pos:]
			break
		}
		delta := int(buf[pos] >> 4)
		length := int(buf[pos] & 0x0F)
		pos++
		if delta, pos, err = readOptionExt(buf, pos, delta); err != nil {
			return Message{}, err
		}
		if length, pos, err = readOptionExt(buf, pos, length); err != nil {
			return Message{}, err
		}
		num += delta
		if num > 0xFFFF {
			return Message{}, ErrInvalidOption
		}
		if len(buf)-pos < length {
			return Message{}, ErrTruncated
		}
		msg.Options = append(msg.Options, Option{Number: uint16(num), Value: buf[pos : pos+length]})
		pos += length
	}
	return msg, nil
}

func readOptionExt(buf []byte, pos, nibble int) (value, next int, err error) {
	switch nibble {
	case extByteNibble:
		if pos >= len(buf) {
			return 0, pos, ErrTruncated
		}
		return int(buf[pos]) + extByteBase, pos + 1, nil
	case extWordNibble:
		if pos+2 > len(buf) {
			return 0, pos, ErrTruncated
		}
		return int(binary.BigEndian.Uint16(buf[pos:])) + extWordBase, pos + 2, nil
	case reservedNibble:
		return 0, pos, ErrInvalidOption
	default:
		return nibble, pos, nil
	}
}

// Option returns the first option with the given number.
func (m *Message) Option(num uint16) (Option, bool) {
	for _, opt := range m.Options {
		if opt.Number == num {
			return opt, true
		}
		if opt.Number > num {
			break
		}
	}
	return Option{}, false
}

// Uint returns the first option with the given number decoded as a uint.
func (m *Message) Uint(num uint16) (uint32, bool, error) {
	opt, ok := m.Option(num)
	if !ok {
		return 0, false, nil
	}
	v, err := DecodeUint(opt.Value)
	if err != nil {
		return 0, true, err
	}
	return v, true, nil
}

// Block returns the decoded Block1 or Block2 option if present.
func (m *Message) Block(num uint16) (Block, bool, error) {
	v, ok, err := m.Uint(num)
	if !ok || err != nil {
		return Block{}, ok, err
	}
	b, err := ParseBlock(v)
	return b, true, err
}

// Path joins all options with the given number (normally Uri-Path) with '/'.
func (m *Message) Path(num uint16) string {
	var sb strings.Builder
	first := true
	for _, opt := range m.Options {
		if opt.Number != num {
			continue
		}
		if !first {
			_ = sb.WriteByte('/')
		}
		_, _ = sb.Write(opt.Value)
		first = false
	}
	return sb.String()
}
