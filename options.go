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
	"iter"
	"slices"
	"sort"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/plgd-dev/go-coap/v2/message"
)

// Option numbers used by the engine.
const (
	OptionETag          = uint16(message.ETag)
	OptionURIPath       = uint16(message.URIPath)
	OptionContentFormat = uint16(message.ContentFormat)
	OptionMaxAge        = uint16(message.MaxAge)
	OptionURIQuery      = uint16(message.URIQuery)
	OptionBlock2        = uint16(message.Block2)
	OptionBlock1        = uint16(message.Block1)
	OptionSize2         = uint16(message.Size2)
	OptionSize1         = uint16(message.Size1)
	// OptionRequestTag is RFC 9175 Request-Tag.
	OptionRequestTag uint16 = 292
)

// Option set limits
const (
	MaxOptionCount = 32
	// MaxOptionSize is the longest value the wire format can carry in one
	// option for our buffer sizes.
	MaxOptionSize = 1034

	inlineOptionSize = 8
)

// Option is one option of a message. Options of a set are linked in wire
// order through Next.
type Option struct {
	next   *Option
	data   []byte
	inline [inlineOptionSize]byte
	num    uint16
}

func newOption(num uint16, data []byte) *Option {
	opt := &Option{num: num}
	if len(data) <= inlineOptionSize {
		n := copy(opt.inline[:], data)
		opt.data = opt.inline[:n]
	} else {
		opt.data = slices.Clone(data)
	}
	return opt
}

// Number returns the option number.
func (o *Option) Number() uint16 {
	return o.num
}

// Data returns the raw option value. The slice must not be modified.
func (o *Option) Data() []byte {
	return o.data
}

// Size returns the value length.
func (o *Option) Size() int {
	return len(o.data)
}

// Uint decodes the value as a CoAP uint.
func (o *Option) Uint() (uint32, error) {
	v, err := codec.DecodeUint(o.data)
	if err != nil {
		return 0, fmt.Errorf("option %d: %w", o.num, err)
	}
	return v, nil
}

// String returns the value as a string.
func (o *Option) String() string {
	return string(o.data)
}

// Next returns the following option in wire order, or nil.
func (o *Option) Next() *Option {
	return o.next
}

// Options is an ordered option set. Options are kept sorted by number;
// options with the same number keep the order they were added in.
type Options struct {
	opts []*Option
}

// NewOptions returns an empty set.
func NewOptions() *Options {
	return &Options{}
}

// Add appends an option with an opaque value. A failed add leaves the set
// unchanged.
func (s *Options) Add(num uint16, data []byte) error {
	if len(s.opts) >= MaxOptionCount {
		return fmt.Errorf("%w: option set holds %d options", ErrNoMemory, len(s.opts))
	}
	if len(data) > MaxOptionSize {
		return fmt.Errorf("%w: option %d is %d bytes", ErrTooLarge, num, len(data))
	}
	opt := newOption(num, data)

	// Upper bound keeps same-number options in insertion order.
	i := sort.Search(len(s.opts), func(i int) bool { return s.opts[i].num > num })
	s.opts = slices.Insert(s.opts, i, opt)
	if i > 0 {
		s.opts[i-1].next = opt
	}
	if i+1 < len(s.opts) {
		opt.next = s.opts[i+1]
	}
	return nil
}

// AddEmpty adds an option without a value.
func (s *Options) AddEmpty(num uint16) error {
	return s.Add(num, nil)
}

// AddUint adds an option with a minimal-length uint value.
func (s *Options) AddUint(num uint16, v uint32) error {
	var buf [codec.MaxUintValueSize]byte
	n, err := codec.EncodeUint(buf[:], v)
	if err != nil {
		return err
	}
	return s.Add(num, buf[:n])
}

// AddString adds an option with a string value.
func (s *Options) AddString(num uint16, v string) error {
	return s.Add(num, []byte(v))
}

// FindFirst returns the first option with the given number, or nil.
func (s *Options) FindFirst(num uint16) *Option {
	i := sort.Search(len(s.opts), func(i int) bool { return s.opts[i].num >= num })
	if i < len(s.opts) && s.opts[i].num == num {
		return s.opts[i]
	}
	return nil
}

// FindNext returns the first option with a number greater than num, or nil.
func (s *Options) FindNext(num uint16) *Option {
	i := sort.Search(len(s.opts), func(i int) bool { return s.opts[i].num > num })
	if i < len(s.opts) {
		return s.opts[i]
	}
	return nil
}

// First returns the first option, or nil for an empty set.
func (s *Options) First() *Option {
	if len(s.opts) == 0 {
		return nil
	}
	return s.opts[0]
}

// Len returns the number of options.
func (s *Options) Len() int {
	return len(s.opts)
}

// IsEmpty reports whether the set has no options.
func (s *Options) IsEmpty() bool {
	return len(s.opts) == 0
}

// All iterates the options in wire order.
func (s *Options) All() iter.Seq[*Option] {
	return func(yield func(*Option) bool) {
		for _, opt := range s.opts {
			if !yield(opt) {
				return
			}
		}
	}
}

// Values iterates the options with the given number.
func (s *Options) Values(num uint16) iter.Seq[*Option] {
	return func(yield func(*Option) bool) {
		for opt := s.FindFirst(num); opt != nil && opt.num == num; opt = opt.next {
			if !yield(opt) {
				return
			}
		}
	}
}

// Clone returns a deep copy.
func (s *Options) Clone() *Options {
	c := &Options{opts: make([]*Option, 0, len(s.opts))}
	for _, opt := range s.opts {
		n := newOption(opt.num, opt.data)
		if len(c.opts) > 0 {
			c.opts[len(c.opts)-1].next = n
		}
		c.opts = append(c.opts, n)
	}
	return c
}

// Remove drops every option with the given number.
func (s *Options) Remove(num uint16) {
	s.opts = slices.DeleteFunc(s.opts, func(o *Option) bool { return o.num == num })
	for i, opt := range s.opts {
		opt.next = nil
		if i+1 < len(s.opts) {
			opt.next = s.opts[i+1]
		}
	}
}

func (s *Options) encode(enc *codec.Encoder) error {
	for _, opt := range s.opts {
		if err := enc.Option(opt.num, opt.data); err != nil {
			return fmt.Errorf("encode option %d: %w", opt.num, err)
		}
	}
	return nil
}

func optionsFromWire(opts []codec.Option) (*Options, error) {
	s := &Options{opts: make([]*Option, 0, len(opts))}
	for _, o := range opts {
		if err := s.Add(o.Number, o.Value); err != nil {
			return nil, err
		}
	}
	return s, nil
}
