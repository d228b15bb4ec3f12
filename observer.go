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
	"time"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// Observer receives engine events. Methods are called synchronously from the
// engine and must not call back into the channel.
type Observer interface {
	MessageSent(typ codec.Type, code codes.Code)
	MessageReceived(typ codec.Type, code codes.Code)
	ExchangeCompleted(kind MessageType, elapsed time.Duration)
	ExchangeFailed(kind MessageType, errType ErrorType)
	BlockTransferred(kind MessageType)
	BufferBusy()
}

type nopObserver struct{}

func (nopObserver) MessageSent(codec.Type, codes.Code) {}
func (nopObserver) MessageReceived(codec.Type, codes.Code) {}
func (nopObserver) ExchangeCompleted(MessageType, time.Duration) {}
func (nopObserver) ExchangeFailed(MessageType, ErrorType) {}
func (nopObserver) BlockTransferred(MessageType) {}
func (nopObserver) BufferBusy() {}
