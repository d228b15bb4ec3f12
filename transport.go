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

import "time"

// Transport is the message channel underneath the engine. It owns the single
// shared message buffer, assigns CoAP message ids and retransmits confirmable
// messages.
//
// Inbound messages are handed to the engine through Channel.HandleMessage
// while the transport holds the buffer; the data passed there must be a
// prefix of the buffer returned by AcquireBuffer.
type Transport interface {
	// AcquireBuffer returns the shared buffer, or an error if it is in use.
	AcquireBuffer() ([]byte, error)

	// ReleaseBuffer gives the buffer back.
	ReleaseBuffer()

	// Send transmits an encoded message held in the shared buffer. The
	// transport copies what it needs for retransmission before returning.
	Send(data []byte) error

	// NextMessageID returns the id for the next outgoing message.
	NextMessageID() uint16

	// AckTimeout is how long a confirmable message may stay unacknowledged,
	// retransmissions included.
	AckTimeout() time.Duration

	// IsConnected returns true once the session below is established.
	IsConnected() bool
}

// Settler is implemented by transports that retransmit. The engine calls
// Settle when it stops waiting for the ACK of a confirmable message, either
// because a later message implied it or because the exchange ended.
type Settler interface {
	Settle(coapID uint16)
}
