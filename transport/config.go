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

package transport

import (
	"fmt"
	"time"

	"github.com/ZaparooProject/go-coapchannel/internal/frame"
	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/jonboulle/clockwork"
)

// RFC 7252 transmission parameters
const (
	DefaultAckTimeout      = 2 * time.Second
	DefaultAckRandomFactor = 1.5
	DefaultMaxRetransmit   = 4
)

// Config holds message channel configuration
type Config struct {
	// Clock schedules retransmissions
	Clock clockwork.Clock
	// Observer is told about retransmissions and dropped frames
	Observer Observer
	// Logger defaults to the process-wide logger
	Logger *logger.Logger
	// AckTimeout is the initial retransmission timeout
	AckTimeout time.Duration
	// AckRandomFactor spreads the initial timeout over
	// [AckTimeout, AckTimeout*AckRandomFactor]
	AckRandomFactor float64
	// MaxRetransmit is how often a confirmable message is resent
	MaxRetransmit int
	// BufferSize is the size of the shared message buffer
	BufferSize int
	// InboxSize is the number of received frames queued for Poll
	InboxSize int
}

// DefaultConfig returns the default message channel configuration
func DefaultConfig() *Config {
	return &Config{
		Clock:           clockwork.NewRealClock(),
		Observer:        nopObserver{},
		AckTimeout:      DefaultAckTimeout,
		AckRandomFactor: DefaultAckRandomFactor,
		MaxRetransmit:   DefaultMaxRetransmit,
		BufferSize:      frame.MaxDataLength,
		InboxSize:       16,
	}
}

// Validate checks the configuration for values the channel cannot work with
func (c *Config) Validate() error {
	switch {
	case c.Clock == nil:
		return fmt.Errorf("%w: nil clock", ErrInvalidConfig)
	case c.AckTimeout <= 0:
		return fmt.Errorf("%w: ack timeout must be positive, got %v", ErrInvalidConfig, c.AckTimeout)
	case c.AckRandomFactor < 1:
		return fmt.Errorf("%w: ack random factor must be at least 1, got %v", ErrInvalidConfig, c.AckRandomFactor)
	case c.MaxRetransmit < 0:
		return fmt.Errorf("%w: negative max retransmit %d", ErrInvalidConfig, c.MaxRetransmit)
	case c.BufferSize < 64 || c.BufferSize > frame.MaxDataLength:
		return fmt.Errorf("%w: buffer size %d outside [64, %d]", ErrInvalidConfig, c.BufferSize, frame.MaxDataLength)
	case c.InboxSize < 1:
		return fmt.Errorf("%w: inbox size must be at least 1, got %d", ErrInvalidConfig, c.InboxSize)
	}
	return nil
}

// MaxTransmitWait is the longest a confirmable message can stay
// unacknowledged: the sum of all retransmission timeouts at their upper
// bound.
func (c *Config) MaxTransmitWait() time.Duration {
	spans := float64(int64(1)<<(c.MaxRetransmit+1) - 1)
	return time.Duration(float64(c.AckTimeout) * spans * c.AckRandomFactor)
}

// Observer receives message channel events. Methods are called from the
// goroutine that calls Poll and Send.
type Observer interface {
	Retransmitted()
	FrameDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) Retransmitted()      {}
func (nopObserver) FrameDropped(string) {}
