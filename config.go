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
	"time"

	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/ZaparooProject/go-coapchannel/payload"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// Engine limits
const (
	// BlockSize is the block size of blockwise transfers.
	BlockSize = 1024
	// MaxURIPathLength bounds request and handler paths.
	MaxURIPathLength = 127
	// MaxRequestHandlers bounds the number of registered request handlers.
	MaxRequestHandlers = 32

	recentIDCount = 16
)

// Config holds channel configuration options
type Config struct {
	// Clock drives every deadline of the engine
	Clock clockwork.Clock
	// Store creates payloads for assembled bodies. Its temp directory is
	// reinitialized by New.
	Store *payload.Store
	// Observer receives engine events
	Observer Observer
	// Logger defaults to the process-wide logger
	Logger *logger.Logger
	// Name identifies the channel in logs and wire traces
	Name string
	// BlockTimeout is how long a blockwise exchange waits for the peer's
	// next block before failing with ErrTimeout
	BlockTimeout time.Duration
	// TraceSize is the number of wire messages kept for protocol error traces
	TraceSize int
	// SkipTempDirInit leaves the store's temp directory untouched in New
	SkipTempDirInit bool
}

// DefaultConfig returns the default channel configuration
func DefaultConfig() *Config {
	return &Config{
		Clock:        clockwork.NewRealClock(),
		Store:        payload.NewStore(afero.NewOsFs()),
		Observer:     nopObserver{},
		Name:         "coap",
		BlockTimeout: 90 * time.Second,
		TraceSize:    16,
	}
}

// ChannelOption represents a functional option for New
type ChannelOption func(*Config) error

// WithClock sets the clock used for deadlines
func WithClock(clock clockwork.Clock) ChannelOption {
	return func(c *Config) error {
		if clock == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidParameter)
		}
		c.Clock = clock
		return nil
	}
}

// WithPayloadStore sets the store used for assembled bodies
func WithPayloadStore(store *payload.Store) ChannelOption {
	return func(c *Config) error {
		if store == nil {
			return fmt.Errorf("%w: nil payload store", ErrInvalidParameter)
		}
		c.Store = store
		return nil
	}
}

// WithObserver sets the engine event observer
func WithObserver(obs Observer) ChannelOption {
	return func(c *Config) error {
		if obs == nil {
			obs = nopObserver{}
		}
		c.Observer = obs
		return nil
	}
}

// WithLogger sets the channel logger
func WithLogger(l *logger.Logger) ChannelOption {
	return func(c *Config) error {
		c.Logger = l
		return nil
	}
}

// WithName sets the channel name used in logs and traces
func WithName(name string) ChannelOption {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithBlockTimeout sets how long to wait for the next block
func WithBlockTimeout(d time.Duration) ChannelOption {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: block timeout must be positive, got %v", ErrInvalidParameter, d)
		}
		c.BlockTimeout = d
		return nil
	}
}

// WithTraceSize sets the number of traced wire messages
func WithTraceSize(n int) ChannelOption {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("%w: trace size must be at least 1, got %d", ErrInvalidParameter, n)
		}
		c.TraceSize = n
		return nil
	}
}

// WithoutTempDirInit keeps existing spill files, for stores shared between
// channels.
func WithoutTempDirInit() ChannelOption {
	return func(c *Config) error {
		c.SkipTempDirInit = true
		return nil
	}
}
