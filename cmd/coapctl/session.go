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

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	coap "github.com/ZaparooProject/go-coapchannel"
	"github.com/ZaparooProject/go-coapchannel/cloud"
	"github.com/ZaparooProject/go-coapchannel/internal/fslock"
	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/ZaparooProject/go-coapchannel/metrics"
	"github.com/ZaparooProject/go-coapchannel/payload"
	"github.com/ZaparooProject/go-coapchannel/transport"
	"github.com/ZaparooProject/go-coapchannel/transport/i2c"
	"github.com/ZaparooProject/go-coapchannel/transport/spi"
	"github.com/ZaparooProject/go-coapchannel/transport/uart"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"periph.io/x/conn/v3/physic"
)

var errNoPort = errors.New("no serial port found")

// session is one open link with the engine and the event client on top.
// Everything but Close runs on the goroutine that calls step.
type session struct {
	log     *logger.Logger
	lock    *fslock.Lock
	tr      *transport.Channel
	engine  *coap.Channel
	events  *cloud.Client
	metrics *metrics.Collector
}

// openLink opens the configured link, retrying with exponential backoff.
func openLink(ctx context.Context, cfg *config, log *logger.Logger) (transport.Link, error) {
	var link transport.Link
	op := func() error {
		l, err := dialLink(cfg)
		if err != nil {
			return err
		}
		link = l
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.OpenRetries), ctx)
	err := backoff.RetryNotify(op, bo, func(err error, next time.Duration) {
		log.Warnf("open %s link: %v, retrying in %v", cfg.Link, err, next)
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func dialLink(cfg *config) (transport.Link, error) {
	switch cfg.Link {
	case linkSPI:
		l, err := spi.Open(cfg.Port, physic.Frequency(cfg.SPIFrequencyHz)*physic.Hertz)
		if err != nil {
			return nil, err
		}
		if cfg.PollInterval > 0 {
			l.SetPollInterval(cfg.PollInterval)
		}
		return l, nil
	case linkI2C:
		l, err := i2c.Open(cfg.Port)
		if err != nil {
			return nil, err
		}
		if cfg.PollInterval > 0 {
			l.SetPollInterval(cfg.PollInterval)
		}
		return l, nil
	default:
		port := cfg.Port
		if port == "" {
			ports, err := uart.ListPorts(cfg.IgnorePorts)
			if err != nil {
				return nil, err
			}
			if len(ports) == 0 {
				return nil, errNoPort
			}
			port = ports[0].Path
		}
		return uart.Open(port, cfg.Baud)
	}
}

// newSession starts the engine on link. The link is closed when the
// session cannot be set up.
func newSession(
	ctx context.Context, cfg *config, fs afero.Fs, link transport.Link, reg prometheus.Registerer, log *logger.Logger,
) (*session, error) {
	s := &session{log: log, metrics: metrics.New(reg, "")}
	if err := s.start(ctx, cfg, fs, link); err != nil {
		if s.tr == nil {
			_ = link.Close()
		}
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) start(ctx context.Context, cfg *config, fs afero.Fs, link transport.Link) error {
	lock, err := fslock.Acquire(cfg.lockPath())
	if err != nil {
		return fmt.Errorf("lock %s: %w", cfg.lockPath(), err)
	}
	s.lock = lock

	tc := cfg.transportConfig()
	tc.Observer = s.metrics
	tc.Logger = s.log
	if s.tr, err = transport.New(link, tc); err != nil {
		return err
	}

	store := payload.NewStore(fs, payload.WithTempDir(cfg.TempDir))
	s.engine, err = coap.New(s.tr,
		coap.WithPayloadStore(store),
		coap.WithObserver(s.metrics),
		coap.WithLogger(s.log),
		coap.WithName(cfg.Name),
	)
	if err != nil {
		return err
	}
	s.events = cloud.New(s.engine, cloud.WithLogger(s.log))

	if err := s.tr.Start(ctx); err != nil {
		return err
	}
	return s.engine.Open()
}

// step delivers received messages and runs the engine once. It returns the
// close error once the session has ended.
func (s *session) step() error {
	s.tr.Poll(s.engine)
	if err := s.engine.Run(); err != nil {
		return err
	}
	if s.engine.State() == coap.StateClosed {
		return s.engine.LastCloseError()
	}
	return nil
}

// loop calls step every tick until ctx ends, the session ends or until
// reports true.
func (s *session) loop(ctx context.Context, tick time.Duration, until func() bool) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		if err := s.step(); err != nil {
			return err
		}
		if until != nil && until() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *session) Close() {
	if s.engine != nil {
		s.engine.Close(nil)
	}
	if s.tr != nil {
		if err := s.tr.Close(); err != nil {
			s.log.Debugf("close link: %v", err)
		}
	}
	if s.lock != nil {
		if err := s.lock.Release(); err != nil {
			s.log.Warnf("release lock: %v", err)
		}
		s.lock = nil
	}
}
