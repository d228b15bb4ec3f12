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

// Package metrics exports engine and transport events to Prometheus.
package metrics

import (
	"fmt"
	"time"

	coap "github.com/ZaparooProject/go-coapchannel"
	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/ZaparooProject/go-coapchannel/transport"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "coap"

// Collector counts engine and transport events. It implements both
// coap.Observer and transport.Observer.
type Collector struct {
	MessagesSent       *prometheus.CounterVec
	MessagesReceived   *prometheus.CounterVec
	ExchangesCompleted *prometheus.CounterVec
	ExchangesFailed    *prometheus.CounterVec
	ExchangeDuration   *prometheus.HistogramVec
	BlocksTransferred  *prometheus.CounterVec
	BufferBusyTotal    prometheus.Counter
	Retransmissions    prometheus.Counter
	FramesDropped      *prometheus.CounterVec
}

var (
	_ coap.Observer      = (*Collector)(nil)
	_ transport.Observer = (*Collector)(nil)
)

// New registers the collector's metrics with reg. A nil reg uses the
// default registerer; an empty namespace uses DefaultNamespace.
func New(reg prometheus.Registerer, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Collector{
		MessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of CoAP messages sent",
			},
			[]string{"type", "code"},
		),
		MessagesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of CoAP messages received",
			},
			[]string{"type", "code"},
		),
		ExchangesCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchanges_completed_total",
				Help:      "Total number of exchanges that completed",
			},
			[]string{"kind"},
		),
		ExchangesFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchanges_failed_total",
				Help:      "Total number of exchanges that failed",
			},
			[]string{"kind", "error_type"},
		),
		ExchangeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "exchange_duration_seconds",
				Help:      "Exchange duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30, 90},
			},
			[]string{"kind"},
		),
		BlocksTransferred: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_transferred_total",
				Help:      "Total number of blockwise transfer blocks",
			},
			[]string{"kind"},
		),
		BufferBusyTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_busy_total",
			Help:      "Number of times the shared message buffer was unavailable",
		}),
		Retransmissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmissions_total",
			Help:      "Total number of confirmable message retransmissions",
		}),
		FramesDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_dropped_total",
				Help:      "Total number of received frames dropped by the transport",
			},
			[]string{"reason"},
		),
	}
}

// codeLabel renders a code in c.dd form to keep label values bounded.
func codeLabel(code codes.Code) string {
	return fmt.Sprintf("%d.%02d", code>>5, code&0x1f)
}

func (c *Collector) MessageSent(typ codec.Type, code codes.Code) {
	c.MessagesSent.WithLabelValues(typ.String(), codeLabel(code)).Inc()
}

func (c *Collector) MessageReceived(typ codec.Type, code codes.Code) {
	c.MessagesReceived.WithLabelValues(typ.String(), codeLabel(code)).Inc()
}

func (c *Collector) ExchangeCompleted(kind coap.MessageType, elapsed time.Duration) {
	c.ExchangesCompleted.WithLabelValues(kind.String()).Inc()
	c.ExchangeDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

func (c *Collector) ExchangeFailed(kind coap.MessageType, errType coap.ErrorType) {
	c.ExchangesFailed.WithLabelValues(kind.String(), errType.String()).Inc()
}

func (c *Collector) BlockTransferred(kind coap.MessageType) {
	c.BlocksTransferred.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) BufferBusy() {
	c.BufferBusyTotal.Inc()
}

func (c *Collector) Retransmitted() {
	c.Retransmissions.Inc()
}

func (c *Collector) FrameDropped(reason string) {
	c.FramesDropped.WithLabelValues(reason).Inc()
}
