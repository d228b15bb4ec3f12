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
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ZaparooProject/go-coapchannel/codec"
	"github.com/ZaparooProject/go-coapchannel/payload"
)

// Error categories
var (
	// Resource errors - returned to the caller, never retried automatically
	ErrNoMemory    = errors.New("no memory")
	ErrTooLarge    = payload.ErrTooLarge
	ErrPathTooLong = errors.New("path too long")

	// Busy - the shared message buffer is in use, try again later
	ErrBusy = errors.New("message buffer busy")

	// Protocol errors - the exchange is torn down, the channel stays open
	ErrProtocol         = errors.New("protocol error")
	ErrMalformedMessage = errors.New("malformed message")
	ErrBlockOutOfOrder  = errors.New("block out of order")
	ErrUnexpectedOption = errors.New("unexpected option")
	ErrMessageTooLarge  = errors.New("message does not fit in buffer")
	ErrMessageRejected  = errors.New("message rejected by peer")
	ErrEntityIncomplete = errors.New("request entity incomplete")

	// Session errors - the channel is closed
	ErrConnectionClosed = errors.New("connection closed")
	ErrHandshakeFailed  = errors.New("handshake failed")
	ErrTimeout          = errors.New("timeout")
	ErrCancelled        = errors.New("cancelled")

	// Filesystem errors from the payload store
	ErrFilesystem = payload.ErrFilesystem
	ErrBadData    = payload.ErrBadData

	// Usage errors
	ErrInvalidState     = errors.New("invalid state")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotFound         = errors.New("not found")
	ErrNotSupported     = errors.New("not supported")

	// ErrEndOfStream is returned by ReadBlock once the whole body was read.
	ErrEndOfStream = io.EOF
)

// ErrorType is the category of an error.
type ErrorType int

const (
	// ErrorTypeUnknown is any error not created by this package
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeResource is a local resource limit
	ErrorTypeResource
	// ErrorTypeProtocol is a violation by the peer or a message that cannot be built
	ErrorTypeProtocol
	// ErrorTypeSession means the session is gone
	ErrorTypeSession
	// ErrorTypeFilesystem is a payload spill file failure
	ErrorTypeFilesystem
	// ErrorTypeBusy is transient buffer contention
	ErrorTypeBusy
	// ErrorTypeUsage is an API misuse
	ErrorTypeUsage
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeResource:
		return "resource"
	case ErrorTypeProtocol:
		return "protocol"
	case ErrorTypeSession:
		return "session"
	case ErrorTypeFilesystem:
		return "filesystem"
	case ErrorTypeBusy:
		return "busy"
	case ErrorTypeUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// ExchangeError attributes an error to one exchange.
type ExchangeError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	RequestID int       // Exchange the error belongs to
	Type      ErrorType // Error category
}

func (e *ExchangeError) Error() string {
	if e.RequestID != 0 {
		return fmt.Sprintf("%s (request %d): %v", e.Op, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// NewExchangeError wraps err, classifying it with ErrorTypeOf.
func NewExchangeError(op string, requestID int, err error) *ExchangeError {
	return &ExchangeError{
		Op:        op,
		RequestID: requestID,
		Err:       err,
		Type:      ErrorTypeOf(err),
	}
}

// ErrorTypeOf classifies err.
func ErrorTypeOf(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	var ee *ExchangeError
	if errors.As(err, &ee) && ee.Type != ErrorTypeUnknown {
		return ee.Type
	}
	switch {
	case errors.Is(err, ErrBusy):
		return ErrorTypeBusy
	case errors.Is(err, ErrNoMemory),
		errors.Is(err, ErrTooLarge),
		errors.Is(err, payload.ErrInvalidSize),
		errors.Is(err, ErrPathTooLong),
		errors.Is(err, payload.ErrPathTooLong):
		return ErrorTypeResource
	case errors.Is(err, ErrFilesystem),
		errors.Is(err, ErrBadData):
		return ErrorTypeFilesystem
	case errors.Is(err, ErrConnectionClosed),
		errors.Is(err, ErrHandshakeFailed),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrCancelled):
		return ErrorTypeSession
	case errors.Is(err, ErrProtocol),
		errors.Is(err, ErrMalformedMessage),
		errors.Is(err, ErrBlockOutOfOrder),
		errors.Is(err, ErrUnexpectedOption),
		errors.Is(err, ErrMessageTooLarge),
		errors.Is(err, ErrMessageRejected),
		errors.Is(err, ErrEntityIncomplete),
		isCodecError(err):
		return ErrorTypeProtocol
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNotSupported):
		return ErrorTypeUsage
	default:
		return ErrorTypeUnknown
	}
}

func isCodecError(err error) bool {
	for _, target := range []error{
		codec.ErrTruncated, codec.ErrInvalidVersion, codec.ErrInvalidTokenLength,
		codec.ErrInvalidOption, codec.ErrEmptyPayload, codec.ErrInvalidUint,
		codec.ErrInvalidBlock, codec.ErrBufferTooSmall, codec.ErrOptionTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the operation may succeed if simply retried.
// Only buffer contention qualifies; timeouts are reported after the
// transport has exhausted its own retransmissions.
func IsRetryable(err error) bool {
	return ErrorTypeOf(err) == ErrorTypeBusy
}

// IsFatal reports whether the error ended the session, so every other
// exchange is gone too.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrHandshakeFailed)
}

// TraceDirection indicates the direction of a traced message
type TraceDirection string

const (
	// TraceTX is a message sent to the peer
	TraceTX TraceDirection = "TX"
	// TraceRX is a message received from the peer
	TraceRX TraceDirection = "RX"
)

// TraceEntry is one traced wire message.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError carries the last wire messages of the channel at the time
// a protocol error was detected:
//
//	var te *coap.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err     error
	Channel string
	Trace   []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns the trace as one line per message, decoded where
// possible.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s] (no trace data)", e.Channel)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s] Wire trace (%d entries):\n", e.Channel, len(e.Trace))
	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		summary := summarizeMessage(entry.Data)
		if entry.Note != "" {
			summary += " (" + entry.Note + ")"
		}
		_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, summary)
	}
	return sb.String()
}

func summarizeMessage(data []byte) string {
	h, err := codec.DecodeHeader(data)
	if err != nil {
		return formatHexBytes(data)
	}
	return fmt.Sprintf("%s %s id=%d len=%d", h.Type, codec.FormatCode(h.Code), h.ID, len(data))
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	limit := min(len(data), 32)
	parts := make([]string, limit)
	for i := range limit {
		parts[i] = fmt.Sprintf("%02X", data[i])
	}
	if len(data) > limit {
		return strings.Join(parts, " ") + fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return strings.Join(parts, " ")
}

// TraceBuffer keeps the most recent wire messages in a fixed-size ring.
type TraceBuffer struct {
	now     func() time.Time
	channel string
	entries []TraceEntry
	maxSize int
}

// NewTraceBuffer creates a trace buffer holding up to maxSize messages.
func NewTraceBuffer(channel string, maxSize int, now func() time.Time) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	if now == nil {
		now = time.Now
	}
	return &TraceBuffer{
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
		channel: channel,
		now:     now,
	}
}

// RecordTX records a message sent to the peer.
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records a message received from the peer.
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a timeout.
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	// Only the header, token and first option bytes are useful for tracing.
	entry := TraceEntry{
		Direction: dir,
		Data:      append([]byte(nil), data[:min(len(data), 64)]...),
		Timestamp: tb.now(),
		Note:      note,
	}
	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// WrapError attaches a copy of the current trace to err.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	entriesCopy := make([]TraceEntry, len(tb.entries))
	copy(entriesCopy, tb.entries)
	return &TraceableError{
		Err:     err,
		Trace:   entriesCopy,
		Channel: tb.channel,
	}
}

// Len returns the number of recorded entries.
func (tb *TraceBuffer) Len() int {
	return len(tb.entries)
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// HasTrace checks if an error contains trace data
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
