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

// Package logger is the process-wide structured logger. Packages call the
// level functions directly; the CLI replaces the default logger at startup.
package logger

import (
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level aliases zapcore.Level so callers do not need to import zap.
type Level = zapcore.Level

// Levels
const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// Logger wraps a sugared zap logger with an adjustable level.
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var std atomic.Pointer[Logger]

func init() {
	level := InfoLevel
	if os.Getenv("COAP_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		level = DebugLevel
	}
	std.Store(New(os.Stderr, level))
}

// New creates a console logger writing to out.
func New(out io.Writer, level Level) *Logger {
	atom := zap.NewAtomicLevelAt(level)
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), atom)
	return &Logger{
		sugar: zap.New(core).Sugar(),
		level: atom,
	}
}

// NewJSON creates a logger emitting JSON lines, for log files.
func NewJSON(out io.Writer, level Level) *Logger {
	atom := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(out), atom)
	return &Logger{
		sugar: zap.New(core).Sugar(),
		level: atom,
	}
}

// NewRotatingWriter returns a size-rotated log file writer.
func NewRotatingWriter(path string, maxSizeMB, maxBackups int) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
}

// Tee combines several loggers into one. Each part keeps filtering at its
// own level, so SetLevel on the result has no effect.
func Tee(loggers ...*Logger) *Logger {
	cores := make([]zapcore.Core, 0, len(loggers))
	for _, l := range loggers {
		cores = append(cores, l.sugar.Desugar().Core())
	}
	return &Logger{
		sugar: zap.New(zapcore.NewTee(cores...)).Sugar(),
		level: zap.NewAtomicLevelAt(DebugLevel),
	}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sugar: l.sugar.With(args...), level: l.level}
}

// SetLevel changes the minimum enabled level.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level)
}

// Sugar exposes the underlying zap logger.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Default returns the process-wide logger.
func Default() *Logger {
	return std.Load()
}

// ReplaceDefault installs l as the process-wide logger.
func ReplaceDefault(l *Logger) {
	if l != nil {
		std.Store(l)
	}
}

// SetLevel changes the level of the process-wide logger.
func SetLevel(level Level) {
	Default().SetLevel(level)
}

// Sync flushes buffered entries.
func Sync() error {
	return Default().sugar.Sync()
}

func Debugf(format string, args ...any) { Default().sugar.Debugf(format, args...) }
func Infof(format string, args ...any)  { Default().sugar.Infof(format, args...) }
func Warnf(format string, args ...any)  { Default().sugar.Warnf(format, args...) }
func Errorf(format string, args ...any) { Default().sugar.Errorf(format, args...) }

// Debugw logs a message with structured fields.
func Debugw(msg string, keysAndValues ...any) { Default().sugar.Debugw(msg, keysAndValues...) }

// Warnw logs a message with structured fields.
func Warnw(msg string, keysAndValues ...any) { Default().sugar.Warnw(msg, keysAndValues...) }
