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

// Package payload implements message bodies that keep their first block in
// memory and spill the rest to a temporary file.
package payload

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sync/atomic"

	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/ZaparooProject/go-coapchannel/internal/syncutil"
	"github.com/spf13/afero"
)

// Size limits
const (
	// MaxSize is the largest body a payload can hold.
	MaxSize = 16 * 1024
	// DefaultRAMCap is the number of bytes kept in memory, one CoAP block.
	DefaultRAMCap = 1024
	// DefaultTempDir holds the spill files.
	DefaultTempDir = "/tmp/coap"
	// MaxPathLength bounds spill file paths.
	MaxPathLength = 127

	initialCapacity = 128
)

// Errors
var (
	ErrTooLarge    = errors.New("payload too large")
	ErrInvalidSize = errors.New("invalid payload size")
	ErrBadData     = errors.New("payload file returned unexpected data")
	ErrFilesystem  = errors.New("payload filesystem error")
	ErrPathTooLong = errors.New("payload file path too long")
	ErrReleased    = errors.New("payload already released")
)

// Store creates payloads and owns their spill directory. All file operations
// of all its payloads are serialized by one lock.
type Store struct {
	fs     afero.Fs
	dir    string
	ramCap int
	mu     syncutil.Mutex
	seq    uint32
	files  atomic.Int32
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTempDir sets the spill directory.
func WithTempDir(dir string) StoreOption {
	return func(s *Store) {
		s.dir = dir
	}
}

// WithRAMCap sets how many bytes of each payload are kept in memory.
func WithRAMCap(n int) StoreOption {
	return func(s *Store) {
		if n > 0 && n <= MaxSize {
			s.ramCap = n
		}
	}
}

// NewStore returns a store spilling to fs.
func NewStore(fs afero.Fs, opts ...StoreOption) *Store {
	s := &Store{
		fs:     fs,
		dir:    DefaultTempDir,
		ramCap: DefaultRAMCap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitTempDir removes and recreates the spill directory. Call it once at
// startup, before any payload exists, to drop files left by a previous run.
func (s *Store) InitTempDir() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrFilesystem, s.dir, err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrFilesystem, s.dir, err)
	}
	logger.Debugf("payload: initialized temp dir %s", s.dir)
	return nil
}

// New returns an empty payload with one reference.
func (s *Store) New() *Payload {
	p := &Payload{store: s}
	p.refs.Store(1)
	return p
}

// RAMCap returns the in-memory part size.
func (s *Store) RAMCap() int {
	return s.ramCap
}

// Dir returns the spill directory.
func (s *Store) Dir() string {
	return s.dir
}

// OpenFiles returns the number of spill files currently in use.
func (s *Store) OpenFiles() int {
	return int(s.files.Load())
}

func (s *Store) createFile() (afero.File, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	name := path.Join(s.dir, fmt.Sprintf("p%d", s.seq))
	if len(name) > MaxPathLength {
		return nil, "", ErrPathTooLong
	}
	f, err := s.fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("%w: create %s: %w", ErrFilesystem, name, err)
	}
	s.files.Add(1)
	logger.Debugf("payload: created spill file %s", name)
	return f, name, nil
}

func (s *Store) removeFile(f afero.File, name string) error {
	return syncutil.With(&s.mu, func() error {
		s.files.Add(-1)
		closeErr := f.Close()
		if err := s.fs.Remove(name); err != nil {
			return fmt.Errorf("%w: remove %s: %w", ErrFilesystem, name, err)
		}
		if closeErr != nil {
			return fmt.Errorf("%w: close %s: %w", ErrFilesystem, name, closeErr)
		}
		return nil
	})
}

func (s *Store) readAt(f afero.File, b []byte, off int64) (n int, err error) {
	err = syncutil.With(&s.mu, func() error {
		var rerr error
		n, rerr = f.ReadAt(b, off)
		return rerr
	})
	return n, err
}

func (s *Store) writeAt(f afero.File, b []byte, off int64) (n int, err error) {
	err = syncutil.With(&s.mu, func() error {
		var werr error
		n, werr = f.WriteAt(b, off)
		return werr
	})
	return n, err
}

func (s *Store) truncate(f afero.File, size int64) error {
	return syncutil.With(&s.mu, func() error {
		return f.Truncate(size)
	})
}
