//go:build !deadlock

// Package syncutil provides the mutex types used for the shared message
// buffer and the payload spill filesystem. Build with -tags=deadlock to swap
// in github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// Mutex is a plain sync.Mutex in normal builds.
//
//nolint:gocritic // embedding exposes Lock/Unlock/TryLock
type Mutex struct {
	sync.Mutex
}

// RWMutex is a plain sync.RWMutex in normal builds.
//
//nolint:gocritic // embedding exposes the full RWMutex interface
type RWMutex struct {
	sync.RWMutex
}

// With runs fn while holding mu.
func With(mu *Mutex, fn func() error) error {
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
