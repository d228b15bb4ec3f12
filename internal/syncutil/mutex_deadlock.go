//go:build deadlock

// Package syncutil provides the mutex types used for the shared message
// buffer and the payload spill filesystem. This variant reports lock-order
// inversions and long waits through github.com/sasha-s/go-deadlock.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex is a deadlock-detecting mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock-detecting read/write mutex.
type RWMutex struct {
	deadlock.RWMutex
}

// With runs fn while holding mu.
func With(mu *Mutex, fn func() error) error {
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
