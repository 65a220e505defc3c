// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

package syncutil

import "sync"

// Mutex is a mutual exclusion lock. It exists, rather than a bare
// sync.Mutex, so that callers in this module have a single place to hang
// debug-build assertions off of without touching every call site later.
type Mutex struct {
	sync.Mutex
}

// AssertHeld may panic if the mutex is not locked (but it is not required
// to do so outside of race/deadlock-instrumented builds).
func (m *Mutex) AssertHeld() {
}

// RWMutex is a reader/writer mutual exclusion lock, with the same
// debug-assertion hook as Mutex.
type RWMutex struct {
	sync.RWMutex
}

// AssertHeld may panic if the mutex is not locked for writing.
func (rw *RWMutex) AssertHeld() {
}

// AssertRHeld may panic if the mutex is not locked for reading (or writing).
func (rw *RWMutex) AssertRHeld() {
}
