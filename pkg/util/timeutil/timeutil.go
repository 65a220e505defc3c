// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

// Package timeutil provides the single time-abstraction seam used by the
// fair group and fair queue, so tests can drive the clock manually instead
// of sleeping on a wall clock.
package timeutil

import (
	"sync/atomic"
	"time"
)

// TimeSource is anything that can report the current time. Production code
// uses the real clock; tests inject a ManualTime so that replenishment and
// handicap-window behavior can be asserted deterministically.
type TimeSource interface {
	Now() time.Time
}

type realTimeSource struct{}

func (realTimeSource) Now() time.Time { return time.Now() }

// NewTimeSource returns a TimeSource backed by the real wall clock.
func NewTimeSource() TimeSource { return realTimeSource{} }

// ManualTime is a TimeSource whose value only moves when Advance or
// Set is called. Safe for concurrent use since the fair group is itself
// accessed from multiple shards concurrently in tests.
type ManualTime struct {
	nanos atomic.Int64
}

// NewManualTime constructs a ManualTime starting at t.
func NewManualTime(t time.Time) *ManualTime {
	m := &ManualTime{}
	m.nanos.Store(t.UnixNano())
	return m
}

// Now implements TimeSource.
func (m *ManualTime) Now() time.Time {
	return time.Unix(0, m.nanos.Load())
}

// Advance moves the clock forward by d. d must be non-negative.
func (m *ManualTime) Advance(d time.Duration) {
	m.nanos.Add(int64(d))
}

// Set moves the clock to exactly t.
func (m *ManualTime) Set(t time.Time) {
	m.nanos.Store(t.UnixNano())
}
