// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

package fairsched

import (
	"time"

	"github.com/cockroachdb/redact"
)

// GroupConfig configures a FairGroup: the capacity gate shared by all
// shards attached to one physical resource.
type GroupConfig struct {
	// Label identifies this gate in logs and metrics.
	Label redact.RedactableString

	// MinWeight and MinSize describe the smallest ticket this gate must be
	// able to admit. The capacity of that ticket becomes the gate's
	// replenishment threshold: Replenish does not advance head by less.
	MinWeight uint32
	MinSize   uint32

	// WeightRate and SizeRate are the configured throughput limits, in
	// operations per second and bytes per second respectively.
	WeightRate uint64
	SizeRate   uint64

	// RateFactor scales the replenishment rate; must be in (0, 1]. Used to
	// deliberately throttle a gate below the device's measured throughput,
	// leaving headroom for traffic this scheduler doesn't account for.
	RateFactor float64

	// RateLimitDuration is the latency goal: the token bucket accumulates
	// enough tokens to sustain RateLimitDuration worth of full-rate
	// dispatch as a burst. Defaults to 1ms if zero.
	RateLimitDuration time.Duration
}

// DefaultRateLimitDuration is the latency goal applied when GroupConfig
// does not specify one.
const DefaultRateLimitDuration = time.Millisecond

// rateLimitDuration returns the configured value or DefaultRateLimitDuration.
func (c GroupConfig) rateLimitDuration() time.Duration {
	if c.RateLimitDuration <= 0 {
		return DefaultRateLimitDuration
	}
	return c.RateLimitDuration
}

// QueueConfig configures a FairQueue (the per-shard scheduler instance
// attached to a FairGroup).
type QueueConfig struct {
	// Label identifies this queue in logs and metrics.
	Label redact.RedactableString

	// Tau is both the anti-starvation handicap window and the nominal
	// fairness-convergence time constant. Defaults to 5ms if zero.
	Tau time.Duration

	// ShardCount, when set, is used to divide the gate's maximum capacity
	// into this shard's per-dispatch-call budget. Defaults to 1 (this
	// shard gets the whole budget) if zero.
	ShardCount int
}

// DefaultTau is the anti-starvation handicap window / fairness time
// constant applied when QueueConfig does not specify one.
const DefaultTau = 5 * time.Millisecond

func (c QueueConfig) tau() time.Duration {
	if c.Tau <= 0 {
		return DefaultTau
	}
	return c.Tau
}

func (c QueueConfig) shardCount() int {
	if c.ShardCount <= 0 {
		return 1
	}
	return c.ShardCount
}
