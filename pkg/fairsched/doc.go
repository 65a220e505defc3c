// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

// Package fairsched implements a hierarchical fair-share I/O scheduler for
// sharded, thread-per-core runtimes.
//
// A FairGroup is a lock-free capacity gate shared by every shard attached
// to one physical resource (a disk, a network link): it replenishes tokens
// at a configured rate and lets shards reserve (Grab) and return (Release)
// capacity without blocking or taking a lock, using a pair of
// monotonically increasing counters compared with wrap-aware arithmetic.
//
// A FairQueue is a single shard's local scheduler: it holds one FIFO per
// registered priority class, orders non-empty classes by a fairness
// accumulator in a min-heap, and dispatches the head of the
// least-served class's queue each time it can grab the capacity that
// entry's Ticket costs from the shard's FairGroup. An anti-monopoly
// handicap keeps a class that goes idle and later resumes from
// leapfrogging classes that kept dispatching throughout; a renormalization
// pass keeps every class's accumulator from overflowing a signed 64-bit
// integer over a long-running process.
package fairsched
