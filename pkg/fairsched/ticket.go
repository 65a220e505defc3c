// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

package fairsched

import "fmt"

// Ticket describes the two-dimensional cost of a request that passes
// through a FairQueue: a weight (IOPS-like) component and a size
// (bandwidth-like) component. For example, a request of weight 1 and
// size 16KiB, admitted once per second, sustains 1 IOPS at 16KiB/s.
//
// Tickets have no total order; they are compared only for equality.
// Capacity, the scalar gate currency, is obtained by normalizing a
// Ticket against a reference axis (see Normalize).
type Ticket struct {
	Weight uint32
	Size   uint32
}

// String renders the ticket as "weight:size".
func (t Ticket) String() string {
	return fmt.Sprintf("%d:%d", t.Weight, t.Size)
}

// Add returns the component-wise sum of t and o.
func (t Ticket) Add(o Ticket) Ticket {
	return Ticket{Weight: t.Weight + o.Weight, Size: t.Size + o.Size}
}

// Sub returns the component-wise difference of t and o. Unlike
// WrappingDifference, this does not saturate: callers that need the
// "how far ahead" semantics should use WrappingDifference instead.
func (t Ticket) Sub(o Ticket) Ticket {
	return Ticket{Weight: t.Weight - o.Weight, Size: t.Size - o.Size}
}

// Equal reports whether t and o represent the same quantity in both
// dimensions.
func (t Ticket) Equal(o Ticket) bool {
	return t.Weight == o.Weight && t.Size == o.Size
}

// NonZero reports whether the Ticket represents a non-zero quantity in at
// least one dimension. A cancelled entry's ticket reads back as the zero
// Ticket, which is NonZero() == false.
func (t Ticket) NonZero() bool {
	return t.Weight > 0 || t.Size > 0
}

// IsNonZero reports whether both dimensions of the Ticket are non-zero.
// This is distinct from NonZero (which is an "or"): it's used where a
// ticket must be positive along both axes, e.g. the cost-capacity axis
// check at FairGroup construction.
func (t Ticket) IsNonZero() bool {
	return t.Weight > 0 && t.Size > 0
}

// Normalize projects t onto axis, producing a dimensionless scalar
// w/axis.w + s/axis.s. Every component of axis must be strictly
// positive: calling Normalize with a zero axis component is a
// programming error and is not guarded against here.
func (t Ticket) Normalize(axis Ticket) float64 {
	return float64(t.Weight)/float64(axis.Weight) + float64(t.Size)/float64(axis.Size)
}

// WrappingDifference returns, for each dimension independently, a-b if
// a is ahead of b in that dimension, or zero if a is behind. It is the
// saturating counterpart of Sub.
func WrappingDifference(a, b Ticket) Ticket {
	return Ticket{
		Weight: saturatingSub32(a.Weight, b.Weight),
		Size:   saturatingSub32(a.Size, b.Size),
	}
}

func saturatingSub32(a, b uint32) uint32 {
	if a <= b {
		return 0
	}
	return a - b
}
