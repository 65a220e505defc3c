// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

package fairsched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTicketAddSub(t *testing.T) {
	a := Ticket{Weight: 7, Size: 1024}
	b := Ticket{Weight: 3, Size: 512}
	require.Equal(t, a, a.Add(b).Sub(b))
}

func TestTicketNormalize(t *testing.T) {
	axis := Ticket{Weight: 1000, Size: 16 << 20}
	tk := Ticket{Weight: 1, Size: 4096}
	got := tk.Normalize(axis)
	want := float64(1)/float64(1000) + float64(4096)/float64(16<<20)
	require.InDelta(t, want, got, 1e-12)
}

func TestWrappingDifference(t *testing.T) {
	testCases := []struct {
		a, b, want Ticket
	}{
		{Ticket{10, 10}, Ticket{3, 3}, Ticket{7, 7}},
		{Ticket{3, 3}, Ticket{10, 10}, Ticket{0, 0}},
		{Ticket{10, 3}, Ticket{3, 10}, Ticket{7, 0}},
		{Ticket{5, 5}, Ticket{5, 5}, Ticket{0, 0}},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.want, WrappingDifference(tc.a, tc.b))
	}
}

func TestTicketNonZero(t *testing.T) {
	require.True(t, Ticket{Weight: 1}.NonZero())
	require.True(t, Ticket{Size: 1}.NonZero())
	require.False(t, Ticket{}.NonZero())

	require.True(t, Ticket{Weight: 1, Size: 1}.IsNonZero())
	require.False(t, Ticket{Weight: 1}.IsNonZero())
	require.False(t, Ticket{Size: 1}.IsNonZero())
}

func TestTicketString(t *testing.T) {
	require.Equal(t, "7:1024", Ticket{Weight: 7, Size: 1024}.String())
}
