// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

package fairsched

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/fairsched/fairsched/pkg/util/timeutil"
)

// collectClassMetrics drains m's Collect output and returns the
// dto.Metric for the per-class metric whose name contains substr, or nil
// if none matched.
func collectClassMetrics(t *testing.T, m *Metrics, substr string) *dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	go func() {
		m.Collect(ch)
		close(ch)
	}()

	var found *dto.Metric
	for pm := range ch {
		if !strings.Contains(pm.Desc().String(), substr) {
			continue
		}
		var d dto.Metric
		require.NoError(t, pm.Write(&d))
		found = &d
	}
	return found
}

func TestQueueMetricsExportInCapacityTokens(t *testing.T) {
	clock := timeutil.NewManualTime(time.Unix(0, 0))
	q := newTestQueue(t, 1<<20, clock)
	q.RegisterClass(0, 100)

	ticket := Ticket{Weight: 4}
	q.Queue(0, NewEntry(ticket, ClassID(0)))

	var dispatched bool
	q.Dispatch(func(e *Entry) {
		dispatched = true
		q.NotifyFinished(e.Ticket())
	})
	require.True(t, dispatched)

	reqCap := q.group.TicketCapacity(ticket)
	reqCost := reqCap / 100 // shares == 100, matching Dispatch's reqCost formula

	expectedConsumption := CapacityTokens(reqCap)
	expectedAdjusted := CapacityTokens(reqCost)

	consumption := collectClassMetrics(t, q.Metrics(), "fairsched_class_0_consumption")
	adjusted := collectClassMetrics(t, q.Metrics(), "fairsched_class_0_adjusted_consumption")
	require.NotNil(t, consumption)
	require.NotNil(t, adjusted)

	require.InDelta(t, expectedConsumption, consumption.GetCounter().GetValue(), 1e-12)
	require.InDelta(t, expectedAdjusted, adjusted.GetGauge().GetValue(), 1e-12)

	// Sanity check against the bug this guards: the raw, unconverted
	// Capacity values are many orders of magnitude larger than the
	// token-scaled ones actually exported.
	require.Less(t, consumption.GetCounter().GetValue(), float64(reqCap))
}

func TestQueueMetricsRequestCounters(t *testing.T) {
	clock := timeutil.NewManualTime(time.Unix(0, 0))
	q := newTestQueue(t, 1<<20, clock)
	q.RegisterClass(0, 100)

	q.Queue(0, NewEntry(Ticket{Weight: 1}, ClassID(0)))

	queued := collectClassMetrics(t, q.Metrics(), "fairsched_requests_queued")
	require.NotNil(t, queued)
	require.Equal(t, float64(1), queued.GetGauge().GetValue())

	q.Dispatch(func(e *Entry) {})

	executing := collectClassMetrics(t, q.Metrics(), "fairsched_requests_executing")
	require.NotNil(t, executing)
	require.Equal(t, float64(1), executing.GetGauge().GetValue())
}
