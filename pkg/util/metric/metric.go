// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

// Package metric provides a small Gauge/Counter wrapper over
// prometheus/client_golang, with ToPrometheusMetric methods that render
// them as prometheus.Metric values for a prometheus.Collector to emit.
// pkg/fairsched uses it to publish its per-class consumption and
// adjusted-consumption metrics.
package metric

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metadata describes a metric for registration purposes: its name and
// help text.
type Metadata struct {
	Name string
	Help string
}

// Counter is a monotonically increasing accumulator, used for values like
// pureAccumulated that only ever grow (modulo an explicit reset, which a
// Counter does not support by design — see Gauge for that case).
type Counter struct {
	Metadata
	count atomic.Uint64
}

// NewCounter constructs a Counter.
func NewCounter(meta Metadata) *Counter {
	return &Counter{Metadata: meta}
}

// Inc adds delta to the counter.
func (c *Counter) Inc(delta uint64) {
	c.count.Add(delta)
}

// Count returns the current value.
func (c *Counter) Count() uint64 {
	return c.count.Load()
}

// ToPrometheusMetric renders this counter as a prometheus.Metric for use in
// a prometheus.Collector's Collect method.
func (c *Counter) ToPrometheusMetric() prometheus.Metric {
	desc := prometheus.NewDesc(c.Name, c.Help, nil, nil)
	return prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(c.Count()))
}

// Gauge is a value that can move up or down — used here for accumulated,
// which a renormalization pass can reset downward.
type Gauge struct {
	Metadata
	value atomic.Int64
}

// NewGauge constructs a Gauge.
func NewGauge(meta Metadata) *Gauge {
	return &Gauge{Metadata: meta}
}

// Update sets the gauge to v.
func (g *Gauge) Update(v int64) {
	g.value.Store(v)
}

// Value returns the current value.
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// ToPrometheusMetric renders this gauge as a prometheus.Metric.
func (g *Gauge) ToPrometheusMetric() prometheus.Metric {
	desc := prometheus.NewDesc(g.Name, g.Help, nil, nil)
	return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(g.Value()))
}
