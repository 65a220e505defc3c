// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

package fairsched

import (
	"fmt"

	"github.com/fairsched/fairsched/pkg/util/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// classMetrics holds the two per-class metrics this package publishes:
// consumption (the running total of capacity a class has been granted)
// and adjusted consumption (the scaled fairness accumulator that ordering
// decisions are actually made on). Both are exported so an operator can
// see the gap between "how much work this class did" and "how much the
// scheduler currently thinks it owes," which is exactly what renormalize
// and the idle handicap perturb.
//
// The Counter/Gauge store raw Capacity-scale values (exact integers);
// Metrics.Collect converts them to disk-capacity tokens via
// CapacityTokens only at export time, so the running totals themselves
// never lose precision to the conversion.
type classMetrics struct {
	consumption         *metric.Counter
	adjustedConsumption *metric.Gauge
}

func (m classMetrics) update(pureAccumulated uint64, accumulated int64) {
	m.consumption.Inc(pureAccumulated - m.consumption.Count())
	m.adjustedConsumption.Update(accumulated)
}

// Metrics is a FairQueue's metric registry: a consumption counter and an
// adjusted-consumption gauge per registered priority class, plus the
// queue-wide queued/executing gauges. It implements prometheus.Collector
// so it can be registered directly with a prometheus.Registry.
type Metrics struct {
	classes map[ClassID]classMetrics

	requestsQueued    *metric.Gauge
	requestsExecuting *metric.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		classes:           make(map[ClassID]classMetrics),
		requestsQueued:    metric.NewGauge(metric.Metadata{Name: "fairsched_requests_queued", Help: "Number of requests currently queued across all classes"}),
		requestsExecuting: metric.NewGauge(metric.Metadata{Name: "fairsched_requests_executing", Help: "Number of requests currently dispatched and awaiting completion"}),
	}
}

func (m *Metrics) registerClass(id ClassID) classMetrics {
	cm := classMetrics{
		consumption: metric.NewCounter(metric.Metadata{
			Name: fmt.Sprintf("fairsched_class_%d_consumption", id),
			Help: "Cumulative disk-capacity tokens granted to this priority class",
		}),
		adjustedConsumption: metric.NewGauge(metric.Metadata{
			Name: fmt.Sprintf("fairsched_class_%d_adjusted_consumption", id),
			Help: "Current fairness accumulator value for this priority class, in disk-capacity tokens",
		}),
	}
	m.classes[id] = cm
	return cm
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.requestsQueued.ToPrometheusMetric()
	ch <- m.requestsExecuting.ToPrometheusMetric()
	for _, cm := range m.classes {
		ch <- tokenMetric(cm.consumption.Name, cm.consumption.Help, prometheus.CounterValue, Capacity(cm.consumption.Count()))
		ch <- tokenMetric(cm.adjustedConsumption.Name, cm.adjustedConsumption.Help, prometheus.GaugeValue, nonNegativeCapacity(cm.adjustedConsumption.Value()))
	}
}

// tokenMetric renders a raw Capacity-scale value as a prometheus.Metric in
// disk-capacity tokens, via CapacityTokens — the same conversion
// fair_queue's own metrics expose pure_accumulated/accumulated through
// before publishing them.
func tokenMetric(name, help string, valueType prometheus.ValueType, raw Capacity) prometheus.Metric {
	desc := prometheus.NewDesc(name, help, nil, nil)
	return prometheus.MustNewConstMetric(desc, valueType, CapacityTokens(raw))
}

// nonNegativeCapacity clamps a Gauge's signed value to the unsigned
// Capacity domain. adjustedConsumption is never negative in practice
// (renormalize floors it at zero), but the Gauge itself is signed to
// share the int64 accumulator type.
func nonNegativeCapacity(v int64) Capacity {
	if v < 0 {
		return 0
	}
	return Capacity(v)
}
