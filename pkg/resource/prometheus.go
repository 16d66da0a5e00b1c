// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resource

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromCollector exports per-usage sliding-window snapshots of one or more
// Wrappers as Prometheus gauges/counters. The sliding-window math itself
// stays hand-rolled (Counters, above); this layer only re-exposes its
// cumulative totals and latency percentiles through client_golang, the
// teacher's own dependency for anything Prometheus-shaped. All wrappers a
// process monitors share one collector so their series share one
// descriptor set.
type PromCollector struct {
	wrappers []*Wrapper

	opsTotal    *prometheus.Desc
	bytesTotal  *prometheus.Desc
	windowOps   *prometheus.Desc
	windowBytes *prometheus.Desc
	lastBytes   *prometheus.Desc
	maxBytes    *prometheus.Desc
	p50         *prometheus.Desc
	p99         *prometheus.Desc
}

// NewPromCollector builds a prometheus.Collector over ws, labeled by
// resource name and usage type.
func NewPromCollector(ws ...*Wrapper) *PromCollector {
	labels := []string{"resource", "usage"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("evochora_pipeline_"+name, help, labels, nil)
	}
	return &PromCollector{
		wrappers:    ws,
		opsTotal:    desc("ops_total", "cumulative operation count"),
		bytesTotal:  desc("bytes_total", "cumulative byte count"),
		windowOps:   desc("window_ops", "operation count within the sliding window"),
		windowBytes: desc("window_bytes", "byte count within the sliding window"),
		lastBytes:   desc("last_bytes", "most recently observed operation byte size"),
		maxBytes:    desc("max_bytes", "largest observed operation byte size"),
		p50:         desc("latency_p50_seconds", "median operation latency"),
		p99:         desc("latency_p99_seconds", "p99 operation latency"),
	}
}

func (c *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.opsTotal
	ch <- c.bytesTotal
	ch <- c.windowOps
	ch <- c.windowBytes
	ch <- c.lastBytes
	ch <- c.maxBytes
	ch <- c.p50
	ch <- c.p99
}

func (c *PromCollector) Collect(ch chan<- prometheus.Metric) {
	for _, w := range c.wrappers {
		c.collectWrapper(ch, w)
	}
}

func (c *PromCollector) collectWrapper(ch chan<- prometheus.Metric, w *Wrapper) {
	for _, usage := range allUsageTypes {
		snap, ok := w.Snapshot(usage)
		if !ok {
			continue
		}
		lv := []string{w.Name(), string(usage)}
		ch <- prometheus.MustNewConstMetric(c.opsTotal, prometheus.CounterValue, float64(snap.CumulativeOps), lv...)
		ch <- prometheus.MustNewConstMetric(c.bytesTotal, prometheus.CounterValue, float64(snap.CumulativeBytes), lv...)
		ch <- prometheus.MustNewConstMetric(c.windowOps, prometheus.GaugeValue, float64(snap.WindowOps), lv...)
		ch <- prometheus.MustNewConstMetric(c.windowBytes, prometheus.GaugeValue, float64(snap.WindowBytes), lv...)
		ch <- prometheus.MustNewConstMetric(c.lastBytes, prometheus.GaugeValue, float64(snap.LastBytes), lv...)
		ch <- prometheus.MustNewConstMetric(c.maxBytes, prometheus.GaugeValue, float64(snap.MaxBytes), lv...)
		ch <- prometheus.MustNewConstMetric(c.p50, prometheus.GaugeValue, snap.P50.Seconds(), lv...)
		ch <- prometheus.MustNewConstMetric(c.p99, prometheus.GaugeValue, snap.P99.Seconds(), lv...)
	}
}
