// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resource

import (
	"sync"
	"sync/atomic"
	"time"
)

// bucketCount is the number of fixed-width buckets a Counters' sliding
// window is divided into. A fixed bucket count bounds the per-event work
// to O(1): at most one stale bucket is cleared per Record call.
const bucketCount = 10

// bucket accumulates operations/bytes within one slice of the window.
type bucket struct {
	slot  int64 // window index this bucket belongs to; stale once the clock moves past it
	ops   int64
	bytes int64
}

// Counters is an O(1)-per-event sliding-window counter for one usage
// type's operation count, byte count, and latency distribution, plus
// cumulative (non-resetting) totals and the last/max observed byte size.
// Grounded on healthcheck.go's "has this buffer seen data in the last N
// intervals" idiom, generalized into a full ring of counting buckets.
type Counters struct {
	window    time.Duration
	bucketDur time.Duration

	mu      sync.Mutex
	buckets [bucketCount]bucket
	hist    latencyHistogram

	cumulativeOps   int64
	cumulativeBytes int64
	lastBytes       int64
	maxBytes        int64
}

// NewCounters builds a Counters with the given sliding-window width
// (§4.D/§6 default 5s, configurable via metrics_window_seconds).
func NewCounters(window time.Duration) *Counters {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Counters{window: window, bucketDur: window / bucketCount}
}

func (c *Counters) slotFor(t time.Time) int64 {
	if c.bucketDur <= 0 {
		return 0
	}
	return t.UnixNano() / int64(c.bucketDur)
}

// Record books one operation's byte count and latency. Cumulative counters
// are monotonic (§8 invariant 9); the sliding window decays to zero after
// an idle period equal to the configured window because every bucket's
// slot eventually falls outside the live range and is cleared lazily on
// the next write to that slot.
func (c *Counters) Record(bytes int64, latency time.Duration) {
	atomic.AddInt64(&c.cumulativeOps, 1)
	atomic.AddInt64(&c.cumulativeBytes, bytes)
	atomic.StoreInt64(&c.lastBytes, bytes)
	for {
		cur := atomic.LoadInt64(&c.maxBytes)
		if bytes <= cur || atomic.CompareAndSwapInt64(&c.maxBytes, cur, bytes) {
			break
		}
	}

	now := time.Now()
	slot := c.slotFor(now)
	idx := int(((slot % bucketCount) + bucketCount) % bucketCount)

	c.mu.Lock()
	b := &c.buckets[idx]
	if b.slot != slot {
		*b = bucket{slot: slot}
	}
	b.ops++
	b.bytes += bytes
	c.hist.observe(latency)
	c.mu.Unlock()
}

// Snapshot is a point-in-time view of a Counters' sliding-window rate plus
// its cumulative totals and percentile latencies.
type Snapshot struct {
	WindowOps    int64
	WindowBytes  int64
	CumulativeOps   int64
	CumulativeBytes int64
	LastBytes    int64
	MaxBytes     int64
	P50          time.Duration
	P99          time.Duration
}

// Snapshot reads the current sliding window, discarding any bucket whose
// slot has aged out of the window (an idle resource's window reads zero
// after `window` has elapsed with no new events, per §8 invariant 9).
func (c *Counters) Snapshot() Snapshot {
	now := time.Now()
	liveSlot := c.slotFor(now)

	c.mu.Lock()
	var ops, bytes int64
	for i := range c.buckets {
		b := &c.buckets[i]
		if b.slot == 0 && b.ops == 0 {
			continue
		}
		if liveSlot-b.slot >= bucketCount {
			continue // aged out of the window, treated as zero without clearing eagerly
		}
		ops += b.ops
		bytes += b.bytes
	}
	p50, p99 := c.hist.percentiles()
	c.mu.Unlock()

	return Snapshot{
		WindowOps:       ops,
		WindowBytes:     bytes,
		CumulativeOps:   atomic.LoadInt64(&c.cumulativeOps),
		CumulativeBytes: atomic.LoadInt64(&c.cumulativeBytes),
		LastBytes:       atomic.LoadInt64(&c.lastBytes),
		MaxBytes:        atomic.LoadInt64(&c.maxBytes),
		P50:             p50,
		P99:             p99,
	}
}

// latencyHistogram is a small fixed-bucket latency histogram giving
// approximate percentiles in O(1) space and time per observation, avoiding
// an unbounded sorted-sample list.
type latencyHistogram struct {
	// boundaries in milliseconds, exponentially spaced; the last bucket is
	// an overflow catch-all.
	counts [latencyBuckets]int64
}

const latencyBuckets = 20

var latencyBoundsMs = buildLatencyBounds()

func buildLatencyBounds() [latencyBuckets]float64 {
	var b [latencyBuckets]float64
	v := 0.5
	for i := range b {
		b[i] = v
		v *= 1.7
	}
	return b
}

func (h *latencyHistogram) observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	idx := latencyBuckets - 1
	for i, bound := range latencyBoundsMs {
		if ms <= bound {
			idx = i
			break
		}
	}
	h.counts[idx]++
}

func (h *latencyHistogram) percentiles() (p50, p99 time.Duration) {
	var total int64
	for _, c := range h.counts {
		total += c
	}
	if total == 0 {
		return 0, 0
	}
	find := func(quantile float64) time.Duration {
		target := int64(float64(total) * quantile)
		var acc int64
		for i, c := range h.counts {
			acc += c
			if acc >= target {
				return time.Duration(latencyBoundsMs[i] * float64(time.Millisecond))
			}
		}
		return time.Duration(latencyBoundsMs[latencyBuckets-1] * float64(time.Millisecond))
	}
	return find(0.50), find(0.99)
}
