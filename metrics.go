package credcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a specific counter or histogram bucket in the
// in-process metrics system.
type MetricID uint16

const (
	// MetricLoginSuccess is an exported constant used by the metrics system.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure is an exported constant used by the metrics system.
	MetricLoginFailure
	// MetricLockoutApplied is an exported constant used by the metrics system.
	MetricLockoutApplied
	// MetricChallengeIssued is an exported constant used by the metrics system.
	MetricChallengeIssued
	// MetricMFASuccess is an exported constant used by the metrics system.
	MetricMFASuccess
	// MetricMFAFailure is an exported constant used by the metrics system.
	MetricMFAFailure
	// MetricMFAAttemptsExceeded is an exported constant used by the metrics system.
	MetricMFAAttemptsExceeded
	// MetricReplayDetected is an exported constant used by the metrics system.
	MetricReplayDetected
	// MetricEmailCodeIssued is an exported constant used by the metrics system.
	MetricEmailCodeIssued
	// MetricTokenIssued is an exported constant used by the metrics system.
	MetricTokenIssued
	// MetricTokenReused is an exported constant used by the metrics system.
	MetricTokenReused
	// MetricTokenConsumed is an exported constant used by the metrics system.
	MetricTokenConsumed
	// MetricTokenRejected is an exported constant used by the metrics system.
	MetricTokenRejected
	// MetricPasswordChangeSuccess is an exported constant used by the metrics system.
	MetricPasswordChangeSuccess
	// MetricPasswordPolicyRejected is an exported constant used by the metrics system.
	MetricPasswordPolicyRejected
	// MetricPasswordReuseRejected is an exported constant used by the metrics system.
	MetricPasswordReuseRejected
	// MetricAppEnrolled is an exported constant used by the metrics system.
	MetricAppEnrolled
	// MetricAppRevoked is an exported constant used by the metrics system.
	MetricAppRevoked
	// MetricDeviceEnrolled is an exported constant used by the metrics system.
	MetricDeviceEnrolled
	// MetricDeviceRevoked is an exported constant used by the metrics system.
	MetricDeviceRevoked
	// MetricAccountLocked is an exported constant used by the metrics system.
	MetricAccountLocked
	// MetricAccountUnlocked is an exported constant used by the metrics system.
	MetricAccountUnlocked
	// MetricAccountDisabled is an exported constant used by the metrics system.
	MetricAccountDisabled
	// MetricAccountEnabled is an exported constant used by the metrics system.
	MetricAccountEnabled
	// MetricPrimaryCheckLatency is an exported constant used by the metrics system.
	MetricPrimaryCheckLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free atomic counters and optional latency histograms.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics] instance configured by the given
// [MetricsConfig]. When Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether the metrics system records anything.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency observation for the primary-check histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricPrimaryCheckLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a deep copy of all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricPrimaryCheckLatency].buckets[i])
		}
		s.Histograms[MetricPrimaryCheckLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
