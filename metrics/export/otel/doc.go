// Package otel bridges the engine's internal lock-free metrics into
// OpenTelemetry observable instruments.
//
// The exporter registers a single callback that reads one consistent
// snapshot per collection cycle. Counters map one to one; latency
// histograms are exported as cumulative per-bound bucket gauges plus a
// total-count gauge, so any OTLP backend can reconstruct the
// distribution without a native histogram instrument.
package otel
