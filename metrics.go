package clexec

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/behrlich/clexec/internal/wire"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks Compile/Execute call counts, per-action-kind counts, and
// latency distributions for one Executor instance.
type Metrics struct {
	CompileOps atomic.Uint64
	ExecuteOps atomic.Uint64

	CompileErrors atomic.Uint64
	ExecuteErrors atomic.Uint64
	Timeouts      atomic.Uint64

	ActionsRun        atomic.Uint64
	PrimitiveErrors   atomic.Uint64
	ActionKindCounts  [7]atomic.Uint64 // indexed by wire.Kind

	TotalExecuteLatencyNs atomic.Uint64
	ExecuteCount          atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a fresh Metrics, timestamped at construction.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCompile records one Compile call.
func (m *Metrics) RecordCompile(latencyNs uint64, success bool) {
	m.CompileOps.Add(1)
	if !success {
		m.CompileErrors.Add(1)
	}
}

// RecordExecute records one Execute call's outcome and latency.
func (m *Metrics) RecordExecute(latencyNs uint64, actionsRun int, outcome string) {
	m.ExecuteOps.Add(1)
	m.ActionsRun.Add(uint64(actionsRun))
	switch outcome {
	case "timeout":
		m.Timeouts.Add(1)
	case "error":
		m.ExecuteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordAction tallies one action-kind execution.
func (m *Metrics) RecordAction(kind uint8, latencyNs uint64, success bool) {
	if int(kind) < len(m.ActionKindCounts) {
		m.ActionKindCounts[kind].Add(1)
	}
	_ = latencyNs
	_ = success
}

// RecordPrimitiveError tallies a primitive setup failure observed outside
// the IR's own i32/i64 error convention (spec.md §7).
func (m *Metrics) RecordPrimitiveError() {
	m.PrimitiveErrors.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalExecuteLatencyNs.Add(latencyNs)
	m.ExecuteCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// ObserveCompile, ObserveExecute, ObserveAction, and ObservePrimitiveError
// satisfy internal/interfaces.Observer, so a *Metrics can be handed to
// internal/driver and the primitive packages without either importing this
// root package back (which would cycle).
func (m *Metrics) ObserveCompile(latencyNs uint64, success bool) {
	m.RecordCompile(latencyNs, success)
}

func (m *Metrics) ObserveExecute(latencyNs uint64, actionsRun int, outcome string) {
	m.RecordExecute(latencyNs, actionsRun, outcome)
}

func (m *Metrics) ObserveAction(kind string, latencyNs uint64, success bool) {
	if k, ok := wire.ParseKind(kind); ok {
		m.RecordAction(uint8(k), latencyNs, success)
	}
}

func (m *Metrics) ObservePrimitiveError(name string) {
	m.RecordPrimitiveError()
}

// Stop marks the executor as torn down.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, immutable copy of Metrics.
type MetricsSnapshot struct {
	CompileOps    uint64
	ExecuteOps    uint64
	CompileErrors uint64
	ExecuteErrors uint64
	Timeouts      uint64

	ActionsRun       uint64
	PrimitiveErrors  uint64
	ActionKindCounts [7]uint64

	AvgExecuteLatencyNs uint64
	UptimeNs            uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ExecuteOpsPerSec float64
	ErrorRate        float64
}

// Snapshot computes a MetricsSnapshot from the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		CompileOps:      m.CompileOps.Load(),
		ExecuteOps:      m.ExecuteOps.Load(),
		CompileErrors:   m.CompileErrors.Load(),
		ExecuteErrors:   m.ExecuteErrors.Load(),
		Timeouts:        m.Timeouts.Load(),
		ActionsRun:      m.ActionsRun.Load(),
		PrimitiveErrors: m.PrimitiveErrors.Load(),
	}
	for i := range snap.ActionKindCounts {
		snap.ActionKindCounts[i] = m.ActionKindCounts[i].Load()
	}

	totalLatency := m.TotalExecuteLatencyNs.Load()
	count := m.ExecuteCount.Load()
	if count > 0 {
		snap.AvgExecuteLatencyNs = totalLatency / count
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ExecuteOpsPerSec = float64(snap.ExecuteOps) / uptimeSeconds
	}

	totalErrors := snap.ExecuteErrors + snap.Timeouts
	if snap.ExecuteOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.ExecuteOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if count > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.ExecuteCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		count := m.LatencyBuckets[i].Load()
		if count >= target {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// String renders a one-line human-readable summary for CLI output.
func (s MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"compiles=%d executes=%d timeouts=%d errors=%d actions=%d avg_latency=%s p50=%s p99=%s error_rate=%.2f%%",
		s.CompileOps, s.ExecuteOps, s.Timeouts, s.ExecuteErrors, s.ActionsRun,
		time.Duration(s.AvgExecuteLatencyNs), time.Duration(s.LatencyP50Ns), time.Duration(s.LatencyP99Ns),
		s.ErrorRate,
	)
}
