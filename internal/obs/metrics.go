package obs

import (
	"sync/atomic"
	"time"
)

// Counter names a tracked event count.
type Counter uint8

const (
	CounterSubmitSuccess Counter = iota
	CounterSubmitTransient
	CounterSubmitAmbiguous
	CounterSubmitPermanent
	CounterSubmitRetry
	CounterSubmitDeduplicated
	CounterActionDowngraded
	CounterReconcilePoll
	CounterReconcileResolved
	CounterReconcileRejected
	CounterReconcileStale
	CounterReconcileError
	CounterIntegrityError
	CounterLiquidation
	counterCount
)

var counterNames = [counterCount]string{
	"submit_success",
	"submit_transient",
	"submit_ambiguous",
	"submit_permanent",
	"submit_retry",
	"submit_deduplicated",
	"action_downgraded",
	"reconcile_poll",
	"reconcile_resolved",
	"reconcile_rejected",
	"reconcile_stale",
	"reconcile_error",
	"integrity_error",
	"liquidation",
}

func (c Counter) String() string {
	if c < counterCount {
		return counterNames[c]
	}
	return "unknown"
}

// Metrics holds the engine counters plus broker and poll latency. A nil
// *Metrics is a no-op.
type Metrics struct {
	counts [counterCount]atomic.Uint64

	brokerLatency Latency
	pollLatency   Latency
}

// Latency keeps count, total, fastest and slowest of a duration series.
type Latency struct {
	samples atomic.Uint64
	total   atomic.Uint64
	fastest atomic.Uint64
	slowest atomic.Uint64
}

// LatencySnapshot is a copy of one Latency.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot is what gets logged on shutdown.
type Snapshot struct {
	Counts        map[string]uint64
	BrokerLatency LatencySnapshot
	PollLatency   LatencySnapshot
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc increments a counter.
func (m *Metrics) Inc(c Counter) {
	if m == nil || c >= counterCount {
		return
	}
	m.counts[c].Add(1)
}

// Count returns the current value of a counter.
func (m *Metrics) Count(c Counter) uint64 {
	if m == nil || c >= counterCount {
		return 0
	}
	return m.counts[c].Load()
}

// ObserveBroker measures a single broker round trip.
func (m *Metrics) ObserveBroker(d time.Duration) {
	if m != nil {
		m.brokerLatency.Observe(d)
	}
}

// ObservePoll measures one reconciliation sweep.
func (m *Metrics) ObservePoll(d time.Duration) {
	if m != nil {
		m.pollLatency.Observe(d)
	}
}

// Snapshot copies the non-zero counters and both latency series.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	counts := make(map[string]uint64, counterCount)
	for i := range m.counts {
		if v := m.counts[i].Load(); v > 0 {
			counts[Counter(i).String()] = v
		}
	}
	return Snapshot{
		Counts:        counts,
		BrokerLatency: m.brokerLatency.Snapshot(),
		PollLatency:   m.pollLatency.Snapshot(),
	}
}

// Observe adds one sample. Negative durations are dropped.
func (l *Latency) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	v := uint64(d)
	l.samples.Add(1)
	l.total.Add(v)
	swapIf(&l.fastest, v, func(cur uint64) bool { return cur == 0 || v < cur })
	swapIf(&l.slowest, v, func(cur uint64) bool { return v > cur })
}

func (l *Latency) Snapshot() LatencySnapshot {
	n := l.samples.Load()
	if n == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: n,
		Min:   time.Duration(l.fastest.Load()),
		Max:   time.Duration(l.slowest.Load()),
		Avg:   time.Duration(l.total.Load() / n),
	}
}

// swapIf stores v into dst as long as better reports true for the value
// currently held.
func swapIf(dst *atomic.Uint64, v uint64, better func(cur uint64) bool) {
	for {
		cur := dst.Load()
		if !better(cur) || dst.CompareAndSwap(cur, v) {
			return
		}
	}
}
