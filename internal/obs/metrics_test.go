package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Inc(CounterSubmitSuccess)
	m.Inc(CounterSubmitSuccess)
	m.Inc(CounterReconcileStale)
	m.ObserveBroker(10 * time.Millisecond)
	m.ObserveBroker(30 * time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Counts["submit_success"])
	assert.Equal(t, uint64(1), snap.Counts["reconcile_stale"])
	assert.NotContains(t, snap.Counts, "liquidation")
	assert.Equal(t, uint64(2), snap.BrokerLatency.Count)
	assert.Equal(t, 10*time.Millisecond, snap.BrokerLatency.Min)
	assert.Equal(t, 30*time.Millisecond, snap.BrokerLatency.Max)
	assert.Equal(t, 20*time.Millisecond, snap.BrokerLatency.Avg)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(CounterLiquidation)
	m.ObservePoll(time.Second)
	assert.Equal(t, uint64(0), m.Count(CounterLiquidation))
	assert.Empty(t, m.Snapshot().Counts)
}
