package analysis

import (
	"sync"
	"time"
)

// Metrics accumulates process-wide analysis counters for the monitoring
// endpoint.
type Metrics struct {
	mu                sync.RWMutex
	totalAnalyses     int64
	predictions       int64
	failures          map[Category]int64
	cumulativeLatency time.Duration
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalAnalyses  int64            `json:"total_analyses"`
	Predictions    int64            `json:"predictions"`
	Failures       map[string]int64 `json:"failures"`
	AvgTotalMillis float64          `json:"avg_total_ms"`
}

func NewMetrics() *Metrics {
	return &Metrics{failures: make(map[Category]int64)}
}

func (m *Metrics) recordPrediction(elapsed time.Duration) {
	m.mu.Lock()
	m.totalAnalyses++
	m.predictions++
	m.cumulativeLatency += elapsed
	m.mu.Unlock()
}

func (m *Metrics) recordFailure(c Category, elapsed time.Duration) {
	m.mu.Lock()
	m.totalAnalyses++
	m.failures[c]++
	m.cumulativeLatency += elapsed
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		TotalAnalyses: m.totalAnalyses,
		Predictions:   m.predictions,
		Failures:      make(map[string]int64, len(m.failures)),
	}
	for c, n := range m.failures {
		snap.Failures[c.String()] = n
	}
	if m.totalAnalyses > 0 {
		snap.AvgTotalMillis = float64(m.cumulativeLatency.Milliseconds()) / float64(m.totalAnalyses)
	}
	return snap
}
