package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/omniport-systems/omniport/internal/models"
)

// HealthStatus is the coarse operational verdict derived from recent
// success rate and latency.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

const maxLatencySamples = 1000

// DLQ depth thresholds for the health verdict. A backlog above the healthy
// bound degrades the gateway even when ingestion itself is succeeding; above
// the degraded bound the gateway is unhealthy.
const (
	healthyDLQDepth  = 100
	degradedDLQDepth = 1000
)

// Snapshot is the read-only view returned by GET /metrics.
type Snapshot struct {
	TotalRequests int64                         `json:"totalRequests"`
	SuccessRate   string                        `json:"successRate"`
	P95Latency    string                        `json:"p95Latency"`
	HealthStatus  HealthStatus                  `json:"healthStatus"`
	DLQDepth      int                           `json:"dlqDepth"`
	BySource      map[models.Source]int64       `json:"bySource"`
	ByLane        map[models.Lane]int64         `json:"byLane"`
	CircuitStates map[models.Destination]string `json:"circuitStates"`
	UptimeMs      int64                         `json:"uptime"`
	LastReset     time.Time                     `json:"lastReset"`
}

// Aggregator accumulates request counts and latency samples in memory. It is
// purely observational: nothing reads it to make routing or dispatch
// decisions.
type Aggregator struct {
	mu           sync.RWMutex
	total        int64
	successCount int64
	failureCount int64
	latencies    []float64 // ring buffer, most recent maxLatencySamples
	bySource     map[models.Source]int64
	byLane       map[models.Lane]int64
	startTime    time.Time
}

func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.resetLocked()
	return a
}

// RecordRequest records one ingestion outcome.
func (a *Aggregator) RecordRequest(source models.Source, lane models.Lane, latency time.Duration, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.bySource[source]++
	a.byLane[lane]++
	if success {
		a.successCount++
	} else {
		a.failureCount++
	}

	a.latencies = append(a.latencies, float64(latency.Milliseconds()))
	if len(a.latencies) > maxLatencySamples {
		a.latencies = a.latencies[len(a.latencies)-maxLatencySamples:]
	}

	EventsTotal.WithLabelValues(string(source), string(lane)).Inc()
}

// SuccessRate returns the percentage of successful requests, 100 when idle.
func (a *Aggregator) SuccessRate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.successRateLocked()
}

func (a *Aggregator) successRateLocked() float64 {
	if a.total == 0 {
		return 100
	}
	return float64(a.successCount) / float64(a.total) * 100
}

// P95Latency estimates the 95th-percentile latency over the sample window.
func (a *Aggregator) P95Latency() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.p95Locked()
}

func (a *Aggregator) p95Locked() float64 {
	if len(a.latencies) == 0 {
		return 0
	}
	sorted := make([]float64, len(a.latencies))
	copy(sorted, a.latencies)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Health derives the coarse verdict from success rate, p95 latency, and the
// current DLQ backlog.
func (a *Aggregator) Health(dlqDepth int) HealthStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.healthLocked(dlqDepth)
}

func (a *Aggregator) healthLocked(dlqDepth int) HealthStatus {
	rate := a.successRateLocked()
	p95 := a.p95Locked()

	switch {
	case rate >= 99 && p95 < 100 && dlqDepth < healthyDLQDepth:
		return HealthHealthy
	case rate >= 95 && p95 < 500 && dlqDepth < degradedDLQDepth:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

// GetMetrics builds a snapshot. DLQ depth and circuit states are owned by
// other components and passed in by the caller.
func (a *Aggregator) GetMetrics(dlqDepth int, circuitStates map[models.Destination]string) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	bySource := make(map[models.Source]int64, len(a.bySource))
	for k, v := range a.bySource {
		bySource[k] = v
	}
	byLane := make(map[models.Lane]int64, len(a.byLane))
	for k, v := range a.byLane {
		byLane[k] = v
	}

	return Snapshot{
		TotalRequests: a.total,
		SuccessRate:   fmt.Sprintf("%.1f%%", a.successRateLocked()),
		P95Latency:    fmt.Sprintf("%.0fms", a.p95Locked()),
		HealthStatus:  a.healthLocked(dlqDepth),
		DLQDepth:      dlqDepth,
		BySource:      bySource,
		ByLane:        byLane,
		CircuitStates: circuitStates,
		UptimeMs:      time.Since(a.startTime).Milliseconds(),
		LastReset:     a.startTime,
	}
}

// Reset clears all counters. Administrative use only.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Aggregator) resetLocked() {
	a.total = 0
	a.successCount = 0
	a.failureCount = 0
	a.latencies = nil
	a.bySource = make(map[models.Source]int64, len(models.Sources))
	for _, s := range models.Sources {
		a.bySource[s] = 0
	}
	a.byLane = make(map[models.Lane]int64, len(models.Lanes))
	for _, l := range models.Lanes {
		a.byLane[l] = 0
	}
	a.startTime = time.Now()
}
