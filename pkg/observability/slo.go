package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SLOTarget defines a latency/success objective for one pipeline operation.
type SLOTarget struct {
	Operation   string        `json:"operation"` // emit, register, detect, anchor, prove, verify_chain
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // target, 0-1
}

// SLOObservation is one data point.
type SLOObservation struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus reports current compliance for one operation.
type SLOStatus struct {
	Operation        string  `json:"operation"`
	CurrentP99Ms     float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	ObservationCount int     `json:"observation_count"`
}

// SLOTracker accumulates observations against targets. Misses are reported,
// never enforced: an SLO breach is a flag on the ledger, not an abort.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]SLOTarget
	observations map[string][]SLOObservation
	clock        func() time.Time
}

// NewSLOTracker creates a tracker pre-loaded with the pipeline defaults.
func NewSLOTracker() *SLOTracker {
	t := &SLOTracker{
		targets:      make(map[string]SLOTarget),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
	for _, target := range []SLOTarget{
		{Operation: "emit", LatencyP99: 50 * time.Millisecond, SuccessRate: 0.999},
		{Operation: "register", LatencyP99: 100 * time.Millisecond, SuccessRate: 0.999},
		{Operation: "detect", LatencyP99: 500 * time.Millisecond, SuccessRate: 0.99},
		{Operation: "anchor", LatencyP99: 250 * time.Millisecond, SuccessRate: 0.999},
		{Operation: "prove", LatencyP99: 100 * time.Millisecond, SuccessRate: 0.999},
		{Operation: "verify_chain", LatencyP99: time.Second, SuccessRate: 0.99},
	} {
		t.targets[target.Operation] = target
	}
	return t
}

// SetTarget registers or replaces a target.
func (t *SLOTracker) SetTarget(target SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

// Observe records one operation outcome.
func (t *SLOTracker) Observe(operation string, latency time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observations[operation] = append(t.observations[operation], SLOObservation{
		Operation: operation,
		Latency:   latency,
		Success:   success,
		Timestamp: t.clock(),
	})
}

// Status reports compliance for one operation.
func (t *SLOTracker) Status(operation string) (SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return SLOStatus{}, fmt.Errorf("observability: no SLO target for %q", operation)
	}
	obs := t.observations[operation]
	status := SLOStatus{
		Operation:        operation,
		ObservationCount: len(obs),
		InCompliance:     true,
	}
	if len(obs) == 0 {
		status.CurrentSuccess = 1
		return status, nil
	}

	latencies := make([]time.Duration, len(obs))
	successes := 0
	for i, o := range obs {
		latencies[i] = o.Latency
		if o.Success {
			successes++
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	idx := (len(latencies) * 99) / 100
	if idx >= len(latencies) {
		idx = len(latencies) - 1
	}
	p99 := latencies[idx]
	status.CurrentP99Ms = float64(p99) / float64(time.Millisecond)
	status.CurrentSuccess = float64(successes) / float64(len(obs))
	status.InCompliance = p99 <= target.LatencyP99 && status.CurrentSuccess >= target.SuccessRate
	return status, nil
}

// Statuses reports compliance for every operation with a target.
func (t *SLOTracker) Statuses() []SLOStatus {
	t.mu.Lock()
	operations := make([]string, 0, len(t.targets))
	for op := range t.targets {
		operations = append(operations, op)
	}
	t.mu.Unlock()
	sort.Strings(operations)

	out := make([]SLOStatus, 0, len(operations))
	for _, op := range operations {
		if s, err := t.Status(op); err == nil {
			out = append(out, s)
		}
	}
	return out
}
