package signal

import (
	"context"
	"math"
	"time"

	"github.com/greenproof/core/pkg/anomaly"
	"github.com/greenproof/core/pkg/ledger"
	"github.com/greenproof/core/pkg/observability"
	"github.com/greenproof/core/pkg/receipt"
)

// MaxDetectionTime is the soft per-claim detection SLO. Overruns are
// flagged on the ledger, never aborted.
const MaxDetectionTime = 500 * time.Millisecond

// Result is one completed detection run.
type Result struct {
	ClaimID        string
	Score          float64
	Level          Level
	Recommendation Recommendation
	Receipt        receipt.Receipt
}

// Detector runs the aggregation pipeline for a claim and records the
// outcome as a fraud receipt.
type Detector struct {
	agg       *Aggregator
	emitter   *ledger.Emitter
	anomalies *anomaly.Recorder
	clock     func() time.Time
	slo       *observability.SLOTracker
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithDetectorClock overrides the SLO clock, for tests.
func WithDetectorClock(clock func() time.Time) DetectorOption {
	return func(d *Detector) { d.clock = clock }
}

// WithDetectorSLO records each run's latency and outcome on tracker
// under the "detect" operation.
func WithDetectorSLO(tracker *observability.SLOTracker) DetectorOption {
	return func(d *Detector) { d.slo = tracker }
}

// NewDetector builds a Detector over an aggregation config and an emitter.
func NewDetector(cfg Config, emitter *ledger.Emitter, opts ...DetectorOption) *Detector {
	d := &Detector{
		agg:       NewAggregator(cfg),
		emitter:   emitter,
		anomalies: anomaly.NewRecorder(emitter),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect aggregates the checks, emits the fraud receipt, and returns the
// outcome. A run past the soft SLO additionally records a warning anomaly.
func (d *Detector) Detect(ctx context.Context, claimID string, checks []Check) (Result, error) {
	start := d.clock()

	score := d.agg.Aggregate(checks)
	level := d.agg.Classify(score)
	rec := Recommend(level)

	checksByType := make(map[string]any, len(checks))
	for _, c := range checks {
		checksByType[c.CheckType] = c
	}

	emitted, err := d.emitter.Emit(ctx, receipt.Receipt{
		receipt.FieldType: receipt.TypeFraud,
		"claim_id":        claimID,
		"fraud_score":     math.Round(score*10000) / 10000,
		"fraud_level":     string(level),
		"recommendation":  string(rec),
		"checks":          checksByType,
	})
	if err != nil {
		if d.slo != nil {
			d.slo.Observe("detect", d.clock().Sub(start), false)
		}
		return Result{}, err
	}

	elapsed := d.clock().Sub(start)
	if d.slo != nil {
		d.slo.Observe("detect", elapsed, true)
	}
	if elapsed > MaxDetectionTime {
		if _, aerr := d.anomalies.Record(ctx, anomaly.Event{
			Type:           "detection_timeout",
			Classification: anomaly.ClassWarning,
			Action:         anomaly.ActionFlag,
			Details: map[string]any{
				"claim_id":     claimID,
				"elapsed_ms":   elapsed.Milliseconds(),
				"threshold_ms": MaxDetectionTime.Milliseconds(),
			},
		}); aerr != nil {
			return Result{}, aerr
		}
	}

	return Result{
		ClaimID:        claimID,
		Score:          score,
		Level:          level,
		Recommendation: rec,
		Receipt:        emitted,
	}, nil
}
