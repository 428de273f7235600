package signal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenproof/core/pkg/ledger"
	"github.com/greenproof/core/pkg/observability"
	"github.com/greenproof/core/pkg/receipt"
)

func newEmitter(t *testing.T) *ledger.Emitter {
	t.Helper()
	store, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "receipts.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return ledger.NewEmitter(store)
}

func TestDetectEmitsFraudReceipt(t *testing.T) {
	e := newEmitter(t)
	d := NewDetector(DefaultConfig(), e)
	ctx := context.Background()

	res, err := d.Detect(ctx, "claim-1", []Check{
		{CheckType: "compression_fraud", Passed: true, Score: 0.1, Confidence: 0.9},
		{CheckType: "double_counting", Passed: true, Score: 0.0, Confidence: 0.99},
	})
	require.NoError(t, err)
	assert.Equal(t, "claim-1", res.ClaimID)
	assert.Equal(t, LevelClean, res.Level)
	assert.Equal(t, RecommendApprove, res.Recommendation)

	receipts, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	r := receipts[0]
	assert.Equal(t, receipt.TypeFraud, r.Type())
	assert.Equal(t, "claim-1", r["claim_id"])
	assert.Equal(t, "clean", r["fraud_level"])
	assert.Equal(t, "approve", r["recommendation"])
	assert.NotNil(t, r["checks"])
}

func TestDetectRejectsConfirmedFraud(t *testing.T) {
	e := newEmitter(t)
	d := NewDetector(DefaultConfig(), e)

	res, err := d.Detect(context.Background(), "claim-2", []Check{
		{CheckType: "compression_fraud", Score: 0.95, Confidence: 0.95},
		{CheckType: "double_counting", Score: 0.9, Confidence: 0.99},
	})
	require.NoError(t, err)
	assert.Equal(t, LevelConfirmedFraud, res.Level)
	assert.Equal(t, RecommendReject, res.Recommendation)
}

func TestDetectFlagsSLOOverrun(t *testing.T) {
	e := newEmitter(t)

	// Clock jumps 600ms between the start and end reads.
	times := []time.Time{
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 600_000_000, time.UTC),
	}
	i := 0
	d := NewDetector(DefaultConfig(), e, WithDetectorClock(func() time.Time {
		t := times[i%len(times)]
		i++
		return t
	}))

	_, err := d.Detect(context.Background(), "claim-slow", []Check{
		{CheckType: "leakage", Score: 0.1, Confidence: 0.5},
	})
	require.NoError(t, err)

	receipts, err := e.List(context.Background())
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, receipt.TypeFraud, receipts[0].Type())
	assert.Equal(t, receipt.TypeAnomaly, receipts[1].Type())
	assert.Equal(t, "detection_timeout", receipts[1]["anomaly_type"])
	assert.Equal(t, "flag", receipts[1]["action"])
}

func TestDetectObservesSLOTracker(t *testing.T) {
	e := newEmitter(t)
	tracker := observability.NewSLOTracker()
	d := NewDetector(DefaultConfig(), e, WithDetectorSLO(tracker))

	_, err := d.Detect(context.Background(), "claim-slo", []Check{
		{CheckType: "leakage", Score: 0.1, Confidence: 0.5},
	})
	require.NoError(t, err)

	status, err := tracker.Status("detect")
	require.NoError(t, err)
	assert.Equal(t, 1, status.ObservationCount)
	assert.Equal(t, 1.0, status.CurrentSuccess)
}

func TestDetectNoSLOFlagWhenFast(t *testing.T) {
	e := newEmitter(t)
	d := NewDetector(DefaultConfig(), e)

	_, err := d.Detect(context.Background(), "claim-fast", []Check{
		{CheckType: "leakage", Score: 0.1, Confidence: 0.5},
	})
	require.NoError(t, err)

	receipts, err := e.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, receipts, 1)
}
