package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/greenproof/core/pkg/observability"
	"github.com/greenproof/core/pkg/signal"
)

// runDetectCmd implements `greenproof detect`.
//
// Check results come from --checks (JSON array) or stdin. The fraud
// receipt lands on the ledger; the outcome is printed. Exit 1 when the
// recommendation is reject.
func runDetectCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("detect", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		policyPath string
		claimID    string
		checksJSON string
		sloOut     bool
	)
	cmd.StringVar(&ledgerPath, "ledger", "", "Ledger path (default from policy)")
	cmd.StringVar(&policyPath, "policy", "", "Policy YAML path")
	cmd.StringVar(&claimID, "claim-id", "", "Claim identifier (REQUIRED)")
	cmd.StringVar(&checksJSON, "checks", "", "Check results JSON array (default: read stdin)")
	cmd.BoolVar(&sloOut, "slo", false, "Print detection SLO status after the run")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if claimID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -claim-id is required")
		return 2
	}

	raw := []byte(checksJSON)
	if checksJSON == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: read stdin: %v\n", err)
			return 2
		}
		raw = data
	}

	var checks []signal.Check
	if err := json.Unmarshal(raw, &checks); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: bad checks JSON: %v\n", err)
		return 2
	}

	pol, ok := loadPolicy(policyPath, stderr)
	if !ok {
		return 2
	}
	emitter, store, err := openEmitter(ledgerPath, pol)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open ledger: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	tracker := observability.NewSLOTracker()
	detector := signal.NewDetector(pol.Signal, emitter, signal.WithDetectorSLO(tracker))
	res, err := detector.Detect(context.Background(), claimID, checks)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out, _ := json.MarshalIndent(map[string]any{
		"claim_id":       res.ClaimID,
		"fraud_score":    res.Score,
		"fraud_level":    res.Level,
		"recommendation": res.Recommendation,
	}, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))

	if sloOut {
		status, serr := tracker.Status("detect")
		if serr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", serr)
			return 2
		}
		out, _ := json.MarshalIndent(status, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
	}

	if res.Recommendation == signal.RecommendReject {
		return 1
	}
	return 0
}
