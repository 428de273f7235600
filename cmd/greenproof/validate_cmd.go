package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/greenproof/core/pkg/receipt"
)

// runValidateCmd implements `greenproof validate`: re-validate every
// receipt already on the ledger against its schema.
//
// Exit 1 when any receipt fails validation.
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		policyPath string
		jsonOut    bool
	)
	cmd.StringVar(&ledgerPath, "ledger", "", "Ledger path (default from policy)")
	cmd.StringVar(&policyPath, "policy", "", "Policy YAML path")
	cmd.BoolVar(&jsonOut, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
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

	receipts, err := emitter.List(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	type failure struct {
		Position int    `json:"position"`
		Type     string `json:"receipt_type"`
		Reason   string `json:"reason"`
	}
	var failures []failure
	for i, r := range receipts {
		if r.Type() == "" {
			continue
		}
		if verr := receipt.Validate(r); verr != nil {
			failures = append(failures, failure{Position: i, Type: r.Type(), Reason: verr.Error()})
		}
	}

	if jsonOut {
		out, _ := json.MarshalIndent(map[string]any{
			"total":    len(receipts),
			"invalid":  len(failures),
			"failures": failures,
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
	} else {
		_, _ = fmt.Fprintf(stdout, "%d receipts, %d invalid\n", len(receipts), len(failures))
		for _, f := range failures {
			_, _ = fmt.Fprintf(stdout, "  [%d] %s: %s\n", f.Position, f.Type, f.Reason)
		}
	}

	if len(failures) > 0 {
		return 1
	}
	return 0
}
