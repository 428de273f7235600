package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/greenproof/core/pkg/receipt"
)

// runEmitCmd implements `greenproof emit`.
//
// The receipt body comes from --json or, when absent, stdin. The enriched
// receipt is printed on success.
func runEmitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("emit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		policyPath string
		body       string
	)
	cmd.StringVar(&ledgerPath, "ledger", "", "Ledger path (default from policy)")
	cmd.StringVar(&policyPath, "policy", "", "Policy YAML path")
	cmd.StringVar(&body, "json", "", "Receipt JSON (default: read stdin)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	pol, ok := loadPolicy(policyPath, stderr)
	if !ok {
		return 2
	}

	raw := []byte(body)
	if body == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: read stdin: %v\n", err)
			return 2
		}
		raw = data
	}

	var r receipt.Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: bad receipt JSON: %v\n", err)
		return 2
	}

	emitter, store, err := openEmitter(ledgerPath, pol)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open ledger: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	emitted, err := emitter.Emit(context.Background(), r)
	if err != nil {
		var verr *receipt.ValidationError
		if errors.As(err, &verr) {
			_, _ = fmt.Fprintf(stderr, "Rejected: %v\n", verr)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out, _ := json.MarshalIndent(emitted, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))
	return 0
}
