package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/greenproof/core/pkg/hashing"
	"github.com/greenproof/core/pkg/policy"
	"github.com/greenproof/core/pkg/proofchain"
)

// loadChain rebuilds the proof chain from the ledger's payload hashes.
func loadChain(ctx context.Context, ledgerPath, policyPath string, stderr io.Writer) (*proofchain.Chain, policy.Policy, func(), int) {
	pol, ok := loadPolicy(policyPath, stderr)
	if !ok {
		return nil, policy.Policy{}, nil, 2
	}
	emitter, store, err := openEmitter(ledgerPath, pol)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open ledger: %v\n", err)
		return nil, policy.Policy{}, nil, 2
	}

	var opts []proofchain.ChainOption
	if pol.AnchorInterval.Std() > 0 {
		opts = append(opts, proofchain.WithMinAnchorInterval(pol.AnchorInterval.Std()))
	}
	chain := proofchain.NewChain(emitter, opts...)
	if _, err := chain.LoadFromLedger(ctx); err != nil {
		_ = store.Close()
		_, _ = fmt.Fprintf(stderr, "Error: load chain: %v\n", err)
		return nil, policy.Policy{}, nil, 2
	}
	return chain, pol, func() { _ = store.Close() }, 0
}

// runAnchorCmd implements `greenproof anchor`.
func runAnchorCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("anchor", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		policyPath string
		anchorType string
	)
	cmd.StringVar(&ledgerPath, "ledger", "", "Ledger path (default from policy)")
	cmd.StringVar(&policyPath, "policy", "", "Policy YAML path")
	cmd.StringVar(&anchorType, "type", "", "Anchor type (default from policy)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	chain, pol, closeFn, code := loadChain(ctx, ledgerPath, policyPath, stderr)
	if code != 0 {
		return code
	}
	defer closeFn()

	if anchorType == "" {
		anchorType = pol.AnchorType
	}

	anchor, err := chain.Anchor(ctx, anchorType)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out, _ := json.MarshalIndent(anchor, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))
	return 0
}

// runProveCmd implements `greenproof prove`.
//
// Exit 1 when the hash is not in the chain.
func runProveCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("prove", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		policyPath string
		hash       string
	)
	cmd.StringVar(&ledgerPath, "ledger", "", "Ledger path (default from policy)")
	cmd.StringVar(&policyPath, "policy", "", "Policy YAML path")
	cmd.StringVar(&hash, "hash", "", "Payload hash to prove (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	target := hashing.ContentHash(hash)
	if !target.Valid() {
		_, _ = fmt.Fprintln(stderr, "Error: -hash must be a dual hash")
		return 2
	}

	ctx := context.Background()
	chain, _, closeFn, code := loadChain(ctx, ledgerPath, policyPath, stderr)
	if code != 0 {
		return code
	}
	defer closeFn()

	proof, err := chain.Prove(ctx, target)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if !proof.Valid {
		_, _ = fmt.Fprintln(stderr, "Not found: hash is not in the chain")
		return 1
	}

	out, _ := json.MarshalIndent(proof, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))
	return 0
}

// runVerifyChainCmd implements `greenproof verify-chain`.
//
// Exit 1 when any position fails verification.
func runVerifyChainCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-chain", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		policyPath string
	)
	cmd.StringVar(&ledgerPath, "ledger", "", "Ledger path (default from policy)")
	cmd.StringVar(&policyPath, "policy", "", "Policy YAML path")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	chain, _, closeFn, code := loadChain(ctx, ledgerPath, policyPath, stderr)
	if code != 0 {
		return code
	}
	defer closeFn()

	report, err := chain.VerifyChainIntegrity(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))
	if !report.Valid {
		return 1
	}
	return 0
}
