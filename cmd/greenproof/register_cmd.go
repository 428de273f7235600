package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/greenproof/core/pkg/anomaly"
	"github.com/greenproof/core/pkg/hashing"
	"github.com/greenproof/core/pkg/identity"
)

func claimFlags(cmd *flag.FlagSet) *identity.Claim {
	c := &identity.Claim{}
	cmd.StringVar(&c.ProjectID, "project", "", "Project identifier (REQUIRED)")
	cmd.IntVar(&c.VintageYear, "vintage", 0, "Vintage year (REQUIRED)")
	cmd.Float64Var(&c.Quantity, "quantity", 0, "Quantity in tCO2e (REQUIRED)")
	cmd.StringVar(&c.Country, "country", "", "Country code (REQUIRED)")
	return c
}

// runRegisterCmd implements `greenproof register`.
//
// Exit 1 means the registration was a double count: the claim was still
// recorded, the anomaly is on the ledger, and the pipeline must stop.
func runRegisterCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("register", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		policyPath string
		source     string
		owner      string
	)
	cmd.StringVar(&ledgerPath, "ledger", "", "Ledger path (default from policy)")
	cmd.StringVar(&policyPath, "policy", "", "Policy YAML path")
	cmd.StringVar(&source, "source", "", "Source registry (REQUIRED)")
	cmd.StringVar(&owner, "owner", "", "Owner identifier (REQUIRED)")
	claim := claimFlags(cmd)

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if claim.ProjectID == "" || claim.VintageYear == 0 || claim.Country == "" || source == "" || owner == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -project, -vintage, -country, -source, and -owner are required")
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

	ctx := context.Background()
	idStore, err := openIdentityStore(ctx, emitter)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: identity store: %v\n", err)
		return 2
	}
	defer func() { _ = idStore.Close() }()

	reg := identity.NewRegistry(idStore, emitter)
	res, err := reg.Register(ctx, *claim, source, owner)
	if err != nil {
		if anomaly.IsHalt(err) {
			_, _ = fmt.Fprintf(stderr, "HALT: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out, _ := json.MarshalIndent(map[string]any{
		"identity_hash": res.IdentityHash,
		"is_unique":     res.IsUnique,
		"occurrences":   res.Occurrences,
	}, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))
	return 0
}

// runCheckCmd implements `greenproof check`.
//
// Exit 1 means the identity is double counted.
func runCheckCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("check", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		policyPath string
		hash       string
	)
	cmd.StringVar(&ledgerPath, "ledger", "", "Ledger path (default from policy)")
	cmd.StringVar(&policyPath, "policy", "", "Policy YAML path")
	cmd.StringVar(&hash, "identity", "", "Identity hash (alternative to claim flags)")
	claim := claimFlags(cmd)

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var id hashing.ContentHash
	switch {
	case hash != "":
		id = hashing.ContentHash(hash)
		if !id.Valid() {
			_, _ = fmt.Fprintln(stderr, "Error: -identity is not a dual hash")
			return 2
		}
	case claim.ProjectID != "":
		id = identity.DeriveIdentity(*claim)
	default:
		_, _ = fmt.Fprintln(stderr, "Error: -identity or claim flags required")
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

	ctx := context.Background()
	idStore, err := openIdentityStore(ctx, emitter)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: identity store: %v\n", err)
		return 2
	}
	defer func() { _ = idStore.Close() }()

	reg := identity.NewRegistry(idStore, emitter)
	res, err := reg.Check(ctx, id)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))
	if res.IsDoubleCounted {
		return 1
	}
	return 0
}
