// Command greenproof drives the carbon-claim trust pipeline: emitting
// receipts, registering claim identities, running fraud detection, and
// anchoring and proving the receipt chain.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/greenproof/core/pkg/identity"
	"github.com/greenproof/core/pkg/ledger"
	"github.com/greenproof/core/pkg/observability"
	"github.com/greenproof/core/pkg/policy"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the dispatcher entrypoint, separated from main for testing.
//
// Exit codes:
//
//	0 = ok
//	1 = halt, violation, or failed verification
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "emit":
		return runEmitCmd(args[2:], stdout, stderr)
	case "register":
		return runRegisterCmd(args[2:], stdout, stderr)
	case "check":
		return runCheckCmd(args[2:], stdout, stderr)
	case "detect":
		return runDetectCmd(args[2:], stdout, stderr)
	case "anchor":
		return runAnchorCmd(args[2:], stdout, stderr)
	case "prove":
		return runProveCmd(args[2:], stdout, stderr)
	case "verify-chain":
		return runVerifyChainCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: greenproof <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  emit          Emit a receipt onto the ledger")
	fmt.Fprintln(w, "  register      Register a claim identity across sources")
	fmt.Fprintln(w, "  check         Check a claim identity for double counting")
	fmt.Fprintln(w, "  detect        Run fraud detection over check results")
	fmt.Fprintln(w, "  anchor        Anchor the receipt chain")
	fmt.Fprintln(w, "  prove         Generate an inclusion proof for a receipt hash")
	fmt.Fprintln(w, "  verify-chain  Re-verify every receipt against the chain root")
	fmt.Fprintln(w, "  validate      Re-validate every receipt in the ledger file")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Common flags: -ledger <path> (.db selects SQLite), -policy <path>")
}

// loadPolicy resolves the effective policy for a command.
func loadPolicy(path string, stderr io.Writer) (policy.Policy, bool) {
	p, err := policy.Load(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return policy.Policy{}, false
	}
	return p, true
}

// openStore opens the ledger store named by path, falling back to the
// policy's ledger path. A .db suffix selects SQLite, anything else the
// append-only JSONL file.
func openStore(path string, p policy.Policy) (ledger.Store, error) {
	if path == "" {
		path = p.LedgerPath
	}
	if strings.HasSuffix(path, ".db") {
		return ledger.OpenSQLiteStore(path)
	}
	return ledger.NewFileStore(path)
}

// telemetryConfig reads the exporter settings from the environment.
// Telemetry stays off unless GREENPROOF_OTLP_ENDPOINT is set.
func telemetryConfig() *observability.Config {
	cfg := observability.DefaultConfig()
	if v := os.Getenv("GREENPROOF_OTLP_ENDPOINT"); v != "" {
		cfg.Enabled = true
		cfg.OTLPEndpoint = v
	}
	if os.Getenv("GREENPROOF_OTLP_INSECURE") == "1" {
		cfg.Insecure = true
	}
	return cfg
}

// pipeline owns the resources behind an emitter for one command run.
type pipeline struct {
	store     ledger.Store
	telemetry *observability.Provider
}

func (p *pipeline) Close() error {
	err := p.store.Close()
	_ = p.telemetry.Shutdown(context.Background())
	return err
}

func openEmitter(path string, p policy.Policy) (*ledger.Emitter, io.Closer, error) {
	store, err := openStore(path, p)
	if err != nil {
		return nil, nil, err
	}
	telemetry, err := observability.New(context.Background(), telemetryConfig())
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	emitter := ledger.NewEmitter(store,
		ledger.WithTenant(p.Tenant),
		ledger.WithMetrics(telemetry),
	)
	return emitter, &pipeline{store: store, telemetry: telemetry}, nil
}

// openIdentityStore picks the cross-process Redis store when
// GREENPROOF_REDIS_ADDR is set; otherwise it rebuilds an in-memory store
// by replaying the ledger's registration receipts.
func openIdentityStore(ctx context.Context, emitter *ledger.Emitter) (identity.Store, error) {
	if addr := os.Getenv("GREENPROOF_REDIS_ADDR"); addr != "" {
		return identity.NewRedisStore(redis.NewClient(&redis.Options{Addr: addr})), nil
	}
	mem := identity.NewMemoryStore()
	if _, err := identity.Replay(ctx, mem, emitter); err != nil {
		return nil, err
	}
	return mem, nil
}
