// Package policy holds the tunable constants of the pipeline as one
// configuration document. Defaults are compiled in; a YAML file and then
// environment variables override them, in that order.
package policy

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/greenproof/core/pkg/receipt"
	"github.com/greenproof/core/pkg/signal"
)

// Duration decodes YAML durations given either as Go duration strings
// ("15m") or as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("policy: bad duration node: %w", err)
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("policy: bad duration %q", s)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Compression holds the physical-consistency thresholds for claim data.
// Ratios are on the canonical [0,1] scale: real sensor data compresses
// poorly, fabricated data compresses well.
type Compression struct {
	// ValidAbove accepts a claim's data as physically plausible.
	ValidAbove float64 `yaml:"valid_above"`
	// FraudBelow marks a claim's data as likely fabricated.
	FraudBelow float64 `yaml:"fraud_below"`
}

// Policy is the full tunable surface.
type Policy struct {
	Tenant         string        `yaml:"tenant"`
	LedgerPath     string        `yaml:"ledger_path"`
	AnchorInterval Duration      `yaml:"anchor_interval"`
	AnchorType     string        `yaml:"anchor_type"`
	Signal         signal.Config `yaml:"signal"`
	Compression    Compression   `yaml:"compression"`
}

// Default returns the compiled-in policy.
func Default() Policy {
	return Policy{
		Tenant:         receipt.DefaultTenant,
		LedgerPath:     "receipts.jsonl",
		AnchorInterval: 0, // unthrottled
		AnchorType:     "periodic",
		Signal:         signal.DefaultConfig(),
		Compression: Compression{
			ValidAbove: 0.85,
			FraudBelow: 0.70,
		},
	}
}

// Load reads a YAML policy file over the defaults, then applies
// environment overrides. An empty path skips the file. Keys absent from
// the file keep their compiled-in defaults; keys the file sets are taken
// as given, so an explicit zero threshold stays zero.
func Load(path string) (Policy, error) {
	p := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Policy{}, fmt.Errorf("load policy %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Policy{}, fmt.Errorf("parse policy %q: %w", path, err)
		}
	}

	p.applyEnv()

	if p.Compression.FraudBelow > p.Compression.ValidAbove {
		return Policy{}, fmt.Errorf("policy: fraud_below %.2f above valid_above %.2f",
			p.Compression.FraudBelow, p.Compression.ValidAbove)
	}
	return p, nil
}

func (p *Policy) applyEnv() {
	if v := os.Getenv("GREENPROOF_TENANT"); v != "" {
		p.Tenant = v
	}
	if v := os.Getenv("GREENPROOF_LEDGER_PATH"); v != "" {
		p.LedgerPath = v
	}
	if v := os.Getenv("GREENPROOF_ANCHOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			p.AnchorInterval = Duration(d)
		}
	}
	if v := os.Getenv("GREENPROOF_ANCHOR_TYPE"); v != "" {
		p.AnchorType = v
	}
}
