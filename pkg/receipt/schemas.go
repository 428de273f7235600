package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Receipt types known to the ledger. Unknown types are rejected at the
// boundary.
const (
	TypeIngest            = "ingest"
	TypeEmissionsVerify   = "emissions_verify"
	TypeCarbonCredit      = "carbon_credit"
	TypeRegistry          = "registry"
	TypeDoubleCount       = "double_count"
	TypeClimateValidation = "climate_validation"
	TypeFraud             = "fraud"
	TypeAnomaly           = "anomaly"
	TypeAnchor            = "anchor"
	TypeChainIntegrity    = "chain_integrity"
	TypeProofGenerated    = "proof_generated"
)

const dualHashPattern = "^SHA256:[0-9a-f]{64}:BLAKE2B:[0-9a-f]{64}$"

// coreRequired is shared by every receipt type.
var coreRequired = []string{FieldType, FieldTenant, FieldTimestamp, FieldPayloadHash}

// typeRequired lists the type-specific required fields.
var typeRequired = map[string][]string{
	TypeIngest: {"source", "record_count"},
	TypeEmissionsVerify: {
		"report_hash", "external_source_hashes", "match_score",
		"verified_value", "claimed_value", "discrepancy_pct", "status",
	},
	TypeCarbonCredit: {
		"credit_id", "registry", "project_type", "claimed_tonnes",
		"baseline_tonnes", "additionality_score", "vintage_year",
		"registry_status", "verification_status",
	},
	TypeRegistry:          {"claim_id", "source_registry", "identity_hash", "duplicates_found"},
	TypeDoubleCount:       {"identity_hash", "source", "owner", "occurrences", "is_unique"},
	TypeClimateValidation: {"compression_ratio", "entropy_signature", "physical_consistency", "validation_status"},
	TypeFraud:             {"claim_id", "fraud_score", "fraud_level", "recommendation", "checks"},
	TypeAnomaly:           {"anomaly_type", "classification", "action", "details"},
	TypeAnchor:            {"merkle_root", "leaf_count", "anchor_type"},
	TypeChainIntegrity:    {"valid", "chain_length"},
	TypeProofGenerated:    {"target_hash", "merkle_root"},
}

// typeProperties adds per-field constraints beyond the core fields.
var typeProperties = map[string]map[string]any{
	TypeAnomaly: {
		"classification": map[string]any{"enum": []string{"warning", "violation", "critical"}},
		"action":         map[string]any{"enum": []string{"flag", "halt", "review"}},
		"anomaly_type":   map[string]any{"type": "string", "minLength": 1},
	},
	TypeAnchor: {
		"merkle_root": map[string]any{"type": "string", "pattern": dualHashPattern},
		"leaf_count":  map[string]any{"type": "integer", "minimum": 0},
		"anchor_type": map[string]any{"type": "string", "minLength": 1},
	},
	TypeDoubleCount: {
		"identity_hash": map[string]any{"type": "string", "pattern": dualHashPattern},
		"is_unique":     map[string]any{"type": "boolean"},
	},
	TypeFraud: {
		"fraud_score":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"fraud_level":    map[string]any{"enum": []string{"clean", "suspect", "likely_fraud", "confirmed_fraud"}},
		"recommendation": map[string]any{"enum": []string{"approve", "manual_review", "reject"}},
	},
	TypeChainIntegrity: {
		"valid":        map[string]any{"type": "boolean"},
		"chain_length": map[string]any{"type": "integer", "minimum": 0},
	},
}

var schemas = map[string]*jsonschema.Schema{}

func init() {
	for rt := range typeRequired {
		schemas[rt] = mustCompileSchema(rt)
	}
}

func mustCompileSchema(receiptType string) *jsonschema.Schema {
	props := map[string]any{
		FieldType:        map[string]any{"const": receiptType},
		FieldTenant:      map[string]any{"type": "string", "minLength": 1},
		FieldTimestamp:   map[string]any{"type": "string", "minLength": 1},
		FieldPayloadHash: map[string]any{"type": "string", "pattern": dualHashPattern},
	}
	for name, constraint := range typeProperties[receiptType] {
		props[name] = constraint
	}

	required := append(append([]string{}, coreRequired...), typeRequired[receiptType]...)
	sort.Strings(required)

	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"required":   required,
		"properties": props,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("receipt: schema %s: %v", receiptType, err))
	}

	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("greenproof://receipts/%s.json", receiptType)
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("receipt: schema %s: %v", receiptType, err))
	}
	return compiler.MustCompile(url)
}

// KnownType reports whether rt names a registered receipt type.
func KnownType(rt string) bool {
	_, ok := typeRequired[rt]
	return ok
}

// RequiredFields returns the full required-field list for a receipt type,
// or nil for unknown types.
func RequiredFields(rt string) []string {
	extra, ok := typeRequired[rt]
	if !ok {
		return nil
	}
	return append(append([]string{}, coreRequired...), extra...)
}

// Validate checks a receipt against the schema for its type. It reports
// missing fields explicitly and defers the rest to the compiled schema.
func Validate(r Receipt) error {
	rt := r.Type()
	if rt == "" {
		return &ValidationError{Missing: []string{FieldType}}
	}
	schema, ok := schemas[rt]
	if !ok {
		return &ValidationError{ReceiptType: rt, Reason: "unknown receipt_type"}
	}

	var missing []string
	for _, field := range RequiredFields(rt) {
		if _, present := r[field]; !present {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{ReceiptType: rt, Missing: missing}
	}

	// jsonschema validates decoded JSON values; round-trip so typed Go
	// values (ints, structs in details) are seen in their wire form.
	raw, err := json.Marshal(r)
	if err != nil {
		return &ValidationError{ReceiptType: rt, Reason: err.Error()}
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return &ValidationError{ReceiptType: rt, Reason: err.Error()}
	}
	if err := schema.Validate(generic); err != nil {
		return &ValidationError{ReceiptType: rt, Reason: err.Error()}
	}
	return nil
}
