// Package receipt defines the immutable event record at the heart of the
// audit trail and validates records at the boundary before they may touch
// the ledger.
package receipt

import (
	"fmt"
	"strings"
	"time"

	"github.com/greenproof/core/pkg/hashing"
)

// Well-known field names shared by every receipt type.
const (
	FieldType        = "receipt_type"
	FieldTenant      = "tenant_id"
	FieldTimestamp   = "ts"
	FieldPayloadHash = "payload_hash"
	FieldReceiptID   = "receipt_id"
	FieldPayload     = "payload"
)

// DefaultTenant is applied when a caller omits tenant_id.
const DefaultTenant = "greenproof-climate"

// Receipt is one immutable, content-addressed pipeline event. Beyond the
// core fields every type carries its own required fields; see schemas.go.
type Receipt map[string]any

// Type returns the receipt_type field.
func (r Receipt) Type() string {
	s, _ := r[FieldType].(string)
	return s
}

// TenantID returns the tenant_id field.
func (r Receipt) TenantID() string {
	s, _ := r[FieldTenant].(string)
	return s
}

// ID returns the receipt_id field.
func (r Receipt) ID() string {
	s, _ := r[FieldReceiptID].(string)
	return s
}

// PayloadHash returns the payload_hash field as a ContentHash.
func (r Receipt) PayloadHash() hashing.ContentHash {
	s, _ := r[FieldPayloadHash].(string)
	return hashing.ContentHash(s)
}

// Timestamp parses the ts field. The zero time is returned when the field
// is absent or malformed.
func (r Receipt) Timestamp() time.Time {
	s, _ := r[FieldTimestamp].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// coreFields is the envelope shared by every receipt; everything outside
// it is the receipt's own content.
var coreFields = map[string]bool{
	FieldType:        true,
	FieldTenant:      true,
	FieldTimestamp:   true,
	FieldPayloadHash: true,
	FieldReceiptID:   true,
	FieldPayload:     true,
}

// Content returns the receipt's domain fields, stripped of the envelope.
// This is the content addressed by payload_hash when no explicit payload
// is given.
func (r Receipt) Content() map[string]any {
	out := make(map[string]any)
	for k, v := range r {
		if !coreFields[k] {
			out[k] = v
		}
	}
	return out
}

// Clone returns a shallow copy so callers can enrich without mutating the
// caller's map.
func (r Receipt) Clone() Receipt {
	out := make(Receipt, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ValidationError reports a receipt rejected at the boundary, before any
// ledger write.
type ValidationError struct {
	ReceiptType string
	Missing     []string
	Reason      string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid receipt (type=%q)", e.ReceiptType)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&sb, ": missing fields %s", strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&sb, ": %s", e.Reason)
	}
	return sb.String()
}
