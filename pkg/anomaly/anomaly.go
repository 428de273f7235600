// Package anomaly implements the record-then-halt protocol. Nothing in the
// pipeline may refuse work silently: every halt, flag, or review decision
// is first written to the ledger as an anomaly receipt, and only then
// surfaced to the caller.
//
// The ordering is enforced by construction. A HaltError can only be built
// from a Handle, and a Handle only exists once the receipt has been
// durably appended.
package anomaly

import (
	"context"
	"errors"
	"fmt"

	"github.com/greenproof/core/pkg/ledger"
	"github.com/greenproof/core/pkg/receipt"
)

// Classification grades the severity of an anomaly.
type Classification string

const (
	ClassWarning   Classification = "warning"
	ClassViolation Classification = "violation"
	ClassCritical  Classification = "critical"
)

// Action says what the pipeline does about an anomaly.
type Action string

const (
	ActionFlag   Action = "flag"
	ActionHalt   Action = "halt"
	ActionReview Action = "review"
)

// Event describes one detected anomaly before it is recorded.
type Event struct {
	Type           string
	Classification Classification
	Action         Action
	Details        map[string]any
}

// Handle is proof that an anomaly receipt has been durably recorded. It
// cannot be constructed outside this package.
type Handle struct {
	r receipt.Receipt
}

// Receipt returns the recorded anomaly receipt.
func (h *Handle) Receipt() receipt.Receipt { return h.r }

// ReceiptID returns the recorded receipt's id.
func (h *Handle) ReceiptID() string { return h.r.ID() }

// HaltError stops the pipeline. It always carries the handle of the
// anomaly receipt that preceded it.
type HaltError struct {
	handle         *Handle
	classification Classification
	msg            string
}

// NewHaltError is the only way to build a HaltError: the handle argument
// forces callers to record the anomaly before they can halt.
func NewHaltError(h *Handle, classification Classification, msg string) *HaltError {
	if h == nil {
		panic("anomaly: HaltError without a recorded receipt")
	}
	return &HaltError{handle: h, classification: classification, msg: msg}
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("pipeline halted (%s): %s [receipt %s]", e.classification, e.msg, e.handle.ReceiptID())
}

// Handle returns the handle of the recorded anomaly receipt.
func (e *HaltError) Handle() *Handle { return e.handle }

// Classification returns the recorded severity.
func (e *HaltError) Classification() Classification { return e.classification }

// Recorder writes anomaly receipts through the ledger.
type Recorder struct {
	emitter *ledger.Emitter
}

// NewRecorder creates a Recorder on top of an Emitter.
func NewRecorder(e *ledger.Emitter) *Recorder {
	return &Recorder{emitter: e}
}

// Record appends one anomaly receipt and returns its handle. A ledger
// failure here is fatal for the caller: without a recorded receipt no
// halting decision is allowed to proceed.
func (r *Recorder) Record(ctx context.Context, ev Event) (*Handle, error) {
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	rec, err := r.emitter.Emit(ctx, receipt.Receipt{
		receipt.FieldType: receipt.TypeAnomaly,
		"anomaly_type":    ev.Type,
		"classification":  string(ev.Classification),
		"action":          string(ev.Action),
		"details":         details,
	})
	if err != nil {
		return nil, err
	}
	return &Handle{r: rec}, nil
}

// Halt records a halting anomaly and returns the HaltError for it. The
// event's action is forced to halt. If the receipt cannot be recorded the
// underlying error is returned instead and the caller must stop anyway.
func (r *Recorder) Halt(ctx context.Context, ev Event, msg string) error {
	ev.Action = ActionHalt
	h, err := r.Record(ctx, ev)
	if err != nil {
		return err
	}
	return NewHaltError(h, ev.Classification, msg)
}

// IsHalt reports whether err is (or wraps) a HaltError.
func IsHalt(err error) bool {
	var halt *HaltError
	return errors.As(err, &halt)
}
