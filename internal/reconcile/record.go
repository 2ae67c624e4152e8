package reconcile

import (
	"github.com/kalambet/parity/internal/catalog"
	"github.com/kalambet/parity/internal/state"
)

// Record is a snapshot of one item's reconciliation status. Callers get
// copies; mutating one has no effect on the engine.
type Record struct {
	Item catalog.Item

	// LiveValue is the last value read from the device, nil when unknown.
	LiveValue *string
	// CustomValue is the saved personal baseline, nil until a live read has
	// succeeded at least once.
	CustomValue *string
	State       state.State

	Applying  bool
	LastError *string
	Supported bool
}

// Target returns the value applying st would write. CUSTOM falls back to the
// platform default while no custom value exists.
func (r Record) Target(st state.State) string {
	switch st {
	case state.PlatformDefault:
		return r.Item.PlatformDefault
	case state.ForeignDefault:
		return r.Item.ForeignDefault
	default:
		if r.CustomValue != nil {
			return *r.CustomValue
		}
		return r.Item.PlatformDefault
	}
}

// Drifted reports whether the live value differs from the baseline the
// record's state names. Unknown live values never count as drift.
func (r Record) Drifted() bool {
	return r.LiveValue != nil && *r.LiveValue != r.Target(r.State)
}

// UnsupportedReason explains why an unsupported item cannot be changed.
const UnsupportedReason = "requires a privileged channel (root, broker, or bridge shell)"

// Group is a category with its records in catalog order.
type Group struct {
	Category catalog.Category
	Records  []Record
}

func strPtr(s string) *string { return &s }
