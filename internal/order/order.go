// Package order models the ledger-held recurring purchase order and the local
// readiness/classification helpers derived from it. The ledger record is the
// source of truth; everything here is a read-side mirror.
package order

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Order mirrors the ledger's order record.
type Order struct {
	ID                 uint64
	Owner              common.Address
	SourceAsset        common.Address
	TargetAsset        common.Address
	AmountPerInterval  *big.Int
	Interval           time.Duration
	IntervalsCompleted uint64
	TotalIntervals     uint64
	NextExecution      time.Time
	Start              time.Time
	Active             bool
	Exists             bool
}

// Finished reports whether every interval has been executed.
func (o Order) Finished() bool {
	return o.IntervalsCompleted >= o.TotalIntervals
}

// Remaining returns the number of intervals still to run.
func (o Order) Remaining() uint64 {
	if o.Finished() {
		return 0
	}
	return o.TotalIntervals - o.IntervalsCompleted
}

// IsReady reports whether the order is due for its next execution at now.
// Inactive orders are never ready, regardless of timestamps.
//
// This mirrors the ledger's own readiness check for display and pre-flight
// estimation only; the authoritative due decision is always the ledger's
// due-orders read, so local clock skew cannot cause a double submission.
func IsReady(o Order, now time.Time) bool {
	return o.Active && !now.Before(o.NextExecution)
}

// Status is the user-facing classification of an order record.
type Status int

const (
	StatusUnknown Status = iota
	StatusScheduled
	StatusReady
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusScheduled:
		return "scheduled"
	case StatusReady:
		return "ready"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify derives the display status from a record. An inactive order that
// ran all its intervals is completed; inactive with intervals left means the
// owner cancelled it.
func Classify(o Order, now time.Time) Status {
	switch {
	case !o.Exists:
		return StatusUnknown
	case !o.Active && o.Finished():
		return StatusCompleted
	case !o.Active:
		return StatusCancelled
	case IsReady(o, now):
		return StatusReady
	default:
		return StatusScheduled
	}
}

// FirstExecutionTime computes the first eligible execution: the creation time
// rounded up to the next hour boundary, minus the configured lead buffer.
// The lead buffer is deployment-specific (it encodes the target chain's block
// cadence) and is injected, not derived here.
func FirstExecutionTime(start time.Time, lead time.Duration) time.Time {
	aligned := start.Truncate(time.Hour)
	if aligned.Before(start) {
		aligned = aligned.Add(time.Hour)
	}
	if lead < 0 {
		lead = 0
	}
	return aligned.Add(-lead)
}
