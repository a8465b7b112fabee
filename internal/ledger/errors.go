package ledger

import (
	"errors"
	"fmt"
)

// Kind buckets ledger failures by how the engine must react to them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransientRead is a network/RPC hiccup on a read. Retryable.
	KindTransientRead
	// KindTransientWrite is a submission that may succeed on resubmission.
	// Retryable up to the backoff budget.
	KindTransientWrite
	// KindOrderState means the order is missing, finished, cancelled or not
	// yet due. Reported per order, never retried, never aborts siblings.
	KindOrderState
	// KindInvalidInput is a malformed argument. Fails fast.
	KindInvalidInput
	// KindPermanentRejection is a ledger rejection unrelated to timing.
	// Reported, not retried.
	KindPermanentRejection
)

func (k Kind) String() string {
	switch k {
	case KindTransientRead:
		return "transient-read"
	case KindTransientWrite:
		return "transient-write"
	case KindOrderState:
		return "order-state"
	case KindInvalidInput:
		return "invalid-input"
	case KindPermanentRejection:
		return "permanent-rejection"
	default:
		return "unknown"
	}
}

// Error wraps an underlying failure with its taxonomy kind and the ledger
// operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ledger %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("ledger %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified ledger error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the taxonomy kind, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// Retryable reports whether resubmitting may help. Unclassified errors are
// treated as transient: an unreachable node looks like a plain network error
// and deserves the backoff budget rather than an immediate give-up.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTransientRead, KindTransientWrite, KindUnknown:
		return true
	default:
		return false
	}
}
