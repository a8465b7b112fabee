// Package ledger defines the ports the engine consumes from the durable
// on-chain store, plus the error taxonomy the retry policy keys off.
// Adapters live in the evm and memory subpackages.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"drip/internal/order"
)

// DueBatch is the result of a due-orders read. IDs are decoded for logging
// and per-order mode; Payload is the opaque token the batched execute call
// echoes back to the ledger untouched.
type DueBatch struct {
	IDs     []uint64
	Payload []byte
}

// Empty reports whether no orders are due. A frequent, normal outcome.
func (b DueBatch) Empty() bool {
	return len(b.IDs) == 0
}

// CreateSpec carries the order-creation write. AmountPerInterval must already
// be floor-divided by the splitter; the ledger stores it immutably.
type CreateSpec struct {
	SourceAsset       common.Address
	TargetAsset       common.Address
	AmountPerInterval *big.Int
	Interval          time.Duration
	TotalIntervals    uint64
	FirstExecution    time.Time
}

// Reader is the read side of the ledger.
type Reader interface {
	// DueOrders asks the ledger which orders are due right now. The
	// ledger's answer is authoritative; the engine never substitutes its
	// local readiness predicate for it.
	DueOrders(ctx context.Context) (DueBatch, error)
	Order(ctx context.Context, id uint64) (order.Order, error)
	// Allowance returns the spending permission the owner has granted the
	// ledger contract for the given asset.
	Allowance(ctx context.Context, owner, asset common.Address) (*big.Int, error)
}

// Writer is the write side of the ledger.
type Writer interface {
	CreateOrder(ctx context.Context, spec CreateSpec) (uint64, error)
	// ExecuteDue submits the batch from a prior DueOrders read as a single
	// unit of work. Per-order isolation inside the batch is the ledger's
	// responsibility.
	ExecuteDue(ctx context.Context, batch DueBatch) error
	ExecuteOrder(ctx context.Context, id uint64) error
	CancelOrder(ctx context.Context, id uint64) error
	Approve(ctx context.Context, asset common.Address, amount *big.Int) error
}

// Ledger combines both ports.
type Ledger interface {
	Reader
	Writer
}
