// Package memory is a mutex-guarded in-process ledger used by tests and the
// local dry-run mode. It honors the same semantics the on-chain contract
// does: authoritative readiness, idempotent execution, per-order isolation.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"drip/internal/ledger"
	"drip/internal/order"
)

type allowanceKey struct {
	Owner common.Address
	Asset common.Address
}

// Ledger implements ledger.Ledger in memory.
type Ledger struct {
	mu         sync.Mutex
	nowFn      func() time.Time
	nextID     uint64
	orders     map[uint64]order.Order
	allowances map[allowanceKey]*big.Int
	owner      common.Address
}

var _ ledger.Ledger = (*Ledger)(nil)

// New builds an empty ledger. Orders created through it belong to owner.
func New(owner common.Address) *Ledger {
	return &Ledger{
		nowFn:      time.Now,
		nextID:     1,
		orders:     make(map[uint64]order.Order),
		allowances: make(map[allowanceKey]*big.Int),
		owner:      owner,
	}
}

// SetNow overrides the clock. Test hook.
func (l *Ledger) SetNow(fn func() time.Time) {
	l.mu.Lock()
	l.nowFn = fn
	l.mu.Unlock()
}

func (l *Ledger) DueOrders(_ context.Context) (ledger.DueBatch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	var ids []uint64
	for id, o := range l.orders {
		if order.IsReady(o, now) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ledger.DueBatch{}, nil
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		return ledger.DueBatch{}, ledger.E(ledger.KindTransientRead, "dueOrders", err)
	}
	return ledger.DueBatch{IDs: ids, Payload: payload}, nil
}

func (l *Ledger) Order(_ context.Context, id uint64) (order.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return order.Order{ID: id}, nil // exists=false, id never used or cleared
	}
	return o, nil
}

func (l *Ledger) Allowance(_ context.Context, owner, asset common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a, ok := l.allowances[allowanceKey{owner, asset}]; ok {
		return new(big.Int).Set(a), nil
	}
	return big.NewInt(0), nil
}

func (l *Ledger) CreateOrder(_ context.Context, spec ledger.CreateSpec) (uint64, error) {
	if spec.AmountPerInterval == nil || spec.AmountPerInterval.Sign() <= 0 {
		return 0, ledger.E(ledger.KindInvalidInput, "createOrder", fmt.Errorf("amount per interval must be positive"))
	}
	if spec.TotalIntervals == 0 {
		return 0, ledger.E(ledger.KindInvalidInput, "createOrder", fmt.Errorf("total intervals must be >= 1"))
	}
	if spec.Interval <= 0 {
		return 0, ledger.E(ledger.KindInvalidInput, "createOrder", fmt.Errorf("interval must be positive"))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.orders[id] = order.Order{
		ID:                id,
		Owner:             l.owner,
		SourceAsset:       spec.SourceAsset,
		TargetAsset:       spec.TargetAsset,
		AmountPerInterval: new(big.Int).Set(spec.AmountPerInterval),
		Interval:          spec.Interval,
		TotalIntervals:    spec.TotalIntervals,
		NextExecution:     spec.FirstExecution,
		Start:             l.nowFn(),
		Active:            true,
		Exists:            true,
	}
	return id, nil
}

func (l *Ledger) ExecuteDue(ctx context.Context, batch ledger.DueBatch) error {
	var ids []uint64
	if err := json.Unmarshal(batch.Payload, &ids); err != nil {
		return ledger.E(ledger.KindInvalidInput, "executeDue", err)
	}
	// One doomed order must not poison the batch; mirror the contract's
	// per-order isolation by skipping state failures.
	var executed int
	for _, id := range ids {
		if err := l.ExecuteOrder(ctx, id); err != nil {
			if ledger.KindOf(err) == ledger.KindOrderState {
				continue
			}
			return err
		}
		executed++
	}
	if executed == 0 && len(ids) > 0 {
		return ledger.E(ledger.KindOrderState, "executeDue", fmt.Errorf("no order in batch was executable"))
	}
	return nil
}

func (l *Ledger) ExecuteOrder(_ context.Context, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return ledger.E(ledger.KindOrderState, "executeOrder", fmt.Errorf("order %d does not exist", id))
	}
	if !o.Active {
		return ledger.E(ledger.KindOrderState, "executeOrder", fmt.Errorf("order %d inactive", id))
	}
	if o.Finished() {
		return ledger.E(ledger.KindOrderState, "executeOrder", fmt.Errorf("order %d already completed", id))
	}
	now := l.nowFn()
	if now.Before(o.NextExecution) {
		return ledger.E(ledger.KindOrderState, "executeOrder", fmt.Errorf("order %d not due until %s", id, o.NextExecution))
	}

	o.IntervalsCompleted++
	if o.Finished() {
		o.Active = false // nextExecution freezes here
	} else {
		o.NextExecution = o.NextExecution.Add(o.Interval)
	}
	l.orders[id] = o
	return nil
}

func (l *Ledger) CancelOrder(_ context.Context, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return ledger.E(ledger.KindOrderState, "cancelOrder", fmt.Errorf("order %d does not exist", id))
	}
	if !o.Active {
		return ledger.E(ledger.KindOrderState, "cancelOrder", fmt.Errorf("order %d already inactive", id))
	}
	o.Active = false
	l.orders[id] = o
	return nil
}

func (l *Ledger) Approve(_ context.Context, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ledger.E(ledger.KindInvalidInput, "approve", fmt.Errorf("invalid approval amount"))
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.allowances[allowanceKey{l.owner, asset}] = new(big.Int).Set(amount)
	return nil
}
