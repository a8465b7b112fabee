// Package executor drives execution attempts against the ledger: one
// due-orders read per cycle, a retried submission, duplicate-execution
// guarding and metrics accounting.
package executor

import (
	"context"
	"fmt"
	"time"

	"drip/internal/ledger"
	"drip/internal/logger"
	"drip/internal/order"
)

// Ledger is the slice of the ledger ports the driver consumes.
type Ledger interface {
	DueOrders(ctx context.Context) (ledger.DueBatch, error)
	ExecuteDue(ctx context.Context, batch ledger.DueBatch) error
	Order(ctx context.Context, id uint64) (order.Order, error)
	ExecuteOrder(ctx context.Context, id uint64) error
}

// Result is the outcome of one driver invocation. Executed=false with a nil
// Err is the normal "nothing due" case.
type Result struct {
	Executed   bool
	OrderCount int
	Retries    int
	Err        error
}

// Params aggregates the driver's dependencies.
type Params struct {
	Ledger  Ledger
	Retry   RetryPolicy
	Metrics *Metrics
	// PerOrder switches to individual execution submissions for ledgers
	// without a batched execute entrypoint.
	PerOrder bool
}

type Driver struct {
	ledger   Ledger
	retry    RetryPolicy
	metrics  *Metrics
	pending  *PendingSet
	perOrder bool
	nowFn    func() time.Time
}

func New(p Params) (*Driver, error) {
	if p.Ledger == nil {
		return nil, fmt.Errorf("executor: nil ledger")
	}
	if p.Metrics == nil {
		p.Metrics = NewMetrics()
	}
	if p.Retry.MaxRetries <= 0 {
		p.Retry = NewRetryPolicy(DefaultMaxRetries, DefaultBaseDelay)
	}
	return &Driver{
		ledger:   p.Ledger,
		retry:    p.Retry,
		metrics:  p.Metrics,
		pending:  NewPendingSet(),
		perOrder: p.PerOrder,
		nowFn:    time.Now,
	}, nil
}

// Metrics exposes the recorder for snapshot readers.
func (d *Driver) Metrics() *Metrics { return d.metrics }

// Pending exposes the in-flight guard set.
func (d *Driver) Pending() *PendingSet { return d.pending }

// RunOnce performs one scheduling pass: ask the ledger what is due, then
// submit. The ledger's due answer is authoritative; the local readiness
// predicate is only used as a pre-flight filter in per-order mode.
func (d *Driver) RunOnce(ctx context.Context) Result {
	batch, err := d.ledger.DueOrders(ctx)
	if err != nil {
		d.metrics.RecordFailure(d.nowFn())
		return Result{Err: fmt.Errorf("due-orders read: %w", err)}
	}
	if batch.Empty() {
		logger.Debugf("executor: no orders due")
		return Result{}
	}

	logger.Infof("executor: %d order(s) due: %v", len(batch.IDs), batch.IDs)
	if d.perOrder {
		return d.runPerOrder(ctx, batch.IDs)
	}
	return d.runBatch(ctx, batch)
}

func (d *Driver) runBatch(ctx context.Context, batch ledger.DueBatch) Result {
	retries, err := d.retry.Do(ctx, "executor: executeDue", func(ctx context.Context) error {
		return d.ledger.ExecuteDue(ctx, batch)
	})
	if err != nil {
		d.metrics.RecordFailure(d.nowFn())
		return Result{Retries: retries, Err: fmt.Errorf("execute due orders: %w", err)}
	}
	d.metrics.RecordSuccess(len(batch.IDs), d.nowFn())
	logger.Infof("executor: executed %d order(s) (retries=%d)", len(batch.IDs), retries)
	return Result{Executed: true, OrderCount: len(batch.IDs), Retries: retries}
}

// runPerOrder validates and submits each order individually. A doomed order
// is reported and skipped; siblings still run.
func (d *Driver) runPerOrder(ctx context.Context, ids []uint64) Result {
	var (
		executed     int
		totalRetries int
		lastErr      error
	)
	for _, id := range ids {
		o, err := d.ledger.Order(ctx, id)
		if err != nil {
			logger.Warnf("executor: order %d read failed: %v", id, err)
			lastErr = err
			continue
		}
		if err := preflight(o, d.nowFn()); err != nil {
			logger.Warnf("executor: order %d skipped: %v", id, err)
			continue
		}
		if !d.pending.TryAcquire(id) {
			logger.Debugf("executor: order %d already in flight, skipping", id)
			continue
		}
		retries, err := d.submitOne(ctx, id)
		totalRetries += retries
		if err != nil {
			logger.Errorf("executor: order %d execution failed: %v", id, err)
			lastErr = err
			continue
		}
		executed++
	}

	now := d.nowFn()
	res := Result{Executed: executed > 0, OrderCount: executed, Retries: totalRetries}
	if executed > 0 {
		d.metrics.RecordSuccess(executed, now)
	}
	if executed == 0 && lastErr != nil {
		d.metrics.RecordFailure(now)
		res.Err = lastErr
	}
	return res
}

// submitOne holds the pending entry only for the duration of the submission;
// the deferred release covers every exit path.
func (d *Driver) submitOne(ctx context.Context, id uint64) (int, error) {
	defer d.pending.Release(id)
	return d.retry.Do(ctx, fmt.Sprintf("executor: executeOrder(%d)", id), func(ctx context.Context) error {
		return d.ledger.ExecuteOrder(ctx, id)
	})
}

// preflight rejects submissions the ledger would revert anyway.
func preflight(o order.Order, now time.Time) error {
	switch {
	case !o.Exists:
		return ledger.E(ledger.KindOrderState, "preflight", fmt.Errorf("order %d does not exist", o.ID))
	case !o.Active:
		return ledger.E(ledger.KindOrderState, "preflight", fmt.Errorf("order %d is not active", o.ID))
	case o.Finished():
		return ledger.E(ledger.KindOrderState, "preflight", fmt.Errorf("order %d already completed %d/%d intervals", o.ID, o.IntervalsCompleted, o.TotalIntervals))
	case now.Before(o.NextExecution):
		return ledger.E(ledger.KindOrderState, "preflight", fmt.Errorf("order %d not due until %s", o.ID, o.NextExecution.Format(time.RFC3339)))
	}
	return nil
}
