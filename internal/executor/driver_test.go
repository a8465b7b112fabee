package executor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"drip/internal/ledger"
	"drip/internal/order"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) DueOrders(ctx context.Context) (ledger.DueBatch, error) {
	args := m.Called(ctx)
	return args.Get(0).(ledger.DueBatch), args.Error(1)
}

func (m *MockLedger) ExecuteDue(ctx context.Context, batch ledger.DueBatch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func (m *MockLedger) Order(ctx context.Context, id uint64) (order.Order, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(order.Order), args.Error(1)
}

func (m *MockLedger) ExecuteOrder(ctx context.Context, id uint64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func instantRetry(maxRetries int) RetryPolicy {
	p := NewRetryPolicy(maxRetries, time.Millisecond)
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func newTestDriver(t *testing.T, ml *MockLedger, perOrder bool) *Driver {
	t.Helper()
	d, err := New(Params{
		Ledger:   ml,
		Retry:    instantRetry(3),
		Metrics:  NewMetrics(),
		PerOrder: perOrder,
	})
	require.NoError(t, err)
	return d
}

func dueBatch(ids ...uint64) ledger.DueBatch {
	return ledger.DueBatch{IDs: ids, Payload: []byte("opaque")}
}

func transientErr(msg string) error {
	return ledger.E(ledger.KindTransientWrite, "executeDue", errors.New(msg))
}

func TestRunOnce_NoOrdersDue(t *testing.T) {
	ml := new(MockLedger)
	ml.On("DueOrders", mock.Anything).Return(ledger.DueBatch{}, nil)

	d := newTestDriver(t, ml, false)
	res := d.RunOnce(context.Background())

	assert.False(t, res.Executed)
	assert.NoError(t, res.Err)
	assert.Zero(t, res.OrderCount)

	snap := d.Metrics().Snapshot()
	assert.Zero(t, snap.Executions)
	assert.Zero(t, snap.Failures)
	ml.AssertNotCalled(t, "ExecuteDue", mock.Anything, mock.Anything)
}

func TestRunOnce_BatchSuccess(t *testing.T) {
	ml := new(MockLedger)
	batch := dueBatch(1, 2, 3)
	ml.On("DueOrders", mock.Anything).Return(batch, nil)
	ml.On("ExecuteDue", mock.Anything, batch).Return(nil)

	d := newTestDriver(t, ml, false)
	res := d.RunOnce(context.Background())

	assert.True(t, res.Executed)
	assert.Equal(t, 3, res.OrderCount)
	assert.Zero(t, res.Retries)
	assert.NoError(t, res.Err)

	snap := d.Metrics().Snapshot()
	assert.Equal(t, uint64(1), snap.Executions)
	assert.Equal(t, uint64(3), snap.OrdersProcessed)
	assert.InDelta(t, 3.0, snap.AvgOrdersPerExecution, 0.001)
	assert.False(t, snap.LastSuccess.IsZero())
}

func TestRunOnce_TransientFailuresThenSuccess(t *testing.T) {
	ml := new(MockLedger)
	batch := dueBatch(7)
	ml.On("DueOrders", mock.Anything).Return(batch, nil)
	ml.On("ExecuteDue", mock.Anything, batch).Return(transientErr("rpc timeout")).Twice()
	ml.On("ExecuteDue", mock.Anything, batch).Return(nil).Once()

	d := newTestDriver(t, ml, false)
	res := d.RunOnce(context.Background())

	assert.True(t, res.Executed)
	assert.Equal(t, 2, res.Retries)
	assert.NoError(t, res.Err)

	snap := d.Metrics().Snapshot()
	assert.Equal(t, uint64(1), snap.Executions, "success recorded exactly once")
	assert.Zero(t, snap.Failures)
	ml.AssertNumberOfCalls(t, "ExecuteDue", 3)
}

func TestRunOnce_ExhaustedRetries(t *testing.T) {
	ml := new(MockLedger)
	batch := dueBatch(7)
	ml.On("DueOrders", mock.Anything).Return(batch, nil)
	ml.On("ExecuteDue", mock.Anything, batch).Return(transientErr("rpc down"))

	d := newTestDriver(t, ml, false)
	res := d.RunOnce(context.Background())

	assert.False(t, res.Executed)
	require.Error(t, res.Err)

	snap := d.Metrics().Snapshot()
	assert.Equal(t, uint64(1), snap.Failures, "failure counted once, not once per attempt")
	assert.Zero(t, snap.Executions)
	ml.AssertNumberOfCalls(t, "ExecuteDue", 3)
}

func TestRunOnce_PermanentRejectionNotRetried(t *testing.T) {
	ml := new(MockLedger)
	batch := dueBatch(7)
	ml.On("DueOrders", mock.Anything).Return(batch, nil)
	ml.On("ExecuteDue", mock.Anything, batch).
		Return(ledger.E(ledger.KindPermanentRejection, "executeDue", errors.New("reverted")))

	d := newTestDriver(t, ml, false)
	res := d.RunOnce(context.Background())

	require.Error(t, res.Err)
	ml.AssertNumberOfCalls(t, "ExecuteDue", 1)
	assert.Equal(t, uint64(1), d.Metrics().Snapshot().Failures)
}

func TestRunOnce_ReadFailureSurfaced(t *testing.T) {
	ml := new(MockLedger)
	ml.On("DueOrders", mock.Anything).
		Return(ledger.DueBatch{}, ledger.E(ledger.KindTransientRead, "dueOrders", errors.New("eof")))

	d := newTestDriver(t, ml, false)
	res := d.RunOnce(context.Background())

	require.Error(t, res.Err)
	assert.False(t, res.Executed)
	assert.Equal(t, uint64(1), d.Metrics().Snapshot().Failures)
}

func readyOrder(id uint64) order.Order {
	return order.Order{
		ID:                id,
		AmountPerInterval: big.NewInt(10),
		Interval:          time.Hour,
		TotalIntervals:    3,
		NextExecution:     time.Now().Add(-time.Minute),
		Active:            true,
		Exists:            true,
	}
}

func TestRunOnce_PerOrder_SkipsDoomedExecutesRest(t *testing.T) {
	ml := new(MockLedger)
	ml.On("DueOrders", mock.Anything).Return(dueBatch(1, 2, 3), nil)

	inactive := readyOrder(2)
	inactive.Active = false

	ml.On("Order", mock.Anything, uint64(1)).Return(readyOrder(1), nil)
	ml.On("Order", mock.Anything, uint64(2)).Return(inactive, nil)
	ml.On("Order", mock.Anything, uint64(3)).Return(readyOrder(3), nil)
	ml.On("ExecuteOrder", mock.Anything, uint64(1)).Return(nil)
	ml.On("ExecuteOrder", mock.Anything, uint64(3)).Return(nil)

	d := newTestDriver(t, ml, true)
	res := d.RunOnce(context.Background())

	assert.True(t, res.Executed)
	assert.Equal(t, 2, res.OrderCount)
	assert.NoError(t, res.Err, "a doomed sibling does not fail the cycle")
	ml.AssertNotCalled(t, "ExecuteOrder", mock.Anything, uint64(2))

	assert.Zero(t, d.Pending().Len(), "pending set drained after the cycle")
	assert.Equal(t, uint64(2), d.Metrics().Snapshot().OrdersProcessed)
}

func TestRunOnce_PerOrder_InFlightOrderSkipped(t *testing.T) {
	ml := new(MockLedger)
	ml.On("DueOrders", mock.Anything).Return(dueBatch(5), nil)
	ml.On("Order", mock.Anything, uint64(5)).Return(readyOrder(5), nil)

	d := newTestDriver(t, ml, true)
	require.True(t, d.Pending().TryAcquire(5)) // simulate an in-flight submission

	res := d.RunOnce(context.Background())

	assert.False(t, res.Executed)
	ml.AssertNotCalled(t, "ExecuteOrder", mock.Anything, mock.Anything)
	assert.True(t, d.Pending().Contains(5), "foreign acquisition is left alone")
}

func TestRunOnce_PerOrder_ReleasesPendingOnFailure(t *testing.T) {
	ml := new(MockLedger)
	ml.On("DueOrders", mock.Anything).Return(dueBatch(9), nil)
	ml.On("Order", mock.Anything, uint64(9)).Return(readyOrder(9), nil)
	ml.On("ExecuteOrder", mock.Anything, uint64(9)).Return(transientErr("nonce gap"))

	d := newTestDriver(t, ml, true)
	res := d.RunOnce(context.Background())

	require.Error(t, res.Err)
	assert.Zero(t, d.Pending().Len(), "entry released on the failure path")
	assert.Equal(t, uint64(1), d.Metrics().Snapshot().Failures)
}
