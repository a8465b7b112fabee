package memory

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drip/internal/ledger"
	"drip/internal/order"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	weth  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newTestLedger(now time.Time) *Ledger {
	l := New(owner)
	l.SetNow(func() time.Time { return now })
	return l
}

func createOrder(t *testing.T, l *Ledger, first time.Time, intervals uint64) uint64 {
	t.Helper()
	id, err := l.CreateOrder(context.Background(), ledger.CreateSpec{
		SourceAsset:       usdc,
		TargetAsset:       weth,
		AmountPerInterval: big.NewInt(33),
		Interval:          24 * time.Hour,
		TotalIntervals:    intervals,
		FirstExecution:    first,
	})
	require.NoError(t, err)
	return id
}

func TestCreateAndReadOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(now)
	id := createOrder(t, l, now.Add(time.Hour), 3)

	o, err := l.Order(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, o.Exists)
	assert.True(t, o.Active)
	assert.Equal(t, owner, o.Owner)
	assert.Equal(t, uint64(3), o.TotalIntervals)
	assert.Equal(t, order.StatusScheduled, order.Classify(o, now))
}

func TestOrder_MissingID(t *testing.T) {
	l := newTestLedger(time.Now())
	o, err := l.Order(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, o.Exists)
}

func TestDueOrders_EmptyWhenNoneDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(now)
	createOrder(t, l, now.Add(time.Hour), 3)

	batch, err := l.DueOrders(context.Background())
	require.NoError(t, err)
	assert.True(t, batch.Empty())
}

func TestExecuteDue_AdvancesProgress(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(now)
	id := createOrder(t, l, now.Add(-time.Minute), 3)

	batch, err := l.DueOrders(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{id}, batch.IDs)

	require.NoError(t, l.ExecuteDue(context.Background(), batch))

	o, err := l.Order(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), o.IntervalsCompleted)
	assert.Equal(t, now.Add(-time.Minute).Add(24*time.Hour), o.NextExecution)

	// the interval is consumed: not due again until next window
	batch, err = l.DueOrders(context.Background())
	require.NoError(t, err)
	assert.True(t, batch.Empty())
}

func TestExecuteOrder_Idempotence(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(now)
	id := createOrder(t, l, now, 1)

	require.NoError(t, l.ExecuteOrder(context.Background(), id))

	// second attempt at an executed interval fails harmlessly
	err := l.ExecuteOrder(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, ledger.KindOrderState, ledger.KindOf(err))
}

func TestExecuteOrder_FinalIntervalDeactivates(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(now)
	id := createOrder(t, l, now, 1)

	require.NoError(t, l.ExecuteOrder(context.Background(), id))

	o, err := l.Order(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, o.Active)
	assert.True(t, o.Finished())
	assert.Equal(t, order.StatusCompleted, order.Classify(o, now))
	// nextExecution no longer advances once inactive
	assert.Equal(t, now, o.NextExecution)
}

func TestCancelOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(now)
	id := createOrder(t, l, now, 3)

	require.NoError(t, l.ExecuteOrder(context.Background(), id))
	require.NoError(t, l.CancelOrder(context.Background(), id))

	o, err := l.Order(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, order.Classify(o, now))

	err = l.ExecuteOrder(context.Background(), id)
	assert.Equal(t, ledger.KindOrderState, ledger.KindOf(err))
}

func TestAllowanceRoundTrip(t *testing.T) {
	l := newTestLedger(time.Now())
	ctx := context.Background()

	a, err := l.Allowance(ctx, owner, usdc)
	require.NoError(t, err)
	assert.Zero(t, a.Sign())

	require.NoError(t, l.Approve(ctx, usdc, big.NewInt(99)))

	a, err = l.Allowance(ctx, owner, usdc)
	require.NoError(t, err)
	assert.Equal(t, int64(99), a.Int64())
}

func TestCreateOrder_InvalidInput(t *testing.T) {
	l := newTestLedger(time.Now())
	_, err := l.CreateOrder(context.Background(), ledger.CreateSpec{
		SourceAsset:       usdc,
		TargetAsset:       weth,
		AmountPerInterval: big.NewInt(0),
		Interval:          time.Hour,
		TotalIntervals:    3,
	})
	assert.Equal(t, ledger.KindInvalidInput, ledger.KindOf(err))
}
