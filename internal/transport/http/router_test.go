package statushttp

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drip/internal/executor"
	"drip/internal/ledger"
	"drip/internal/ledger/memory"
	"drip/internal/store/runlog"
)

var testOwner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newTestServer(t *testing.T, led ledger.Ledger, metrics *executor.Metrics, runs RunLogReader) *httptest.Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		Reader:          led,
		Metrics:         metrics,
		Runs:            runs,
		DisplayDecimals: 6,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, memory.New(testOwner), executor.NewMetrics(), nil)

	var body map[string]string
	code := getJSON(t, ts.URL+"/api/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := executor.NewMetrics()
	metrics.RecordSuccess(4, time.Now())
	metrics.RecordSuccess(2, time.Now())
	ts := newTestServer(t, memory.New(testOwner), metrics, nil)

	var body map[string]any
	code := getJSON(t, ts.URL+"/api/metrics", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["executions"])
	assert.EqualValues(t, 6, body["orders_processed"])
	assert.EqualValues(t, 3, body["avg_orders_per_execution"])
}

func TestOrderEndpoint(t *testing.T) {
	led := memory.New(testOwner)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	led.SetNow(func() time.Time { return now })

	id, err := led.CreateOrder(context.Background(), ledger.CreateSpec{
		SourceAsset:       common.HexToAddress("0x01"),
		TargetAsset:       common.HexToAddress("0x02"),
		AmountPerInterval: big.NewInt(2_500_000),
		Interval:          time.Hour,
		TotalIntervals:    4,
		FirstExecution:    now.Add(-time.Minute),
	})
	require.NoError(t, err)

	ts := newTestServer(t, led, executor.NewMetrics(), nil)

	var view orderView
	code := getJSON(t, ts.URL+"/api/orders/"+strconv.FormatUint(id, 10), &view)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, view.ID)
	assert.Equal(t, "2500000", view.AmountPerInterval)
	assert.Equal(t, "2.5", view.AmountDisplay)
	assert.Equal(t, uint64(4), view.TotalIntervals)
	assert.True(t, view.Active)
}

func TestOrderEndpoint_NotFound(t *testing.T) {
	ts := newTestServer(t, memory.New(testOwner), executor.NewMetrics(), nil)

	var body map[string]any
	code := getJSON(t, ts.URL+"/api/orders/999", &body)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestOrderEndpoint_BadID(t *testing.T) {
	ts := newTestServer(t, memory.New(testOwner), executor.NewMetrics(), nil)

	var body map[string]any
	code := getJSON(t, ts.URL+"/api/orders/not-a-number", &body)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDueOrdersEndpoint(t *testing.T) {
	led := memory.New(testOwner)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	led.SetNow(func() time.Time { return now })

	_, err := led.CreateOrder(context.Background(), ledger.CreateSpec{
		SourceAsset:       common.HexToAddress("0x01"),
		TargetAsset:       common.HexToAddress("0x02"),
		AmountPerInterval: big.NewInt(1),
		Interval:          time.Hour,
		TotalIntervals:    2,
		FirstExecution:    now.Add(-time.Minute),
	})
	require.NoError(t, err)

	ts := newTestServer(t, led, executor.NewMetrics(), nil)

	var body struct {
		IDs   []uint64 `json:"ids"`
		Count int      `json:"count"`
	}
	code := getJSON(t, ts.URL+"/api/orders/due", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.IDs, 1)
}

func TestRunsEndpoint_Disabled(t *testing.T) {
	ts := newTestServer(t, memory.New(testOwner), executor.NewMetrics(), nil)

	var body map[string]any
	code := getJSON(t, ts.URL+"/api/runs", &body)
	assert.Equal(t, http.StatusNotFound, code)
}

type fakeRunLog struct {
	recs []runlog.Record
}

func (f *fakeRunLog) Recent(n int) ([]runlog.Record, error) {
	if n < len(f.recs) {
		return f.recs[:n], nil
	}
	return f.recs, nil
}

func TestRunsEndpoint(t *testing.T) {
	runs := &fakeRunLog{recs: []runlog.Record{
		{TraceID: "abc", Executed: true, OrderCount: 3},
		{TraceID: "def"},
	}}
	ts := newTestServer(t, memory.New(testOwner), executor.NewMetrics(), runs)

	var body struct {
		Runs  []runlog.Record `json:"runs"`
		Count int             `json:"count"`
	}
	code := getJSON(t, ts.URL+"/api/runs?limit=1", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "abc", body.Runs[0].TraceID)
}
