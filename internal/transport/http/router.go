package statushttp

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"drip/internal/executor"
	"drip/internal/ledger"
	"drip/internal/order"
	"drip/internal/split"
	"drip/internal/store/runlog"
)

// RunLogReader is the slice of the run-log store the API needs. Nil means the
// run log is disabled.
type RunLogReader interface {
	Recent(n int) ([]runlog.Record, error)
}

// Router exposes read-only status endpoints for the engine.
type Router struct {
	reader          ledger.Reader
	metrics         *executor.Metrics
	runs            RunLogReader
	displayDecimals int32
}

// NewRouter builds the status router. reader and metrics are required; runs
// may be nil.
func NewRouter(reader ledger.Reader, metrics *executor.Metrics, runs RunLogReader, displayDecimals int32) *Router {
	if displayDecimals <= 0 {
		displayDecimals = 18
	}
	return &Router{reader: reader, metrics: metrics, runs: runs, displayDecimals: displayDecimals}
}

// Register mounts the endpoints under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/metrics", r.handleMetrics)
	group.GET("/orders/due", r.handleDueOrders)
	group.GET("/orders/:id", r.handleOrder)
	group.GET("/runs", r.handleRuns)
}

func (r *Router) handleMetrics(c *gin.Context) {
	snap := r.metrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"executions":               snap.Executions,
		"orders_processed":         snap.OrdersProcessed,
		"failures":                 snap.Failures,
		"avg_orders_per_execution": snap.AvgOrdersPerExecution,
		"last_success":             formatTime(snap.LastSuccess),
		"last_failure":             formatTime(snap.LastFailure),
	})
}

func (r *Router) handleDueOrders(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	batch, err := r.reader.DueOrders(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	ids := batch.IDs
	if ids == nil {
		ids = []uint64{}
	}
	c.JSON(http.StatusOK, gin.H{"ids": ids, "count": len(ids)})
}

// orderView is the API rendering of an order: raw base units plus a
// human-readable amount using the configured display decimals.
type orderView struct {
	ID                 uint64 `json:"id"`
	Owner              string `json:"owner"`
	SourceAsset        string `json:"source_asset"`
	TargetAsset        string `json:"target_asset"`
	AmountPerInterval  string `json:"amount_per_interval"`
	AmountDisplay      string `json:"amount_display"`
	Interval           string `json:"interval"`
	IntervalsCompleted uint64 `json:"intervals_completed"`
	TotalIntervals     uint64 `json:"total_intervals"`
	NextExecution      string `json:"next_execution"`
	Start              string `json:"start"`
	Active             bool   `json:"active"`
	Status             string `json:"status"`
}

func (r *Router) handleOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id must be a non-negative integer"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	o, err := r.reader.Order(ctx, id)
	if err != nil {
		status := http.StatusBadGateway
		if ledger.KindOf(err) == ledger.KindOrderState {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if !o.Exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}

	c.JSON(http.StatusOK, orderView{
		ID:                 o.ID,
		Owner:              o.Owner.Hex(),
		SourceAsset:        o.SourceAsset.Hex(),
		TargetAsset:        o.TargetAsset.Hex(),
		AmountPerInterval:  o.AmountPerInterval.String(),
		AmountDisplay:      split.FormatUnits(o.AmountPerInterval, r.displayDecimals),
		Interval:           o.Interval.String(),
		IntervalsCompleted: o.IntervalsCompleted,
		TotalIntervals:     o.TotalIntervals,
		NextExecution:      formatTime(o.NextExecution),
		Start:              formatTime(o.Start),
		Active:             o.Active,
		Status:             order.Classify(o, time.Now()).String(),
	})
}

func (r *Router) handleRuns(c *gin.Context) {
	if r.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run log is disabled"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := r.runs.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []runlog.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": recs, "count": len(recs)})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
