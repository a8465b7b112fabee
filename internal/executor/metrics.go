package executor

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Metrics accumulates execution counters for one process lifetime. It is an
// explicitly owned instance, not a global; the scheduler holds it and the
// HTTP status surface reads snapshots.
type Metrics struct {
	mu              sync.Mutex
	executions      uint64
	ordersProcessed uint64
	failures        uint64
	lastSuccess     time.Time
	lastFailure     time.Time
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Executions            uint64    `json:"executions"`
	OrdersProcessed       uint64    `json:"orders_processed"`
	Failures              uint64    `json:"failures"`
	AvgOrdersPerExecution float64   `json:"avg_orders_per_execution"`
	LastSuccess           time.Time `json:"last_success,omitzero"`
	LastFailure           time.Time `json:"last_failure,omitzero"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordSuccess counts one successful execution covering orderCount orders.
func (m *Metrics) RecordSuccess(orderCount int, at time.Time) {
	if orderCount < 0 {
		orderCount = 0
	}
	m.mu.Lock()
	m.executions++
	m.ordersProcessed += uint64(orderCount)
	m.lastSuccess = at
	m.mu.Unlock()
}

// RecordFailure counts one exhausted execution attempt. Called once per
// driver invocation, not once per retry.
func (m *Metrics) RecordFailure(at time.Time) {
	m.mu.Lock()
	m.failures++
	m.lastFailure = at
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Executions:      m.executions,
		OrdersProcessed: m.ordersProcessed,
		Failures:        m.failures,
		LastSuccess:     m.lastSuccess,
		LastFailure:     m.lastFailure,
	}
	if m.executions > 0 {
		s.AvgOrdersPerExecution = float64(m.ordersProcessed) / float64(m.executions)
	}
	return s
}

func (m *Metrics) Reset() {
	m.mu.Lock()
	m.executions = 0
	m.ordersProcessed = 0
	m.failures = 0
	m.lastSuccess = time.Time{}
	m.lastFailure = time.Time{}
	m.mu.Unlock()
}

// Summary renders the snapshot for the periodic metrics dump.
func (s Snapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "executions=%d orders=%d failures=%d avg_orders=%.2f",
		s.Executions, s.OrdersProcessed, s.Failures, s.AvgOrdersPerExecution)
	if !s.LastSuccess.IsZero() {
		fmt.Fprintf(&b, " last_success=%s", s.LastSuccess.Format(time.RFC3339))
	}
	if !s.LastFailure.IsZero() {
		fmt.Fprintf(&b, " last_failure=%s", s.LastFailure.Format(time.RFC3339))
	}
	return b.String()
}
