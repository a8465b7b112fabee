// Package scheduler drives the execution driver either once or on a fixed
// period. A single-permit guard makes overlapping cycles impossible: a tick
// that fires while the previous cycle still runs is skipped entirely, never
// queued.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"drip/internal/executor"
	"drip/internal/logger"
)

const (
	DefaultInterval            = 60 * time.Second
	DefaultMetricsDumpInterval = 5 * time.Minute
)

// Runner is the driver-facing contract.
type Runner interface {
	RunOnce(ctx context.Context) executor.Result
}

// CycleReport describes one completed cycle for observers (run log, tests).
type CycleReport struct {
	TraceID    string
	StartedAt  time.Time
	Duration   time.Duration
	Executed   bool
	OrderCount int
	Retries    int
	Err        string
}

// Observer receives every completed cycle. Implementations must not block.
type Observer interface {
	ObserveCycle(CycleReport)
}

// Params aggregates scheduler dependencies.
type Params struct {
	Driver              Runner
	Metrics             *executor.Metrics
	Interval            time.Duration
	MetricsDumpInterval time.Duration
	Observer            Observer
}

type Scheduler struct {
	driver       Runner
	metrics      *executor.Metrics
	interval     time.Duration
	dumpInterval time.Duration
	observer     Observer

	running atomic.Bool
	wg      sync.WaitGroup
	nowFn   func() time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Driver == nil {
		return nil, fmt.Errorf("scheduler: nil driver")
	}
	if p.Metrics == nil {
		p.Metrics = executor.NewMetrics()
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.MetricsDumpInterval <= 0 {
		p.MetricsDumpInterval = DefaultMetricsDumpInterval
	}
	return &Scheduler{
		driver:       p.Driver,
		metrics:      p.Metrics,
		interval:     p.Interval,
		dumpInterval: p.MetricsDumpInterval,
		observer:     p.Observer,
		nowFn:        time.Now,
	}, nil
}

// RunOnce performs a single scheduling pass and returns its error, if any.
// "Nothing due" is a nil-error outcome.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	res, ran := s.runGuarded(ctx)
	if !ran {
		return fmt.Errorf("scheduler: another cycle is already running")
	}
	return res.Err
}

// Start runs immediately, then on the fixed period until ctx is cancelled.
// In-flight cycles are waited for on shutdown; final metrics are logged.
func (s *Scheduler) Start(ctx context.Context) error {
	logger.Infof("scheduler: started interval=%s metrics_dump=%s", s.interval, s.dumpInterval)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	dump := time.NewTicker(s.dumpInterval)
	defer dump.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduler: shutdown signal observed, waiting for in-flight cycle")
			s.wg.Wait()
			logger.Infof("scheduler: final metrics: %s", s.metrics.Snapshot().Summary())
			return nil
		case <-ticker.C:
			s.tick(ctx)
		case <-dump.C:
			logger.Infof("scheduler: metrics: %s", s.metrics.Snapshot().Summary())
		}
	}
}

// tick launches a guarded cycle without blocking the timer loop.
func (s *Scheduler) tick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, ran := s.runGuarded(ctx); !ran {
			logger.Warnf("scheduler: previous cycle still running, skipping this tick")
		}
	}()
}

// runGuarded is the single-permit try-acquire around one driver invocation.
func (s *Scheduler) runGuarded(ctx context.Context) (executor.Result, bool) {
	if !s.running.CompareAndSwap(false, true) {
		return executor.Result{}, false
	}
	defer s.running.Store(false)

	traceID := uuid.NewString()[:8]
	started := s.nowFn()
	logger.Debugf("scheduler: cycle %s starting", traceID)

	res := s.driver.RunOnce(ctx)
	elapsed := s.nowFn().Sub(started)

	switch {
	case res.Err != nil:
		logger.Errorf("scheduler: cycle %s failed after %s: %v", traceID, elapsed.Truncate(time.Millisecond), res.Err)
	case res.Executed:
		logger.Infof("scheduler: cycle %s executed %d order(s) in %s (retries=%d)",
			traceID, res.OrderCount, elapsed.Truncate(time.Millisecond), res.Retries)
	default:
		logger.Debugf("scheduler: cycle %s idle (%s)", traceID, elapsed.Truncate(time.Millisecond))
	}

	if s.observer != nil {
		report := CycleReport{
			TraceID:    traceID,
			StartedAt:  started,
			Duration:   elapsed,
			Executed:   res.Executed,
			OrderCount: res.OrderCount,
			Retries:    res.Retries,
		}
		if res.Err != nil {
			report.Err = res.Err.Error()
		}
		s.observer.ObserveCycle(report)
	}
	return res, true
}
