// Package app wires configuration, the ledger adapter, the execution driver,
// the scheduler and the optional status API into one runnable engine.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"drip/internal/config"
	"drip/internal/executor"
	"drip/internal/ledger"
	"drip/internal/logger"
	"drip/internal/scheduler"
	"drip/internal/store/runlog"
	statushttp "drip/internal/transport/http"
)

// App owns the assembled engine. Build with New, then Run or RunOnce.
type App struct {
	cfg         *config.Config
	ledger      ledger.Ledger
	closeLedger func()
	driver      *executor.Driver
	metrics     *executor.Metrics
	scheduler   *scheduler.Scheduler
	runs        *runlog.Store
	httpSrv     *statushttp.Server
}

// New builds the engine from configuration without starting anything.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return newBuilder(cfg).build(ctx)
}

// Run starts the scheduler loop and, when enabled, the status API. It blocks
// until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.scheduler == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		group.Go(func() error {
			logger.Infof("status API listening on %s", a.httpSrv.Addr())
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("status server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return a.scheduler.Start(ctx)
	})

	return group.Wait()
}

// RunOnce executes a single due-order pass and returns its error, if any.
func (a *App) RunOnce(ctx context.Context) error {
	if a == nil || a.scheduler == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.scheduler.RunOnce(ctx)
}

// Metrics exposes the execution recorder, used by the one-shot entrypoint to
// print a final summary.
func (a *App) Metrics() *executor.Metrics {
	if a == nil {
		return nil
	}
	return a.metrics
}

// Ledger exposes the active ledger adapter.
func (a *App) Ledger() ledger.Ledger {
	if a == nil {
		return nil
	}
	return a.ledger
}

// Close releases the ledger connection and the run log.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.runs != nil {
		_ = a.runs.Close()
	}
	if a.closeLedger != nil {
		a.closeLedger()
	}
}
