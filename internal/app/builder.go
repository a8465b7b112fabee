package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"drip/internal/config"
	"drip/internal/executor"
	"drip/internal/ledger"
	"drip/internal/ledger/evm"
	"drip/internal/ledger/memory"
	"drip/internal/logger"
	"drip/internal/scheduler"
	"drip/internal/store/runlog"
	statushttp "drip/internal/transport/http"
)

// builder assembles the engine from configuration. Each build step is a
// field so tests can substitute fakes without touching the real adapters.
type builder struct {
	cfg *config.Config

	ledgerFn func(ctx context.Context, cfg *config.Config) (ledger.Ledger, func(), error)
	runlogFn func(path string) (*runlog.Store, error)
}

func newBuilder(cfg *config.Config) *builder {
	return &builder{
		cfg:      cfg,
		ledgerFn: buildLedger,
		runlogFn: runlog.Open,
	}
}

func buildLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, func(), error) {
	switch cfg.Ledger.Backend {
	case "memory":
		logger.Warnf("using in-memory ledger backend; nothing will reach a chain")
		return memory.New(common.Address{}), func() {}, nil
	case "evm":
		client, err := evm.Dial(ctx, evm.Config{
			RPCURL:           cfg.Ledger.RPCURL,
			Contract:         common.HexToAddress(cfg.Ledger.Contract),
			ChainID:          cfg.Ledger.ChainID,
			PrivateKey:       cfg.Ledger.PrivateKey,
			CallTimeout:      cfg.Ledger.CallTimeout,
			BreakerThreshold: cfg.Ledger.BreakerThreshold,
			BreakerCooldown:  cfg.Ledger.BreakerCooldown,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dialing evm ledger: %w", err)
		}
		logger.Infof("evm ledger connected: contract=%s keeper=%s chain=%d",
			cfg.Ledger.Contract, client.Keeper().Hex(), cfg.Ledger.ChainID)
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

func (b *builder) build(ctx context.Context) (*App, error) {
	led, closeLedger, err := b.ledgerFn(ctx, b.cfg)
	if err != nil {
		return nil, err
	}

	metrics := executor.NewMetrics()
	driver, err := executor.New(executor.Params{
		Ledger:   led,
		Retry:    executor.NewRetryPolicy(b.cfg.Executor.MaxRetries, b.cfg.Executor.BaseDelay),
		Metrics:  metrics,
		PerOrder: b.cfg.Executor.PerOrder,
	})
	if err != nil {
		closeLedger()
		return nil, err
	}

	var runs *runlog.Store
	if b.cfg.Store.RunLogPath != "" {
		runs, err = b.runlogFn(b.cfg.Store.RunLogPath)
		if err != nil {
			closeLedger()
			return nil, fmt.Errorf("opening run log: %w", err)
		}
	}

	var observer scheduler.Observer
	if runs != nil {
		observer = runs
	}
	sched, err := scheduler.New(scheduler.Params{
		Driver:              driver,
		Metrics:             metrics,
		Interval:            b.cfg.Scheduler.Interval,
		MetricsDumpInterval: b.cfg.Scheduler.MetricsDumpInterval,
		Observer:            observer,
	})
	if err != nil {
		closeApp(closeLedger, runs)
		return nil, err
	}

	var httpSrv *statushttp.Server
	if b.cfg.HTTP.Enabled {
		var runReader statushttp.RunLogReader
		if runs != nil {
			runReader = runs
		}
		httpSrv, err = statushttp.NewServer(statushttp.ServerConfig{
			Addr:            b.cfg.HTTP.Listen,
			Reader:          led,
			Metrics:         metrics,
			Runs:            runReader,
			DisplayDecimals: b.cfg.App.DisplayDecimals,
		})
		if err != nil {
			closeApp(closeLedger, runs)
			return nil, fmt.Errorf("building status server: %w", err)
		}
	}

	return &App{
		cfg:         b.cfg,
		ledger:      led,
		closeLedger: closeLedger,
		driver:      driver,
		metrics:     metrics,
		scheduler:   sched,
		runs:        runs,
		httpSrv:     httpSrv,
	}, nil
}

func closeApp(closeLedger func(), runs *runlog.Store) {
	if runs != nil {
		_ = runs.Close()
	}
	if closeLedger != nil {
		closeLedger()
	}
}
