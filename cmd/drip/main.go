package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"drip/internal/app"
	"drip/internal/config"
	"drip/internal/logger"
	"drip/internal/split"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "split" {
		os.Exit(runSplit(os.Args[2:]))
	}

	cfgPath := os.Getenv("DRIP_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("opening log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("building engine failed: %v", err)
	}
	defer engine.Close()

	if len(os.Args) > 1 && os.Args[1] == "daemon" {
		if err := engine.Run(ctx); err != nil {
			log.Fatalf("engine stopped with error: %v", err)
		}
		return
	}

	// Default mode: one due-order pass, then exit. Cron-friendly.
	if err := engine.RunOnce(ctx); err != nil {
		logger.Errorf("run failed: %v", err)
		os.Exit(1)
	}
	logger.Infof("run complete: %s", engine.Metrics().Snapshot().Summary())
}

// runSplit prints the installment plan for a budget without touching any
// ledger. Usage: drip split <budget-base-units> <intervals>.
func runSplit(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: drip split <budget-base-units> <intervals>")
		return 2
	}
	budget, ok := new(big.Int).SetString(strings.TrimSpace(args[0]), 10)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid budget %q\n", args[0])
		return 2
	}
	intervals, err := strconv.ParseUint(strings.TrimSpace(args[1]), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid interval count %q\n", args[1])
		return 2
	}

	res, err := split.Split(budget, intervals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "split failed: %v\n", err)
		return 1
	}
	fmt.Printf("amount per interval: %s\n", res.AmountPerInterval)
	fmt.Printf("total used:          %s\n", res.ActualTotalUsed)
	if res.HasRemainder() {
		fmt.Printf("remainder (stays with owner): %s\n", res.Remainder)
	}
	return 0
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
