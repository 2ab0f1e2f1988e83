package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fx_hedger/internal/config"
	"fx_hedger/internal/core"
	"fx_hedger/internal/hedge"
	"fx_hedger/internal/infrastructure/metrics"
	"fx_hedger/internal/store"
	"fx_hedger/pkg/logging"
	"fx_hedger/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/hedged.yaml", "Path to configuration file")
	scenarioPath := flag.String("scenario", "configs/scenario.yaml", "Path to market/portfolio scenario file")
	interval := flag.Duration("interval", 0, "Cycle interval; zero runs a single cycle and exits")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hedged version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting hedged",
		"version", version,
		"accounts", len(cfg.Accounts),
		"scenario", *scenarioPath,
	)

	if err := run(cfg, *scenarioPath, *interval, logger); err != nil {
		logger.Error("hedged failed", "error", err)
		os.Exit(1)
	}
	logger.Info("hedged stopped")
}

func run(cfg *config.Config, scenarioPath string, interval time.Duration, logger core.ILogger) error {
	scenario, err := LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	universe, err := scenario.Universe()
	if err != nil {
		return err
	}
	accounts, err := scenario.AccountData(cfg.CoreAccounts())
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return fmt.Errorf("scenario has no portfolio data for any configured account")
	}

	if cfg.Telemetry.EnableMetrics {
		if err := telemetry.InitMetrics(); err != nil {
			logger.Warn("Failed to initialize metrics exporter", "error", err)
		} else {
			srv := metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
			srv.Start()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Stop(shutdownCtx)
			}()
		}
	}

	recordStore, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer func() {
		_ = recordStore.Close()
	}()

	orchestrator := hedge.NewOrchestrator(hedge.OrchestratorConfig{
		ThresholdP:    cfg.Strategy.ThresholdP,
		UpperP:        cfg.Strategy.UpperP,
		MaxPnLCapture: cfg.Strategy.MaxPnLCapture,
		AttributeSpot: cfg.Strategy.AttributeSpot,
		AllowUnwind:   cfg.Strategy.AllowUnwind,
		Workers:       cfg.Concurrency.Workers,
	}, recordStore, &loggingSink{logger: logger}, cfg.Sizer(), core.DefaultCurrencyTable(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()
		for {
			report, err := orchestrator.RunCycle(ctx, universe, accounts)
			if err != nil {
				return err
			}
			logger.Info("Cycle report",
				"cycle_id", report.CycleID,
				"buckets_computed", report.BucketsComputed,
				"buckets_failed", report.BucketsFailed,
				"orders_emitted", report.OrdersEmitted,
				"records_persisted", report.RecordsPersisted,
			)

			if interval <= 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
	})

	return g.Wait()
}

// loggingSink logs emitted orders instead of routing them. Order routing
// lives outside this process; the log line is the handoff point.
type loggingSink struct {
	logger core.ILogger
}

func (s *loggingSink) SubmitForward(_ context.Context, order *core.ForwardOrder) error {
	s.logger.Info("FORWARD ORDER",
		"account", string(order.Account),
		"company", string(order.Company),
		"pair", order.Pair.String(),
		"amount", order.Amount,
		"bucket", order.Bucket.String(),
		"cycle_id", order.CycleID,
	)
	return nil
}
