// Command governor runs the trade governance core: rule engine, emergency
// overseer, bot lifecycle manager, and audit recorder, wired over the
// in-process event bus with a simulated portfolio and signal feed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantrail/trade-governor/internal/alerts"
	"github.com/quantrail/trade-governor/internal/audit"
	"github.com/quantrail/trade-governor/internal/bot"
	"github.com/quantrail/trade-governor/internal/bus"
	"github.com/quantrail/trade-governor/internal/config"
	"github.com/quantrail/trade-governor/internal/execution"
	"github.com/quantrail/trade-governor/internal/governance"
	"github.com/quantrail/trade-governor/internal/observ"
	"github.com/quantrail/trade-governor/internal/overseer"
	"github.com/quantrail/trade-governor/internal/portfolio"
	"github.com/quantrail/trade-governor/internal/store"
	"github.com/quantrail/trade-governor/internal/strategy"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "governor",
		Short:   "Trade governance and bot lifecycle core",
		Version: version,
	}
	root.AddCommand(runCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		demo       bool
		startCash  float64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the governance core",
		RunE: func(cmd *cobra.Command, args []string) error {
			observ.SetLevel(logLevel)
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg, demo, startCash)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.Flags().BoolVar(&demo, "demo", false, "deploy a paper demo bot at startup")
	cmd.Flags().Float64Var(&startCash, "cash", 100000, "starting cash for the simulated portfolio")
	return cmd
}

func run(cfg config.Root, demo bool, startCash float64) error {
	events := bus.New(256)
	defer events.Close()

	recorder, err := audit.New(audit.Config{
		MaxEntries: cfg.Audit.MaxEntries,
		LogPath:    cfg.Audit.LogPath,
		SessionID:  cfg.Audit.SessionID,
	})
	if err != nil {
		return fmt.Errorf("audit recorder: %w", err)
	}
	defer recorder.Close()

	notifier := alerts.NewNotifier(alerts.Config{
		WebhookURL:  cfg.Alerts.WebhookURL,
		QueueSize:   cfg.Alerts.QueueSize,
		MaxRetries:  cfg.Alerts.MaxRetries,
		BackoffBase: time.Duration(cfg.Alerts.BackoffBaseMs) * time.Millisecond,
		Timeout:     time.Duration(cfg.Alerts.TimeoutSeconds) * time.Second,
	})
	defer notifier.Close()

	if err := events.Subscribe(bus.TopicAlertGenerated, func(e bus.Event) {
		ae, ok := e.(bus.AlertEvent)
		if !ok {
			return
		}
		notifier.Notify(alerts.Alert{
			ID:        ae.AlertID,
			Severity:  alerts.Severity(ae.Severity),
			Title:     ae.Title,
			Message:   ae.Message,
			Source:    ae.Source,
			CreatedAt: ae.CreatedAt,
		})
	}); err != nil {
		return err
	}

	provider := portfolio.NewSimProvider(startCash)

	var botStore store.Store
	switch cfg.Store.Driver {
	case "postgres":
		botStore, err = store.NewGormStore(cfg.Store.DSN)
	default:
		botStore, err = store.NewFileStore(cfg.Store.FilePath)
	}
	if err != nil {
		return fmt.Errorf("bot store: %w", err)
	}
	defer botStore.Close()

	executor, err := execution.NewPaper(execution.PaperConfig{
		OutboxPath:       cfg.Execution.OutboxPath,
		OrdersPerSecond:  cfg.Execution.OrdersPerSecond,
		SlippageBps:      cfg.Execution.SlippageBps,
		LatencyMsMin:     cfg.Execution.LatencyMsMin,
		LatencyMsMax:     cfg.Execution.LatencyMsMax,
		DedupeWindowSecs: cfg.Execution.DedupeWindowSecs,
	})
	if err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	executor.FillHook = func(f execution.Fill) {
		provider.ApplyFill(f.Symbol, f.Quantity, f.FillPrice, f.Side == "buy")
	}

	// The engine consults emergency mode through a closure so it can be
	// constructed before the overseer.
	var ov *overseer.Overseer
	engine := governance.NewEngine(provider, recorder, events, limitsFromConfig(cfg.Limits),
		func() bool { return ov != nil && ov.EmergencyActive() })

	feed := strategy.NewSimFeed([]string{"AAPL", "MSFT", "NVDA", "SPY"}, time.Now().UnixNano(), 120)

	manager, err := bot.NewManager(bot.Deps{
		Engine:     engine,
		Executor:   executor,
		Feed:       feed,
		Strategies: strategy.DefaultRegistry(),
		Provider:   provider,
		Recorder:   recorder,
		Events:     events,
		Store:      botStore,
		Cadence: bot.Cadence{
			Live:     time.Duration(cfg.Bots.LiveTickSeconds) * time.Second,
			Paper:    time.Duration(cfg.Bots.PaperTickSeconds) * time.Second,
			Research: time.Duration(cfg.Bots.ResearchTickSeconds) * time.Second,
		},
		Defaults: bot.Config{
			FeatureWindowDays: cfg.Bots.FeatureWindowDays,
			MinConfidence:     cfg.Bots.MinConfidence,
			MaxPositions:      cfg.Bots.MaxPositions,
			StopLossPct:       cfg.Limits.DefaultStopLossPct,
			TakeProfitPct:     cfg.Limits.DefaultTakeProfitPct,
		},
		PromotionMarginPct: cfg.Bots.PromotionMarginPct,
	})
	if err != nil {
		return err
	}

	ov = overseer.New(overseer.Config{
		PollInterval:          time.Duration(cfg.Overseer.PollIntervalSeconds) * time.Second,
		HardPullDayLossPct:    cfg.Overseer.HardPullDayLossPct,
		SoftPullDayLossPct:    cfg.Overseer.SoftPullDayLossPct,
		ConcentrationLimitPct: cfg.Overseer.ConcentrationLimitPct,
	}, provider, manager, recorder, events)
	ov.Start()
	defer ov.Stop()

	if _, err := recorder.Record(audit.EntitySystem, "", "startup",
		"governance core started", map[string]any{"version": version, "store": cfg.Store.Driver}); err != nil {
		return err
	}

	if demo {
		v, err := manager.Deploy(context.Background(), bot.DeployRequest{
			Name:             "demo-momentum",
			Strategy:         "momentum",
			Mode:             bot.ModePaper,
			Symbols:          []string{"AAPL", "NVDA"},
			AllocatedCapital: 25000,
			AutoStart:        true,
		})
		if err != nil {
			return fmt.Errorf("deploy demo bot: %w", err)
		}
		observ.Log("demo_bot_deployed", map[string]any{"bot_id": v.ID})
	}

	observ.Log("governor_ready", map[string]any{
		"rules":   len(engine.Rules()),
		"bots":    len(manager.List()),
		"version": version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	observ.Log("governor_shutdown", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, v := range manager.List() {
		if v.Running {
			if err := manager.Stop(shutdownCtx, v.ID); err != nil {
				observ.Error("shutdown_stop_bot_failed", err, map[string]any{"bot_id": v.ID})
			}
		}
	}
	_, _ = recorder.Record(audit.EntitySystem, "", "shutdown", "governance core stopped", nil)
	return nil
}

func limitsFromConfig(l config.Limits) governance.RiskLimits {
	return governance.RiskLimits{
		MaxPositionSizePct:   l.MaxPositionSizePct,
		MaxDailyTrades:       l.MaxDailyTrades,
		MaxDailyLossUSD:      l.MaxDailyLossUSD,
		MaxPortfolioLossPct:  l.MaxPortfolioLossPct,
		MinCashReservePct:    l.MinCashReservePct,
		MaxConcentrationPct:  l.MaxConcentrationPct,
		LargeTradeUSD:        l.LargeTradeUSD,
		DefaultStopLossPct:   l.DefaultStopLossPct,
		DefaultTakeProfitPct: l.DefaultTakeProfitPct,
		BlacklistedSymbols:   append([]string(nil), l.BlacklistedSymbols...),
	}
}
