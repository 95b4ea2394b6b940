package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"rsibot/internal/broker"
	"rsibot/internal/config"
	"rsibot/internal/engine"
	"rsibot/internal/indicator"
	"rsibot/internal/journal"
	"rsibot/internal/logging"
	"rsibot/internal/md"
	"rsibot/internal/risk"
	"rsibot/internal/strategy"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// The signal context stays registered until run returns, so a second
	// interrupt during the final flush is absorbed instead of killing the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, feed, err := build(cfg, generateRunID(), logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}

	logger.Info("starting bot",
		zap.Strings("symbols", cfg.Symbols),
		zap.String("feed", cfg.Feed),
		zap.String("feed_source", cfg.FeedSource),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("kill_switch", cfg.KillSwitch),
	)

	if streamFeed, ok := feed.(*md.StreamFeed); ok {
		active := eng.Init(ctx)
		streamFeed.Start(ctx, cfg.APIKey, cfg.APISecret, active, cfg.Lookback)
	}

	saved, err := eng.Run(ctx)
	if err != nil {
		logger.Error("failed to save trade log", zap.String("path", cfg.JournalPath), zap.Error(err))
		return 1
	}
	if saved == 0 {
		logger.Info("No trades to save.")
	} else {
		logger.Info(fmt.Sprintf("Saved %d trades to %s", saved, cfg.JournalPath))
	}
	logger.Info("bot shutdown complete")
	return 0
}

func build(cfg config.Config, runID string, logger *zap.Logger) (*engine.Engine, engine.MarketDataFeed, error) {
	tif, err := broker.ParseTimeInForce(cfg.TimeInForce)
	if err != nil {
		return nil, nil, err
	}
	rsi, err := indicator.ForSmoothing(indicator.Smoothing(cfg.RSISmoothing))
	if err != nil {
		return nil, nil, err
	}

	restFeed := md.NewRESTFeed(cfg.APIKey, cfg.APISecret, cfg.DataBaseURL, cfg.Feed, logger)
	var feed engine.MarketDataFeed = restFeed
	if cfg.FeedSource == "stream" {
		store := md.NewBarStore(int(cfg.Lookback/time.Minute) + 1)
		feed = md.NewStreamFeed(restFeed, store, logger)
	}

	brokerClient := broker.New(cfg.APIKey, cfg.APISecret, cfg.BaseURL, logger)
	tradeJournal := journal.New(cfg.JournalPath)
	gate := risk.NewGate(risk.Limits{
		KillSwitch:  cfg.KillSwitch,
		MinNotional: decimal.NewFromFloat(cfg.MinNotional),
		MaxNotional: decimal.NewFromFloat(cfg.MaxNotional),
	}, logger)
	executor := engine.NewExecutor(brokerClient, tradeJournal, gate, cfg.OrderSize, tif, runID, logger)
	strat := strategy.NewRSIReversion(strategy.Thresholds{
		EntryRSI:   cfg.EntryRSI,
		ExitRSI:    cfg.ExitRSI,
		StopLoss:   cfg.StopLoss,
		TakeProfit: cfg.TakeProfit,
	})

	eng := engine.New(cfg, feed, engine.NewPositionTracker(brokerClient), strat, rsi, executor, tradeJournal, logger.With(zap.String("run_id", runID)))
	return eng, feed, nil
}

func generateRunID() string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	return timestamp + "-" + uuid.NewString()[:8]
}
