package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"rsibot/internal/broker"
	"rsibot/internal/config"
	"rsibot/internal/indicator"
	"rsibot/internal/journal"
	"rsibot/internal/md"
	"rsibot/internal/strategy"
)

type MarketDataFeed interface {
	RecentBars(ctx context.Context, symbol string, lookback time.Duration) (md.PriceSeries, error)
	Available(ctx context.Context, symbol string) bool
}

type Brokerage interface {
	OpenPosition(ctx context.Context, symbol string) (broker.Position, bool, error)
	SubmitMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderRef, error)
}

type TradeJournal interface {
	Append(record journal.TradeRecord)
	Flush() (int, error)
	Len() int
}

type State string

const (
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

// Engine runs the trading cycle over the active symbols until its context is
// cancelled, then flushes the journal once.
type Engine struct {
	cfg       config.Config
	feed      MarketDataFeed
	positions *PositionTracker
	strategy  strategy.Strategy
	rsi       indicator.Func
	executor  *Executor
	journal   TradeJournal
	logger    *zap.Logger

	mu          sync.Mutex
	state       State
	initialized bool
	active      []string

	shutdownOnce sync.Once
	flushed      int
	flushErr     error
}

func New(cfg config.Config, feed MarketDataFeed, positions *PositionTracker, strat strategy.Strategy, rsi indicator.Func, executor *Executor, tradeJournal TradeJournal, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		feed:      feed,
		positions: positions,
		strategy:  strat,
		rsi:       rsi,
		executor:  executor,
		journal:   tradeJournal,
		logger:    logger,
		state:     StateInitializing,
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// Active returns the symbols that passed the startup probe.
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.active))
	copy(out, e.active)
	return out
}

// Init probes every configured symbol once. Symbols whose feed is not
// reachable are left out for the rest of the run.
func (e *Engine) Init(ctx context.Context) []string {
	active := make([]string, 0, len(e.cfg.Symbols))
	for _, symbol := range e.cfg.Symbols {
		if e.feed.Available(ctx, symbol) {
			active = append(active, symbol)
			continue
		}
		e.logger.Warn("skipping symbol: feed unavailable", zap.String("symbol", symbol))
	}
	if len(active) == 0 {
		e.logger.Warn("no symbols passed the feed probe")
	}

	e.mu.Lock()
	e.active = active
	e.initialized = true
	e.mu.Unlock()
	return e.Active()
}

// Run initializes if needed, cycles until ctx is done and returns the result
// of Shutdown.
func (e *Engine) Run(ctx context.Context) (int, error) {
	e.mu.Lock()
	initialized := e.initialized
	e.mu.Unlock()
	if !initialized {
		e.Init(ctx)
	}

	e.setState(StateRunning)
	e.logger.Info("trading loop started", zap.Strings("symbols", e.Active()), zap.Duration("poll_interval", e.cfg.PollInterval))
	for ctx.Err() == nil {
		e.RunCycle(ctx)
		if err := waitForContext(ctx, e.cfg.PollInterval); err != nil {
			break
		}
	}

	e.logger.Info("graceful shutdown detected, saving trade log")
	return e.Shutdown()
}

// RunCycle evaluates each active symbol once. A failing symbol is logged and
// skipped.
func (e *Engine) RunCycle(ctx context.Context) {
	started := time.Now()
	for _, symbol := range e.Active() {
		if ctx.Err() != nil {
			return
		}
		if err := e.safeProcess(ctx, symbol); err != nil {
			e.logSymbolError(symbol, err)
		}
	}
	e.logger.Debug("cycle complete", zap.Duration("elapsed", time.Since(started)), zap.Int("journal_records", e.journal.Len()))
}

// Shutdown flushes the journal exactly once. Later calls return the result of
// the first.
func (e *Engine) Shutdown() (int, error) {
	e.shutdownOnce.Do(func() {
		e.setState(StateShuttingDown)
		e.flushed, e.flushErr = e.journal.Flush()
		e.setState(StateStopped)
	})
	return e.flushed, e.flushErr
}

func (e *Engine) safeProcess(ctx context.Context, symbol string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing %s: %v", symbol, r)
		}
	}()
	return e.processSymbol(ctx, symbol)
}

func (e *Engine) processSymbol(ctx context.Context, symbol string) error {
	logger := e.logger.With(zap.String("symbol", symbol))

	series, err := e.feed.RecentBars(ctx, symbol, e.cfg.Lookback)
	if err != nil {
		return err
	}
	value, err := e.rsi(series, e.cfg.RSIPeriod)
	if errors.Is(err, indicator.ErrInsufficientData) {
		logger.Info("no or insufficient data, holding", zap.Int("bars", series.Len()))
		return nil
	}
	if err != nil {
		return err
	}
	last, _ := series.Last()

	position, err := e.positions.Get(ctx, symbol)
	if err != nil {
		return err
	}

	logger.Info("symbol status",
		zap.Float64("price", last.Close),
		zap.Float64("rsi", value.RSI),
		zap.Float64("qty", position.Qty),
		zap.Time("bar_time", last.Time),
	)

	decision := e.strategy.Decide(strategy.Snapshot{
		Symbol:      symbol,
		Price:       last.Close,
		RSI:         value.RSI,
		PositionQty: position.Qty,
		EntryPrice:  position.AvgEntry,
	})
	if decision == strategy.Hold {
		if !value.Defined() {
			logger.Debug("rsi undefined, holding")
		}
		return nil
	}
	if decision.IsExit() {
		logger.Info(fmt.Sprintf("%s triggered for %s at %.2f", decision, symbol, last.Close), zap.Float64("avg_entry", position.AvgEntry))
	}

	_, _, err = e.executor.Execute(ctx, symbol, decision, position, last.Close)
	return err
}

func (e *Engine) logSymbolError(symbol string, err error) {
	fields := []zap.Field{zap.String("symbol", symbol), zap.Error(err)}
	switch {
	case errors.Is(err, context.Canceled):
		e.logger.Debug("symbol interrupted by shutdown", fields...)
	case errors.Is(err, md.ErrFeedUnavailable):
		e.logger.Warn("feed unavailable, skipping symbol", fields...)
	case errors.Is(err, ErrPositionQueryFailed):
		e.logger.Error("position query failed", fields...)
	case errors.Is(err, ErrOrderSubmissionFailed):
		e.logger.Error("order submission failed", fields...)
	default:
		e.logger.Error("error processing symbol", fields...)
	}
}

func waitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
