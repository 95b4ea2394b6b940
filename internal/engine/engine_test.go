package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"rsibot/internal/broker"
	"rsibot/internal/config"
	"rsibot/internal/indicator"
	"rsibot/internal/journal"
	"rsibot/internal/md"
	"rsibot/internal/risk"
	"rsibot/internal/strategy"
)

type fakeFeed struct {
	mu          sync.Mutex
	series      map[string]md.PriceSeries
	errs        map[string]error
	unavailable map[string]bool
	fetched     []string
	onFetch     func(symbol string)
}

func (f *fakeFeed) RecentBars(ctx context.Context, symbol string, lookback time.Duration) (md.PriceSeries, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, symbol)
	onFetch := f.onFetch
	f.mu.Unlock()
	if onFetch != nil {
		onFetch(symbol)
	}
	if err := f.errs[symbol]; err != nil {
		return md.PriceSeries{}, err
	}
	return f.series[symbol], nil
}

func (f *fakeFeed) Available(ctx context.Context, symbol string) bool {
	return !f.unavailable[symbol]
}

func (f *fakeFeed) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.fetched))
	copy(out, f.fetched)
	return out
}

type fakeBrokerage struct {
	mu          sync.Mutex
	positions   map[string]broker.Position
	positionErr map[string]error
	orderErr    map[string]error
	orders      []broker.OrderRequest
	queried     []string
}

func (f *fakeBrokerage) OpenPosition(ctx context.Context, symbol string) (broker.Position, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, symbol)
	if err := f.positionErr[symbol]; err != nil {
		return broker.Position{}, false, err
	}
	pos, ok := f.positions[symbol]
	return pos, ok, nil
}

func (f *fakeBrokerage) SubmitMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.orderErr[req.Symbol]; err != nil {
		return broker.OrderRef{}, err
	}
	f.orders = append(f.orders, req)
	return broker.OrderRef{ID: "order-" + req.Symbol, ClientOrderID: req.ClientOrderID, Status: "accepted"}, nil
}

type countingJournal struct {
	*journal.Journal
	mu      sync.Mutex
	flushes int
}

func (c *countingJournal) Flush() (int, error) {
	c.mu.Lock()
	c.flushes++
	c.mu.Unlock()
	return c.Journal.Flush()
}

func (c *countingJournal) Flushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

type panicStrategy struct{}

func (panicStrategy) Decide(strategy.Snapshot) strategy.Decision {
	panic("boom")
}

func ramp(symbol string, n int, start, step float64) md.PriceSeries {
	base := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)
	points := make([]md.Point, n)
	for i := range points {
		points[i] = md.Point{Time: base.Add(time.Duration(i) * time.Minute), Close: start + step*float64(i)}
	}
	return md.PriceSeries{Symbol: symbol, Points: points}
}

func testConfig(symbols ...string) config.Config {
	return config.Config{
		Symbols:      symbols,
		Lookback:     100 * time.Minute,
		RSIPeriod:    14,
		EntryRSI:     40,
		ExitRSI:      60,
		StopLoss:     0.05,
		TakeProfit:   0.10,
		OrderSize:    10,
		MinNotional:  1,
		PollInterval: time.Hour,
	}
}

type harness struct {
	engine  *Engine
	feed    *fakeFeed
	broker  *fakeBrokerage
	journal *countingJournal
}

func newHarness(t *testing.T, cfg config.Config, strat strategy.Strategy) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	feed := &fakeFeed{series: map[string]md.PriceSeries{}, errs: map[string]error{}, unavailable: map[string]bool{}}
	brokerage := &fakeBrokerage{positions: map[string]broker.Position{}, positionErr: map[string]error{}, orderErr: map[string]error{}}
	tradeJournal := &countingJournal{Journal: journal.New(filepath.Join(t.TempDir(), "trades.csv"))}
	gate := risk.NewGate(risk.Limits{MinNotional: decimal.NewFromFloat(cfg.MinNotional)}, logger)
	executor := NewExecutor(brokerage, tradeJournal, gate, cfg.OrderSize, alpaca.GTC, "run", logger)
	if strat == nil {
		strat = strategy.NewRSIReversion(strategy.DefaultThresholds())
	}
	eng := New(cfg, feed, NewPositionTracker(brokerage), strat, indicator.RSI, executor, tradeJournal, logger)
	return &harness{engine: eng, feed: feed, broker: brokerage, journal: tradeJournal}
}

func TestInitDropsUnavailableSymbolsForTheRun(t *testing.T) {
	h := newHarness(t, testConfig("AAPL", "MSFT", "TSLA"), nil)
	h.feed.unavailable["MSFT"] = true
	for _, s := range []string{"AAPL", "MSFT", "TSLA"} {
		h.feed.series[s] = ramp(s, 30, 100, 0)
	}

	active := h.engine.Init(context.Background())
	if len(active) != 2 || active[0] != "AAPL" || active[1] != "TSLA" {
		t.Fatalf("expected AAPL and TSLA active, got %v", active)
	}

	for i := 0; i < 3; i++ {
		h.engine.RunCycle(context.Background())
	}
	for _, symbol := range h.feed.Fetched() {
		if symbol == "MSFT" {
			t.Fatalf("expected MSFT never to be processed, fetched %v", h.feed.Fetched())
		}
	}
	if got := len(h.feed.Fetched()); got != 6 {
		t.Fatalf("expected 6 fetches over 3 cycles, got %d", got)
	}
}

func TestRunCycleEntersOversoldSymbol(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"), nil)
	h.feed.series["AAPL"] = ramp("AAPL", 30, 120, -0.5)
	h.engine.Init(context.Background())

	h.engine.RunCycle(context.Background())

	if len(h.broker.orders) != 1 {
		t.Fatalf("expected one order, got %d", len(h.broker.orders))
	}
	order := h.broker.orders[0]
	if order.Side != alpaca.Buy || !order.Notional.Equal(decimal.NewFromInt(10)) || order.TimeInForce != alpaca.GTC {
		t.Fatalf("unexpected order %+v", order)
	}
	records := h.journal.Records()
	if len(records) != 1 || records[0].Side != "buy" || records[0].Symbol != "AAPL" {
		t.Fatalf("unexpected journal records %+v", records)
	}
}

func TestRunCycleStopLossSellsWholePosition(t *testing.T) {
	h := newHarness(t, testConfig("NVDA"), nil)
	h.feed.series["NVDA"] = ramp("NVDA", 30, 80, 0.5)
	h.broker.positions["NVDA"] = broker.Position{Symbol: "NVDA", Qty: 0.5, AvgEntry: 100}
	h.engine.Init(context.Background())

	h.engine.RunCycle(context.Background())

	if len(h.broker.orders) != 1 {
		t.Fatalf("expected one order, got %d", len(h.broker.orders))
	}
	order := h.broker.orders[0]
	// last close is 80 + 29*0.5 = 94.5, below the 95 stop
	if order.Side != alpaca.Sell || !order.Notional.Equal(decimal.RequireFromString("47.25")) {
		t.Fatalf("expected sell of 47.25, got %s %s", order.Side, order.Notional)
	}
}

func TestRunCycleHoldWritesNothing(t *testing.T) {
	h := newHarness(t, testConfig("AMD"), nil)
	h.feed.series["AMD"] = ramp("AMD", 30, 100, 0.1)
	h.engine.Init(context.Background())

	h.engine.RunCycle(context.Background())

	if len(h.broker.orders) != 0 || h.journal.Len() != 0 {
		t.Fatalf("expected no orders or records, got %d orders %d records", len(h.broker.orders), h.journal.Len())
	}
}

func TestRunCycleInsufficientDataSkipsPositionRead(t *testing.T) {
	h := newHarness(t, testConfig("META"), nil)
	h.feed.series["META"] = ramp("META", 10, 100, -1)
	h.engine.Init(context.Background())

	h.engine.RunCycle(context.Background())

	if len(h.broker.queried) != 0 {
		t.Fatalf("expected no position query, got %v", h.broker.queried)
	}
	if len(h.broker.orders) != 0 {
		t.Fatalf("expected no orders")
	}
}

func TestRunCycleContainsPerSymbolFailures(t *testing.T) {
	h := newHarness(t, testConfig("FEED", "POS", "ORDER", "PANIC", "GOOD"), nil)
	for _, s := range []string{"POS", "ORDER", "PANIC", "GOOD"} {
		h.feed.series[s] = ramp(s, 30, 120, -0.5)
	}
	h.feed.errs["FEED"] = md.ErrFeedUnavailable
	h.broker.positionErr["POS"] = errors.New("unauthorized")
	h.broker.orderErr["ORDER"] = errors.New("insufficient buying power")
	h.feed.onFetch = func(symbol string) {
		if symbol == "PANIC" {
			panic("feed exploded")
		}
	}
	h.engine.Init(context.Background())

	h.engine.RunCycle(context.Background())

	if len(h.broker.orders) != 1 || h.broker.orders[0].Symbol != "GOOD" {
		t.Fatalf("expected only GOOD to trade, got %+v", h.broker.orders)
	}
	if h.journal.Len() != 1 {
		t.Fatalf("expected one journal record, got %d", h.journal.Len())
	}
	if got := len(h.feed.Fetched()); got != 5 {
		t.Fatalf("expected every symbol to be attempted, got %d", got)
	}
}

func TestRunCycleRecoversStrategyPanic(t *testing.T) {
	h := newHarness(t, testConfig("AAPL", "MSFT"), panicStrategy{})
	h.feed.series["AAPL"] = ramp("AAPL", 30, 100, 1)
	h.feed.series["MSFT"] = ramp("MSFT", 30, 100, 1)
	h.engine.Init(context.Background())

	h.engine.RunCycle(context.Background())

	if got := len(h.broker.queried); got != 2 {
		t.Fatalf("expected both symbols evaluated despite panics, got %d", got)
	}
}

func TestRunCycleStopsOnCancelledContext(t *testing.T) {
	h := newHarness(t, testConfig("AAPL", "MSFT"), nil)
	h.engine.Init(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	h.feed.onFetch = func(string) { cancel() }
	h.feed.series["AAPL"] = ramp("AAPL", 30, 100, 0)

	h.engine.RunCycle(ctx)

	if got := h.feed.Fetched(); len(got) != 1 {
		t.Fatalf("expected processing to stop after cancellation, fetched %v", got)
	}
}

func TestShutdownFlushesOnce(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"), nil)
	h.journal.Append(journal.TradeRecord{Timestamp: time.Now(), Symbol: "AAPL", Side: "buy", Notional: decimal.NewFromInt(10)})

	first, err := h.engine.Shutdown()
	if err != nil || first != 1 {
		t.Fatalf("expected 1 record flushed, got %d err=%v", first, err)
	}
	second, err := h.engine.Shutdown()
	if err != nil || second != 1 {
		t.Fatalf("expected repeated shutdown to report the first result, got %d err=%v", second, err)
	}
	if h.journal.Flushes() != 1 {
		t.Fatalf("expected exactly one flush, got %d", h.journal.Flushes())
	}
	if h.engine.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", h.engine.State())
	}
}

func TestRunFlushesOnceAfterRepeatedCancel(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"), nil)
	h.feed.series["AAPL"] = ramp("AAPL", 30, 120, -0.5)
	ctx, cancel := context.WithCancel(context.Background())
	cycled := make(chan struct{})
	var once sync.Once
	h.feed.onFetch = func(string) { once.Do(func() { close(cycled) }) }

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := h.engine.Run(ctx)
		done <- result{n, err}
	}()

	<-cycled
	cancel()
	cancel()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("unexpected flush error: %v", res.err)
		}
		if res.n != 1 {
			t.Fatalf("expected the entry to be flushed, got %d", res.n)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("engine did not stop after cancellation")
	}

	if _, err := h.engine.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.journal.Flushes() != 1 {
		t.Fatalf("expected exactly one flush, got %d", h.journal.Flushes())
	}
}

func TestRunSkipsInitWhenAlreadyInitialized(t *testing.T) {
	h := newHarness(t, testConfig("AAPL", "MSFT"), nil)
	h.engine.Init(context.Background())
	h.feed.unavailable["AAPL"] = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.engine.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.engine.Active(); len(got) != 2 {
		t.Fatalf("expected the first probe result to stand, got %v", got)
	}
}
