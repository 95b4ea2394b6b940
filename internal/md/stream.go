package md

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"go.uber.org/zap"
)

type Bar struct {
	Symbol    string
	Timestamp time.Time
	Close     float64
}

type BarHandler func(Bar)

func StartStream(ctx context.Context, apiKey, apiSecret string, feed marketdata.Feed, symbols []string, handler BarHandler, logger *zap.Logger) error {
	client := stream.NewStocksClient(
		feed,
		stream.WithCredentials(apiKey, apiSecret),
	)

	// Connect must be called before subscribing in this SDK version.
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect market data stream: %w", err)
	}

	if err := client.SubscribeToBars(func(bar stream.Bar) {
		handler(Bar{
			Symbol:    bar.Symbol,
			Timestamp: bar.Timestamp,
			Close:     bar.Close,
		})
	}, symbols...); err != nil {
		return fmt.Errorf("subscribe to bars: %w", err)
	}

	logger.Info("subscribed to bars", zap.Strings("symbols", symbols), zap.String("feed", string(feed)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-client.Terminated():
		return err
	}
}

// StreamFeed serves bars collected from the websocket. Probing and the
// warm-up backfill go through the REST feed.
type StreamFeed struct {
	rest   *RESTFeed
	store  *BarStore
	logger *zap.Logger
	now    func() time.Time
}

func NewStreamFeed(rest *RESTFeed, store *BarStore, logger *zap.Logger) *StreamFeed {
	return &StreamFeed{
		rest:   rest,
		store:  store,
		logger: logger.With(zap.String("component", "stream_feed")),
		now:    time.Now,
	}
}

// Start backfills the store for symbols and runs the websocket until ctx is
// done. It returns once the stream goroutine is launched.
func (f *StreamFeed) Start(ctx context.Context, apiKey, apiSecret string, symbols []string, lookback time.Duration) {
	for _, symbol := range symbols {
		series, err := f.rest.RecentBars(ctx, symbol, lookback)
		if err != nil {
			f.logger.Warn("backfill failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		for _, p := range series.Points {
			f.store.Add(symbol, p)
		}
	}

	go func() {
		err := StartStream(ctx, apiKey, apiSecret, f.rest.feed, symbols, f.OnBar, f.logger)
		if err != nil && !errors.Is(err, context.Canceled) {
			f.logger.Error("market data stream stopped", zap.Error(err))
		}
	}()
}

func (f *StreamFeed) OnBar(bar Bar) {
	f.store.Add(bar.Symbol, Point{Time: bar.Timestamp, Close: bar.Close})
}

func (f *StreamFeed) RecentBars(ctx context.Context, symbol string, lookback time.Duration) (PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return PriceSeries{}, err
	}
	if f.store.Len(symbol) == 0 {
		return PriceSeries{}, fmt.Errorf("%w: no streamed bars for %s", ErrFeedUnavailable, symbol)
	}
	return f.store.Series(symbol, f.now().Add(-lookback)), nil
}

func (f *StreamFeed) Available(ctx context.Context, symbol string) bool {
	return f.rest.Available(ctx, symbol)
}
