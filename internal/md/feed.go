// Package md pulls minute bars from Alpaca market data, either by polling the
// REST API or from the bar websocket, and hands them out as PriceSeries.
package md

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"go.uber.org/zap"
)

var ErrFeedUnavailable = errors.New("feed unavailable")

type barsAPI interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetLatestQuote(symbol string, req marketdata.GetLatestQuoteRequest) (*marketdata.Quote, error)
}

// RESTFeed polls one-minute bars over a lookback window.
type RESTFeed struct {
	client barsAPI
	feed   marketdata.Feed
	logger *zap.Logger
	now    func() time.Time
}

func NewRESTFeed(apiKey, apiSecret, baseURL, feed string, logger *zap.Logger) *RESTFeed {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return newRESTFeed(client, ParseFeed(feed), logger)
}

func newRESTFeed(client barsAPI, feed marketdata.Feed, logger *zap.Logger) *RESTFeed {
	return &RESTFeed{
		client: client,
		feed:   feed,
		logger: logger.With(zap.String("component", "rest_feed")),
		now:    time.Now,
	}
}

func (f *RESTFeed) RecentBars(ctx context.Context, symbol string, lookback time.Duration) (PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return PriceSeries{}, err
	}
	end := f.now().UTC()
	bars, err := f.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneMin,
		Start:     end.Add(-lookback),
		End:       end,
		Feed:      f.feed,
	})
	if err != nil {
		return PriceSeries{}, fmt.Errorf("%w: bars for %s: %w", ErrFeedUnavailable, symbol, err)
	}

	points := make([]Point, 0, len(bars))
	for _, bar := range bars {
		points = append(points, Point{Time: bar.Timestamp, Close: bar.Close})
	}
	f.logger.Debug("bars fetched", zap.String("symbol", symbol), zap.Int("count", len(points)))
	return NewPriceSeries(symbol, points), nil
}

// Available reports whether a latest quote can be read for symbol on the
// configured feed.
func (f *RESTFeed) Available(ctx context.Context, symbol string) bool {
	if ctx.Err() != nil {
		return false
	}
	quote, err := f.client.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{Feed: f.feed})
	if err != nil {
		f.logger.Warn("quote probe failed", zap.String("symbol", symbol), zap.String("feed", string(f.feed)), zap.Error(err))
		return false
	}
	if quote == nil {
		f.logger.Warn("quote probe returned nothing", zap.String("symbol", symbol), zap.String("feed", string(f.feed)))
		return false
	}
	return true
}

func ParseFeed(feed string) marketdata.Feed {
	switch feed {
	case "iex":
		return marketdata.IEX
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}
