package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderRequest is a notional-sized market order.
type OrderRequest struct {
	Symbol        string
	Side          alpaca.Side
	Notional      decimal.Decimal
	TimeInForce   alpaca.TimeInForce
	ClientOrderID string
}

type OrderRef struct {
	ID            string
	ClientOrderID string
	Status        string
}

type Position struct {
	Symbol   string
	Qty      float64
	AvgEntry float64
}

type tradingAPI interface {
	GetPosition(symbol string) (*alpaca.Position, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
}

type Client struct {
	client tradingAPI
	logger *zap.Logger
}

func New(apiKey, apiSecret, baseURL string, logger *zap.Logger) *Client {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	return newClient(alpaca.NewClient(opts), logger)
}

func newClient(api tradingAPI, logger *zap.Logger) *Client {
	return &Client{client: api, logger: logger.With(zap.String("component", "broker"))}
}

func (c *Client) SubmitMarketOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	if err := ctx.Err(); err != nil {
		return OrderRef{}, err
	}
	notional := req.Notional
	orderReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Notional:      &notional,
		Side:          req.Side,
		Type:          alpaca.Market,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
	}

	fields := []zap.Field{
		zap.String("side", string(req.Side)),
		zap.String("symbol", req.Symbol),
		zap.String("notional", req.Notional.StringFixed(2)),
		zap.String("time_in_force", string(req.TimeInForce)),
		zap.String("client_order_id", req.ClientOrderID),
	}

	order, err := c.client.PlaceOrder(orderReq)
	if err != nil {
		c.logger.Error("place order failed", append(fields, zap.Error(err))...)
		return OrderRef{}, err
	}

	c.logger.Info("place order success", append(fields, zap.String("order_id", order.ID), zap.String("status", string(order.Status)))...)
	return OrderRef{
		ID:            order.ID,
		ClientOrderID: order.ClientOrderID,
		Status:        string(order.Status),
	}, nil
}

// OpenPosition returns the open position for symbol. found is false when the
// account holds none, which Alpaca reports as a 404.
func (c *Client) OpenPosition(ctx context.Context, symbol string) (Position, bool, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, false, err
	}
	pos, err := c.client.GetPosition(symbol)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			c.logger.Debug("no open position", zap.String("symbol", symbol))
			return Position{Symbol: symbol}, false, nil
		}
		c.logger.Error("fetch position failed", zap.String("symbol", symbol), zap.Error(err))
		return Position{}, false, err
	}

	qty := pos.Qty.InexactFloat64()
	avgEntry := pos.AvgEntryPrice.InexactFloat64()
	c.logger.Debug("position fetched", zap.String("symbol", symbol), zap.Float64("qty", qty), zap.Float64("avg_entry", avgEntry))
	return Position{
		Symbol:   pos.Symbol,
		Qty:      qty,
		AvgEntry: avgEntry,
	}, true, nil
}

func ParseTimeInForce(value string) (alpaca.TimeInForce, error) {
	switch value {
	case "gtc":
		return alpaca.GTC, nil
	case "day":
		return alpaca.Day, nil
	default:
		return "", fmt.Errorf("unsupported time in force: %s", value)
	}
}
