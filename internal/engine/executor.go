package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rsibot/internal/broker"
	"rsibot/internal/journal"
	"rsibot/internal/risk"
	"rsibot/internal/strategy"
)

var ErrOrderSubmissionFailed = errors.New("order submission failed")

// Executor turns a decision into a notional market order and journals it
// once the broker accepts it.
type Executor struct {
	broker      Brokerage
	journal     TradeJournal
	gate        risk.Gate
	orderSize   decimal.Decimal
	timeInForce alpaca.TimeInForce
	runID       string
	orderSeqNum uint64
	logger      *zap.Logger
	now         func() time.Time
}

func NewExecutor(brokerage Brokerage, tradeJournal TradeJournal, gate risk.Gate, orderSize float64, tif alpaca.TimeInForce, runID string, logger *zap.Logger) *Executor {
	return &Executor{
		broker:      brokerage,
		journal:     tradeJournal,
		gate:        gate,
		orderSize:   decimal.NewFromFloat(orderSize),
		timeInForce: tif,
		runID:       runID,
		logger:      logger,
		now:         time.Now,
	}
}

// Execute submits the order for decision. executed is false for HOLD.
func (x *Executor) Execute(ctx context.Context, symbol string, decision strategy.Decision, pos Position, price float64) (record journal.TradeRecord, executed bool, err error) {
	side, ok := decision.Side()
	if !ok {
		return journal.TradeRecord{}, false, nil
	}

	notional := x.notional(decision, pos, price)
	if err := x.gate.Evaluate(risk.OrderContext{Symbol: symbol, Decision: decision, Notional: notional}); err != nil {
		return journal.TradeRecord{}, false, fmt.Errorf("%w: %s %s: %w", ErrOrderSubmissionFailed, side, symbol, err)
	}

	ref, err := x.broker.SubmitMarketOrder(ctx, broker.OrderRequest{
		Symbol:        symbol,
		Side:          alpacaSide(side),
		Notional:      notional,
		TimeInForce:   x.timeInForce,
		ClientOrderID: x.nextClientOrderID(),
	})
	if err != nil {
		return journal.TradeRecord{}, false, fmt.Errorf("%w: %s %s $%s: %w", ErrOrderSubmissionFailed, side, symbol, notional.StringFixed(2), err)
	}

	record = journal.TradeRecord{
		Timestamp: x.now().UTC(),
		Symbol:    symbol,
		Side:      string(side),
		Notional:  notional,
	}
	x.journal.Append(record)
	x.logger.Info(fmt.Sprintf("%s order placed for %s at $%s", strings.ToUpper(string(side)), symbol, notional.StringFixed(2)),
		zap.String("decision", string(decision)),
		zap.String("order_id", ref.ID),
		zap.String("client_order_id", ref.ClientOrderID),
		zap.String("status", ref.Status),
	)
	return record, true, nil
}

// notional sizes entries from configuration and exits from the marked value
// of the whole position. Exits round down so they never exceed the holding.
func (x *Executor) notional(decision strategy.Decision, pos Position, price float64) decimal.Decimal {
	if decision == strategy.Enter {
		return x.orderSize.Round(2)
	}
	return decimal.NewFromFloat(pos.Qty).Mul(decimal.NewFromFloat(price)).Truncate(2)
}

func (x *Executor) nextClientOrderID() string {
	seq := atomic.AddUint64(&x.orderSeqNum, 1)
	return fmt.Sprintf("%s-%d", x.runID, seq)
}

func alpacaSide(side strategy.Side) alpaca.Side {
	if side == strategy.Sell {
		return alpaca.Sell
	}
	return alpaca.Buy
}
