package engine

import (
	"context"
	"errors"
	"fmt"
)

var ErrPositionQueryFailed = errors.New("position query failed")

// Position is a transient read of the broker's holding for one symbol.
type Position struct {
	Symbol   string
	Qty      float64
	AvgEntry float64
}

func (p Position) Flat() bool {
	return p.Qty == 0
}

type PositionTracker struct {
	broker Brokerage
}

func NewPositionTracker(broker Brokerage) *PositionTracker {
	return &PositionTracker{broker: broker}
}

// Get reads the current holding. No open position is a flat Position, not an
// error.
func (t *PositionTracker) Get(ctx context.Context, symbol string) (Position, error) {
	pos, found, err := t.broker.OpenPosition(ctx, symbol)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %s: %w", ErrPositionQueryFailed, symbol, err)
	}
	if !found {
		return Position{Symbol: symbol}, nil
	}
	if pos.Qty < 0 {
		return Position{}, fmt.Errorf("%w: %s: unexpected short position qty=%v", ErrPositionQueryFailed, symbol, pos.Qty)
	}
	return Position{Symbol: symbol, Qty: pos.Qty, AvgEntry: pos.AvgEntry}, nil
}
