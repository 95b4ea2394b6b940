package strategy

import "math"

type Decision string

const (
	Hold           Decision = "HOLD"
	Enter          Decision = "ENTER"
	ExitStopLoss   Decision = "EXIT_STOP_LOSS"
	ExitTakeProfit Decision = "EXIT_TAKE_PROFIT"
	ExitSignal     Decision = "EXIT_SIGNAL"
)

func (d Decision) IsExit() bool {
	return d == ExitStopLoss || d == ExitTakeProfit || d == ExitSignal
}

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Side returns the order side a decision trades on. ok is false for HOLD.
func (d Decision) Side() (Side, bool) {
	switch {
	case d == Enter:
		return Buy, true
	case d.IsExit():
		return Sell, true
	default:
		return "", false
	}
}

// Snapshot is everything a decision is computed from. RSI is NaN when the
// indicator had no signal this cycle.
type Snapshot struct {
	Symbol      string
	Price       float64
	RSI         float64
	PositionQty float64
	EntryPrice  float64
}

func (s Snapshot) Flat() bool {
	return s.PositionQty <= 0
}

func (s Snapshot) HasRSI() bool {
	return !math.IsNaN(s.RSI)
}

type Strategy interface {
	Decide(snapshot Snapshot) Decision
}
