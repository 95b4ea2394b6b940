package strategy

import "github.com/shopspring/decimal"

// Thresholds configure RSIReversion. StopLoss and TakeProfit are fractions of
// the average entry price.
type Thresholds struct {
	EntryRSI   float64
	ExitRSI    float64
	StopLoss   float64
	TakeProfit float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		EntryRSI:   40,
		ExitRSI:    60,
		StopLoss:   0.05,
		TakeProfit: 0.10,
	}
}

// RSIReversion buys oversold symbols and exits on a stop, a profit target or
// an overbought reading, checked in that order.
type RSIReversion struct {
	Thresholds Thresholds
}

func NewRSIReversion(t Thresholds) RSIReversion {
	return RSIReversion{Thresholds: t}
}

func (r RSIReversion) Decide(snapshot Snapshot) Decision {
	if snapshot.Flat() {
		if snapshot.HasRSI() && snapshot.RSI < r.Thresholds.EntryRSI {
			return Enter
		}
		return Hold
	}

	// Price levels are compared in decimal so that 100 * 1.10 is exactly 110.
	price := decimal.NewFromFloat(snapshot.Price)
	if price.LessThanOrEqual(r.stopLevel(snapshot.EntryPrice)) {
		return ExitStopLoss
	}
	if price.GreaterThanOrEqual(r.takeProfitLevel(snapshot.EntryPrice)) {
		return ExitTakeProfit
	}
	if snapshot.HasRSI() && snapshot.RSI > r.Thresholds.ExitRSI {
		return ExitSignal
	}
	return Hold
}

func (r RSIReversion) StopPrice(entry float64) float64 {
	return r.stopLevel(entry).InexactFloat64()
}

func (r RSIReversion) TakeProfitPrice(entry float64) float64 {
	return r.takeProfitLevel(entry).InexactFloat64()
}

func (r RSIReversion) stopLevel(entry float64) decimal.Decimal {
	return decimal.NewFromFloat(entry).Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(r.Thresholds.StopLoss)))
}

func (r RSIReversion) takeProfitLevel(entry float64) decimal.Decimal {
	return decimal.NewFromFloat(entry).Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(r.Thresholds.TakeProfit)))
}
