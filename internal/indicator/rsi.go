// Package indicator computes the relative strength index over a PriceSeries.
//
// Readings are NaN when the window saw no price movement at all; callers must
// treat that as "no signal".
package indicator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"rsibot/internal/md"
)

var ErrInsufficientData = errors.New("insufficient data")

// Value is one RSI reading for the latest point of a series.
type Value struct {
	Symbol string
	Time   time.Time
	RSI    float64
}

func (v Value) Defined() bool {
	return !math.IsNaN(v.RSI)
}

// Func computes an RSI reading from a series.
type Func func(series md.PriceSeries, period int) (Value, error)

type Smoothing string

const (
	SmoothingSimple Smoothing = "simple"
	SmoothingWilder Smoothing = "wilder"
)

func ForSmoothing(s Smoothing) (Func, error) {
	switch s {
	case SmoothingSimple, "":
		return RSI, nil
	case SmoothingWilder:
		return WilderRSI, nil
	default:
		return nil, fmt.Errorf("unsupported rsi smoothing: %s", s)
	}
}

// RSI averages gains and losses of the last period deltas with a simple
// moving average.
func RSI(series md.PriceSeries, period int) (Value, error) {
	last, err := checkSeries(series, period)
	if err != nil {
		return Value{}, err
	}

	gains, losses := deltas(series.Tail(period + 1).Closes())
	avgGain := talib.Sma(gains, period)[period-1]
	avgLoss := talib.Sma(losses, period)[period-1]

	return Value{Symbol: series.Symbol, Time: last.Time, RSI: fromAverages(avgGain, avgLoss)}, nil
}

// WilderRSI uses Wilder smoothing across the whole series, the way most
// charting packages report RSI.
func WilderRSI(series md.PriceSeries, period int) (Value, error) {
	last, err := checkSeries(series, period)
	if err != nil {
		return Value{}, err
	}
	if period < 2 {
		return Value{}, fmt.Errorf("wilder rsi period must be > 1, got %d", period)
	}

	closes := series.Closes()
	value := Value{Symbol: series.Symbol, Time: last.Time, RSI: math.NaN()}
	if !moved(closes) {
		return value, nil
	}
	out := talib.Rsi(closes, period)
	value.RSI = out[len(out)-1]
	return value, nil
}

func checkSeries(series md.PriceSeries, period int) (md.Point, error) {
	if period < 1 {
		return md.Point{}, fmt.Errorf("rsi period must be positive, got %d", period)
	}
	if series.Len() <= period {
		return md.Point{}, fmt.Errorf("%w: %s has %d points, need %d", ErrInsufficientData, series.Symbol, series.Len(), period+1)
	}
	last, _ := series.Last()
	return last, nil
}

func deltas(closes []float64) (gains, losses []float64) {
	gains = make([]float64, 0, len(closes)-1)
	losses = make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gains = append(gains, math.Max(delta, 0))
		losses = append(losses, math.Max(-delta, 0))
	}
	return gains, losses
}

func fromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return math.NaN()
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func moved(closes []float64) bool {
	for i := 1; i < len(closes); i++ {
		if closes[i] != closes[i-1] {
			return true
		}
	}
	return false
}
