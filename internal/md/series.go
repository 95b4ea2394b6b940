package md

import (
	"slices"
	"time"
)

// Point is a single closing price sample.
type Point struct {
	Time  time.Time
	Close float64
}

// PriceSeries is a chronological run of closes for one symbol with no
// duplicate timestamps.
type PriceSeries struct {
	Symbol string
	Points []Point
}

// NewPriceSeries sorts points by time and drops duplicate timestamps, keeping
// the sample that arrived last.
func NewPriceSeries(symbol string, points []Point) PriceSeries {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	slices.SortStableFunc(sorted, func(a, b Point) int {
		return a.Time.Compare(b.Time)
	})

	out := sorted[:0]
	for _, p := range sorted {
		if n := len(out); n > 0 && out[n-1].Time.Equal(p.Time) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return PriceSeries{Symbol: symbol, Points: out}
}

func (s PriceSeries) Len() int {
	return len(s.Points)
}

func (s PriceSeries) Closes() []float64 {
	closes := make([]float64, len(s.Points))
	for i, p := range s.Points {
		closes[i] = p.Close
	}
	return closes
}

// Last returns the most recent point. ok is false for an empty series.
func (s PriceSeries) Last() (Point, bool) {
	if len(s.Points) == 0 {
		return Point{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Tail returns a series holding at most the n most recent points.
func (s PriceSeries) Tail(n int) PriceSeries {
	if n >= len(s.Points) || n < 0 {
		return s
	}
	return PriceSeries{Symbol: s.Symbol, Points: s.Points[len(s.Points)-n:]}
}
