// Package equity tracks the daily cash/position bookkeeping of a simulation
// run and derives its performance statistics: drawdowns, monthly and annual
// gains, trade expectancy and the compact thumbnail encoding of the curve.
package equity

import (
	"math"
	"time"
)

// Div is the safe division used throughout the statistics: 0/0 is 0, and
// n/0 for nonzero n is NaN. NaN marks an undefined statistic and maps to a
// NULL column when persisted; it never panics and never becomes +Inf.
func Div(n, d float64) float64 {
	if n == 0 {
		return 0
	}
	if d == 0 {
		return math.NaN()
	}
	return n / d
}

// Series is a dated value series with aligned date and value slices.
// Appends must be in chronological order; the simulation loop feeds it one
// trading day at a time.
type Series struct {
	dates  []time.Time
	values []float64
}

func NewSeries() *Series { return &Series{} }

func (s *Series) Append(date time.Time, value float64) {
	s.dates = append(s.dates, date)
	s.values = append(s.values, value)
}

func (s *Series) Len() int           { return len(s.values) }
func (s *Series) Date(i int) time.Time { return s.dates[i] }
func (s *Series) Value(i int) float64  { return s.values[i] }

// Last returns the most recent value, or 0 on an empty series.
func (s *Series) Last() float64 {
	if len(s.values) == 0 {
		return 0
	}
	return s.values[len(s.values)-1]
}

// Values returns the underlying value slice. Callers must not modify it.
func (s *Series) Values() []float64 { return s.values }

// ROC returns the n-day rate of change in percent for every index i >= n:
// 100 * (v[i]/v[i-n] - 1). The result has Len()-n entries, dated from
// index n onward.
func (s *Series) ROC(n int) *Series {
	out := NewSeries()
	for i := n; i < len(s.values); i++ {
		out.Append(s.dates[i], 100*(s.values[i]/s.values[i-n]-1))
	}
	return out
}

// drawdownOf returns the largest peak-to-trough drop in values, in percent.
// A monotonically rising window returns 0.
func drawdownOf(values []float64) float64 {
	maxDD := 1.0
	high := 0.0
	for _, v := range values {
		if v > high {
			high = v
		} else if high > 0 {
			if dd := v / high; dd < maxDD {
				maxDD = dd
			}
		}
	}
	return 100 * (1 - maxDD)
}

// Drawdown returns the largest drawdown over the whole series, in percent.
func (s *Series) Drawdown() float64 { return drawdownOf(s.values) }

// RollingDrawdown returns, for each date, the largest drawdown over the
// trailing n values (fewer at the start of the series).
func (s *Series) RollingDrawdown(n int) []float64 {
	out := make([]float64, len(s.values))
	for i := range s.values {
		lo := i - n + 1
		if lo < 0 {
			lo = 0
		}
		out[i] = drawdownOf(s.values[lo : i+1])
	}
	return out
}

// MonthlyGains returns the percent gain of each calendar month, dated on the
// last trading day of the month. The first and last partial months count as
// months.
func (s *Series) MonthlyGains() *Series {
	out := NewSeries()
	if len(s.values) == 0 {
		return out
	}
	start := s.values[0]
	last := len(s.values) - 1
	for i, v := range s.values {
		boundary := i == last || i == 0 || s.dates[i].Month() != s.dates[i+1].Month()
		if boundary {
			out.Append(s.dates[i], 100*(v/start-1))
			start = v
		}
	}
	return out
}
