package equity

import (
	"math"
	"time"
)

// tradingYear is the average number of trading days in a year.
const tradingYear = 252

// Ledger maintains the daily equity history of one simulation run: cash,
// position value and their total. It is exclusively owned by its run and
// never shared across goroutines.
type Ledger struct {
	startCash float64
	Cash      *Series
	Positions *Series
	Total     *Series
}

func NewLedger(startCash float64) *Ledger {
	return &Ledger{
		startCash: startCash,
		Cash:      NewSeries(),
		Positions: NewSeries(),
		Total:     NewSeries(),
	}
}

// Update records the equity position on date. Cash carries over from the
// previous day plus the day's net cashflow; total is always cash plus the
// marked position value.
func (l *Ledger) Update(date time.Time, cashflow, positionsValue float64) {
	cash := l.startCash
	if l.Cash.Len() > 0 {
		cash = l.Cash.Last()
	}
	cash += cashflow
	l.Cash.Append(date, cash)
	l.Positions.Append(date, positionsValue)
	l.Total.Append(date, cash+positionsValue)
}

// Percentage returns the total equity scaled so the starting capital is 100.
func (l *Ledger) Percentage() *Series {
	out := NewSeries()
	if l.Total.Len() == 0 {
		return out
	}
	factor := 100 / l.Total.Value(0)
	for i := 0; i < l.Total.Len(); i++ {
		out.Append(l.Total.Date(i), l.Total.Value(i)*factor)
	}
	return out
}

// Results holds the equity-curve statistics of a finished run. All values
// are percentages clamped to [-999, 999] (max drawdown to 99).
type Results struct {
	MaxDD        float64 // largest 1-year rolling drawdown
	MinDDRatio   float64 // lowest 1-year gain / 1-year drawdown
	AnnProfit    float64 // annualised profit
	MinYear      float64 // worst 1-year rolling gain
	MaxYear      float64 // best 1-year rolling gain
	MinMonth     float64 // worst calendar month
	MaxMonth     float64 // best calendar month
	NNegMonth    float64 // negative months per year
	SumNegMonths float64 // annualised sum of negative-month losses
}

// Results computes the drawdown and periodic-gain statistics over the full
// equity history.
func (l *Ledger) Results() Results {
	res := Results{MaxDD: 0, MinDDRatio: 999.99}

	yearGains := l.Total.ROC(tradingYear)
	if yearGains.Len() > 0 {
		res.MinYear = minOf(yearGains.Values())
		res.MaxYear = maxOf(yearGains.Values())
	}

	drawdowns := l.Total.RollingDrawdown(tradingYear)
	for i := 0; i < yearGains.Len(); i++ {
		dd := drawdowns[i+tradingYear]
		if dd > res.MaxDD {
			res.MaxDD = dd
		}
		ratio := Div(yearGains.Value(i), dd)
		if !math.IsNaN(ratio) && ratio < res.MinDDRatio {
			res.MinDDRatio = ratio
		}
	}

	if l.Total.Len() > 1 {
		totalGain := math.Max(0, l.Total.Last()/l.Total.Value(0))
		days := l.Total.Date(l.Total.Len()-1).Sub(l.Total.Date(0)).Hours() / 24
		res.AnnProfit = 100 * (math.Pow(totalGain, 365/days) - 1)
	}

	months := l.Total.MonthlyGains()
	if months.Len() > 0 {
		res.MinMonth = minOf(months.Values())
		res.MaxMonth = maxOf(months.Values())
		var negSum float64
		var negCount int
		for _, g := range months.Values() {
			if g < 0 {
				negSum += g
				negCount++
			}
		}
		res.NNegMonth = 12 * float64(negCount) / float64(months.Len())
		res.SumNegMonths = 12 * negSum / float64(months.Len())
	}

	res.MaxDD = math.Min(res.MaxDD, 99)
	for _, p := range []*float64{
		&res.AnnProfit, &res.SumNegMonths, &res.MinYear, &res.MaxYear,
		&res.MinMonth, &res.MaxMonth, &res.MinDDRatio,
	} {
		*p = clamp(*p, -999, 999)
	}
	return res
}

// clamp limits v to [lo, hi], passing NaN through unchanged.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
