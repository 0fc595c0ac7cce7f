package price

import "math"

// Indicator results are full-length slices aligned with the quote dates.
// Entries before the lookback has filled are NaN; rules treat NaN as "not
// enough history" and skip the instrument.

// SMA returns the n-day simple moving average of the closes. Cached per
// lookback.
func (q *Quotes) SMA(n int) []float64 {
	if cached, ok := q.sma[n]; ok {
		return cached
	}
	out := make([]float64, len(q.closes))
	var sum float64
	for i, c := range q.closes {
		sum += c
		if i < n-1 {
			out[i] = math.NaN()
			continue
		}
		if i >= n {
			sum -= q.closes[i-n]
		}
		out[i] = sum / float64(n)
	}
	q.sma[n] = out
	return out
}

// ATR returns the n-day average true range. True range spans today's
// high/low extended to yesterday's close. Cached per lookback.
func (q *Quotes) ATR(n int) []float64 {
	if cached, ok := q.atr[n]; ok {
		return cached
	}
	tr := make([]float64, len(q.closes))
	for i := range q.closes {
		hi, lo := q.highs[i], q.lows[i]
		if i > 0 {
			prev := q.closes[i-1]
			hi = math.Max(hi, prev)
			lo = math.Min(lo, prev)
		}
		tr[i] = hi - lo
	}
	out := make([]float64, len(tr))
	var sum float64
	for i, v := range tr {
		sum += v
		if i < n-1 {
			out[i] = math.NaN()
			continue
		}
		if i >= n {
			sum -= tr[i-n]
		}
		out[i] = sum / float64(n)
	}
	q.atr[n] = out
	return out
}

// ROC returns the n-day rate of change of the close at index i, in percent.
// NaN if the history does not reach back n days.
func (q *Quotes) ROC(n, i int) float64 {
	if i < n {
		return math.NaN()
	}
	return 100 * (q.closes[i]/q.closes[i-n] - 1)
}

// HighestClose returns the highest close over indices [from, to].
func (q *Quotes) HighestClose(from, to int) float64 {
	if from < 0 {
		from = 0
	}
	m := q.closes[from]
	for i := from + 1; i <= to; i++ {
		if q.closes[i] > m {
			m = q.closes[i]
		}
	}
	return m
}

// LowestClose returns the lowest close over indices [from, to].
func (q *Quotes) LowestClose(from, to int) float64 {
	if from < 0 {
		from = 0
	}
	m := q.closes[from]
	for i := from + 1; i <= to; i++ {
		if q.closes[i] < m {
			m = q.closes[i]
		}
	}
	return m
}
