// Package price provides the in-memory price history a simulation runs
// against: per-symbol daily quotes with indicator methods, and the trading
// calendar derived from the index symbol. All data is loaded up front so the
// simulation loop never touches disk.
package price

import (
	"fmt"
	"sort"
	"time"

	"backsim/internal/domain"
)

// dayKey collapses a date to a map key, ignoring the time of day.
func dayKey(t time.Time) int64 {
	y, m, d := t.Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}

// Quotes holds the daily bars of one symbol in chronological order, with
// cached indicators. Quotes are read-only after construction and safe to
// share across simulation runs.
type Quotes struct {
	Symbol string

	dates   []time.Time
	pos     map[int64]int
	opens   []float64
	highs   []float64
	lows    []float64
	closes  []float64
	volumes []int64

	sma      map[int][]float64
	atr      map[int][]float64
	channels map[int][]Channel
}

// NewQuotes builds quotes from bars, sorting them by date.
func NewQuotes(symbol string, bars []domain.Bar) *Quotes {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	q := &Quotes{
		Symbol:   symbol,
		pos:      make(map[int64]int, len(sorted)),
		sma:      make(map[int][]float64),
		atr:      make(map[int][]float64),
		channels: make(map[int][]Channel),
	}
	for i, b := range sorted {
		q.dates = append(q.dates, b.Date)
		q.pos[dayKey(b.Date)] = i
		q.opens = append(q.opens, b.Open)
		q.highs = append(q.highs, b.High)
		q.lows = append(q.lows, b.Low)
		q.closes = append(q.closes, b.Close)
		q.volumes = append(q.volumes, b.Volume)
	}
	return q
}

func (q *Quotes) Len() int { return len(q.dates) }

// Index returns the position of date in the quote history.
func (q *Quotes) Index(date time.Time) (int, bool) {
	i, ok := q.pos[dayKey(date)]
	return i, ok
}

func (q *Quotes) DateAt(i int) time.Time { return q.dates[i] }
func (q *Quotes) OpenAt(i int) float64   { return q.opens[i] }
func (q *Quotes) HighAt(i int) float64   { return q.highs[i] }
func (q *Quotes) LowAt(i int) float64    { return q.lows[i] }
func (q *Quotes) CloseAt(i int) float64  { return q.closes[i] }

// Bar returns the bar on date, if the symbol traded that day.
func (q *Quotes) Bar(date time.Time) (domain.Bar, bool) {
	i, ok := q.Index(date)
	if !ok {
		return domain.Bar{}, false
	}
	return domain.Bar{
		Symbol: q.Symbol,
		Date:   q.dates[i],
		Open:   q.opens[i],
		High:   q.highs[i],
		Low:    q.lows[i],
		Close:  q.closes[i],
		Volume: q.volumes[i],
	}, true
}

// Close returns the closing price on date.
func (q *Quotes) Close(date time.Time) (float64, bool) {
	i, ok := q.Index(date)
	if !ok {
		return 0, false
	}
	return q.closes[i], true
}

// CloseAsOf returns the last closing price at or before date. Used to mark
// positions on days the instrument did not trade.
func (q *Quotes) CloseAsOf(date time.Time) (float64, bool) {
	if i, ok := q.Index(date); ok {
		return q.closes[i], true
	}
	n := sort.Search(len(q.dates), func(i int) bool { return q.dates[i].After(date) })
	if n == 0 {
		return 0, false
	}
	return q.closes[n-1], true
}

// History is the complete price universe of a simulation: one Quotes per
// symbol plus the index symbol whose dates define the trading calendar.
type History struct {
	index   *Quotes
	quotes  map[string]*Quotes
	symbols []string
}

// NewHistory builds a history from per-symbol bars. indexSymbol must be one
// of the keys; its dates become the trading calendar.
func NewHistory(indexSymbol string, bars map[string][]domain.Bar) (*History, error) {
	h := &History{quotes: make(map[string]*Quotes, len(bars))}
	for symbol, b := range bars {
		h.quotes[symbol] = NewQuotes(symbol, b)
		if symbol != indexSymbol {
			h.symbols = append(h.symbols, symbol)
		}
	}
	sort.Strings(h.symbols)
	idx, ok := h.quotes[indexSymbol]
	if !ok {
		return nil, fmt.Errorf("index symbol %s has no price data", indexSymbol)
	}
	if idx.Len() == 0 {
		return nil, fmt.Errorf("index symbol %s has an empty price history", indexSymbol)
	}
	h.index = idx
	return h, nil
}

// Index returns the quotes of the calendar-defining index symbol.
func (h *History) Index() *Quotes { return h.index }

// Symbols returns the tradeable symbols in sorted order, index excluded.
func (h *History) Symbols() []string { return h.symbols }

// Quotes returns the quote history for symbol.
func (h *History) Quotes(symbol string) (*Quotes, bool) {
	q, ok := h.quotes[symbol]
	return q, ok
}

// Bar returns the bar of symbol on date; missing days report no bar.
func (h *History) Bar(symbol string, date time.Time) (domain.Bar, bool) {
	q, ok := h.quotes[symbol]
	if !ok {
		return domain.Bar{}, false
	}
	return q.Bar(date)
}

// Dates returns the trading days in [from, to] per the index calendar.
func (h *History) Dates(from, to time.Time) []time.Time {
	var out []time.Time
	for _, d := range h.index.dates {
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// DayCount returns the number of trading days from one date to another,
// counted on the index calendar. Dates off the calendar fall back to a
// calendar-week approximation.
func (h *History) DayCount(from, to time.Time) int {
	i, ok1 := h.index.Index(from)
	j, ok2 := h.index.Index(to)
	if ok1 && ok2 {
		return j - i
	}
	return int(to.Sub(from).Hours() / 24 * 5 / 7)
}
