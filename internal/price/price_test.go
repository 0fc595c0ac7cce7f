package price

import (
	"math"
	"testing"
	"time"

	"backsim/internal/domain"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// flatBars builds n daily bars with constant prices, starting 2024-01-02.
func flatBars(symbol string, n int, open, high, low, clos float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	d := day("2024-01-02")
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol: symbol, Date: d,
			Open: open, High: high, Low: low, Close: clos, Volume: 1000,
		}
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func TestQuotesIndexAndBar(t *testing.T) {
	q := NewQuotes("SPY", flatBars("SPY", 5, 10, 11, 9, 10.5))
	if q.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", q.Len())
	}
	i, ok := q.Index(day("2024-01-04"))
	if !ok || i != 2 {
		t.Fatalf("Index(2024-01-04) = %d, %v, want 2, true", i, ok)
	}
	if _, ok := q.Bar(day("2024-02-01")); ok {
		t.Error("Bar on a missing day should report no bar")
	}
	b, ok := q.Bar(day("2024-01-02"))
	if !ok || b.Close != 10.5 {
		t.Errorf("Bar(2024-01-02) = %+v, %v", b, ok)
	}
}

func TestSMA(t *testing.T) {
	bars := flatBars("X", 5, 0, 0, 0, 0)
	closes := []float64{10, 20, 30, 40, 50}
	for i := range bars {
		bars[i].Close = closes[i]
	}
	q := NewQuotes("X", bars)

	sma := q.SMA(3)
	if !math.IsNaN(sma[0]) || !math.IsNaN(sma[1]) {
		t.Error("SMA before the lookback fills should be NaN")
	}
	want := []float64{20, 30, 40}
	for i, w := range want {
		if !almost(sma[i+2], w) {
			t.Errorf("SMA[%d] = %v, want %v", i+2, sma[i+2], w)
		}
	}
}

func TestROC(t *testing.T) {
	bars := flatBars("X", 3, 0, 0, 0, 0)
	for i, c := range []float64{100, 110, 121} {
		bars[i].Close = c
	}
	q := NewQuotes("X", bars)

	if !math.IsNaN(q.ROC(5, 2)) {
		t.Error("ROC with insufficient history should be NaN")
	}
	if got := q.ROC(1, 2); !almost(got, 10) {
		t.Errorf("ROC(1, 2) = %v, want 10", got)
	}
	if got := q.ROC(2, 2); !almost(got, 21) {
		t.Errorf("ROC(2, 2) = %v, want 21", got)
	}
}

func TestATR(t *testing.T) {
	bars := flatBars("X", 4, 10, 12, 9, 10)
	q := NewQuotes("X", bars)
	atr := q.ATR(2)
	if !math.IsNaN(atr[0]) {
		t.Error("ATR[0] should be NaN for n=2")
	}
	// Constant bars: true range is high-low = 3 every day.
	for i := 1; i < len(atr); i++ {
		if !almost(atr[i], 3) {
			t.Errorf("ATR[%d] = %v, want 3", i, atr[i])
		}
	}
}

func TestChannelFlat(t *testing.T) {
	q := NewQuotes("X", flatBars("X", 30, 10, 11, 10, 10.5))
	channels := q.Channels(21)

	if channels[10].Valid() {
		t.Error("channel before the lookback fills should be invalid")
	}
	c := channels[25]
	if !c.Valid() {
		t.Fatal("channel after the lookback fills should be valid")
	}
	if !almost(c.Angle, 0) {
		t.Errorf("flat channel angle = %v, want 0", c.Angle)
	}
	if !almost(c.Width, 10) {
		t.Errorf("flat channel width = %v, want 10", c.Width)
	}
	if !almost(c.Bottom, 10) {
		t.Errorf("flat channel bottom = %v, want 10", c.Bottom)
	}
}

func TestChannelSteadyRise(t *testing.T) {
	// 1% daily growth with zero-height bars: a zero-width rising channel.
	bars := make([]domain.Bar, 40)
	d := day("2024-01-02")
	v := 100.0
	for i := range bars {
		bars[i] = domain.Bar{Symbol: "X", Date: d, Open: v, High: v, Low: v, Close: v, Volume: 1}
		d = d.AddDate(0, 0, 1)
		v *= 1.01
	}
	q := NewQuotes("X", bars)
	c := q.Channels(21)[30]
	if !c.Valid() {
		t.Fatal("channel should be valid")
	}
	wantAngle := 100 * (math.Pow(1.01, 252) - 1)
	if math.Abs(c.Angle-wantAngle) > 1e-6 {
		t.Errorf("angle = %v, want %v", c.Angle, wantAngle)
	}
	if math.Abs(c.Width) > 1e-6 {
		t.Errorf("width = %v, want 0", c.Width)
	}
}

func TestHistoryCalendar(t *testing.T) {
	h, err := NewHistory("SPY", map[string][]domain.Bar{
		"SPY":  flatBars("SPY", 10, 10, 11, 9, 10),
		"AAPL": flatBars("AAPL", 10, 20, 21, 19, 20),
	})
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}
	if got := h.Symbols(); len(got) != 1 || got[0] != "AAPL" {
		t.Errorf("Symbols() = %v, want [AAPL]", got)
	}
	dates := h.Dates(day("2024-01-03"), day("2024-01-05"))
	if len(dates) != 3 {
		t.Fatalf("Dates() returned %d days, want 3", len(dates))
	}
	if got := h.DayCount(day("2024-01-02"), day("2024-01-05")); got != 3 {
		t.Errorf("DayCount = %d, want 3", got)
	}
}

func TestHistoryMissingIndex(t *testing.T) {
	_, err := NewHistory("SPY", map[string][]domain.Bar{
		"AAPL": flatBars("AAPL", 5, 20, 21, 19, 20),
	})
	if err == nil {
		t.Fatal("NewHistory without index data should fail")
	}
}

func TestParquetStoreRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), "us")

	records := []BarRecord{
		{Symbol: "SPY", Timestamp: day("2024-01-02").UnixMilli(), Open: 470, High: 472, Low: 469, Close: 471, Volume: 100},
		{Symbol: "SPY", Timestamp: day("2024-01-03").UnixMilli(), Open: 471, High: 474, Low: 470, Close: 473, Volume: 110},
	}
	if err := s.WriteBars(records); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	// Overwrite one day, add another.
	update := []BarRecord{
		{Symbol: "SPY", Timestamp: day("2024-01-03").UnixMilli(), Open: 471, High: 475, Low: 470, Close: 474, Volume: 120},
		{Symbol: "SPY", Timestamp: day("2024-01-04").UnixMilli(), Open: 474, High: 476, Low: 473, Close: 475, Volume: 130},
	}
	if err := s.WriteBars(update); err != nil {
		t.Fatalf("WriteBars update: %v", err)
	}

	bars, err := s.ReadBars("SPY", day("2024-01-01"), day("2024-01-31"))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("ReadBars returned %d bars, want 3", len(bars))
	}
	if bars[1].Close != 474 {
		t.Errorf("merged close = %v, want the updated 474", bars[1].Close)
	}

	symbols, err := s.ListSymbols()
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 1 || symbols[0] != "SPY" {
		t.Errorf("ListSymbols() = %v, want [SPY]", symbols)
	}
}
