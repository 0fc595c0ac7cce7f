package equity

import (
	"errors"
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

func TestDiv(t *testing.T) {
	tests := []struct {
		name string
		n, d float64
		want float64
		nan  bool
	}{
		{"normal", 10, 4, 2.5, false},
		{"zero numerator", 0, 0, 0, false},
		{"zero numerator nonzero denom", 0, 5, 0, false},
		{"undefined", 5, 0, 0, true},
		{"negative", -9, 3, -3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Div(tt.n, tt.d)
			if tt.nan {
				if !math.IsNaN(got) {
					t.Errorf("Div(%v, %v) = %v, want NaN", tt.n, tt.d, got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Div(%v, %v) = %v, want %v", tt.n, tt.d, got, tt.want)
			}
		})
	}
}

func TestSeriesROC(t *testing.T) {
	s := NewSeries()
	dates := []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"}
	values := []float64{100, 110, 121, 133.1}
	for i, d := range dates {
		s.Append(day(d), values[i])
	}

	roc := s.ROC(1)
	if roc.Len() != 3 {
		t.Fatalf("ROC(1).Len() = %d, want 3", roc.Len())
	}
	for i := 0; i < roc.Len(); i++ {
		if !almost(roc.Value(i), 10) {
			t.Errorf("ROC value[%d] = %v, want 10", i, roc.Value(i))
		}
	}
	if !roc.Date(0).Equal(day("2024-01-03")) {
		t.Errorf("ROC starts at %v, want 2024-01-03", roc.Date(0))
	}
}

func TestSeriesDrawdown(t *testing.T) {
	s := NewSeries()
	for i, v := range []float64{100, 120, 90, 110, 80} {
		s.Append(day("2024-01-02").AddDate(0, 0, i), v)
	}
	// Peak 120, trough 80.
	want := 100 * (1 - 80.0/120)
	if got := s.Drawdown(); !almost(got, want) {
		t.Errorf("Drawdown() = %v, want %v", got, want)
	}

	rising := NewSeries()
	for i, v := range []float64{100, 110, 120} {
		rising.Append(day("2024-01-02").AddDate(0, 0, i), v)
	}
	if got := rising.Drawdown(); got != 0 {
		t.Errorf("Drawdown() of rising series = %v, want 0", got)
	}
}

func TestSeriesMonthlyGains(t *testing.T) {
	s := NewSeries()
	s.Append(day("2024-01-30"), 100)
	s.Append(day("2024-01-31"), 102)
	s.Append(day("2024-02-01"), 104)
	s.Append(day("2024-02-29"), 110)
	s.Append(day("2024-03-01"), 99)

	months := s.MonthlyGains()
	// Boundaries: first day, end of Jan, end of Feb, last day.
	if months.Len() != 4 {
		t.Fatalf("MonthlyGains().Len() = %d, want 4", months.Len())
	}
	if !almost(months.Value(1), 2) {
		t.Errorf("January gain = %v, want 2", months.Value(1))
	}
	febGain := 100 * (110.0/102 - 1)
	if !almost(months.Value(2), febGain) {
		t.Errorf("February gain = %v, want %v", months.Value(2), febGain)
	}
	if months.Value(3) >= 0 {
		t.Errorf("March gain = %v, want negative", months.Value(3))
	}
}

func TestLedgerInvariant(t *testing.T) {
	l := NewLedger(10000)
	l.Update(day("2024-01-02"), 0, 0)
	l.Update(day("2024-01-03"), -5790.40, 5800) // bought 10 @ 579.04, close 580
	l.Update(day("2024-01-04"), 0, 5900)
	l.Update(day("2024-01-05"), 5841.20, 0) // sold 10 @ 584.12

	for i := 0; i < l.Total.Len(); i++ {
		total := l.Cash.Value(i) + l.Positions.Value(i)
		if !almost(l.Total.Value(i), total) {
			t.Errorf("day %d: total = %v, cash+positions = %v", i, l.Total.Value(i), total)
		}
	}
	wantFinal := 10000 + 10*(584.12-579.04)
	if !almost(l.Total.Last(), wantFinal) {
		t.Errorf("final equity = %v, want %v", l.Total.Last(), wantFinal)
	}
}

func TestLedgerPercentage(t *testing.T) {
	l := NewLedger(2000)
	l.Update(day("2024-01-02"), 0, 0)
	l.Update(day("2024-01-03"), 200, 0)

	pct := l.Percentage()
	if pct.Value(0) != 100 {
		t.Errorf("first percentage = %v, want 100", pct.Value(0))
	}
	if !almost(pct.Value(1), 110) {
		t.Errorf("second percentage = %v, want 110", pct.Value(1))
	}
}

func TestLedgerResultsShortSeries(t *testing.T) {
	l := NewLedger(100)
	l.Update(day("2021-01-01"), 0, 0)
	l.Update(day("2022-01-01"), 10, 0)

	res := l.Results()
	if !almost(res.AnnProfit, 10) {
		t.Errorf("AnnProfit = %v, want 10", res.AnnProfit)
	}
	// Less than a trading year of data: rolling-year stats stay at defaults.
	if res.MaxDD != 0 {
		t.Errorf("MaxDD = %v, want 0", res.MaxDD)
	}
	if res.MinDDRatio != 999.99 {
		t.Errorf("MinDDRatio = %v, want 999.99", res.MinDDRatio)
	}
	if res.MinYear != 0 || res.MaxYear != 0 {
		t.Errorf("year gains = %v/%v, want 0/0", res.MinYear, res.MaxYear)
	}
}

func TestTradeLogPerformance(t *testing.T) {
	long := domain.Method{Name: "l", Direction: domain.Long}
	l := NewTradeLog()
	// Profits: +10, -5, +15, -4.
	l.Append(domain.Trade{Method: long, EntryPrice: 100, ExitPrice: 110}, 5)
	l.Append(domain.Trade{Method: long, EntryPrice: 100, ExitPrice: 95}, 3)
	l.Append(domain.Trade{Method: long, EntryPrice: 100, ExitPrice: 115}, 7)
	l.Append(domain.Trade{Method: long, EntryPrice: 100, ExitPrice: 96}, 5)

	p := l.Performance(day("2021-01-01"), day("2022-01-01"), 2)

	if p.NTrades != 4 {
		t.Fatalf("NTrades = %d, want 4", p.NTrades)
	}
	if p.MaxWin != 15 || p.MaxLoss != 5 {
		t.Errorf("MaxWin/MaxLoss = %v/%v, want 15/5", p.MaxWin, p.MaxLoss)
	}
	if p.MaxNWin != 1 || p.MaxNLoss != 1 {
		t.Errorf("MaxNWin/MaxNLoss = %d/%d, want 1/1", p.MaxNWin, p.MaxNLoss)
	}
	if !almost(p.Reliability, 50) {
		t.Errorf("Reliability = %v, want 50", p.Reliability)
	}
	if !almost(p.ProfitFact, 25.0/9) {
		t.Errorf("ProfitFact = %v, want %v", p.ProfitFact, 25.0/9)
	}
	if !almost(p.Expectancy, 4) {
		t.Errorf("Expectancy = %v, want 4", p.Expectancy)
	}
	if !almost(p.StdDev, math.Sqrt(75.5)) {
		t.Errorf("StdDev = %v, want %v", p.StdDev, math.Sqrt(75.5))
	}
	wantSQN := 4 / math.Sqrt(75.5) * 2
	if !almost(p.SQN, wantSQN) {
		t.Errorf("SQN = %v, want %v", p.SQN, wantSQN)
	}
	if !almost(p.DaysPTrade, 5) || !almost(p.ExpPDay, 0.8) {
		t.Errorf("DaysPTrade/ExpPDay = %v/%v, want 5/0.8", p.DaysPTrade, p.ExpPDay)
	}
	if !almost(p.ProfitPA, 8) {
		t.Errorf("ProfitPA = %v, want 8", p.ProfitPA)
	}
	if !almost(p.TrueAvgLoss, 2.25) {
		t.Errorf("TrueAvgLoss = %v, want 2.25", p.TrueAvgLoss)
	}
	if p.TradesPA != 4 {
		t.Errorf("TradesPA = %d, want 4", p.TradesPA)
	}
	if !almost(p.ProfitRatio, 8.0/9) {
		t.Errorf("ProfitRatio = %v, want %v", p.ProfitRatio, 8.0/9)
	}
}

func TestTradeLogPerformanceEmpty(t *testing.T) {
	l := NewTradeLog()
	p := l.Performance(day("2021-01-01"), day("2022-01-01"), 1)
	if p.NTrades != 0 {
		t.Fatalf("NTrades = %d, want 0", p.NTrades)
	}
	// All ratios collapse to 0 through safe division.
	for name, v := range map[string]float64{
		"Reliability": p.Reliability,
		"Expectancy":  p.Expectancy,
		"StdDev":      p.StdDev,
		"SQN":         p.SQN,
	} {
		if v != 0 {
			t.Errorf("%s = %v, want 0", name, v)
		}
	}
}

func TestCompressRangeErrors(t *testing.T) {
	tests := []struct {
		name  string
		coord Coord
	}{
		{"y too large", Coord{32, 0}},
		{"y negative", Coord{-1, 0}},
		{"dy too large", Coord{0, 8}},
		{"dy negative", Coord{0, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compress([]Coord{tt.coord})
			if !errors.Is(err, ErrThumbnailRange) {
				t.Errorf("Compress(%+v) error = %v, want ErrThumbnailRange", tt.coord, err)
			}
		})
	}
}

func TestCompressRoundTrip(t *testing.T) {
	coords := []Coord{{0, 0}, {31, 7}, {15, 3}, {1, 6}}
	packed, err := Compress(coords)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got := Decompress(packed)
	if len(got) != len(coords) {
		t.Fatalf("Decompress returned %d coords, want %d", len(got), len(coords))
	}
	for i := range coords {
		if got[i] != coords[i] {
			t.Errorf("coord[%d] = %+v, want %+v", i, got[i], coords[i])
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	totals := make([]float64, 300)
	for i := range totals {
		totals[i] = 10000 * (1 + 0.001*float64(i))
	}
	data, err := Encode(totals, 100, 32)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != 104 {
		t.Fatalf("Encode returned %d bytes, want 104", len(data))
	}

	thumb, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if thumb.Width != 100 {
		t.Errorf("Width = %d, want 100", thumb.Width)
	}
	if thumb.Height != 32 {
		t.Errorf("Height = %d, want 32", thumb.Height)
	}
	// Start equity is the series minimum: bottom of the canvas.
	if thumb.StartY != 31 {
		t.Errorf("StartY = %d, want 31", thumb.StartY)
	}
	for i, c := range thumb.Columns {
		if c.Y < 0 || c.Y > 31 || c.DY < 0 || c.DY > 7 {
			t.Errorf("column %d out of range: %+v", i, c)
		}
	}
}

func TestEncodeEmpty(t *testing.T) {
	if _, err := Encode(nil, 100, 32); err == nil {
		t.Fatal("Encode(nil) should fail")
	}
}
