package sim

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"backsim/internal/domain"
	"backsim/internal/price"
	"backsim/internal/rules"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

var (
	longM  = domain.Method{Name: "m1", Direction: domain.Long}
	shortM = domain.Method{Name: "m2", Direction: domain.Short}
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// ---- fill resolution ----

func TestResolve(t *testing.T) {
	bar := domain.Bar{Open: 579.04, High: 584.12, Low: 574.12, Close: 577}

	tests := []struct {
		name    string
		method  domain.Method
		timing  domain.Timing
		price   float64
		isEntry bool
		want    float64
		fills   bool
	}{
		{"open always fills", longM, domain.AtOpen, 0, true, 579.04, true},
		{"close always fills", longM, domain.AtClose, 0, true, 577, true},
		{"long entry limit inside bar", longM, domain.AtLimit, 578, true, 578, true},
		{"long entry limit at the low", longM, domain.AtLimit, 574.12, true, 574.12, true},
		{"long entry limit below bar", longM, domain.AtLimit, 570, true, 0, false},
		{"long entry stop at the high", longM, domain.AtStop, 584.12, true, 584.12, true},
		{"long entry stop above bar", longM, domain.AtStop, 585, true, 0, false},
		{"long exit stop inside bar", longM, domain.AtStop, 575, false, 575, true},
		{"long exit stop below open fills at stop", longM, domain.AtStop, 578, false, 578, true},
		{"long exit limit above open", longM, domain.AtLimit, 583, false, 583, true},
		{"long exit limit below open fills at open", longM, domain.AtLimit, 576, false, 579.04, true},
		{"short entry stop fills off the low", shortM, domain.AtStop, 575, true, 575, true},
		{"short exit limit below bar no fill", shortM, domain.AtLimit, 570, false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sig domain.Signal
			var err error
			if tt.timing.Conditional() {
				sig, err = domain.NewSignal("X", tt.method, "r", tt.timing, tt.price)
			} else {
				sig, err = domain.NewSignal("X", tt.method, "r", tt.timing, 0)
			}
			if err != nil {
				t.Fatal(err)
			}
			got, ok := Resolve(sig, bar, tt.isEntry)
			if ok != tt.fills {
				t.Fatalf("fills = %v, want %v", ok, tt.fills)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("fill price = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveShortExitLimit(t *testing.T) {
	// A short exit limit buys back into weakness: it fills when the low
	// reaches the threshold.
	bar := domain.Bar{Open: 100, High: 101, Low: 95, Close: 98}
	sig, _ := domain.NewSignal("X", shortM, "r", domain.AtLimit, 96)
	got, ok := Resolve(sig, bar, false)
	if !ok || got != 96 {
		t.Errorf("fill = %v, %v, want 96, true", got, ok)
	}
}

// ---- position book ----

func TestBookOpenCloseInvariants(t *testing.T) {
	b := NewBook()
	pos := domain.Position{
		Symbol: "AAPL", Method: longM, EntryRule: "day",
		EntryPrice: 100, EntryDate: day("2024-01-02"), Volume: 10,
	}
	flow, err := b.Open(pos)
	if err != nil {
		t.Fatal(err)
	}
	if flow != -1000 {
		t.Errorf("entry cashflow = %v, want -1000", flow)
	}
	if _, err := b.Open(pos); err == nil {
		t.Error("opening an occupied key should fail")
	}
	if b.MaxConcurrent() != 1 {
		t.Errorf("MaxConcurrent = %d, want 1", b.MaxConcurrent())
	}

	trade, flow, err := b.Close(pos.Key(), "stoppct", 110, day("2024-01-05"))
	if err != nil {
		t.Fatal(err)
	}
	if flow != 1100 || trade.ExitPrice != 110 {
		t.Errorf("close = %+v flow %v", trade, flow)
	}
	if _, _, err := b.Close(pos.Key(), "x", 1, day("2024-01-05")); err == nil {
		t.Error("closing an empty key should fail")
	}
}

func TestBookRiskAggregates(t *testing.T) {
	h := tenDayHistory(t)
	date := day("2024-01-11") // last close is 110

	b := NewBook()
	long := domain.Position{
		Symbol: "AAPL", Method: longM, EntryRule: "day",
		EntryPrice: 100, EntryDate: day("2024-01-02"), Volume: 5,
	}
	short := domain.Position{
		Symbol: "AAPL", Method: shortM, EntryRule: "day",
		EntryPrice: 120, EntryDate: day("2024-01-02"), Volume: 2,
	}
	for _, pos := range []domain.Position{long, short} {
		if _, err := b.Open(pos); err != nil {
			t.Fatal(err)
		}
	}

	stops := map[string]float64{longM.Name: 95, shortM.Name: 125}
	stopOf := func(pos domain.Position, _ time.Time) (float64, bool) {
		s, ok := stops[pos.Method.Name]
		return s, ok
	}

	// Stop loss risk measures from the entry price, not the drifted close:
	// 5 x (100 - 95) long plus 2 x (125 - 120) short.
	if got := b.StopLossRisk(date, stopOf); got != 35 {
		t.Errorf("StopLossRisk = %v, want 35", got)
	}

	// Equity risk measures from the current close:
	// 5 x (110 - 95) long plus 2 x (125 - 110) short.
	if got := b.EquityRisk(h, date, stopOf); got != 105 {
		t.Errorf("EquityRisk = %v, want 105", got)
	}

	// A stop raised beyond the entry clamps its stop loss risk to zero
	// instead of crediting the total.
	stops[longM.Name] = 107
	if got := b.StopLossRisk(date, stopOf); got != 10 {
		t.Errorf("StopLossRisk with raised stop = %v, want 10", got)
	}
	if got := b.EquityRisk(h, date, stopOf); got != 5*(110.0-107)+2*(125.0-110) {
		t.Errorf("EquityRisk with raised stop = %v", got)
	}
}

// ---- pending queue ----

func entrySig(t *testing.T, symbol string, m domain.Method, timing domain.Timing, price float64) domain.EntrySignal {
	t.Helper()
	sig, err := domain.NewSignal(symbol, m, "day", timing, price)
	if err != nil {
		t.Fatal(err)
	}
	return domain.EntrySignal{Signal: sig}
}

func TestPendingReplacesByKey(t *testing.T) {
	p := NewPending()
	cond := entrySig(t, "AAPL", longM, domain.AtStop, 105)
	p.AddEntry(cond, 105)
	uncond := entrySig(t, "AAPL", longM, domain.AtOpen, 0)
	p.AddEntry(uncond, 100)

	entries := p.Entries()
	if len(entries) != 1 {
		t.Fatalf("queue holds %d entries, want 1", len(entries))
	}
	if entries[0].Signal.Timing != domain.AtOpen {
		t.Error("the unconditional signal should have displaced the conditional one")
	}
}

func TestPendingAggregates(t *testing.T) {
	p := NewPending()
	e := entrySig(t, "AAPL", longM, domain.AtOpen, 0)
	p.AddEntry(e, 100)
	p.Entries()[0].Signal = p.Entries()[0].Signal.Sized(10)
	p.Entries()[0].StopRisk = 50

	if got := p.EntriesCash(); got != 1000 {
		t.Errorf("EntriesCash = %v, want 1000", got)
	}
	if got := p.StopLossRisk(); got != 50 {
		t.Errorf("StopLossRisk = %v, want 50", got)
	}
	if got := p.CountExecutableEntries(); got != 1 {
		t.Errorf("CountExecutableEntries = %d, want 1", got)
	}

	pos := domain.Position{Symbol: "MSFT", Method: longM, EntryPrice: 50, Volume: 10}
	exit, err := domain.NewExitSignal(pos, "ndays", domain.AtClose, 0)
	if err != nil {
		t.Fatal(err)
	}
	p.AddExit(exit, 500)
	if got := p.ExitsCash(); got != 500 {
		t.Errorf("ExitsCash = %v, want 500", got)
	}
	if got := p.CountUnconditionalExits(); got != 1 {
		t.Errorf("CountUnconditionalExits = %d, want 1", got)
	}
}

// ---- end to end ----

// entryOnDay signals an unconditional open entry on exactly one bar index.
type entryOnDay struct{ day int }

func (e *entryOnDay) Tag() string { return "testentry" }

func (e *entryOnDay) Signal(q *price.Quotes, i int, m domain.Method) (domain.Signal, bool) {
	if i != e.day {
		return domain.Signal{}, false
	}
	sig, err := domain.NewSignal(q.Symbol, m, e.Tag(), domain.AtOpen, 0)
	if err != nil {
		return domain.Signal{}, false
	}
	return sig, true
}

// exitOnDay signals an unconditional close exit on exactly one bar index.
type exitOnDay struct{ day int }

func (e *exitOnDay) Tag() string           { return "testexit" }
func (e *exitOnDay) CanPreventEntry() bool { return false }

func (e *exitOnDay) Signal(q *price.Quotes, i int, pos domain.Position) (domain.ExitSignal, bool) {
	if i != e.day {
		return domain.ExitSignal{}, false
	}
	sig, err := domain.NewExitSignal(pos, e.Tag(), domain.AtClose, 0)
	if err != nil {
		return domain.ExitSignal{}, false
	}
	return sig, true
}

// tenDayHistory builds 10 trading days for the index and one instrument,
// with open = 100+i and close = 101+i on day i.
func tenDayHistory(t *testing.T) *price.History {
	t.Helper()
	mk := func(symbol string) []domain.Bar {
		bars := make([]domain.Bar, 10)
		d := day("2024-01-02")
		for i := range bars {
			o, c := 100+float64(i), 101+float64(i)
			bars[i] = domain.Bar{
				Symbol: symbol, Date: d,
				Open: o, High: c + 1, Low: o - 1, Close: c, Volume: 1000,
			}
			d = d.AddDate(0, 0, 1)
		}
		return bars
	}
	h, err := price.NewHistory("SPY", map[string][]domain.Bar{
		"SPY": mk("SPY"), "AAPL": mk("AAPL"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func tenDaySystem(t *testing.T, exits []rules.ExitRule) *System {
	t.Helper()
	reg := rules.Builtin()
	alloc, err := reg.Allocation("shares", rules.Params{"ns": 10})
	if err != nil {
		t.Fatal(err)
	}
	market, err := reg.Market("all", nil)
	if err != nil {
		t.Fatal(err)
	}
	return &System{
		Name:      "tenday",
		StartCash: 10000,
		Methods: []*rules.Method{{
			Method:  longM,
			Entries: []rules.EntryRule{&entryOnDay{day: 2}},
			Exits:   exits,
		}},
		Allocation: alloc,
		Market:     market,
	}
}

func TestLoopEndToEnd(t *testing.T) {
	h := tenDayHistory(t)
	sys := tenDaySystem(t, []rules.ExitRule{&exitOnDay{day: 7}})
	loop, err := NewLoop(sys, h, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	sum, err := loop.Run(context.Background(), day("2024-01-02"), day("2024-01-11"))
	if err != nil {
		t.Fatal(err)
	}

	// Signal on day 2 fills at day 3's open (103); exit signal on day 7
	// fills at day 8's close (109).
	if sum.NTrades != 1 {
		t.Fatalf("NTrades = %d, want 1", sum.NTrades)
	}
	tr := loop.Trades().Records()[0]
	if tr.EntryPrice != 103 || !tr.EntryDate.Equal(day("2024-01-05")) {
		t.Errorf("entry = %v @ %v, want 103 @ 2024-01-05", tr.EntryPrice, tr.EntryDate)
	}
	if tr.ExitPrice != 109 || !tr.ExitDate.Equal(day("2024-01-10")) {
		t.Errorf("exit = %v @ %v, want 109 @ 2024-01-10", tr.ExitPrice, tr.ExitDate)
	}
	if tr.HoldingDays != 5 {
		t.Errorf("holding days = %d, want 5", tr.HoldingDays)
	}
	want := 10000 + 10*(109.0-103.0)
	if math.Abs(sum.EndEquity-want) > 1e-9 {
		t.Errorf("end equity = %v, want %v", sum.EndEquity, want)
	}
	if sum.MaxConcurrent != 1 {
		t.Errorf("MaxConcurrent = %d, want 1", sum.MaxConcurrent)
	}
	if loop.State() != Finished {
		t.Errorf("state = %v, want finished", loop.State())
	}

	// Ledger invariant: total = cash + positions on every day.
	led := loop.Ledger()
	for i := 0; i < led.Total.Len(); i++ {
		if math.Abs(led.Total.Value(i)-led.Cash.Value(i)-led.Positions.Value(i)) > 1e-9 {
			t.Fatalf("ledger invariant broken on day %d", i)
		}
	}
}

func TestLoopForceClosesOpenPositions(t *testing.T) {
	h := tenDayHistory(t)
	sys := tenDaySystem(t, nil) // no exit rule: position survives to the end
	loop, err := NewLoop(sys, h, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	sum, err := loop.Run(context.Background(), day("2024-01-02"), day("2024-01-11"))
	if err != nil {
		t.Fatal(err)
	}
	if sum.NTrades != 1 {
		t.Fatalf("NTrades = %d, want 1", sum.NTrades)
	}
	tr := loop.Trades().Records()[0]
	if tr.ExitRule != ForceCloseRule {
		t.Errorf("exit rule = %q, want %q", tr.ExitRule, ForceCloseRule)
	}
	// Force close at the final close (110).
	if tr.ExitPrice != 110 || !tr.ExitDate.Equal(day("2024-01-11")) {
		t.Errorf("force close = %v @ %v, want 110 @ 2024-01-11", tr.ExitPrice, tr.ExitDate)
	}
	want := 10000 + 10*(110.0-103.0)
	if math.Abs(sum.EndEquity-want) > 1e-9 {
		t.Errorf("end equity = %v, want %v", sum.EndEquity, want)
	}
}

func TestLoopRunsOnce(t *testing.T) {
	h := tenDayHistory(t)
	loop, err := NewLoop(tenDaySystem(t, nil), h, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loop.Run(context.Background(), day("2024-01-02"), day("2024-01-11")); err != nil {
		t.Fatal(err)
	}
	if _, err := loop.Run(context.Background(), day("2024-01-02"), day("2024-01-11")); err != ErrNotIdle {
		t.Errorf("second Run error = %v, want ErrNotIdle", err)
	}
}

func TestLoopDeterminism(t *testing.T) {
	h := tenDayHistory(t)
	run := func() *Summary {
		loop, err := NewLoop(tenDaySystem(t, []rules.ExitRule{&exitOnDay{day: 7}}), h, testLogger())
		if err != nil {
			t.Fatal(err)
		}
		sum, err := loop.Run(context.Background(), day("2024-01-02"), day("2024-01-11"))
		if err != nil {
			t.Fatal(err)
		}
		return sum
	}
	a, b := run(), run()
	if a.EndEquity != b.EndEquity || a.NTrades != b.NTrades ||
		a.Performance.Expectancy != b.Performance.Expectancy {
		t.Error("two identical runs should produce identical summaries")
	}
}
