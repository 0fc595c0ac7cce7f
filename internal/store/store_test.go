package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"backsim/internal/domain"
	"backsim/internal/equity"
	"backsim/internal/sim"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(name string, annProfit float64) *Run {
	ledger := equity.NewLedger(10000)
	ledger.Update(day("2024-01-02"), 0, 0)
	ledger.Update(day("2024-01-03"), -1000, 1050)
	ledger.Update(day("2024-01-04"), 1100, 0)

	trade := domain.Trade{
		Symbol:     "AAPL",
		Method:     domain.Method{Name: "swing", Direction: domain.Long},
		Volume:     10,
		EntryRule:  "day",
		EntryPrice: 100,
		EntryDate:  day("2024-01-03"),
		ExitRule:   "ndays",
		ExitPrice:  110,
		ExitDate:   day("2024-01-04"),
	}

	sum := sim.Summary{
		Name:          name,
		StartDate:     day("2024-01-02"),
		EndDate:       day("2024-01-04"),
		StartCash:     10000,
		EndEquity:     10100,
		MaxConcurrent: 1,
		NTrades:       1,
	}
	sum.Results.AnnProfit = annProfit
	sum.Results.MinDDRatio = math.NaN()
	sum.Performance.Reliability = 100

	return &Run{
		Params:    map[string]float64{"allocation.shares.ns": 10},
		Summary:   sum,
		Ledger:    ledger,
		Trades:    []equity.Record{{Trade: trade, HoldingDays: 1}},
		Thumbnail: []byte{31, 15, 0, 0, 20, 18},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	run := sampleRun("demo", 12.5)
	id, err := s.SaveRun(ctx, run)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || run.ID != id {
		t.Fatalf("id = %q, run.ID = %q", id, run.ID)
	}

	got, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary.Name != "demo" || got.Summary.EndEquity != 10100 {
		t.Errorf("summary = %+v", got.Summary)
	}
	if got.Summary.Results.AnnProfit != 12.5 {
		t.Errorf("ann profit = %v", got.Summary.Results.AnnProfit)
	}
	if !math.IsNaN(got.Summary.Results.MinDDRatio) {
		t.Errorf("NULL ratio should read back NaN, got %v", got.Summary.Results.MinDDRatio)
	}
	if got.Params["allocation.shares.ns"] != 10 {
		t.Errorf("params = %v", got.Params)
	}
	if len(got.Thumbnail) != 6 {
		t.Errorf("thumbnail = %v", got.Thumbnail)
	}
}

func TestGetTrades(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.SaveRun(ctx, sampleRun("demo", 10))
	if err != nil {
		t.Fatal(err)
	}
	trades, err := s.GetTrades(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d", len(trades))
	}
	tr := trades[0]
	if tr.Symbol != "AAPL" || tr.Method.Direction != domain.Long || tr.HoldingDays != 1 {
		t.Errorf("trade = %+v", tr)
	}
	if !tr.ExitDate.Equal(day("2024-01-04")) {
		t.Errorf("exit date = %v", tr.ExitDate)
	}
}

func TestGetEquity(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	run := sampleRun("demo", 10)
	id, err := s.SaveRun(ctx, run)
	if err != nil {
		t.Fatal(err)
	}
	ledger, err := s.GetEquity(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if ledger.Total.Len() != 3 {
		t.Fatalf("equity rows = %d", ledger.Total.Len())
	}
	for i := 0; i < 3; i++ {
		if got, want := ledger.Total.Value(i), run.Ledger.Total.Value(i); got != want {
			t.Errorf("total[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestListRunsOrdersByProfit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.SaveRun(ctx, sampleRun("low", 5)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveRun(ctx, sampleRun("high", 25)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveRun(ctx, sampleRun("none", math.NaN())); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d", len(runs))
	}
	if runs[0].Summary.Name != "high" || runs[1].Summary.Name != "low" || runs[2].Summary.Name != "none" {
		t.Errorf("order = %s, %s, %s", runs[0].Summary.Name, runs[1].Summary.Name, runs[2].Summary.Name)
	}

	if n, err := s.CountRuns(ctx); err != nil || n != 3 {
		t.Errorf("count = %d, err = %v", n, err)
	}
}

func TestDeleteRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.SaveRun(ctx, sampleRun("demo", 10))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRun(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRun(ctx, id); err == nil {
		t.Error("deleted run should not be found")
	}
	if _, err := s.GetEquity(ctx, id); err == nil {
		t.Error("deleted equity history should not be found")
	}
}
