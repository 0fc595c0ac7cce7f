package fetch

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backsim/internal/price"
	"backsim/internal/util"
)

type fakeClient struct {
	calls    int
	failures int // fail this many calls before succeeding
	bars     map[string][]marketdata.Bar
}

func (c *fakeClient) GetMultiBars(symbols []string, _ marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, errors.New("transient")
	}
	out := make(map[string][]marketdata.Bar)
	for _, sym := range symbols {
		if bars, ok := c.bars[sym]; ok {
			out[sym] = bars
		}
	}
	return out, nil
}

func testDownloader(t *testing.T, client barClient) (*Downloader, *price.Store) {
	t.Helper()
	store := price.NewStore(t.TempDir(), "us")
	d := &Downloader{
		client:    client,
		store:     store,
		batchSize: 2,
		limiter:   util.NewRateLimiter(60000),
		log:       slog.New(slog.DiscardHandler),
	}
	d.retryDelay = 0
	return d, store
}

func TestDownloaderRun(t *testing.T) {
	ts := time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC)
	client := &fakeClient{bars: map[string][]marketdata.Bar{
		"aapl": {{Timestamp: ts, Open: 100, High: 102, Low: 99, Close: 101, Volume: 5000}},
		"MSFT": {{Timestamp: ts, Open: 200, High: 201, Low: 198, Close: 199, Volume: 7000}},
	}}
	d, store := testDownloader(t, client)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	if err := d.Run(context.Background(), []string{"aapl", "MSFT", "NOPE"}, start, end); err != nil {
		t.Fatal(err)
	}

	// batchSize 2 splits three symbols into two calls.
	if client.calls != 2 {
		t.Errorf("calls = %d, want 2", client.calls)
	}

	// Symbols are stored upper-case.
	bars, err := store.ReadBars("AAPL", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 || bars[0].Close != 101 {
		t.Fatalf("bars = %+v", bars)
	}
	if bars, _ := store.ReadBars("NOPE", start, end); len(bars) != 0 {
		t.Errorf("empty symbol should store nothing, got %+v", bars)
	}
}

func TestDownloaderRetries(t *testing.T) {
	ts := time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC)
	client := &fakeClient{
		failures: 2,
		bars: map[string][]marketdata.Bar{
			"IBM": {{Timestamp: ts, Open: 50, High: 51, Low: 49, Close: 50.5, Volume: 100}},
		},
	}
	d, store := testDownloader(t, client)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	if err := d.Run(context.Background(), []string{"IBM"}, start, end); err != nil {
		t.Fatal(err)
	}
	if client.calls != 3 {
		t.Errorf("calls = %d, want 2 failures + 1 success", client.calls)
	}
	bars, err := store.ReadBars("IBM", start, end)
	if err != nil || len(bars) != 1 {
		t.Fatalf("bars = %+v, err = %v", bars, err)
	}
}

func TestDownloaderNoSymbols(t *testing.T) {
	d, _ := testDownloader(t, &fakeClient{})
	if err := d.Run(context.Background(), nil, time.Time{}, time.Time{}); err == nil {
		t.Error("want error for empty symbol list")
	}
}
