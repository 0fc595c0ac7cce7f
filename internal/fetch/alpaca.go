// Package fetch downloads daily OHLCV bars from the Alpaca market data API
// into the local Parquet price store.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backsim/internal/price"
	"backsim/internal/util"
)

// barClient is the slice of the Alpaca client the downloader needs.
type barClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// Downloader fetches daily bars for a symbol list in batches and merges
// them into the price store.
type Downloader struct {
	client     barClient
	store      *price.Store
	batchSize  int
	limiter    *util.RateLimiter
	retryDelay time.Duration
	log        *slog.Logger
}

// NewDownloader creates a Downloader with the given Alpaca credentials and
// target store. batchSize caps symbols per API call; perMinute caps the
// request rate.
func NewDownloader(apiKey, apiSecret, baseURL string, s *price.Store, batchSize, perMinute int, log *slog.Logger) *Downloader {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		opts.BaseURL = baseURL
	}
	return &Downloader{
		client:     marketdata.NewClient(opts),
		store:      s,
		batchSize:  batchSize,
		limiter:    util.NewRateLimiter(perMinute),
		retryDelay: time.Second,
		log:        log.With("component", "fetch"),
	}
}

// Run downloads bars for symbols over [start, end] and writes them to the
// store. A zero end defaults to the last weekday. Batches that fail after
// retries abort the run.
func (d *Downloader) Run(ctx context.Context, symbols []string, start, end time.Time) error {
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to download")
	}
	if end.IsZero() {
		end = util.LastTradingDay(time.Now().UTC())
	}

	batchSize := d.batchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	nBatches := (len(symbols) + batchSize - 1) / batchSize
	runStart := time.Now()

	d.log.Info("starting download",
		"symbols", len(symbols),
		"batches", nBatches,
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"),
	)

	for i := 0; i < len(symbols); i += batchSize {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		batch := symbols[i:min(i+batchSize, len(symbols))]

		var records []price.BarRecord
		err := util.Retry(ctx, 3, d.retryDelay, func() error {
			var err error
			records, err = d.fetchBatch(batch, start, end)
			return err
		})
		if err != nil {
			return fmt.Errorf("batch %d/%d: %w", i/batchSize+1, nBatches, err)
		}

		if len(records) > 0 {
			if err := d.store.WriteBars(records); err != nil {
				return fmt.Errorf("writing batch %d/%d: %w", i/batchSize+1, nBatches, err)
			}
		}

		d.log.Info("batch done",
			"batch", fmt.Sprintf("%d/%d", i/batchSize+1, nBatches),
			"bars", len(records),
			"elapsed", time.Since(runStart).Round(time.Second),
		)
	}
	return nil
}

// fetchBatch fetches daily bars for one symbol batch in a single API call.
func (d *Downloader) fetchBatch(symbols []string, start, end time.Time) ([]price.BarRecord, error) {
	multiBars, err := d.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      "sip",
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var records []price.BarRecord
	for symbol, bars := range multiBars {
		for _, b := range bars {
			records = append(records, price.BarRecord{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  b.Timestamp.UnixMilli(),
				Open:       b.Open,
				High:       b.High,
				Low:        b.Low,
				Close:      b.Close,
				Volume:     int64(b.Volume),
				TradeCount: int64(b.TradeCount),
				VWAP:       b.VWAP,
			})
		}
	}
	return records, nil
}
