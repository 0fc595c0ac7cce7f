package price

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"backsim/internal/domain"
)

// Daily bars live in Parquet files organized by market, symbol and year:
//
//	<dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet

// BarRecord is the on-disk Parquet schema for daily bars. TradeCount and
// VWAP come with the feed download and are kept for completeness; the
// simulation only reads OHLCV.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// Store reads and writes daily bars under a data directory.
type Store struct {
	DataDir string
	Market  string
}

func NewStore(dataDir, market string) *Store {
	return &Store{DataDir: dataDir, Market: market}
}

func (s *Store) barPath(symbol string, year int) string {
	return filepath.Join(s.DataDir, s.Market, "daily",
		strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// WriteBars merges records into the per-symbol year files, deduplicating by
// (symbol, timestamp) with incoming records winning.
func (s *Store) WriteBars(records []BarRecord) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, r := range records {
		y := time.UnixMilli(r.Timestamp).UTC().Year()
		k := key{symbol: r.Symbol, year: y}
		groups[k] = append(groups[k], r)
	}
	for k, incoming := range groups {
		path := s.barPath(k.symbol, k.year)
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, incoming)
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads the bars of symbol in [start, end].
func (s *Store) ReadBars(symbol string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[BarRecord](s.barPath(symbol, year))
		if err != nil {
			// No file for this year.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol: r.Symbol,
				Date:   ts,
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols with bar data in the market.
func (s *Store) ListSymbols() ([]string, error) {
	dir := filepath.Join(s.DataDir, s.Market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Load reads the given symbols plus the index symbol into a History.
func (s *Store) Load(indexSymbol string, symbols []string, start, end time.Time) (*History, error) {
	bars := make(map[string][]domain.Bar, len(symbols)+1)
	all := append([]string{indexSymbol}, symbols...)
	for _, symbol := range all {
		b, err := s.ReadBars(symbol, start, end)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", symbol, err)
		}
		if len(b) == 0 && symbol == indexSymbol {
			return nil, fmt.Errorf("no price data for index %s in %s..%s",
				symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
		}
		bars[symbol] = b
	}
	return NewHistory(indexSymbol, bars)
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
