// Package store persists finished simulation runs to SQLite: the summary
// statistics, resolved parameters, equity history, trade list and an equity
// thumbnail per run. Sweeps write many runs into one database and query the
// best back out.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"backsim/internal/domain"
	"backsim/internal/equity"
	"backsim/internal/sim"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	params         TEXT NOT NULL,
	start_date     TEXT NOT NULL,
	end_date       TEXT NOT NULL,
	start_cash     REAL NOT NULL,
	end_equity     REAL NOT NULL,
	max_concurrent INTEGER NOT NULL,
	n_trades       INTEGER NOT NULL,
	ann_profit     REAL,
	max_dd         REAL,
	min_dd_ratio   REAL,
	min_year       REAL,
	max_year       REAL,
	min_month      REAL,
	max_month      REAL,
	n_neg_month    REAL,
	sum_neg_months REAL,
	reliability    REAL,
	profit_factor  REAL,
	expectancy     REAL,
	sqn            REAL,
	days_per_trade REAL,
	trades_pa      INTEGER NOT NULL,
	thumbnail      BLOB
);
CREATE INDEX IF NOT EXISTS runs_ann_profit ON runs (ann_profit);

CREATE TABLE IF NOT EXISTS trades (
	run_id       TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	symbol       TEXT NOT NULL,
	method       TEXT NOT NULL,
	direction    INTEGER NOT NULL,
	volume       INTEGER NOT NULL,
	entry_rule   TEXT NOT NULL,
	entry_date   TEXT NOT NULL,
	entry_price  REAL NOT NULL,
	exit_rule    TEXT NOT NULL,
	exit_date    TEXT NOT NULL,
	exit_price   REAL NOT NULL,
	profit_pct   REAL,
	holding_days INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS equity (
	run_id    TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	date      TEXT NOT NULL,
	cash      REAL NOT NULL,
	positions REAL NOT NULL,
	total     REAL NOT NULL,
	PRIMARY KEY (run_id, date)
);
`

const dateFormat = "2006-01-02"

// Store is a SQLite-backed results database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the results database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one finished simulation ready for persistence.
type Run struct {
	ID        string // assigned on save when empty
	CreatedAt time.Time
	Params    map[string]float64
	Summary   sim.Summary
	Ledger    *equity.Ledger
	Trades    []equity.Record
	Thumbnail []byte
}

// SaveRun writes a run and its trade and equity histories in one
// transaction, and returns the run id.
func (s *Store) SaveRun(ctx context.Context, run *Run) (string, error) {
	id := run.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	sum := run.Summary
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, name, created_at, params, start_date, end_date,
			start_cash, end_equity, max_concurrent, n_trades,
			ann_profit, max_dd, min_dd_ratio, min_year, max_year,
			min_month, max_month, n_neg_month, sum_neg_months,
			reliability, profit_factor, expectancy, sqn,
			days_per_trade, trades_pa, thumbnail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sum.Name, created.Format(time.RFC3339), string(params),
		sum.StartDate.Format(dateFormat), sum.EndDate.Format(dateFormat),
		sum.StartCash, sum.EndEquity, sum.MaxConcurrent, sum.NTrades,
		nullable(sum.Results.AnnProfit), nullable(sum.Results.MaxDD),
		nullable(sum.Results.MinDDRatio), nullable(sum.Results.MinYear),
		nullable(sum.Results.MaxYear), nullable(sum.Results.MinMonth),
		nullable(sum.Results.MaxMonth), nullable(sum.Results.NNegMonth),
		nullable(sum.Results.SumNegMonths), nullable(sum.Performance.Reliability),
		nullable(sum.Performance.ProfitFact), nullable(sum.Performance.Expectancy),
		nullable(sum.Performance.SQN), nullable(sum.Performance.DaysPTrade),
		sum.Performance.TradesPA, run.Thumbnail)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for i, rec := range run.Trades {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO trades (
				run_id, seq, symbol, method, direction, volume,
				entry_rule, entry_date, entry_price,
				exit_rule, exit_date, exit_price,
				profit_pct, holding_days
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, rec.Symbol, rec.Method.Name, int(rec.Method.Direction), rec.Volume,
			rec.EntryRule, rec.EntryDate.Format(dateFormat), rec.EntryPrice,
			rec.ExitRule, rec.ExitDate.Format(dateFormat), rec.ExitPrice,
			nullable(rec.ProfitPct()), rec.HoldingDays)
		if err != nil {
			return "", fmt.Errorf("insert trade %d: %w", i, err)
		}
	}

	if run.Ledger != nil {
		for i := 0; i < run.Ledger.Total.Len(); i++ {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO equity (run_id, date, cash, positions, total)
				VALUES (?, ?, ?, ?, ?)`,
				id, run.Ledger.Total.Date(i).Format(dateFormat),
				run.Ledger.Cash.Value(i), run.Ledger.Positions.Value(i),
				run.Ledger.Total.Value(i))
			if err != nil {
				return "", fmt.Errorf("insert equity row %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	run.ID = id
	return id, nil
}

// nullable maps NaN and infinities to NULL; SQLite has no float NaN.
func nullable(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// RunInfo is one row of the runs table.
type RunInfo struct {
	ID        string
	CreatedAt time.Time
	Params    map[string]float64
	Summary   sim.Summary
	Thumbnail []byte
}

const runColumns = `
	id, name, created_at, params, start_date, end_date,
	start_cash, end_equity, max_concurrent, n_trades,
	ann_profit, max_dd, min_dd_ratio, min_year, max_year,
	min_month, max_month, n_neg_month, sum_neg_months,
	reliability, profit_factor, expectancy, sqn,
	days_per_trade, trades_pa, thumbnail`

func scanRun(row interface{ Scan(...any) error }) (RunInfo, error) {
	var (
		info                    RunInfo
		created, params         string
		startDate, endDate      string
		annProfit, maxDD        sql.NullFloat64
		minDDRatio, minYear     sql.NullFloat64
		maxYear, minMonth       sql.NullFloat64
		maxMonth, nNegMonth     sql.NullFloat64
		sumNegMonths            sql.NullFloat64
		reliability, profitFact sql.NullFloat64
		expectancy, sqn         sql.NullFloat64
		daysPTrade              sql.NullFloat64
	)
	err := row.Scan(
		&info.ID, &info.Summary.Name, &created, &params, &startDate, &endDate,
		&info.Summary.StartCash, &info.Summary.EndEquity,
		&info.Summary.MaxConcurrent, &info.Summary.NTrades,
		&annProfit, &maxDD, &minDDRatio, &minYear, &maxYear,
		&minMonth, &maxMonth, &nNegMonth, &sumNegMonths,
		&reliability, &profitFact, &expectancy, &sqn,
		&daysPTrade, &info.Summary.Performance.TradesPA, &info.Thumbnail)
	if err != nil {
		return RunInfo{}, err
	}
	info.CreatedAt, _ = time.Parse(time.RFC3339, created)
	info.Summary.StartDate, _ = time.Parse(dateFormat, startDate)
	info.Summary.EndDate, _ = time.Parse(dateFormat, endDate)
	if err := json.Unmarshal([]byte(params), &info.Params); err != nil {
		return RunInfo{}, fmt.Errorf("decode params: %w", err)
	}
	info.Summary.Results = equity.Results{
		MaxDD:        floatOrNaN(maxDD),
		MinDDRatio:   floatOrNaN(minDDRatio),
		AnnProfit:    floatOrNaN(annProfit),
		MinYear:      floatOrNaN(minYear),
		MaxYear:      floatOrNaN(maxYear),
		MinMonth:     floatOrNaN(minMonth),
		MaxMonth:     floatOrNaN(maxMonth),
		NNegMonth:    floatOrNaN(nNegMonth),
		SumNegMonths: floatOrNaN(sumNegMonths),
	}
	info.Summary.Performance.Reliability = floatOrNaN(reliability)
	info.Summary.Performance.ProfitFact = floatOrNaN(profitFact)
	info.Summary.Performance.Expectancy = floatOrNaN(expectancy)
	info.Summary.Performance.SQN = floatOrNaN(sqn)
	info.Summary.Performance.DaysPTrade = floatOrNaN(daysPTrade)
	info.Summary.Performance.NTrades = info.Summary.NTrades
	info.Summary.Performance.MaxPos = info.Summary.MaxConcurrent
	return info, nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (RunInfo, error) {
	row := s.db.QueryRowContext(ctx, "SELECT"+runColumns+" FROM runs WHERE id = ?", id)
	return scanRun(row)
}

// ListRuns returns up to limit runs ordered by annualised profit, best
// first. Runs whose profit is NULL sort last.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+runColumns+" FROM runs ORDER BY ann_profit IS NULL, ann_profit DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// CountRuns returns the number of stored runs.
func (s *Store) CountRuns(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n)
	return n, err
}

// GetTrades returns a run's trades in execution order.
func (s *Store) GetTrades(ctx context.Context, id string) ([]equity.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, method, direction, volume,
			entry_rule, entry_date, entry_price,
			exit_rule, exit_date, exit_price, holding_days
		FROM trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []equity.Record
	for rows.Next() {
		var (
			rec                 equity.Record
			direction           int
			entryDate, exitDate string
		)
		err := rows.Scan(&rec.Symbol, &rec.Method.Name, &direction, &rec.Volume,
			&rec.EntryRule, &entryDate, &rec.EntryPrice,
			&rec.ExitRule, &exitDate, &rec.ExitPrice, &rec.HoldingDays)
		if err != nil {
			return nil, err
		}
		rec.Method.Direction = domain.Direction(direction)
		rec.EntryDate, _ = time.Parse(dateFormat, entryDate)
		rec.ExitDate, _ = time.Parse(dateFormat, exitDate)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetEquity rebuilds a run's equity ledger from the stored history.
func (s *Store) GetEquity(ctx context.Context, id string) (*equity.Ledger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, cash, positions, total
		FROM equity WHERE run_id = ? ORDER BY date`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ledger *equity.Ledger
	prevCash := 0.0
	for rows.Next() {
		var (
			dateStr                string
			cash, positions, total float64
		)
		if err := rows.Scan(&dateStr, &cash, &positions, &total); err != nil {
			return nil, err
		}
		date, err := time.Parse(dateFormat, dateStr)
		if err != nil {
			return nil, fmt.Errorf("equity date %q: %w", dateStr, err)
		}
		if ledger == nil {
			ledger = equity.NewLedger(cash)
			prevCash = cash
			ledger.Update(date, 0, positions)
			continue
		}
		ledger.Update(date, cash-prevCash, positions)
		prevCash = cash
	}
	if ledger == nil {
		return nil, fmt.Errorf("run %s: no equity history", id)
	}
	return ledger, rows.Err()
}

// DeleteRun removes a run and its histories.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	// Foreign keys are not enforced by default; delete the children first.
	for _, q := range []string{
		"DELETE FROM trades WHERE run_id = ?",
		"DELETE FROM equity WHERE run_id = ?",
		"DELETE FROM runs WHERE id = ?",
	} {
		if _, err := s.db.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}
