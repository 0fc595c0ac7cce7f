package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backsim/internal/config"
	"backsim/internal/equity"
	"backsim/internal/price"
	"backsim/internal/report"
	"backsim/internal/rules"
	"backsim/internal/sim"
	"backsim/internal/store"
	"backsim/internal/util"
)

func main() {
	variant := flag.Int("variant", 0, "parameter variant to run")
	save := flag.Bool("save", false, "persist the run to the results database")
	flag.Parse()

	cfgPath := "config/backsim.yaml"
	if p := os.Getenv("BACKSIM_CONFIG"); p != "" {
		cfgPath = p
	}
	if flag.NArg() > 0 {
		cfgPath = flag.Arg(0)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hist, start, end, err := loadHistory(cfg)
	if err != nil {
		log.Fatalf("failed to load price history: %v", err)
	}

	rng := rand.New(rand.NewSource(cfg.Sweep.Seed))
	draw := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	sys, params, err := cfg.System.Build(rules.Builtin(), *variant, draw)
	if err != nil {
		log.Fatalf("failed to build system: %v", err)
	}

	loop, err := sim.NewLoop(sys, hist, logger)
	if err != nil {
		log.Fatalf("failed to set up simulation: %v", err)
	}
	sum, err := loop.Run(ctx, start, end)
	if err != nil {
		log.Fatalf("simulation failed: %v", err)
	}

	thumb, err := equity.Encode(loop.Ledger().Total.Values(), 64, 16)
	if err != nil {
		log.Fatalf("failed to encode equity curve: %v", err)
	}

	fmt.Println(report.Summary(*sum, params))
	if chart, err := report.EquityChart(thumb); err == nil {
		fmt.Println()
		fmt.Println(chart)
	}

	if *save {
		if cfg.Storage.SQLitePath == "" {
			log.Fatal("no sqlite_path configured")
		}
		st, err := store.Open(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open results database: %v", err)
		}
		defer st.Close()

		id, err := st.SaveRun(ctx, &store.Run{
			Params:    params,
			Summary:   *sum,
			Ledger:    loop.Ledger(),
			Trades:    loop.Trades().Records(),
			Thumbnail: thumb,
		})
		if err != nil {
			log.Fatalf("failed to save run: %v", err)
		}
		fmt.Printf("\nsaved run %s\n", id)
	}
}

// loadHistory loads the configured universe from the parquet store and
// returns the simulation window.
func loadHistory(cfg *config.Config) (*price.History, time.Time, time.Time, error) {
	start, err := cfg.Universe.StartDate()
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	end := util.LastTradingDay(time.Now().UTC())
	if cfg.Universe.End != "" {
		if end, err = cfg.Universe.EndDate(); err != nil {
			return nil, time.Time{}, time.Time{}, err
		}
	}

	pstore := price.NewStore(cfg.Storage.DataDir, cfg.Universe.Market)
	symbols := cfg.Universe.Symbols
	if len(symbols) == 0 {
		if symbols, err = pstore.ListSymbols(); err != nil {
			return nil, time.Time{}, time.Time{}, err
		}
	}
	// The index loads separately; keep it out of the tradable list.
	tradable := symbols[:0:0]
	for _, s := range symbols {
		if s != cfg.Universe.Index {
			tradable = append(tradable, s)
		}
	}

	hist, err := pstore.Load(cfg.Universe.Index, tradable, start, end)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	return hist, start, end, nil
}
