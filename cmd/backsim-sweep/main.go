package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backsim/internal/config"
	"backsim/internal/price"
	"backsim/internal/report"
	"backsim/internal/rules"
	"backsim/internal/store"
	"backsim/internal/sweep"
	"backsim/internal/util"
)

func main() {
	top := flag.Int("top", 10, "leaderboard size to print after the sweep")
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
	if cfg.Storage.SQLitePath == "" {
		log.Fatal("no sqlite_path configured")
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	start, err := cfg.Universe.StartDate()
	if err != nil {
		log.Fatalf("bad universe start: %v", err)
	}
	end := util.LastTradingDay(time.Now().UTC())
	if cfg.Universe.End != "" {
		if end, err = cfg.Universe.EndDate(); err != nil {
			log.Fatalf("bad universe end: %v", err)
		}
	}

	pstore := price.NewStore(cfg.Storage.DataDir, cfg.Universe.Market)
	symbols := cfg.Universe.Symbols
	if len(symbols) == 0 {
		if symbols, err = pstore.ListSymbols(); err != nil {
			log.Fatalf("failed to list symbols: %v", err)
		}
	}
	tradable := symbols[:0:0]
	for _, s := range symbols {
		if s != cfg.Universe.Index {
			tradable = append(tradable, s)
		}
	}
	hist, err := pstore.Load(cfg.Universe.Index, tradable, start, end)
	if err != nil {
		log.Fatalf("failed to load price history: %v", err)
	}

	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open results database: %v", err)
	}
	defer st.Close()

	runner := sweep.NewRunner(cfg, hist, rules.Builtin(), st, logger)
	stats, err := runner.Run(ctx, start, end)
	if err != nil {
		log.Fatalf("sweep failed: %v", err)
	}
	fmt.Printf("sweep done: %d simulations, %d kept\n\n", stats.Jobs, stats.Kept)

	best, err := st.ListRuns(ctx, *top)
	if err != nil {
		log.Fatalf("failed to list runs: %v", err)
	}
	lines := make([]report.RunLine, 0, len(best))
	for _, r := range best {
		lines = append(lines, report.RunLine{
			Name:        r.Summary.Name,
			AnnProfit:   r.Summary.Results.AnnProfit,
			MaxDD:       r.Summary.Results.MaxDD,
			Reliability: r.Summary.Performance.Reliability,
			NTrades:     r.Summary.NTrades,
			SQN:         r.Summary.Performance.SQN,
		})
	}
	fmt.Println(report.Leaderboard(lines))

	if len(best) > 0 {
		if chart, err := report.EquityChart(best[0].Thumbnail); err == nil {
			fmt.Printf("\nbest run %s\n%s\n", best[0].ID, chart)
		}
	}
}
