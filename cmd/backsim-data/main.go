package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"backsim/internal/config"
	"backsim/internal/fetch"
	"backsim/internal/price"
	"backsim/internal/util"
)

func main() {
	symbolList := flag.String("symbols", "", "comma-separated symbols to download (default: configured universe)")
	batchSize := flag.Int("batch", 200, "symbols per API request")
	perMinute := flag.Int("rate", 200, "API requests per minute")
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
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatal("missing Alpaca credentials")
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/backsim-data-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	symbols := cfg.Universe.Symbols
	if *symbolList != "" {
		symbols = nil
		for _, s := range strings.Split(*symbolList, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, strings.ToUpper(s))
			}
		}
	}
	if cfg.Universe.Index != "" {
		symbols = append(symbols, cfg.Universe.Index)
	}

	start, err := cfg.Universe.StartDate()
	if err != nil {
		log.Fatalf("bad universe start: %v", err)
	}
	var end time.Time
	if cfg.Universe.End != "" {
		if end, err = cfg.Universe.EndDate(); err != nil {
			log.Fatalf("bad universe end: %v", err)
		}
	}

	pstore := price.NewStore(cfg.Storage.DataDir, cfg.Universe.Market)
	downloader := fetch.NewDownloader(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.BaseURL,
		pstore,
		*batchSize,
		*perMinute,
		logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting backsim-data", "logFile", logFileName, "symbols", len(symbols))
	if err := downloader.Run(ctx, symbols, start, end); err != nil {
		log.Fatalf("download error: %v", err)
	}

	// The simulator requires history for the index; double-check it landed.
	if cfg.Universe.Index != "" {
		bars, err := pstore.ReadBars(cfg.Universe.Index, start, util.LastTradingDay(time.Now().UTC()))
		if err != nil || len(bars) == 0 {
			log.Fatalf("index %s has no bars after download", cfg.Universe.Index)
		}
	}
}
