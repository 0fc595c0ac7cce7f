// Package sweep explores a system's parameter space: it runs every
// enumerated variant, repeats variants with random parameters, and persists
// the runs that clear the keeper threshold.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"backsim/internal/config"
	"backsim/internal/equity"
	"backsim/internal/price"
	"backsim/internal/rules"
	"backsim/internal/sim"
	"backsim/internal/store"
)

const (
	thumbnailWidth  = 64
	thumbnailHeight = 32
)

// Runner executes one sweep over a shared price history.
type Runner struct {
	system config.SystemDef
	sweep  config.SweepDef
	hist   *price.History
	reg    *rules.Registry
	store  *store.Store
	log    *slog.Logger
}

// Stats summarises a finished sweep.
type Stats struct {
	Jobs int // simulations executed
	Kept int // runs persisted
}

func NewRunner(cfg *config.Config, hist *price.History, reg *rules.Registry, st *store.Store, log *slog.Logger) *Runner {
	return &Runner{
		system: cfg.System,
		sweep:  cfg.Sweep,
		hist:   hist,
		reg:    reg,
		store:  st,
		log:    log.With("component", "sweep"),
	}
}

// Run executes every variant/run combination over [start, end]. Runs with
// at least MinTrades trades are persisted; once MaxResults runs are kept
// the remaining jobs are skipped.
func (r *Runner) Run(ctx context.Context, start, end time.Time) (Stats, error) {
	variants := r.system.Variants()
	jobs := variants * r.sweep.Runs
	r.log.Info("starting sweep",
		"variants", variants,
		"runsPerVariant", r.sweep.Runs,
		"jobs", jobs,
		"workers", r.sweep.MaxWorkers,
	)

	var executed, kept atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.sweep.MaxWorkers)
	for job := 0; job < jobs; job++ {
		job := job
		if r.sweep.MaxResults > 0 && kept.Load() >= int64(r.sweep.MaxResults) {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.sweep.MaxResults > 0 && kept.Load() >= int64(r.sweep.MaxResults) {
				return nil
			}
			executed.Add(1)
			wasKept, err := r.runJob(ctx, job, start, end)
			if err != nil {
				return err
			}
			if wasKept {
				kept.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	stats := Stats{Jobs: int(executed.Load()), Kept: int(kept.Load())}
	r.log.Info("sweep finished", "jobs", stats.Jobs, "kept", stats.Kept)
	return stats, err
}

// runJob simulates one variant/run combination and persists it if it
// qualifies.
func (r *Runner) runJob(ctx context.Context, job int, start, end time.Time) (bool, error) {
	variant := job % r.system.Variants()
	run := job / r.system.Variants()

	// Each job gets its own deterministic stream for the random parameters.
	rng := rand.New(rand.NewSource(r.sweep.Seed + int64(job)))
	draw := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

	sys, params, err := r.system.Build(r.reg, variant, draw)
	if err != nil {
		return false, fmt.Errorf("variant %d: %w", variant, err)
	}
	sys.Name = fmt.Sprintf("%s/v%d.%d", r.system.Name, variant, run)

	loop, err := sim.NewLoop(sys, r.hist, r.log)
	if err != nil {
		return false, fmt.Errorf("%s: %w", sys.Name, err)
	}
	summary, err := loop.Run(ctx, start, end)
	if err != nil {
		return false, fmt.Errorf("%s: %w", sys.Name, err)
	}

	if summary.NTrades < r.sweep.MinTrades {
		r.log.Debug("dropped", "system", sys.Name, "trades", summary.NTrades)
		return false, nil
	}

	thumb, err := equity.Encode(loop.Ledger().Total.Values(), thumbnailWidth, thumbnailHeight)
	if err != nil {
		return false, fmt.Errorf("%s: %w", sys.Name, err)
	}
	id, err := r.store.SaveRun(ctx, &store.Run{
		Params:    params,
		Summary:   *summary,
		Ledger:    loop.Ledger(),
		Trades:    loop.Trades().Records(),
		Thumbnail: thumb,
	})
	if err != nil {
		return false, fmt.Errorf("saving %s: %w", sys.Name, err)
	}
	r.log.Info("kept",
		"system", sys.Name,
		"id", id,
		"trades", summary.NTrades,
		"endEquity", summary.EndEquity,
	)
	return true, nil
}
