// Package backtest runs one or more strategies over the same bar data.
// Concurrent runs share nothing but the ledger, where they are isolated by
// run id.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/barledger/id"
	"github.com/rustyeddy/barledger/ledger"
	"github.com/rustyeddy/barledger/market"
	"github.com/rustyeddy/barledger/metrics"
	"github.com/rustyeddy/barledger/rules"
	"github.com/rustyeddy/barledger/sim"
	"github.com/rustyeddy/barledger/strategies"
)

// Job is one run of a sweep.
type Job struct {
	Strategy string
	Params   strategies.Params
	Config   sim.Config
}

// Options controls how runs are built.
type Options struct {
	Catalog rules.Catalog
	Ledger  ledger.Ledger
	Logger  logrus.FieldLogger
	Metrics *metrics.Recorder

	// Parallel caps the number of concurrent runs. Zero means one run per job.
	Parallel int
}

// Outcome is the result of one job. Err holds a run-aborting *sim.RunError.
type Outcome struct {
	Job    Job
	Result sim.Result
	Err    error
}

// Run executes a single job over feed.
func Run(ctx context.Context, feed market.Feed, job Job, opts Options) (sim.Result, error) {
	if opts.Catalog == nil {
		return sim.Result{}, errors.New("backtest: catalog is required")
	}
	if opts.Ledger == nil {
		return sim.Result{}, errors.New("backtest: ledger is required")
	}
	defer feed.Close()

	strat, err := strategies.ByName(job.Strategy, job.Params)
	if err != nil {
		return sim.Result{}, err
	}

	var simOpts []sim.Option
	if opts.Logger != nil {
		simOpts = append(simOpts, sim.WithLogger(opts.Logger.WithField("strategy", job.Strategy)))
	}
	if opts.Metrics != nil {
		simOpts = append(simOpts, sim.WithMetrics(opts.Metrics))
	}
	e, err := sim.NewEngine(job.Config, opts.Catalog, opts.Ledger, simOpts...)
	if err != nil {
		return sim.Result{}, fmt.Errorf("backtest: %w", err)
	}
	return e.Run(ctx, feed, strat)
}

// Sweep runs every job over bars concurrently. Jobs without a run id get a
// fresh one, reported in the Outcome; jobs itself is not modified. A run that aborts is reported in its Outcome and does not stop
// the others; setup errors (unknown strategy, bad config, duplicate run id)
// cancel the sweep.
func Sweep(ctx context.Context, bars []market.Bar, jobs []Job, opts Options) ([]Outcome, error) {
	jobs = slices.Clone(jobs)
	seen := make(map[string]bool, len(jobs))
	for i := range jobs {
		if jobs[i].Config.RunID == "" {
			jobs[i].Config.RunID = id.New()
		}
		if seen[jobs[i].Config.RunID] {
			return nil, fmt.Errorf("backtest: duplicate run id %q", jobs[i].Config.RunID)
		}
		seen[jobs[i].Config.RunID] = true
	}

	out := make([]Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Parallel > 0 {
		g.SetLimit(opts.Parallel)
	}

	var mu sync.Mutex
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := Run(gctx, market.NewSliceFeed(bars), job, opts)

			var re *sim.RunError
			if err != nil && !errors.As(err, &re) {
				return fmt.Errorf("run %s (%s): %w", job.Config.RunID, job.Strategy, err)
			}

			mu.Lock()
			out[i] = Outcome{Job: job, Result: res, Err: err}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PrintSummary writes one line per outcome.
func PrintSummary(w io.Writer, outcomes []Outcome) {
	fmt.Fprintf(w, "%-28s %-14s %6s %8s %14s %12s %s\n",
		"RUN", "STRATEGY", "BARS", "REJECTS", "AVAILABLE", "NET P/L", "STATUS")
	for _, o := range outcomes {
		status := "ok"
		if o.Err != nil {
			status = o.Err.Error()
		}
		fmt.Fprintf(w, "%-28s %-14s %6d %8d %14s %12s %s\n",
			o.Job.Config.RunID, o.Job.Strategy, o.Result.Bars, o.Result.Rejections,
			o.Result.Balance.Available.StringFixed(2), o.Result.NetPnL.StringFixed(2), status)
	}
}
