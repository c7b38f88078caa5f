package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/barledger/backtest"
	"github.com/rustyeddy/barledger/config"
	"github.com/rustyeddy/barledger/ledger"
	"github.com/rustyeddy/barledger/market"
	"github.com/rustyeddy/barledger/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Backtest the configured strategies over a bar file",
	Long: `Run every strategy in the config file over the same CSV bars. Each run
gets its own run id in the ledger.

CSV format: time,open,high,low,close[,volume] with RFC3339 times.

Example:
  barledger run -f backtest.yaml -d data/BTCUSD-H1.csv --from 2024-01-01T00:00:00Z`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runConfigPath string
	runDataPath   string
	runFrom       string
	runTo         string
	runStrategies []string
	runMetrics    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.Flags().StringVarP(&runDataPath, "data", "d", "", "path to bar CSV (required)")
	runCmd.Flags().StringVar(&runFrom, "from", "", "first bar time, inclusive (RFC3339)")
	runCmd.Flags().StringVar(&runTo, "to", "", "last bar time, exclusive (RFC3339)")
	runCmd.Flags().StringSliceVarP(&runStrategies, "strategy", "s", nil, "only run these configured strategies (repeatable)")
	runCmd.Flags().BoolVar(&runMetrics, "metrics", false, "print run metrics after the results")
	runCmd.MarkFlagRequired("config")
	runCmd.MarkFlagRequired("data")
}

func runRun(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	from, err := parseTime(runFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseTime(runTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	bars, err := market.LoadCSV(runDataPath, from, to)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}

	jobs, err := cfg.Jobs()
	if err != nil {
		return err
	}
	if len(runStrategies) > 0 {
		jobs = slices.DeleteFunc(jobs, func(j backtest.Job) bool {
			return !slices.Contains(runStrategies, j.Strategy)
		})
		if len(jobs) == 0 {
			return fmt.Errorf("no configured strategy matches %s", strings.Join(runStrategies, ", "))
		}
	}

	catalog, err := cfg.NewCatalog()
	if err != nil {
		return err
	}
	l, err := cfg.OpenLedger()
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()

	reg := prometheus.NewRegistry()
	opts := backtest.Options{
		Catalog:  catalog,
		Ledger:   l,
		Logger:   log,
		Metrics:  metrics.New(reg),
		Parallel: cfg.Run.Parallel,
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Running %d strategy run(s) over %d bars from %s\n\n", len(jobs), len(bars), runDataPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	outcomes, err := backtest.Sweep(ctx, bars, jobs, opts)
	if err != nil {
		return err
	}

	failed := 0
	for _, o := range outcomes {
		backtest.PrintResult(out, o.Result)
		if o.Err != nil {
			failed++
			fmt.Fprintf(out, "Aborted:       %v\n\n", o.Err)
		}
	}
	if len(outcomes) > 1 {
		backtest.PrintSummary(out, outcomes)
	}

	if cfg.Ledger.CSV != "" {
		if err := exportRuns(ctx, l, cfg.Account.ID, outcomes, cfg.Ledger.CSV); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nTransactions written to %s\n", cfg.Ledger.CSV)
	}

	if runMetrics {
		families, err := reg.Gather()
		if err != nil {
			return fmt.Errorf("gather metrics: %w", err)
		}
		fmt.Fprintln(out)
		printMetrics(out, families)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d runs aborted", failed, len(outcomes))
	}
	return nil
}

func exportRuns(ctx context.Context, l ledger.Ledger, accountID string, outcomes []backtest.Outcome, path string) error {
	var all []ledger.Transaction
	for _, o := range outcomes {
		txs, err := l.Transactions(context.WithoutCancel(ctx), ledger.TxQuery{AccountID: accountID, RunID: o.Result.RunID})
		if err != nil {
			return fmt.Errorf("query transactions: %w", err)
		}
		all = append(all, txs...)
	}

	return ledger.WriteCSVFile(path, all)
}

// printMetrics writes one line per gathered sample.
func printMetrics(w io.Writer, families []*dto.MetricFamily) {
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)

			var v float64
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				v = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				v = m.GetGauge().GetValue()
			default:
				continue
			}
			fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), v)
		}
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
