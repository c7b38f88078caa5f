package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/barledger/ledger"
	"github.com/rustyeddy/barledger/order"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Query a SQLite ledger",
	Long: `Query and export transactions, balances and orders from a SQLite ledger.

Subcommands:
  transactions - List transactions of a run in (time, seq) order
  balance      - Show the latest snapshot and check it against a full replay
  orders       - List the latest version of each order
  export       - Write transactions to CSV

Examples:
  barledger ledger transactions --db ledger.sqlite --account SIM-001 --run 01HV...
  barledger ledger balance --db ledger.sqlite --account SIM-001 --run 01HV...`,
}

var ledgerTransactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List transactions",
	Args:  cobra.NoArgs,
	RunE:  runLedgerTransactions,
}

var ledgerBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the latest balance and verify it by replay",
	Args:  cobra.NoArgs,
	RunE:  runLedgerBalance,
}

var ledgerOrdersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List orders",
	Args:  cobra.NoArgs,
	RunE:  runLedgerOrders,
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export transactions to CSV",
	Args:  cobra.NoArgs,
	RunE:  runLedgerExport,
}

var (
	ledgerDBPath  string
	ledgerAccount string
	ledgerRun     string
	ledgerOrderID string
	ledgerSince   string
	ledgerTypes   []string
	ledgerStatus  []string
	ledgerAgent   string
	ledgerOutput  string
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerTransactionsCmd)
	ledgerCmd.AddCommand(ledgerBalanceCmd)
	ledgerCmd.AddCommand(ledgerOrdersCmd)
	ledgerCmd.AddCommand(ledgerExportCmd)

	ledgerCmd.PersistentFlags().StringVar(&ledgerDBPath, "db", "./barledger.sqlite", "path to SQLite ledger")
	ledgerCmd.PersistentFlags().StringVar(&ledgerAccount, "account", "", "account id")
	ledgerCmd.PersistentFlags().StringVar(&ledgerRun, "run", "", "run id")

	ledgerTransactionsCmd.Flags().StringVar(&ledgerOrderID, "order", "", "only transactions of this order")
	ledgerTransactionsCmd.Flags().StringVar(&ledgerSince, "since", "", "only transactions at or after this time (RFC3339)")
	ledgerTransactionsCmd.Flags().StringSliceVar(&ledgerTypes, "type", nil, "only these transaction types (repeatable)")

	ledgerOrdersCmd.Flags().StringVar(&ledgerAgent, "agent", "", "agent id")
	ledgerOrdersCmd.Flags().StringSliceVar(&ledgerStatus, "status", nil, "only these statuses (repeatable)")

	ledgerExportCmd.Flags().StringVarP(&ledgerOutput, "output", "o", "transactions.csv", "output CSV path")
}

func openLedger() (*ledger.SQLite, error) {
	if _, err := os.Stat(ledgerDBPath); err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	l, err := ledger.NewSQLite(ledgerDBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return l, nil
}

func txQuery() (ledger.TxQuery, error) {
	since, err := parseTime(ledgerSince)
	if err != nil {
		return ledger.TxQuery{}, fmt.Errorf("--since: %w", err)
	}
	q := ledger.TxQuery{AccountID: ledgerAccount, RunID: ledgerRun, OrderID: ledgerOrderID, Since: since}
	for _, t := range ledgerTypes {
		typ := ledger.TxType(t)
		if !typ.Valid() {
			return ledger.TxQuery{}, fmt.Errorf("unknown transaction type %q", t)
		}
		q.Types = append(q.Types, typ)
	}
	return q, nil
}

func runLedgerTransactions(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	q, err := txQuery()
	if err != nil {
		return err
	}
	txs, err := l.Transactions(context.Background(), q)
	if err != nil {
		return fmt.Errorf("query transactions: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%6s  %-20s  %-16s  %14s  %14s  %s\n", "SEQ", "TIME", "TYPE", "AVAILABLE", "UNAVAILABLE", "DESCRIPTION")
	for _, tx := range txs {
		fmt.Fprintf(out, "%6d  %-20s  %-16s  %14s  %14s  %s\n",
			tx.Seq, tx.Time.UTC().Format("2006-01-02T15:04:05Z"), tx.Type,
			tx.AvailableChange.String(), tx.UnavailableChange.String(), tx.Description)
	}
	return nil
}

func runLedgerBalance(cmd *cobra.Command, args []string) error {
	if ledgerAccount == "" || ledgerRun == "" {
		return fmt.Errorf("--account and --run are required")
	}
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	ctx := context.Background()
	latest, ok, err := l.LatestBalance(ctx, ledgerAccount, ledgerRun)
	if err != nil {
		return fmt.Errorf("latest balance: %w", err)
	}
	if !ok {
		return fmt.Errorf("no balance stored for %s/%s", ledgerAccount, ledgerRun)
	}
	replayed, err := ledger.Replay(ctx, l, ledgerAccount, ledgerRun, latest.Time)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Account:       %s\n", latest.AccountID)
	fmt.Fprintf(out, "Run:           %s\n", latest.RunID)
	fmt.Fprintf(out, "As of:         %s (seq %d)\n", latest.Time.UTC().Format("2006-01-02T15:04:05Z"), latest.LastSeq)
	fmt.Fprintf(out, "Available:     %s\n", latest.Available.String())
	fmt.Fprintf(out, "Unavailable:   %s\n", latest.Unavailable.String())
	fmt.Fprintf(out, "Total:         %s\n", latest.Total().String())
	fmt.Fprintf(out, "Utilization:   %s%%\n", latest.UtilizationRate().StringFixed(2))

	if !replayed.Equal(latest) {
		fmt.Fprintf(out, "Replay:        MISMATCH (available %s, unavailable %s)\n",
			replayed.Available.String(), replayed.Unavailable.String())
		return fmt.Errorf("snapshot does not match replay")
	}
	fmt.Fprintln(out, "Replay:        ok")
	return nil
}

func runLedgerOrders(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	q := ledger.OrderQuery{AgentID: ledgerAgent, RunID: ledgerRun}
	for _, s := range ledgerStatus {
		q.Statuses = append(q.Statuses, order.Status(s))
	}
	orders, err := l.Orders(context.Background(), q)
	if err != nil {
		return fmt.Errorf("query orders: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%4s  %-7s  %-10s  %-5s  %12s  %12s  %-9s  %12s  %s\n",
		"#", "KIND", "PAIR", "DIR", "VOLUME", "FILL", "STATUS", "NET P/L", "REASON")
	for _, o := range orders {
		fill := "-"
		if o.FillPrice.Valid {
			fill = o.FillPrice.Decimal.String()
		}
		fmt.Fprintf(out, "%4d  %-7s  %-10s  %-5s  %12s  %12s  %-9s  %12s  %s\n",
			o.Number, o.Kind, o.Pair, o.Direction, o.Volume.String(), fill, o.Status,
			o.NetPnL.StringFixed(2), o.CloseReason)
	}
	return nil
}

func runLedgerExport(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	q, err := txQuery()
	if err != nil {
		return err
	}
	txs, err := l.Transactions(context.Background(), q)
	if err != nil {
		return fmt.Errorf("query transactions: %w", err)
	}

	if err := ledger.WriteCSVFile(ledgerOutput, txs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %d transactions to %s\n", len(txs), ledgerOutput)
	return nil
}
