package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "barledger",
	Short: "A bar-by-bar order simulator with an append-only balance ledger",
	Long: `Barledger replays price bars through trading strategies and keeps every
balance change in an append-only transaction ledger.

It provides tools for:
  - Backtesting one or more strategies over the same bar data
  - Spot and leveraged orders with configurable fee and margin rules
  - Querying and exporting ledger transactions, balances and orders
  - Verifying balance snapshots against a full replay of the ledger`,
	SilenceUsage: true,
}

var logLevel string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func newLogger() (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, nil
}
