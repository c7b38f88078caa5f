package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/barledger/config"
	"github.com/rustyeddy/barledger/rules"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage backtest configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  barledger config init -o backtest.yaml
  barledger config validate -f backtest.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "backtest.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nEdit the file and run with:")
	fmt.Fprintf(out, "  barledger run -f %s -d bars.csv\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", configValidatePath)
	fmt.Fprintf(out, "  Account: %s @ %s (%s %s)\n", cfg.Account.ID, cfg.Account.Broker,
		cfg.Account.InitialBalance.StringFixed(2), cfg.Account.Currency)
	fmt.Fprintf(out, "  Fill at: %s\n", cfg.Run.FillAt)
	fmt.Fprintf(out, "  Rules: %d pair(s)\n", len(cfg.Catalog))
	printRules(out, cfg.Catalog)
	for _, s := range cfg.Strategies {
		fmt.Fprintf(out, "  Strategy: %s on %s\n", s.Name, s.Pair)
	}
	fmt.Fprintf(out, "  Ledger: %s\n", cfg.Ledger.Type)
	return nil
}

// printRules lists each pair's leverage, allowed sides and fee schedule.
func printRules(w io.Writer, catalog []rules.TradingRules) {
	for _, r := range catalog {
		var sides []string
		if r.AllowLong {
			sides = append(sides, "long")
		}
		if r.AllowShort {
			sides = append(sides, "short")
		}
		overnight := string(r.OvernightTiming)
		if r.OvernightTiming == rules.OnFixedTime {
			overnight += " " + r.ChargeTime
		}
		fmt.Fprintf(w, "    %s/%s %s %s [%s] contract %s overnight %s\n",
			r.Broker, r.Pair, r.LeverageType, r.LeverageValue, strings.Join(sides, ","), r.Contract(), overnight)
		if len(r.Fees) == 0 {
			fmt.Fprintln(w, "      no fees")
		}
		for _, f := range r.Fees {
			fmt.Fprintf(w, "      %-20s %-19s %s\n", f.Timing, f.Type, f.Amount)
		}
	}
}
