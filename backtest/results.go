package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/barledger/order"
	"github.com/rustyeddy/barledger/sim"
)

func PrintResult(w io.Writer, r sim.Result) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:        %s\n", r.RunID)
	fmt.Fprintf(w, "Strategy:      %s\n", r.Strategy)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, "--------------------------------------------------")
	if r.Bars > 0 {
		fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
		fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Bars:          %d\n", r.Bars)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Orders")
	fmt.Fprintln(w, "--------------------------------------------------")
	for _, s := range []order.Status{order.Pending, order.Filled, order.Closed, order.Cancelled} {
		fmt.Fprintf(w, "%-14s %d\n", string(s)+":", r.Orders[s])
	}
	fmt.Fprintf(w, "Rejected:      %d\n", r.Rejections)
	fmt.Fprintf(w, "Transactions:  %d\n", r.Transactions)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Available:     %s\n", r.Balance.Available.StringFixed(2))
	fmt.Fprintf(w, "Unavailable:   %s\n", r.Balance.Unavailable.StringFixed(2))
	fmt.Fprintf(w, "Total:         %s\n", r.Balance.Total().StringFixed(2))
	fmt.Fprintf(w, "Utilization:   %s%%\n", r.Balance.UtilizationRate().StringFixed(2))
	fmt.Fprintf(w, "Net P/L:       %s\n", r.NetPnL.StringFixed(2))

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Warnings")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, msg := range r.Warnings {
			fmt.Fprintf(w, "- %s\n", msg)
		}
	}

	fmt.Fprintln(w)
}
