package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

var txHeader = []string{
	"seq", "id", "time", "account_id", "run_id", "order_id", "type",
	"available_change", "unavailable_change", "description",
}

// WriteCSV writes transactions with a header row. Amounts keep their exact
// decimal form.
func WriteCSV(w io.Writer, txs []Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(txHeader); err != nil {
		return err
	}
	for _, tx := range txs {
		err := cw.Write([]string{
			strconv.FormatInt(tx.Seq, 10),
			tx.ID,
			tx.Time.UTC().Format(time.RFC3339Nano),
			tx.AccountID,
			tx.RunID,
			tx.OrderID,
			string(tx.Type),
			tx.AvailableChange.String(),
			tx.UnavailableChange.String(),
			tx.Description,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile creates path and writes txs to it. The file's close error is
// returned when the write itself succeeded.
func WriteCSVFile(path string, txs []Transaction) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return WriteCSV(f, txs)
}
