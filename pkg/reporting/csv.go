package reporting

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"
)

// WriteJournalCSV writes the replayed journal rows to path. A path ending in
// .xlsx is delegated to the Excel writer.
func WriteJournalCSV(r *Report, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return WriteXLSX(r, path)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"Timestamp", "Order_ID", "Symbol", "Strategy", "Side", "Status",
		"Quantity", "Filled", "Avg_Price", "Notional", "Realized_PnL", "Mode",
	}); err != nil {
		return err
	}

	for _, row := range r.Rows {
		if err := w.Write([]string{
			row.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			row.OrderID,
			row.Symbol,
			row.Strategy,
			string(row.Side),
			string(row.Status),
			formatFloat(row.Quantity),
			formatFloat(row.FilledQuantity),
			formatFloat(row.AvgPrice),
			strconv.FormatFloat(row.Notional, 'f', 2, 64),
			strconv.FormatFloat(row.Realized, 'f', 2, 64),
			row.Mode,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
