package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// ConsoleReporter renders reports as operator tables
type ConsoleReporter struct {
	out io.Writer
}

// NewConsoleReporter writes to w, or stdout when w is nil
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleReporter{out: w}
}

func (c *ConsoleReporter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// PrintSummary prints the replay totals and the per strategy breakdown
func (c *ConsoleReporter) PrintSummary(r *Report) {
	s := r.Summary
	t := c.newTable(fmt.Sprintf("JOURNAL SUMMARY (%s)", r.Class))
	t.AppendRows([]table.Row{
		{"Orders", s.Orders},
		{"Fills", s.Fills},
		{"Buy Notional", fmt.Sprintf("$%.2f", s.BuyNotional)},
		{"Sell Notional", fmt.Sprintf("$%.2f", s.SellNotional)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Realized P&L", fmt.Sprintf("$%.2f", s.RealizedPnL)},
		{"Unrealized P&L", fmt.Sprintf("$%.2f", s.UnrealizedPnL)},
		{"Open Positions", s.OpenPositions},
		{"Max Drawdown", fmt.Sprintf("%.2f%%", s.MaxDrawdownPct)},
	})
	if s.FinalEquity > 0 {
		t.AppendRow(table.Row{"Final Equity", fmt.Sprintf("$%.2f", s.FinalEquity)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 18, Align: text.AlignRight},
	})
	t.Render()
	fmt.Fprintln(c.out)

	if len(s.Strategies) == 0 {
		return
	}
	st := c.newTable("STRATEGIES")
	st.AppendHeader(table.Row{"Strategy", "Orders", "Notional", "Realized"})
	for _, name := range r.SortedStrategies() {
		line := s.Strategies[name]
		if name == "" {
			name = "-"
		}
		st.AppendRow(table.Row{name, line.Orders, fmt.Sprintf("%.2f", line.Notional), fmt.Sprintf("%.2f", line.Realized)})
	}
	st.Render()
	fmt.Fprintln(c.out)
}

// PrintPositions prints open positions valued at the last marks
func (c *ConsoleReporter) PrintPositions(r *Report) {
	t := c.newTable("OPEN POSITIONS")
	t.AppendHeader(table.Row{"Symbol", "Quantity", "Avg Price", "Mark", "Unrealized", "Realized"})
	for _, sym := range r.SortedSymbols() {
		p := r.Positions[sym]
		t.AppendRow(table.Row{
			sym,
			fmt.Sprintf("%g", p.Quantity),
			fmt.Sprintf("%.4f", p.AvgPrice),
			fmt.Sprintf("%.4f", p.MarkPrice()),
			fmt.Sprintf("%.2f", p.UnrealizedPnL),
			fmt.Sprintf("%.2f", p.RealizedPnL),
		})
	}
	if len(r.Positions) == 0 {
		t.AppendRow(table.Row{"flat", "", "", "", "", ""})
	}
	t.Render()
	fmt.Fprintln(c.out)
}

// PrintJournal prints the last limit journal rows; limit <= 0 prints all
func (c *ConsoleReporter) PrintJournal(r *Report, limit int) {
	rows := r.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	t := c.newTable(fmt.Sprintf("JOURNAL (%d of %d)", len(rows), len(r.Rows)))
	t.AppendHeader(table.Row{"Time", "Order", "Symbol", "Side", "Status", "Filled", "Price", "Realized"})
	for _, row := range rows {
		t.AppendRow(table.Row{
			row.Timestamp.Format("2006-01-02 15:04:05"),
			row.OrderID,
			row.Symbol,
			row.Side,
			row.Status,
			fmt.Sprintf("%g", row.FilledQuantity),
			fmt.Sprintf("%.4f", row.AvgPrice),
			fmt.Sprintf("%.2f", row.Realized),
		})
	}
	t.Render()
	fmt.Fprintln(c.out)
}
