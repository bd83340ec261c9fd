package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

const (
	journalSheet   = "Journal"
	positionsSheet = "Positions"
	equitySheet    = "Equity"
	summarySheet   = "Summary"
)

// ExcelStyles holds Excel formatting styles
type ExcelStyles struct {
	HeaderStyle   int
	CurrencyStyle int
	PercentStyle  int
	BaseStyle     int
	BuyStyle      int
	SellStyle     int
	LossStyle     int
}

// ExcelReporter exports a report to an xlsx workbook
type ExcelReporter struct{}

func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

// WriteXLSX writes the journal, positions, equity and summary sheets to path
func (x *ExcelReporter) WriteXLSX(r *Report, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	if err := fx.SetSheetName(fx.GetSheetName(0), journalSheet); err != nil {
		return err
	}
	for _, name := range []string{positionsSheet, equitySheet, summarySheet} {
		if _, err := fx.NewSheet(name); err != nil {
			return err
		}
	}

	styles, err := createExcelStyles(fx)
	if err != nil {
		return err
	}

	if err := writeJournalSheet(fx, r, styles); err != nil {
		return err
	}
	if err := writePositionsSheet(fx, r, styles); err != nil {
		return err
	}
	if err := writeEquitySheet(fx, r, styles); err != nil {
		return err
	}
	if err := writeSummarySheet(fx, r, styles); err != nil {
		return err
	}
	return fx.SaveAs(path)
}

func createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	light := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	// Dark slate header with white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    light,
	})
	if err != nil {
		return styles, err
	}

	// Drawdown is stored in percent points, so a plain 0.00 format with a suffix
	pctFmt := `0.00"%"`
	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		CustomNumFmt: &pctFmt,
		Alignment:    &excelize.Alignment{Horizontal: "right"},
		Border:       light,
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{Border: light})
	if err != nil {
		return styles, err
	}

	styles.BuyStyle, err = fx.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E6F3FF"}, Pattern: 1},
		Border: light,
	})
	if err != nil {
		return styles, err
	}

	styles.SellStyle, err = fx.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E6FFE6"}, Pattern: 1},
		Border: light,
	})
	if err != nil {
		return styles, err
	}

	styles.LossStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "FF0000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    light,
	})
	return styles, err
}

func writeHeader(fx *excelize.File, sheet string, headers []string, styles ExcelStyles) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle); err != nil {
			return err
		}
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// writeRow writes values starting at column A with one style per column
func writeRow(fx *excelize.File, sheet string, row int, values []interface{}, cellStyles []int) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		if i < len(cellStyles) && cellStyles[i] != 0 {
			if err := fx.SetCellStyle(sheet, cell, cell, cellStyles[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func moneyStyle(v float64, styles ExcelStyles) int {
	if v < 0 {
		return styles.LossStyle
	}
	return styles.CurrencyStyle
}

func writeJournalSheet(fx *excelize.File, r *Report, styles ExcelStyles) error {
	headers := []string{"Timestamp", "Order ID", "Symbol", "Strategy", "Side", "Status",
		"Quantity", "Filled", "Avg Price", "Notional", "Realized", "Mode", "Message"}
	if err := writeHeader(fx, journalSheet, headers, styles); err != nil {
		return err
	}
	_ = fx.SetColWidth(journalSheet, "A", "A", 20)
	_ = fx.SetColWidth(journalSheet, "B", "B", 28)
	_ = fx.SetColWidth(journalSheet, "M", "M", 30)

	for i, row := range r.Rows {
		side := styles.BuyStyle
		if row.Side == types.SideSell {
			side = styles.SellStyle
		}
		values := []interface{}{
			row.Timestamp.Format("2006-01-02 15:04:05"), row.OrderID, row.Symbol, row.Strategy,
			string(row.Side), string(row.Status), row.Quantity, row.FilledQuantity, row.AvgPrice,
			row.Notional, row.Realized, row.Mode, row.Message,
		}
		cellStyles := []int{styles.BaseStyle, styles.BaseStyle, styles.BaseStyle, styles.BaseStyle,
			side, styles.BaseStyle, styles.BaseStyle, styles.BaseStyle, styles.CurrencyStyle,
			styles.CurrencyStyle, moneyStyle(row.Realized, styles), styles.BaseStyle, styles.BaseStyle}
		if err := writeRow(fx, journalSheet, i+2, values, cellStyles); err != nil {
			return err
		}
	}
	return nil
}

func writePositionsSheet(fx *excelize.File, r *Report, styles ExcelStyles) error {
	headers := []string{"Symbol", "Quantity", "Avg Price", "Mark", "Unrealized", "Realized"}
	if err := writeHeader(fx, positionsSheet, headers, styles); err != nil {
		return err
	}
	for i, sym := range r.SortedSymbols() {
		p := r.Positions[sym]
		values := []interface{}{sym, p.Quantity, p.AvgPrice, p.MarkPrice(), p.UnrealizedPnL, p.RealizedPnL}
		cellStyles := []int{styles.BaseStyle, styles.BaseStyle, styles.CurrencyStyle, styles.CurrencyStyle,
			moneyStyle(p.UnrealizedPnL, styles), moneyStyle(p.RealizedPnL, styles)}
		if err := writeRow(fx, positionsSheet, i+2, values, cellStyles); err != nil {
			return err
		}
	}
	return nil
}

func writeEquitySheet(fx *excelize.File, r *Report, styles ExcelStyles) error {
	headers := []string{"Timestamp", "Equity", "Realized", "Unrealized", "Peak", "Drawdown", "Open Positions"}
	if err := writeHeader(fx, equitySheet, headers, styles); err != nil {
		return err
	}
	_ = fx.SetColWidth(equitySheet, "A", "A", 20)
	for i, p := range r.Equity {
		values := []interface{}{
			p.Timestamp.Format("2006-01-02 15:04:05"), p.Equity, p.RealizedPnL, p.UnrealizedPnL,
			p.PeakEquity, p.DrawdownPct, p.OpenPositions,
		}
		cellStyles := []int{styles.BaseStyle, styles.CurrencyStyle, moneyStyle(p.RealizedPnL, styles),
			moneyStyle(p.UnrealizedPnL, styles), styles.CurrencyStyle, styles.PercentStyle, styles.BaseStyle}
		if err := writeRow(fx, equitySheet, i+2, values, cellStyles); err != nil {
			return err
		}
	}
	return nil
}

func writeSummarySheet(fx *excelize.File, r *Report, styles ExcelStyles) error {
	if err := writeHeader(fx, summarySheet, []string{"Metric", "Value"}, styles); err != nil {
		return err
	}
	_ = fx.SetColWidth(summarySheet, "A", "A", 22)
	_ = fx.SetColWidth(summarySheet, "B", "B", 18)

	s := r.Summary
	lines := []struct {
		label string
		value interface{}
		style int
	}{
		{"Instrument Class", r.Class, styles.BaseStyle},
		{"Generated At", r.GeneratedAt.Format("2006-01-02 15:04:05"), styles.BaseStyle},
		{"Orders", s.Orders, styles.BaseStyle},
		{"Fills", s.Fills, styles.BaseStyle},
		{"Buy Notional", s.BuyNotional, styles.CurrencyStyle},
		{"Sell Notional", s.SellNotional, styles.CurrencyStyle},
		{"Realized P&L", s.RealizedPnL, moneyStyle(s.RealizedPnL, styles)},
		{"Unrealized P&L", s.UnrealizedPnL, moneyStyle(s.UnrealizedPnL, styles)},
		{"Open Positions", s.OpenPositions, styles.BaseStyle},
		{"Max Drawdown", s.MaxDrawdownPct, styles.PercentStyle},
		{"Final Equity", s.FinalEquity, styles.CurrencyStyle},
	}
	for i, l := range lines {
		if err := writeRow(fx, summarySheet, i+2, []interface{}{l.label, l.value}, []int{styles.BaseStyle, l.style}); err != nil {
			return err
		}
	}
	return nil
}

// WriteXLSX exports r with the default reporter
func WriteXLSX(r *Report, path string) error {
	return NewExcelReporter().WriteXLSX(r, path)
}

// EnsureDirectoryExists creates the parent directory of path
func EnsureDirectoryExists(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
