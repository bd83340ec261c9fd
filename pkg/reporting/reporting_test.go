package reporting

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/order-pipeline/internal/state"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

var t0 = time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC)

func entry(id string, side types.Side, qty, price float64, at time.Duration) state.JournalEntry {
	return state.JournalEntry{
		Version: state.JournalVersion,
		ExecutionResult: types.ExecutionResult{
			OrderID:         id,
			Status:          types.StatusFilled,
			Symbol:          "BTCUSDT",
			Strategy:        "breakout",
			Side:            side,
			Quantity:        qty,
			FilledQuantity:  qty,
			AvgPrice:        price,
			Mode:            "paper",
			InstrumentClass: "crypto",
			Timestamp:       t0.Add(at),
		},
	}
}

func sampleReport() *Report {
	entries := []state.JournalEntry{
		entry("SIM-3", types.SideSell, 1, 44500, 2*time.Minute),
		entry("SIM-1", types.SideBuy, 2, 44000, 0),
		{ExecutionResult: types.ExecutionResult{
			OrderID: "SIM-2", Status: types.StatusPlaced, Symbol: "ETHUSDT", Strategy: "grid",
			Side: types.SideBuy, Quantity: 1, InstrumentClass: "crypto", Timestamp: t0.Add(time.Minute),
		}},
		{ExecutionResult: types.ExecutionResult{
			OrderID: "EQ-1", Status: types.StatusFilled, Symbol: "INFY", Side: types.SideBuy,
			FilledQuantity: 10, AvgPrice: 1500, InstrumentClass: "equity", Timestamp: t0,
		}},
	}
	equity := []state.EquityPoint{
		{Timestamp: t0, Class: "crypto", Equity: 100000, PeakEquity: 100000},
		{Timestamp: t0.Add(time.Minute), Class: "crypto", Equity: 99000, PeakEquity: 100000, DrawdownPct: 1},
		{Timestamp: t0.Add(2 * time.Minute), Class: "crypto", Equity: 100500, PeakEquity: 100500},
		{Timestamp: t0, Class: "equity", Equity: 50000, DrawdownPct: 9},
	}
	return Build("crypto", entries, equity, map[string]float64{"BTCUSDT": 45000})
}

func TestBuild_ReplaysJournalInTimeOrder(t *testing.T) {
	r := sampleReport()

	require.Len(t, r.Rows, 3)
	assert.Equal(t, "SIM-1", r.Rows[0].OrderID)
	assert.Equal(t, "SIM-3", r.Rows[2].OrderID)
	assert.InDelta(t, 500.0, r.Rows[2].Realized, 1e-9)

	s := r.Summary
	assert.Equal(t, 3, s.Orders)
	assert.Equal(t, 2, s.Fills)
	assert.InDelta(t, 88000.0, s.BuyNotional, 1e-9)
	assert.InDelta(t, 44500.0, s.SellNotional, 1e-9)
	assert.InDelta(t, 500.0, s.RealizedPnL, 1e-9)
	assert.InDelta(t, 1000.0, s.UnrealizedPnL, 1e-9)
	assert.Equal(t, 1, s.OpenPositions)
	assert.Equal(t, 1.0, s.MaxDrawdownPct)
	assert.Equal(t, 100500.0, s.FinalEquity)
	assert.Equal(t, 1, s.Strategies["grid"].Orders)
	assert.InDelta(t, 500.0, s.Strategies["breakout"].Realized, 1e-9)

	require.Contains(t, r.Positions, "BTCUSDT")
	assert.InDelta(t, 1.0, r.Positions["BTCUSDT"].Quantity, 1e-9)
	assert.Len(t, r.Equity, 3)
}

func TestBuild_SyncedFillRowsAreNotExtraOrders(t *testing.T) {
	placed := state.JournalEntry{ExecutionResult: types.ExecutionResult{
		OrderID: "B-1", Status: types.StatusPlaced, Symbol: "BTCUSDT", Strategy: "breakout",
		Side: types.SideBuy, Quantity: 3, InstrumentClass: "crypto", Timestamp: t0,
	}}
	first := entry("B-1#fill-1", types.SideBuy, 1, 44000, time.Minute)
	first.ParentOrderID = "B-1"
	rest := entry("B-1#fill-3", types.SideBuy, 2, 44300, 2*time.Minute)
	rest.ParentOrderID = "B-1"

	r := Build("crypto", []state.JournalEntry{placed, first, rest}, nil, nil)
	assert.Equal(t, 1, r.Summary.Orders)
	assert.Equal(t, 2, r.Summary.Fills)
	assert.Equal(t, 1, r.Summary.Strategies["breakout"].Orders)
	assert.InDelta(t, 3.0, r.Positions["BTCUSDT"].Quantity, 1e-9)
	assert.InDelta(t, 44000.0+2*44300, r.Summary.BuyNotional, 1e-6)
}

func TestFromStore(t *testing.T) {
	now := t0
	store, err := state.Open(state.Options{
		Root: t.TempDir(), Mode: "paper", Class: "crypto", CapitalBase: 100000,
		Now: func() time.Time { return now },
	}, nopLogger{})
	require.NoError(t, err)

	_, _, err = store.RecordExecution(entry("SIM-1", types.SideBuy, 2, 44000, 0).ExecutionResult)
	require.NoError(t, err)
	require.NoError(t, store.UpdateMarks(map[string]float64{"BTCUSDT": 44100}))

	r, err := FromStore(store)
	require.NoError(t, err)
	assert.Equal(t, "crypto", r.Class)
	require.Len(t, r.Rows, 1)
	assert.InDelta(t, 200.0, r.Summary.UnrealizedPnL, 1e-9)
}

func TestConsoleReporter_PrintsTables(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleReporter(&buf)
	r := sampleReport()

	c.PrintSummary(r)
	c.PrintPositions(r)
	c.PrintJournal(r, 2)

	out := buf.String()
	assert.Contains(t, out, "JOURNAL SUMMARY (crypto)")
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "breakout")
	assert.Contains(t, out, "JOURNAL (2 of 3)")
	assert.NotContains(t, out, "INFY")
}

func TestExcelReporter_WritesSheets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "crypto.xlsx")
	require.NoError(t, WriteXLSX(sampleReport(), path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.Equal(t, []string{journalSheet, positionsSheet, equitySheet, summarySheet}, fx.GetSheetList())

	rows, err := fx.GetRows(journalSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Order ID", rows[0][1])
	assert.Equal(t, "SIM-1", rows[1][1])

	positions, err := fx.GetRows(positionsSheet)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "BTCUSDT", positions[1][0])

	equity, err := fx.GetRows(equitySheet)
	require.NoError(t, err)
	assert.Len(t, equity, 4)
}

func TestWriteJournalCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.csv")
	require.NoError(t, WriteJournalCSV(sampleReport(), path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "Realized_PnL", records[0][10])
	assert.Equal(t, "500.00", records[3][10])
}

func TestDefaultOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("reports", "crypto_2024-06-03.xlsx"), DefaultOutputPath("Crypto", t0, ""))
	assert.Equal(t, filepath.Join("reports", "pipeline_2024-06-03.csv"), DefaultOutputPath("", t0, ".csv"))
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})               {}
func (nopLogger) LogWarning(string, string, ...interface{}) {}
func (nopLogger) Error(string, ...interface{})              {}
func (nopLogger) LogDebugOnly(string, ...interface{})       {}
