package reporting

import (
	"math"
	"sort"
	"time"

	"github.com/ducminhle1904/order-pipeline/internal/state"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// Row is one journaled order with the realized P&L its fill produced on replay
type Row struct {
	state.JournalEntry
	Notional float64
	Realized float64
}

// Summary aggregates a journal replay
type Summary struct {
	Orders         int
	Fills          int
	BuyNotional    float64
	SellNotional   float64
	RealizedPnL    float64
	UnrealizedPnL  float64
	OpenPositions  int
	MaxDrawdownPct float64
	FinalEquity    float64
	Strategies     map[string]StrategyLine
}

// StrategyLine is the per strategy slice of a summary
type StrategyLine struct {
	Orders   int
	Notional float64
	Realized float64
}

// Report is what the journal and equity series say about one instrument class
type Report struct {
	Class       string
	GeneratedAt time.Time
	Rows        []Row
	Positions   map[string]types.Position
	Equity      []state.EquityPoint
	Summary     Summary
}

// Build replays the journal entries of class through a fresh FIFO book. Marks
// value the open positions; a symbol without a mark is valued at entry.
func Build(class string, entries []state.JournalEntry, equity []state.EquityPoint, marks map[string]float64) *Report {
	ordered := make([]state.JournalEntry, 0, len(entries))
	for _, e := range entries {
		if class != "" && e.InstrumentClass != "" && e.InstrumentClass != class {
			continue
		}
		ordered = append(ordered, e)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	r := &Report{
		Class:       class,
		GeneratedAt: time.Now().UTC(),
		Summary:     Summary{Strategies: make(map[string]StrategyLine)},
	}
	book := state.NewLotBook()
	var seq int64
	for _, e := range ordered {
		row := Row{JournalEntry: e}
		line := r.Summary.Strategies[e.Strategy]
		// synced fill rows belong to an order already counted
		if e.ParentOrderID == "" {
			line.Orders++
			r.Summary.Orders++
		}

		if e.HasFill() {
			seq++
			row.Notional = e.FilledQuantity * e.AvgPrice
			row.Realized = book.Apply(types.FillFromResult(e.ExecutionResult, seq))
			r.Summary.Fills++
			if e.Side == types.SideSell {
				r.Summary.SellNotional += row.Notional
			} else {
				r.Summary.BuyNotional += row.Notional
			}
			line.Notional += row.Notional
			line.Realized += row.Realized
		}
		r.Summary.Strategies[e.Strategy] = line
		r.Rows = append(r.Rows, row)
	}

	positions, unrealized := book.MarkPositions(marks)
	r.Positions = positions
	r.Summary.RealizedPnL = book.RealizedPnL()
	r.Summary.UnrealizedPnL = unrealized
	r.Summary.OpenPositions = len(positions)

	for _, p := range equity {
		if class != "" && p.Class != "" && p.Class != class {
			continue
		}
		r.Equity = append(r.Equity, p)
		r.Summary.MaxDrawdownPct = math.Max(r.Summary.MaxDrawdownPct, p.DrawdownPct)
		r.Summary.FinalEquity = p.Equity
	}
	return r
}

// FromStore builds the report for the store's class from its journal and equity series
func FromStore(store *state.Store) (*Report, error) {
	entries, err := store.Journal().ReadAll()
	if err != nil {
		return nil, err
	}
	equity, err := store.EquitySeries()
	if err != nil {
		return nil, err
	}
	marks := make(map[string]float64)
	for sym, p := range store.Positions() {
		if p.LastMark > 0 {
			marks[sym] = p.LastMark
		}
	}
	return Build(store.Class(), entries, equity, marks), nil
}

// SortedSymbols returns position symbols in a stable order for tables
func (r *Report) SortedSymbols() []string {
	symbols := make([]string, 0, len(r.Positions))
	for sym := range r.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// SortedStrategies returns strategy names in a stable order for tables
func (r *Report) SortedStrategies() []string {
	names := make([]string, 0, len(r.Summary.Strategies))
	for name := range r.Summary.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
