package state

import (
	"math"

	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// qtyEpsilon absorbs float residue left by partial lot matches
const qtyEpsilon = 1e-9

// LotBook keeps one FIFO queue of signed lots per symbol. All lots in a queue
// share the same sign: a fill first consumes the oldest opposite lots and only
// the unmatched remainder opens a new lot.
type LotBook struct {
	lots     map[string][]types.Lot
	realized map[string]float64
}

func NewLotBook() *LotBook {
	return &LotBook{
		lots:     make(map[string][]types.Lot),
		realized: make(map[string]float64),
	}
}

// RestoreLotBook rebuilds a book from checkpointed lots and realized totals
func RestoreLotBook(lots map[string][]types.Lot, realized map[string]float64) *LotBook {
	b := NewLotBook()
	for sym, queue := range lots {
		if len(queue) > 0 {
			b.lots[sym] = append([]types.Lot(nil), queue...)
		}
	}
	for sym, pnl := range realized {
		b.realized[sym] = pnl
	}
	return b
}

// Rebuild replays fills in timestamp order, ties broken by sequence
func Rebuild(fills []types.Fill) *LotBook {
	b := NewLotBook()
	for _, f := range sortFills(fills) {
		b.Apply(f)
	}
	return b
}

// Apply matches a signed fill against open lots and returns the realized P&L it produced
func (b *LotBook) Apply(f types.Fill) float64 {
	if math.Abs(f.Quantity) <= qtyEpsilon {
		return 0
	}

	queue := b.lots[f.Symbol]
	remaining := f.Quantity
	pnl := 0.0

	for math.Abs(remaining) > qtyEpsilon && len(queue) > 0 && !sameSign(queue[0].Quantity, remaining) {
		lot := &queue[0]
		matched := math.Min(math.Abs(remaining), math.Abs(lot.Quantity))
		if lot.Quantity > 0 {
			pnl += (f.Price - lot.Price) * matched
			lot.Quantity -= matched
			remaining += matched
		} else {
			pnl += (lot.Price - f.Price) * matched
			lot.Quantity += matched
			remaining -= matched
		}
		if math.Abs(lot.Quantity) <= qtyEpsilon {
			queue = queue[1:]
		}
	}

	if math.Abs(remaining) > qtyEpsilon {
		queue = append(queue, types.Lot{
			OrderID:  f.OrderID,
			Quantity: remaining,
			Price:    f.Price,
			OpenedAt: f.Timestamp,
		})
	}

	if len(queue) == 0 {
		delete(b.lots, f.Symbol)
	} else {
		b.lots[f.Symbol] = queue
	}
	b.realized[f.Symbol] += pnl
	return pnl
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}

// Position summarizes the open lots of one symbol. Quantity is zero when flat.
func (b *LotBook) Position(symbol string) types.Position {
	pos := types.Position{Symbol: symbol, RealizedPnL: b.realized[symbol]}

	var qty, absQty, cost float64
	for _, lot := range b.lots[symbol] {
		qty += lot.Quantity
		absQty += math.Abs(lot.Quantity)
		cost += math.Abs(lot.Quantity) * lot.Price
	}
	if absQty > qtyEpsilon {
		pos.Quantity = qty
		pos.AvgPrice = cost / absQty
	}
	return pos
}

// Positions returns every non-flat position
func (b *LotBook) Positions() map[string]types.Position {
	out := make(map[string]types.Position, len(b.lots))
	for sym := range b.lots {
		pos := b.Position(sym)
		if math.Abs(pos.Quantity) > qtyEpsilon {
			out[sym] = pos
		}
	}
	return out
}

// Lots returns a copy of the open lots for a symbol
func (b *LotBook) Lots(symbol string) []types.Lot {
	return append([]types.Lot(nil), b.lots[symbol]...)
}

// Snapshot copies lots and realized totals for checkpointing
func (b *LotBook) Snapshot() (map[string][]types.Lot, map[string]float64) {
	lots := make(map[string][]types.Lot, len(b.lots))
	for sym, queue := range b.lots {
		lots[sym] = append([]types.Lot(nil), queue...)
	}
	realized := make(map[string]float64, len(b.realized))
	for sym, pnl := range b.realized {
		realized[sym] = pnl
	}
	return lots, realized
}

// RealizedPnL is the total realized across symbols
func (b *LotBook) RealizedPnL() float64 {
	total := 0.0
	for _, pnl := range b.realized {
		total += pnl
	}
	return total
}

// MarkPositions values open positions at the given marks, falling back to avg entry
func (b *LotBook) MarkPositions(marks map[string]float64) (map[string]types.Position, float64) {
	positions := b.Positions()
	unrealized := 0.0
	for sym, pos := range positions {
		pos.LastMark = marks[sym]
		pos.UnrealizedPnL = (pos.MarkPrice() - pos.AvgPrice) * pos.Quantity
		unrealized += pos.UnrealizedPnL
		positions[sym] = pos
	}
	return positions, unrealized
}
