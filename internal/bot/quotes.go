package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/order-pipeline/internal/exchange"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// QuoteBook keeps the latest snapshot per symbol and timeframe. The market data
// component feeds it; an optional upstream PriceSource fills gaps on demand.
type QuoteBook struct {
	upstream exchange.PriceSource
	now      func() time.Time

	mu       sync.RWMutex
	quotes   map[string]types.MarketSnapshot
	bySymbol map[string]types.MarketSnapshot
}

func NewQuoteBook(upstream exchange.PriceSource) *QuoteBook {
	return &QuoteBook{
		upstream: upstream,
		now:      time.Now,
		quotes:   make(map[string]types.MarketSnapshot),
		bySymbol: make(map[string]types.MarketSnapshot),
	}
}

func quoteKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// Update stores snap unless a newer quote for the same key is already held
func (q *QuoteBook) Update(snap types.MarketSnapshot) {
	if snap.LastPrice <= 0 {
		return
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = q.now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	key := quoteKey(snap.Symbol, snap.Timeframe)
	if cur, ok := q.quotes[key]; ok && cur.Timestamp.After(snap.Timestamp) {
		return
	}
	q.quotes[key] = snap
	if cur, ok := q.bySymbol[snap.Symbol]; !ok || !cur.Timestamp.After(snap.Timestamp) {
		q.bySymbol[snap.Symbol] = snap
	}
}

// Snapshot returns the quote for symbol and timeframe, falling back to the
// freshest quote of the symbol on any timeframe
func (q *QuoteBook) Snapshot(symbol, timeframe string) (types.MarketSnapshot, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if snap, ok := q.quotes[quoteKey(symbol, timeframe)]; ok {
		return snap, true
	}
	snap, ok := q.bySymbol[symbol]
	return snap, ok
}

// LastPrice is the simulator's view of the book
func (q *QuoteBook) LastPrice(symbol, timeframe string) (float64, bool) {
	snap, ok := q.Snapshot(symbol, timeframe)
	if !ok || snap.LastPrice <= 0 {
		return 0, false
	}
	return snap.LastPrice, true
}

// Marks returns the latest price per symbol
func (q *QuoteBook) Marks() map[string]float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[string]float64, len(q.bySymbol))
	for sym, snap := range q.bySymbol {
		out[sym] = snap.LastPrice
	}
	return out
}

// Refresh pulls the last price for symbol from the upstream source
func (q *QuoteBook) Refresh(ctx context.Context, symbol, timeframe string) (types.MarketSnapshot, error) {
	if q.upstream == nil {
		return types.MarketSnapshot{}, fmt.Errorf("no upstream price source for %s", symbol)
	}
	price, err := q.upstream.GetLatestPrice(ctx, symbol)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	snap := types.MarketSnapshot{Symbol: symbol, Timeframe: timeframe, LastPrice: price, Timestamp: q.now().UTC()}
	q.Update(snap)
	return snap, nil
}
