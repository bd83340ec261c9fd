package execution

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// PriceBook supplies the last known price for a symbol and timeframe
type PriceBook interface {
	LastPrice(symbol, timeframe string) (float64, bool)
}

// Simulator fills paper orders against the last known price. It never rests an
// order: anything that cannot fill now is rejected.
type Simulator struct {
	prices      PriceBook
	slippageBps float64
	now         func() time.Time
	seq         atomic.Int64
}

func NewSimulator(prices PriceBook, slippageBps float64) *Simulator {
	if slippageBps < 0 {
		slippageBps = 0
	}
	return &Simulator{prices: prices, slippageBps: slippageBps, now: time.Now}
}

// SetClock replaces the time source, used by tests
func (s *Simulator) SetClock(now func() time.Time) {
	s.now = now
}

// Fill simulates one order
func (s *Simulator) Fill(intent types.OrderIntent) types.ExecutionResult {
	last, ok := s.prices.LastPrice(intent.Symbol, intent.Timeframe)
	if !ok || last <= 0 {
		return s.reject(intent, fmt.Sprintf("no price for %s", intent.Symbol))
	}

	switch intent.OrderType {
	case types.OrderTypeMarket, "":
		return s.fill(intent, s.withSlippage(intent.Side, last))

	case types.OrderTypeLimit:
		if intent.Price <= 0 {
			return s.reject(intent, "limit order without price")
		}
		marketable := (intent.Side == types.SideBuy && intent.Price >= last) ||
			(intent.Side == types.SideSell && intent.Price <= last)
		if !marketable {
			return s.reject(intent, fmt.Sprintf("limit %g not marketable at %g", intent.Price, last))
		}
		return s.fill(intent, intent.Price)

	case types.OrderTypeStopMarket:
		if intent.TriggerPrice <= 0 {
			return s.reject(intent, "stop order without trigger price")
		}
		triggered := (intent.Side == types.SideBuy && last >= intent.TriggerPrice) ||
			(intent.Side == types.SideSell && last <= intent.TriggerPrice)
		if !triggered {
			return s.reject(intent, fmt.Sprintf("stop %g not triggered at %g", intent.TriggerPrice, last))
		}
		return s.fill(intent, s.withSlippage(intent.Side, last))
	}

	return s.reject(intent, fmt.Sprintf("unsupported order type %s", intent.OrderType))
}

// withSlippage moves the price against the taker
func (s *Simulator) withSlippage(side types.Side, last float64) float64 {
	return last * (1 + side.Sign()*s.slippageBps/10000)
}

func (s *Simulator) nextID() string {
	return fmt.Sprintf("SIM-%d-%d", s.now().UnixNano(), s.seq.Add(1))
}

func (s *Simulator) fill(intent types.OrderIntent, price float64) types.ExecutionResult {
	return types.ExecutionResult{
		OrderID:        s.nextID(),
		Status:         types.StatusFilled,
		Symbol:         intent.Symbol,
		Strategy:       intent.Strategy,
		Side:           intent.Side,
		Quantity:       intent.Quantity,
		FilledQuantity: intent.Quantity,
		AvgPrice:       price,
		Message:        "simulated fill",
		Timestamp:      s.now().UTC(),
	}
}

func (s *Simulator) reject(intent types.OrderIntent, msg string) types.ExecutionResult {
	r := types.Rejected(intent, msg)
	r.Timestamp = s.now().UTC()
	return r
}
