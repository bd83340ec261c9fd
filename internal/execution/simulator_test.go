package execution

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

type prices map[string]float64

func (p prices) LastPrice(symbol, _ string) (float64, bool) {
	px, ok := p[symbol]
	return px, ok
}

var (
	simNow = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	ticks  atomic.Int64
)

// newTestSimulator advances its clock on every read so ids never repeat across simulators
func newTestSimulator(book PriceBook, bps float64) *Simulator {
	sim := NewSimulator(book, bps)
	sim.SetClock(func() time.Time { return simNow.Add(time.Duration(ticks.Add(1)) * time.Microsecond) })
	return sim
}

func intent(side types.Side, orderType types.OrderType, qty float64) types.OrderIntent {
	return types.OrderIntent{
		Symbol:    "BTCUSDT",
		Strategy:  "breakout",
		Side:      side,
		Quantity:  qty,
		OrderType: orderType,
		Timeframe: "5m",
	}
}

// TestSimulator_LimitMarketability fills a marketable buy limit at its price and rejects a resting one
func TestSimulator_LimitMarketability(t *testing.T) {
	sim := newTestSimulator(prices{"BTCUSDT": 44000}, 0)

	buy := intent(types.SideBuy, types.OrderTypeLimit, 1)
	buy.Price = 44050
	res := sim.Fill(buy)
	assert.Equal(t, types.StatusFilled, res.Status)
	assert.Equal(t, 44050.0, res.AvgPrice)
	assert.Equal(t, 1.0, res.FilledQuantity)

	buy.Price = 43900
	res = sim.Fill(buy)
	assert.Equal(t, types.StatusRejected, res.Status)
	assert.Empty(t, res.OrderID)

	sell := intent(types.SideSell, types.OrderTypeLimit, 1)
	sell.Price = 43900
	assert.Equal(t, types.StatusFilled, sim.Fill(sell).Status)
	sell.Price = 44100
	assert.Equal(t, types.StatusRejected, sim.Fill(sell).Status)
}

func TestSimulator_MarketSlippageAgainstTaker(t *testing.T) {
	sim := newTestSimulator(prices{"BTCUSDT": 10000}, 10)

	buy := sim.Fill(intent(types.SideBuy, types.OrderTypeMarket, 2))
	require.Equal(t, types.StatusFilled, buy.Status)
	assert.InDelta(t, 10010.0, buy.AvgPrice, 1e-9)

	sell := sim.Fill(intent(types.SideSell, types.OrderTypeMarket, 2))
	assert.InDelta(t, 9990.0, sell.AvgPrice, 1e-9)
}

func TestSimulator_StopMarket(t *testing.T) {
	sim := newTestSimulator(prices{"BTCUSDT": 100}, 0)

	stop := intent(types.SideBuy, types.OrderTypeStopMarket, 1)
	stop.TriggerPrice = 101
	assert.Equal(t, types.StatusRejected, sim.Fill(stop).Status)

	stop.TriggerPrice = 99
	res := sim.Fill(stop)
	assert.Equal(t, types.StatusFilled, res.Status)
	assert.Equal(t, 100.0, res.AvgPrice)

	sellStop := intent(types.SideSell, types.OrderTypeStopMarket, 1)
	sellStop.TriggerPrice = 99
	assert.Equal(t, types.StatusRejected, sim.Fill(sellStop).Status)
	sellStop.TriggerPrice = 100
	assert.Equal(t, types.StatusFilled, sim.Fill(sellStop).Status)
}

func TestSimulator_NoPriceRejects(t *testing.T) {
	sim := newTestSimulator(prices{}, 0)
	res := sim.Fill(intent(types.SideBuy, types.OrderTypeMarket, 1))
	assert.Equal(t, types.StatusRejected, res.Status)
	assert.Contains(t, res.Message, "no price")
}

func TestSimulator_IDsAreUnique(t *testing.T) {
	sim := newTestSimulator(prices{"BTCUSDT": 100}, 0)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		res := sim.Fill(intent(types.SideBuy, types.OrderTypeMarket, 1))
		require.True(t, strings.HasPrefix(res.OrderID, "SIM-"))
		assert.False(t, seen[res.OrderID], "duplicate id %s", res.OrderID)
		seen[res.OrderID] = true
	}
}
