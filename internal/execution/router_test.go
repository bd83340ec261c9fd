package execution

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/order-pipeline/internal/errors"
	"github.com/ducminhle1904/order-pipeline/internal/exchange"
	"github.com/ducminhle1904/order-pipeline/internal/logger"
	"github.com/ducminhle1904/order-pipeline/internal/state"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

func openStore(t *testing.T, root string) *state.Store {
	t.Helper()
	s, err := state.Open(state.Options{
		Root:        root,
		Mode:        "paper",
		Class:       "crypto",
		CapitalBase: 100000,
		Now:         func() time.Time { return simNow },
	}, logger.Nop())
	require.NoError(t, err)
	return s
}

func paperRouter(t *testing.T, cfg Config, book prices, store Recorder) *Router {
	t.Helper()
	cfg.Mode = ModePaper
	r, err := NewRouter(cfg, store, newTestSimulator(book, 0), nil, nil, logger.Nop())
	require.NoError(t, err)
	return r
}

func TestRouter_PaperFillIsJournaled(t *testing.T) {
	store := openStore(t, t.TempDir())
	book := prices{"BTCUSDT": 100}
	r := paperRouter(t, DefaultConfig(), book, store)

	exec, err := r.Route(context.Background(), intent(types.SideBuy, types.OrderTypeMarket, 10))
	require.NoError(t, err)
	assert.True(t, exec.Journaled)
	assert.Equal(t, ModePaper, exec.Result.Mode)

	book["BTCUSDT"] = 110
	exec, err = r.Route(context.Background(), intent(types.SideSell, types.OrderTypeMarket, 4))
	require.NoError(t, err)
	assert.InDelta(t, 40.0, exec.RealizedPnL, 1e-9)

	entries, err := store.Journal().ReadAll()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.InDelta(t, 6.0, store.Positions()["BTCUSDT"].Quantity, 1e-9)
}

func TestRouter_RejectedNotJournaled(t *testing.T) {
	store := openStore(t, t.TempDir())
	r := paperRouter(t, DefaultConfig(), prices{"BTCUSDT": 44000}, store)

	in := intent(types.SideBuy, types.OrderTypeLimit, 1)
	in.Price = 43900
	res, err := r.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, res.Status)

	entries, err := store.Journal().ReadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// lose books a 500 loss: buy 10 at 100, sell 10 at 50
func lose(t *testing.T, store *state.Store) {
	t.Helper()
	r := paperRouter(t, Config{}, prices{"BTCUSDT": 100}, store)
	_, err := r.Execute(context.Background(), intent(types.SideBuy, types.OrderTypeMarket, 10))
	require.NoError(t, err)
	r = paperRouter(t, Config{}, prices{"BTCUSDT": 50}, store)
	_, err = r.Execute(context.Background(), intent(types.SideSell, types.OrderTypeMarket, 10))
	require.NoError(t, err)
}

func TestRouter_DailyLossBreaker(t *testing.T) {
	store := openStore(t, t.TempDir())
	lose(t, store)

	r := paperRouter(t, Config{MaxDailyLoss: 400}, prices{"BTCUSDT": 50}, store)
	res, err := r.Execute(context.Background(), intent(types.SideBuy, types.OrderTypeMarket, 1))
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, res.Status)
	assert.Contains(t, res.Message, "circuit breaker: daily loss 500.00")

	r = paperRouter(t, Config{MaxDailyLoss: 600}, prices{"BTCUSDT": 50}, store)
	res, err = r.Execute(context.Background(), intent(types.SideBuy, types.OrderTypeMarket, 1))
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, res.Status)
}

func TestRouter_DrawdownBreaker(t *testing.T) {
	store := openStore(t, t.TempDir())
	lose(t, store)

	r := paperRouter(t, Config{MaxDrawdownPct: 0.4}, prices{"BTCUSDT": 50}, store)
	res, err := r.Execute(context.Background(), intent(types.SideBuy, types.OrderTypeMarket, 1))
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, res.Status)
	assert.Contains(t, res.Message, "drawdown 0.50%")
}

func TestRouter_CorruptCheckpointSkipsBreakers(t *testing.T) {
	root := t.TempDir()
	store := openStore(t, root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "paper", "checkpoint.json"), []byte("{nope"), 0644))

	r := paperRouter(t, Config{MaxDailyLoss: 1, MaxDrawdownPct: 0.01}, prices{"BTCUSDT": 10}, store)
	res, err := r.Execute(context.Background(), intent(types.SideBuy, types.OrderTypeMarket, 1))
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, res.Status)
}

func TestRouter_HaltFlag(t *testing.T) {
	store := openStore(t, t.TempDir())
	r := paperRouter(t, DefaultConfig(), prices{"BTCUSDT": 10}, store)

	r.Halt().Halt("maintenance")
	res, err := r.Execute(context.Background(), intent(types.SideBuy, types.OrderTypeMarket, 1))
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, res.Status)
	assert.Equal(t, "circuit breaker: halted: maintenance", res.Message)

	r.Halt().Clear()
	res, err = r.Execute(context.Background(), intent(types.SideBuy, types.OrderTypeMarket, 1))
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, res.Status)
}

func TestRouter_SimulationHasNoRestingOrders(t *testing.T) {
	store := openStore(t, t.TempDir())
	r := paperRouter(t, DefaultConfig(), prices{}, store)

	res, err := r.Cancel(context.Background(), "BTCUSDT", "SIM-1-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, res.Status)

	res, err = r.Modify(context.Background(), "BTCUSDT", "SIM-1-1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, res.Status)

	res, err = r.QueryOrder(context.Background(), "BTCUSDT", "SIM-1-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, res.Status)
}

func TestRouter_LivePlaceAndCancel(t *testing.T) {
	store := openStore(t, t.TempDir())
	broker := &fakeBroker{}
	cfg := DefaultConfig()
	cfg.Mode = ModeLive
	r, err := NewRouter(cfg, store, nil, newTestLive(broker, cfg.Live, nil), nil, logger.Nop())
	require.NoError(t, err)

	in := intent(types.SideBuy, types.OrderTypeLimit, 1)
	in.Price = 100
	exec, err := r.Route(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPlaced, exec.Result.Status)
	assert.True(t, exec.Journaled)
	require.Len(t, store.OpenOrders(), 1)

	res, err := r.Cancel(context.Background(), "BTCUSDT", "B-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, res.Status)
	assert.Equal(t, []string{"B-1"}, broker.cancelled)
	assert.Empty(t, store.OpenOrders())
}

func liveRouter(t *testing.T, store *state.Store, broker *fakeBroker, dryRun bool) *Router {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Mode = ModeLive
	cfg.Live.DryRun = dryRun
	r, err := NewRouter(cfg, store, nil, newTestLive(broker, cfg.Live, nil), nil, logger.Nop())
	require.NoError(t, err)
	return r
}

func placeLimit(t *testing.T, r *Router, qty float64) types.ExecutionResult {
	t.Helper()
	in := intent(types.SideBuy, types.OrderTypeLimit, qty)
	in.Price = 100
	exec, err := r.Route(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, types.StatusPlaced, exec.Result.Status)
	return exec.Result
}

func TestRouter_SyncBooksRestingFill(t *testing.T) {
	store := openStore(t, t.TempDir())
	broker := &fakeBroker{}
	r := liveRouter(t, store, broker, false)
	placeLimit(t, r, 1)
	assert.Empty(t, store.Positions())

	synced, err := r.SyncOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, "B-1#fill-1", synced[0].Fill.OrderID)
	assert.Equal(t, types.StatusFilled, synced[0].Fill.Status)
	assert.InDelta(t, 101.0, synced[0].Fill.AvgPrice, 1e-9)
	assert.True(t, synced[0].Closed)

	pos := store.Positions()["BTCUSDT"]
	assert.InDelta(t, 1.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 101.0, pos.AvgPrice, 1e-9)
	assert.Empty(t, store.OpenOrders())

	entries, err := store.Journal().ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "B-1", entries[0].OrderID)
	assert.Equal(t, "B-1", entries[1].ParentOrderID)

	calls := broker.callCount()
	synced, err = r.SyncOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, synced)
	assert.Equal(t, calls, broker.callCount())
}

func TestRouter_SyncBooksPartialIncrements(t *testing.T) {
	store := openStore(t, t.TempDir())
	broker := &fakeBroker{}
	r := liveRouter(t, store, broker, false)
	placeLimit(t, r, 10)

	broker.status = &exchange.BrokerOrder{Status: exchange.BrokerOrderPartial, Quantity: 10, FilledQuantity: 4, AvgPrice: 100}
	synced, err := r.SyncOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, types.StatusPartial, synced[0].Fill.Status)
	assert.InDelta(t, 4.0, synced[0].Fill.FilledQuantity, 1e-9)
	require.Len(t, store.OpenOrders(), 1)
	assert.InDelta(t, 4.0, store.OpenOrders()[0].Filled, 1e-9)

	// the same cumulative quantity again books nothing
	synced, err = r.SyncOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, synced)

	broker.status = &exchange.BrokerOrder{Status: exchange.BrokerOrderFilled, Quantity: 10, FilledQuantity: 10, AvgPrice: 103}
	synced, err = r.SyncOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, "B-1#fill-10", synced[0].Fill.OrderID)
	assert.InDelta(t, 6.0, synced[0].Fill.FilledQuantity, 1e-9)
	assert.InDelta(t, 105.0, synced[0].Fill.AvgPrice, 1e-9)

	pos := store.Positions()["BTCUSDT"]
	assert.InDelta(t, 10.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 103.0, pos.AvgPrice, 1e-9)
	assert.Empty(t, store.OpenOrders())
}

func TestRouter_QueryOrderBooksFill(t *testing.T) {
	store := openStore(t, t.TempDir())
	r := liveRouter(t, store, &fakeBroker{}, false)
	placeLimit(t, r, 1)

	res, err := r.QueryOrder(context.Background(), "BTCUSDT", "B-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, res.Status)
	assert.InDelta(t, 1.0, store.Positions()["BTCUSDT"].Quantity, 1e-9)
	assert.Empty(t, store.OpenOrders())
}

func TestRouter_SyncDropsDryRunOrders(t *testing.T) {
	store := openStore(t, t.TempDir())
	broker := &fakeBroker{}
	r := liveRouter(t, store, broker, true)
	res := placeLimit(t, r, 1)
	require.Len(t, store.OpenOrders(), 1)
	assert.Equal(t, res.OrderID, store.OpenOrders()[0].OrderID)

	synced, err := r.SyncOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, synced)
	assert.Empty(t, store.OpenOrders())
	assert.Empty(t, store.Positions())
	assert.Zero(t, broker.callCount())
}

func TestRouter_PaperSyncIsNoop(t *testing.T) {
	store := openStore(t, t.TempDir())
	r := paperRouter(t, DefaultConfig(), prices{"BTCUSDT": 100}, store)
	synced, err := r.SyncOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, synced)
}

func TestRouter_LiveFatalErrorPropagates(t *testing.T) {
	store := openStore(t, t.TempDir())
	broker := &fakeBroker{errs: []error{exchange.ErrAuthenticationFailed}}
	cfg := DefaultConfig()
	cfg.Mode = ModeLive
	r, err := NewRouter(cfg, store, nil, newTestLive(broker, cfg.Live, nil), nil, logger.Nop())
	require.NoError(t, err)

	res, err := r.Execute(context.Background(), intent(types.SideBuy, types.OrderTypeMarket, 1))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, types.StatusRejected, res.Status)
}

func TestNewRouter_ValidatesMode(t *testing.T) {
	store := openStore(t, t.TempDir())
	_, err := NewRouter(Config{Mode: "live"}, store, NewSimulator(prices{}, 0), nil, nil, logger.Nop())
	assert.Error(t, err)
	_, err = NewRouter(Config{Mode: "backtest"}, store, NewSimulator(prices{}, 0), nil, nil, logger.Nop())
	assert.Error(t, err)
}
