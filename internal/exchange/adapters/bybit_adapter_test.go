package adapters

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/order-pipeline/internal/errors"
	"github.com/ducminhle1904/order-pipeline/internal/exchange"
	"github.com/ducminhle1904/order-pipeline/internal/exchange/bybit"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

type fakeClient struct {
	placed    []bybit.PlaceOrderParams
	amended   []bybit.AmendOrderParams
	cancelled []string
	orders    map[string]*bybit.Order
	positions []bybit.PositionInfo
	err       error
}

func (f *fakeClient) GetEnvironment() string { return "testnet" }
func (f *fakeClient) Category() string       { return "linear" }

func (f *fakeClient) PlaceOrder(_ context.Context, p bybit.PlaceOrderParams) (*bybit.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.placed = append(f.placed, p)
	return &bybit.Order{OrderID: "b-1", OrderLinkID: p.OrderLinkID, Symbol: p.Symbol, Side: p.Side,
		Qty: p.Qty, OrderStatus: bybit.OrderStatusNew, CreatedTime: time.Unix(1700000000, 0)}, nil
}

func (f *fakeClient) AmendOrder(_ context.Context, p bybit.AmendOrderParams) (*bybit.Order, error) {
	f.amended = append(f.amended, p)
	return &bybit.Order{OrderID: p.OrderID, Symbol: p.Symbol, Qty: p.Qty, OrderStatus: bybit.OrderStatusNew}, nil
}

func (f *fakeClient) CancelOrder(_ context.Context, _, _, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return f.err
}

func (f *fakeClient) GetOrder(_ context.Context, _, _, orderID string) (*bybit.Order, error) {
	if o, ok := f.orders[orderID]; ok {
		return o, nil
	}
	return nil, bybit.NewBybitError(bybit.ErrCodeOrderNotFound, "Order not found")
}

func (f *fakeClient) GetPositions(context.Context, string, string) ([]bybit.PositionInfo, error) {
	return f.positions, f.err
}

func (f *fakeClient) GetLatestPrice(context.Context, string, string) (float64, error) {
	return 44000, f.err
}

func TestBybitAdapter_PlaceLimitOrder(t *testing.T) {
	fc := &fakeClient{}
	a := &BybitAdapter{client: fc}

	order, err := a.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: types.SideSell, OrderType: types.OrderTypeLimit,
		Quantity: "0.01", Price: "44050", LinkID: "abc", StopLoss: "44500",
	})
	require.NoError(t, err)
	require.Len(t, fc.placed, 1)
	p := fc.placed[0]
	assert.Equal(t, bybit.OrderSideSell, p.Side)
	assert.Equal(t, bybit.OrderTypeLimit, p.OrderType)
	assert.Equal(t, "44050", p.Price)
	assert.Equal(t, "44500", p.StopLoss)

	assert.Equal(t, "b-1", order.OrderID)
	assert.Equal(t, exchange.BrokerOrderNew, order.Status)
	assert.Equal(t, types.StatusPlaced, order.Status.ExecutionStatus())
	assert.Equal(t, 0.01, order.Quantity)
	assert.Equal(t, time.Unix(1700000000, 0), order.UpdatedAt)
}

func TestBybitAdapter_StopMarketUsesTrigger(t *testing.T) {
	fc := &fakeClient{}
	a := &BybitAdapter{client: fc}

	_, err := a.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: types.SideSell, OrderType: types.OrderTypeStopMarket,
		Quantity: "0.01", TriggerPrice: "43000",
	})
	require.NoError(t, err)
	p := fc.placed[0]
	assert.Equal(t, bybit.OrderTypeMarket, p.OrderType)
	assert.Equal(t, "43000", p.TriggerPrice)
	assert.Equal(t, 2, p.TriggerDirection)
}

func TestBybitAdapter_GetOrder(t *testing.T) {
	fc := &fakeClient{orders: map[string]*bybit.Order{
		"x": {OrderID: "x", Side: bybit.OrderSideBuy, Qty: "2", CumExecQty: "2", AvgPrice: "101.5", OrderStatus: bybit.OrderStatusFilled},
	}}
	a := &BybitAdapter{client: fc}

	o, err := a.GetOrder(context.Background(), "BTCUSDT", "x")
	require.NoError(t, err)
	assert.Equal(t, exchange.BrokerOrderFilled, o.Status)
	assert.Equal(t, 101.5, o.AvgPrice)
	assert.Equal(t, 2.0, o.FilledQuantity)

	_, err = a.GetOrder(context.Background(), "BTCUSDT", "missing")
	assert.ErrorIs(t, err, exchange.ErrOrderNotFound)
}

func TestBybitAdapter_PositionsSkipFlat(t *testing.T) {
	fc := &fakeClient{positions: []bybit.PositionInfo{
		{Symbol: "BTCUSDT", Side: "Sell", Size: "0.5", AvgPrice: "43000"},
		{Symbol: "ETHUSDT", Side: "", Size: "0"},
	}}
	a := &BybitAdapter{client: fc}

	positions, err := a.GetPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, -0.5, positions[0].Quantity)
	assert.Equal(t, 43000.0, positions[0].AvgPrice)
}

func TestConvertError(t *testing.T) {
	auth := bybit.NewBybitError(bybit.ErrCodeInvalidAPIKey, "API key is invalid.")
	assert.Same(t, auth, convertError("place order", auth))

	transport := convertError("place order", stderrors.New("dial tcp: i/o timeout"))
	cat := errors.CategorizeError(transport, "live", "place")
	assert.Equal(t, errors.ErrorCategoryNetwork, cat.Category)
	assert.True(t, cat.IsRetryable())

	invalid := convertError("place order", stderrors.New("qty is required"))
	assert.Equal(t, errors.ErrorCategoryBroker, errors.CategorizeError(invalid, "live", "place").Category)
}

func TestNewBroker_ValidatesConfig(t *testing.T) {
	_, err := NewBroker(exchange.ExchangeConfig{Name: "bybit", Bybit: &exchange.BybitConfig{APIKey: "k"}})
	var exErr *exchange.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "MISSING_API_SECRET", exErr.Code)

	_, err = NewBroker(exchange.ExchangeConfig{Name: "kraken"})
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "UNSUPPORTED_EXCHANGE", exErr.Code)

	b, err := NewBroker(exchange.ExchangeConfig{Name: "Bybit", Bybit: &exchange.BybitConfig{APIKey: "k", APISecret: "s", Testnet: true}})
	require.NoError(t, err)
	assert.Equal(t, "testnet", b.GetEnvironment())
}
