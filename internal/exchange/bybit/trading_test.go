package bybit

import (
	"testing"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/order-pipeline/internal/errors"
)

func ok(result interface{}) *bybit_api.ServerResponse {
	return &bybit_api.ServerResponse{RetCode: 0, RetMsg: "OK", Result: result}
}

func TestParseOrderResponse(t *testing.T) {
	order, err := parseOrderResponse(ok(map[string]interface{}{
		"orderId":     "1321003749386327552",
		"orderLinkId": "link-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "1321003749386327552", order.OrderID)
	assert.Equal(t, "link-1", order.OrderLinkID)
	assert.NotEmpty(t, order.Raw)
}

func TestParseOrderResponse_APIError(t *testing.T) {
	_, err := parseOrderResponse(&bybit_api.ServerResponse{RetCode: ErrCodeInvalidAPIKey, RetMsg: "API key is invalid."})
	require.Error(t, err)
	assert.True(t, IsAuthenticationError(err))
	assert.Equal(t, errors.ErrorCategoryCredentials, errors.CategorizeError(err, "bybit", "place").Category)
}

func TestParseOrderResponse_WrongType(t *testing.T) {
	_, err := parseOrderResponse("not a response")
	assert.Error(t, err)
}

func TestParseOrdersResponse(t *testing.T) {
	orders, err := parseOrdersResponse(ok(map[string]interface{}{
		"list": []map[string]interface{}{
			{
				"orderId":     "a1",
				"symbol":      "BTCUSDT",
				"side":        "Sell",
				"orderType":   "Limit",
				"qty":         "0.010",
				"price":       "44050",
				"orderStatus": "PartiallyFilled",
				"cumExecQty":  "0.004",
				"avgPrice":    "44050",
				"updatedTime": "1700000000000",
			},
		},
	}))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, OrderSideSell, o.Side)
	assert.Equal(t, OrderStatusPartiallyFilled, o.OrderStatus)
	assert.Equal(t, "0.004", o.CumExecQty)
	assert.Equal(t, int64(1700000000000), o.UpdatedTime.UnixMilli())
	assert.Contains(t, string(o.Raw), `"orderId":"a1"`)

	assert.NotNil(t, findOrder(orders, "a1"))
	assert.Nil(t, findOrder(orders, "zz"))
}

func TestParsePositionsResponse_SignedSize(t *testing.T) {
	positions, err := parsePositionsResponse(ok(map[string]interface{}{
		"list": []map[string]interface{}{
			{"symbol": "BTCUSDT", "side": "Sell", "size": "0.5", "avgPrice": "43000", "markPrice": "42900"},
			{"symbol": "ETHUSDT", "side": "Buy", "size": "2", "avgPrice": "2300"},
		},
	}))
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, -0.5, positions[0].SignedSize())
	assert.Equal(t, 2.0, positions[1].SignedSize())
}

func TestParseLatestPriceResponse(t *testing.T) {
	resp := ok(map[string]interface{}{
		"list": []map[string]interface{}{
			{"symbol": "ETHUSDT", "lastPrice": "2301.5"},
			{"symbol": "BTCUSDT", "lastPrice": "44000"},
		},
	})
	price, err := parseLatestPriceResponse(resp, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 44000.0, price)

	_, err = parseLatestPriceResponse(resp, "SOLUSDT")
	assert.Error(t, err)
}

func TestPlaceOrderParams_ToMap(t *testing.T) {
	m, err := PlaceOrderParams{
		Category:  "linear",
		Symbol:    "BTCUSDT",
		Side:      OrderSideBuy,
		OrderType: OrderTypeLimit,
		Qty:       "0.01",
		Price:     "44050",
	}.toMap()
	require.NoError(t, err)
	assert.Equal(t, "GTC", m["timeInForce"])
	assert.Equal(t, "44050", m["price"])
	assert.NotContains(t, m, "triggerPrice")

	_, err = PlaceOrderParams{Symbol: "BTCUSDT", Side: OrderSideBuy, OrderType: OrderTypeLimit, Qty: "1"}.toMap()
	assert.EqualError(t, err, "price is required for limit orders")

	m, err = PlaceOrderParams{
		Symbol: "BTCUSDT", Side: OrderSideSell, OrderType: OrderTypeMarket, Qty: "1",
		TriggerPrice: "43000", TriggerDirection: 2,
	}.toMap()
	require.NoError(t, err)
	assert.Equal(t, 2, m["triggerDirection"])
}

func TestBybitError_Categories(t *testing.T) {
	tests := map[int]errors.ErrorCategory{
		ErrCodeInvalidAPIKey:       errors.ErrorCategoryCredentials,
		ErrCodeInvalidSignature:    errors.ErrorCategoryCredentials,
		ErrCodePermissionDenied:    errors.ErrorCategoryCredentials,
		ErrCodeRateLimitExceeded:   errors.ErrorCategoryRateLimit,
		ErrCodeServerBusy:          errors.ErrorCategoryTemporary,
		ErrCodeInsufficientBalance: errors.ErrorCategoryOrder,
		999999:                     errors.ErrorCategoryBroker,
	}
	for code, want := range tests {
		assert.Equal(t, want, NewBybitError(code, "x").ErrorCategory(), "code %d", code)
	}
	assert.True(t, IsRetryableError(NewBybitError(ErrCodeRateLimitExceeded, "slow down")))
	assert.False(t, IsRetryableError(NewBybitError(ErrCodeInvalidAPIKey, "bad key")))
}

func TestNewClient_Environment(t *testing.T) {
	assert.Equal(t, "demo", NewClient(Config{Demo: true}).GetEnvironment())
	assert.Equal(t, "testnet", NewClient(Config{Testnet: true}).GetEnvironment())
	c := NewClient(Config{})
	assert.Equal(t, "mainnet", c.GetEnvironment())
	assert.Equal(t, "linear", c.Category())
}
