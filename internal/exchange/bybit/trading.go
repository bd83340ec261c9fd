package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// OrderType represents the type of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// TimeInForce represents how long an order remains active
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good Till Cancelled
	TimeInForceIOC TimeInForce = "IOC" // Immediate Or Cancel
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusNew                     OrderStatus = "New"
	OrderStatusUntriggered             OrderStatus = "Untriggered"
	OrderStatusTriggered               OrderStatus = "Triggered"
	OrderStatusPartiallyFilled         OrderStatus = "PartiallyFilled"
	OrderStatusPartiallyFilledCanceled OrderStatus = "PartiallyFilledCanceled"
	OrderStatusFilled                  OrderStatus = "Filled"
	OrderStatusCancelled               OrderStatus = "Cancelled"
	OrderStatusDeactivated             OrderStatus = "Deactivated"
	OrderStatusRejected                OrderStatus = "Rejected"
)

// Order represents a trading order
type Order struct {
	OrderID      string          `json:"orderId"`
	OrderLinkID  string          `json:"orderLinkId"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	OrderType    OrderType       `json:"orderType"`
	Qty          string          `json:"qty"`
	Price        string          `json:"price"`
	TriggerPrice string          `json:"triggerPrice"`
	TimeInForce  TimeInForce     `json:"timeInForce"`
	OrderStatus  OrderStatus     `json:"orderStatus"`
	CumExecQty   string          `json:"cumExecQty"`
	CumExecValue string          `json:"cumExecValue"`
	AvgPrice     string          `json:"avgPrice"`
	TakeProfit   string          `json:"takeProfit"`
	StopLoss     string          `json:"stopLoss"`
	CreatedTime  time.Time       `json:"-"`
	UpdatedTime  time.Time       `json:"-"`
	Raw          json.RawMessage `json:"-"`
}

// wireOrder mirrors an order entry as Bybit sends it
type wireOrder struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	Qty          string `json:"qty"`
	Price        string `json:"price"`
	TriggerPrice string `json:"triggerPrice"`
	TimeInForce  string `json:"timeInForce"`
	OrderStatus  string `json:"orderStatus"`
	CumExecQty   string `json:"cumExecQty"`
	CumExecValue string `json:"cumExecValue"`
	AvgPrice     string `json:"avgPrice"`
	TakeProfit   string `json:"takeProfit"`
	StopLoss     string `json:"stopLoss"`
	CreatedTime  string `json:"createdTime"`
	UpdatedTime  string `json:"updatedTime"`
}

func (w wireOrder) toOrder(raw json.RawMessage) Order {
	return Order{
		OrderID:      w.OrderID,
		OrderLinkID:  w.OrderLinkID,
		Symbol:       w.Symbol,
		Side:         OrderSide(w.Side),
		OrderType:    OrderType(w.OrderType),
		Qty:          w.Qty,
		Price:        w.Price,
		TriggerPrice: w.TriggerPrice,
		TimeInForce:  TimeInForce(w.TimeInForce),
		OrderStatus:  OrderStatus(w.OrderStatus),
		CumExecQty:   w.CumExecQty,
		CumExecValue: w.CumExecValue,
		AvgPrice:     w.AvgPrice,
		TakeProfit:   w.TakeProfit,
		StopLoss:     w.StopLoss,
		CreatedTime:  parseTimestamp(w.CreatedTime),
		UpdatedTime:  parseTimestamp(w.UpdatedTime),
		Raw:          raw,
	}
}

// PlaceOrderParams holds parameters for placing an order
type PlaceOrderParams struct {
	Category         string      `json:"category"`
	Symbol           string      `json:"symbol"`
	Side             OrderSide   `json:"side"`
	OrderType        OrderType   `json:"orderType"`
	Qty              string      `json:"qty"`
	Price            string      `json:"price,omitempty"`
	TimeInForce      TimeInForce `json:"timeInForce,omitempty"`
	OrderLinkID      string      `json:"orderLinkId,omitempty"`
	TakeProfit       string      `json:"takeProfit,omitempty"`
	StopLoss         string      `json:"stopLoss,omitempty"`
	ReduceOnly       bool        `json:"reduceOnly,omitempty"`
	TriggerPrice     string      `json:"triggerPrice,omitempty"`
	TriggerDirection int         `json:"triggerDirection,omitempty"` // 1: rise to trigger, 2: fall to trigger
}

// toMap validates the params and converts them to the API request map
func (p PlaceOrderParams) toMap() (map[string]interface{}, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if p.Side == "" {
		return nil, fmt.Errorf("side is required")
	}
	if p.OrderType == "" {
		return nil, fmt.Errorf("orderType is required")
	}
	if p.Qty == "" {
		return nil, fmt.Errorf("qty is required")
	}
	if p.OrderType == OrderTypeLimit && p.Price == "" {
		return nil, fmt.Errorf("price is required for limit orders")
	}
	if p.OrderType == OrderTypeLimit && p.TimeInForce == "" {
		p.TimeInForce = TimeInForceGTC
	}

	apiParams := map[string]interface{}{
		"category":  p.Category,
		"symbol":    p.Symbol,
		"side":      string(p.Side),
		"orderType": string(p.OrderType),
		"qty":       p.Qty,
	}
	if p.Price != "" {
		apiParams["price"] = p.Price
	}
	if p.TimeInForce != "" {
		apiParams["timeInForce"] = string(p.TimeInForce)
	}
	if p.OrderLinkID != "" {
		apiParams["orderLinkId"] = p.OrderLinkID
	}
	if p.TakeProfit != "" {
		apiParams["takeProfit"] = p.TakeProfit
	}
	if p.StopLoss != "" {
		apiParams["stopLoss"] = p.StopLoss
	}
	if p.ReduceOnly {
		apiParams["reduceOnly"] = p.ReduceOnly
	}
	if p.TriggerPrice != "" {
		apiParams["triggerPrice"] = p.TriggerPrice
		apiParams["triggerDirection"] = p.TriggerDirection
	}
	return apiParams, nil
}

// PlaceOrder places a new order
func (c *Client) PlaceOrder(ctx context.Context, params PlaceOrderParams) (*Order, error) {
	if params.Category == "" {
		params.Category = c.category
	}
	apiParams, err := params.toMap()
	if err != nil {
		return nil, err
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	order, err := parseOrderResponse(result)
	if err != nil {
		return nil, err
	}
	order.Symbol = params.Symbol
	order.Side = params.Side
	order.OrderType = params.OrderType
	order.Qty = params.Qty
	order.Price = params.Price
	order.OrderStatus = OrderStatusNew
	return order, nil
}

// AmendOrderParams holds parameters for amending a resting order
type AmendOrderParams struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	OrderID      string `json:"orderId"`
	Qty          string `json:"qty,omitempty"`
	Price        string `json:"price,omitempty"`
	TriggerPrice string `json:"triggerPrice,omitempty"`
}

// AmendOrder changes quantity or price of an open order
func (c *Client) AmendOrder(ctx context.Context, params AmendOrderParams) (*Order, error) {
	if params.Category == "" {
		params.Category = c.category
	}
	if params.Symbol == "" || params.OrderID == "" {
		return nil, fmt.Errorf("symbol and orderId are required")
	}
	if params.Qty == "" && params.Price == "" && params.TriggerPrice == "" {
		return nil, fmt.Errorf("nothing to amend")
	}

	apiParams := map[string]interface{}{
		"category": params.Category,
		"symbol":   params.Symbol,
		"orderId":  params.OrderID,
	}
	if params.Qty != "" {
		apiParams["qty"] = params.Qty
	}
	if params.Price != "" {
		apiParams["price"] = params.Price
	}
	if params.TriggerPrice != "" {
		apiParams["triggerPrice"] = params.TriggerPrice
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).AmendOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to amend order: %w", err)
	}
	return parseOrderResponse(result)
}

// CancelOrder cancels an existing order
func (c *Client) CancelOrder(ctx context.Context, category, symbol, orderID string) error {
	if category == "" {
		category = c.category
	}
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	_, err = resultBytes(result)
	return err
}

// GetOrder looks the order up among open orders, then in the order history
func (c *Client) GetOrder(ctx context.Context, category, symbol, orderID string) (*Order, error) {
	if category == "" {
		category = c.category
	}
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	orders, err := parseOrdersResponse(result)
	if err != nil {
		return nil, err
	}
	if order := findOrder(orders, orderID); order != nil {
		return order, nil
	}

	result, err = c.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	orders, err = parseOrdersResponse(result)
	if err != nil {
		return nil, err
	}
	if order := findOrder(orders, orderID); order != nil {
		return order, nil
	}
	return nil, NewBybitError(ErrCodeOrderNotFound, GetErrorDescription(ErrCodeOrderNotFound), orderID)
}

func findOrder(orders []Order, orderID string) *Order {
	for i := range orders {
		if orders[i].OrderID == orderID {
			return &orders[i]
		}
	}
	return nil
}

// PositionInfo represents a position as reported by Bybit
type PositionInfo struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // Buy, Sell, or empty when flat
	Size          string    `json:"size"`
	AvgPrice      string    `json:"avgPrice"`
	MarkPrice     string    `json:"markPrice"`
	UnrealisedPnl string    `json:"unrealisedPnl"`
	UpdatedTime   time.Time `json:"-"`
}

// SignedSize returns the position size, negative for shorts
func (p PositionInfo) SignedSize() float64 {
	size := parseFloat64(p.Size)
	if p.Side == string(OrderSideSell) {
		return -size
	}
	return size
}

// GetPositions retrieves positions for the category
func (c *Client) GetPositions(ctx context.Context, category, symbol string) ([]PositionInfo, error) {
	if category == "" {
		category = c.category
	}
	params := map[string]interface{}{
		"category": category,
	}
	if symbol != "" {
		params["symbol"] = symbol
	} else if category == "linear" {
		params["settleCoin"] = "USDT"
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	return parsePositionsResponse(result)
}

// resultBytes checks the envelope and returns the raw result payload
func resultBytes(response interface{}) ([]byte, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type %T", response)
	}
	if err := ParseAPIError(serverResp.RetCode, serverResp.RetMsg); err != nil {
		return nil, err
	}
	data, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return data, nil
}

// parseOrderResponse parses a place or amend response
func parseOrderResponse(response interface{}) (*Order, error) {
	data, err := resultBytes(response)
	if err != nil {
		return nil, err
	}
	var w wireOrder
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order result: %w", err)
	}
	if w.OrderID == "" {
		return nil, fmt.Errorf("order response carries no orderId")
	}
	order := w.toOrder(data)
	return &order, nil
}

// parseOrdersResponse parses an order list response
func parseOrdersResponse(response interface{}) ([]Order, error) {
	data, err := resultBytes(response)
	if err != nil {
		return nil, err
	}
	var listResult struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(data, &listResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order list result: %w", err)
	}

	orders := make([]Order, 0, len(listResult.List))
	for _, raw := range listResult.List {
		var w wireOrder
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		orders = append(orders, w.toOrder(raw))
	}
	return orders, nil
}

// parsePositionsResponse parses the positions API response
func parsePositionsResponse(response interface{}) ([]PositionInfo, error) {
	data, err := resultBytes(response)
	if err != nil {
		return nil, err
	}
	var positionResult struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &positionResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position result: %w", err)
	}

	positions := make([]PositionInfo, 0, len(positionResult.List))
	for _, p := range positionResult.List {
		positions = append(positions, PositionInfo{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Size:          p.Size,
			AvgPrice:      p.AvgPrice,
			MarkPrice:     p.MarkPrice,
			UnrealisedPnl: p.UnrealisedPnl,
			UpdatedTime:   parseTimestamp(p.UpdatedTime),
		})
	}
	return positions, nil
}

func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// parseTimestamp converts milliseconds timestamp to time.Time
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	msec, _ := strconv.ParseInt(ts, 10, 64)
	return time.UnixMilli(msec)
}
