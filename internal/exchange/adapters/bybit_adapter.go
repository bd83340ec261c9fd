package adapters

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ducminhle1904/order-pipeline/internal/exchange"
	"github.com/ducminhle1904/order-pipeline/internal/exchange/bybit"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// bybitAPI is the part of the Bybit client the adapter drives
type bybitAPI interface {
	GetEnvironment() string
	Category() string
	PlaceOrder(ctx context.Context, params bybit.PlaceOrderParams) (*bybit.Order, error)
	AmendOrder(ctx context.Context, params bybit.AmendOrderParams) (*bybit.Order, error)
	CancelOrder(ctx context.Context, category, symbol, orderID string) error
	GetOrder(ctx context.Context, category, symbol, orderID string) (*bybit.Order, error)
	GetPositions(ctx context.Context, category, symbol string) ([]bybit.PositionInfo, error)
	GetLatestPrice(ctx context.Context, category, symbol string) (float64, error)
}

// BybitAdapter implements exchange.Broker and exchange.PriceSource for Bybit
type BybitAdapter struct {
	client bybitAPI
}

// NewBybitAdapter creates a new Bybit adapter instance
func NewBybitAdapter(config *exchange.BybitConfig) (*BybitAdapter, error) {
	if config == nil {
		return nil, &exchange.ExchangeError{
			Code:    "MISSING_BYBIT_CONFIG",
			Message: "Bybit configuration is required",
		}
	}

	client := bybit.NewClient(bybit.Config{
		APIKey:    config.APIKey,
		APISecret: config.APISecret,
		Testnet:   config.Testnet,
		Demo:      config.Demo,
		Category:  config.Category,
	})
	return &BybitAdapter{client: client}, nil
}

// GetName returns the exchange name
func (b *BybitAdapter) GetName() string {
	return "Bybit"
}

// GetEnvironment returns the current environment string
func (b *BybitAdapter) GetEnvironment() string {
	return b.client.GetEnvironment()
}

// PlaceOrder submits an order; stop-market orders become Bybit conditional market orders
func (b *BybitAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.BrokerOrder, error) {
	params := bybit.PlaceOrderParams{
		Symbol:      req.Symbol,
		Side:        convertOrderSide(req.Side),
		OrderType:   bybit.OrderTypeMarket,
		Qty:         req.Quantity,
		OrderLinkID: req.LinkID,
		TakeProfit:  req.TakeProfit,
		StopLoss:    req.StopLoss,
		ReduceOnly:  req.ReduceOnly,
	}
	switch req.OrderType {
	case types.OrderTypeLimit:
		params.OrderType = bybit.OrderTypeLimit
		params.Price = req.Price
	case types.OrderTypeStopMarket:
		params.TriggerPrice = req.TriggerPrice
		// buy stops trigger on a rise, sell stops on a fall
		params.TriggerDirection = 1
		if req.Side == types.SideSell {
			params.TriggerDirection = 2
		}
	}

	order, err := b.client.PlaceOrder(ctx, params)
	if err != nil {
		return nil, convertError("place order", err)
	}
	return convertOrder(order), nil
}

// AmendOrder changes a resting order
func (b *BybitAdapter) AmendOrder(ctx context.Context, req exchange.AmendRequest) (*exchange.BrokerOrder, error) {
	order, err := b.client.AmendOrder(ctx, bybit.AmendOrderParams{
		Symbol:       req.Symbol,
		OrderID:      req.OrderID,
		Qty:          req.Quantity,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
	})
	if err != nil {
		return nil, convertError("amend order", err)
	}
	return convertOrder(order), nil
}

// CancelOrder cancels a resting order
func (b *BybitAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := b.client.CancelOrder(ctx, "", symbol, orderID); err != nil {
		return convertError("cancel order", err)
	}
	return nil
}

// GetOrder retrieves the current state of an order
func (b *BybitAdapter) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.BrokerOrder, error) {
	order, err := b.client.GetOrder(ctx, "", symbol, orderID)
	if err != nil {
		if bybit.IsOrderNotFoundError(err) {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, convertError("get order", err)
	}
	return convertOrder(order), nil
}

// GetPositions retrieves current positions with signed quantities
func (b *BybitAdapter) GetPositions(ctx context.Context, symbol string) ([]exchange.BrokerPosition, error) {
	positions, err := b.client.GetPositions(ctx, "", symbol)
	if err != nil {
		return nil, convertError("get positions", err)
	}

	result := make([]exchange.BrokerPosition, 0, len(positions))
	for _, pos := range positions {
		qty := pos.SignedSize()
		if qty == 0 {
			continue
		}
		result = append(result, exchange.BrokerPosition{
			Symbol:        pos.Symbol,
			Quantity:      qty,
			AvgPrice:      parseFloat(pos.AvgPrice),
			MarkPrice:     parseFloat(pos.MarkPrice),
			UnrealizedPnL: parseFloat(pos.UnrealisedPnl),
		})
	}
	return result, nil
}

// GetLatestPrice retrieves the latest price for a symbol
func (b *BybitAdapter) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := b.client.GetLatestPrice(ctx, "", symbol)
	if err != nil {
		return 0, convertError("get latest price", err)
	}
	return price, nil
}

func convertOrderSide(side types.Side) bybit.OrderSide {
	if side == types.SideSell {
		return bybit.OrderSideSell
	}
	return bybit.OrderSideBuy
}

func convertSide(side bybit.OrderSide) types.Side {
	if side == bybit.OrderSideSell {
		return types.SideSell
	}
	return types.SideBuy
}

func convertStatus(status bybit.OrderStatus) exchange.BrokerOrderStatus {
	switch status {
	case bybit.OrderStatusFilled:
		return exchange.BrokerOrderFilled
	case bybit.OrderStatusPartiallyFilled, bybit.OrderStatusPartiallyFilledCanceled:
		return exchange.BrokerOrderPartial
	case bybit.OrderStatusCancelled, bybit.OrderStatusDeactivated:
		return exchange.BrokerOrderCancelled
	case bybit.OrderStatusRejected:
		return exchange.BrokerOrderRejected
	default:
		return exchange.BrokerOrderNew
	}
}

func convertOrder(order *bybit.Order) *exchange.BrokerOrder {
	updated := order.UpdatedTime
	if updated.IsZero() {
		updated = order.CreatedTime
	}
	return &exchange.BrokerOrder{
		OrderID:        order.OrderID,
		LinkID:         order.OrderLinkID,
		Symbol:         order.Symbol,
		Side:           convertSide(order.Side),
		Status:         convertStatus(order.OrderStatus),
		Quantity:       parseFloat(order.Qty),
		FilledQuantity: parseFloat(order.CumExecQty),
		AvgPrice:       parseFloat(order.AvgPrice),
		Raw:            order.Raw,
		UpdatedAt:      updated,
	}
}

// convertError keeps API errors intact so their category survives, and
// marks transport failures as retryable connection errors
func convertError(operation string, err error) error {
	var apiErr *bybit.BybitError
	if stderrors.As(err, &apiErr) {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("bybit %s: %w", operation, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "is required") || strings.Contains(msg, "nothing to amend") {
		return &exchange.ExchangeError{Code: "INVALID_REQUEST", Message: "Invalid Bybit " + operation, Details: msg}
	}
	return &exchange.ExchangeError{
		Code:        "CONNECTION_FAILED",
		Message:     "Bybit " + operation + " failed",
		Details:     msg,
		IsRetryable: true,
	}
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
