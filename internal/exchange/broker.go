package exchange

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ducminhle1904/order-pipeline/internal/errors"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// Broker is the narrow contract the live executor needs from an exchange
type Broker interface {
	GetName() string
	GetEnvironment() string

	PlaceOrder(ctx context.Context, req OrderRequest) (*BrokerOrder, error)
	AmendOrder(ctx context.Context, req AmendRequest) (*BrokerOrder, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (*BrokerOrder, error)
	GetPositions(ctx context.Context, symbol string) ([]BrokerPosition, error)
}

// PriceSource returns the last traded price for a symbol
type PriceSource interface {
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
}

// OrderRequest carries wire-formatted values; quantities and prices are decimal strings
type OrderRequest struct {
	Symbol       string          `json:"symbol"`
	Side         types.Side      `json:"side"`
	OrderType    types.OrderType `json:"order_type"`
	Quantity     string          `json:"quantity"`
	Price        string          `json:"price,omitempty"`
	TriggerPrice string          `json:"trigger_price,omitempty"`
	StopLoss     string          `json:"stop_loss,omitempty"`
	TakeProfit   string          `json:"take_profit,omitempty"`
	LinkID       string          `json:"link_id,omitempty"`
	ReduceOnly   bool            `json:"reduce_only,omitempty"`
}

// AmendRequest changes quantity and/or price of a resting order
type AmendRequest struct {
	Symbol       string `json:"symbol"`
	OrderID      string `json:"order_id"`
	Quantity     string `json:"quantity,omitempty"`
	Price        string `json:"price,omitempty"`
	TriggerPrice string `json:"trigger_price,omitempty"`
}

// BrokerOrderStatus is the broker-neutral order lifecycle state
type BrokerOrderStatus string

const (
	BrokerOrderNew       BrokerOrderStatus = "NEW"
	BrokerOrderPartial   BrokerOrderStatus = "PARTIALLY_FILLED"
	BrokerOrderFilled    BrokerOrderStatus = "FILLED"
	BrokerOrderCancelled BrokerOrderStatus = "CANCELLED"
	BrokerOrderRejected  BrokerOrderStatus = "REJECTED"
)

// ExecutionStatus maps a broker state onto the pipeline result status
func (s BrokerOrderStatus) ExecutionStatus() types.ExecutionStatus {
	switch s {
	case BrokerOrderFilled:
		return types.StatusFilled
	case BrokerOrderPartial:
		return types.StatusPartial
	case BrokerOrderCancelled:
		return types.StatusCancelled
	case BrokerOrderRejected:
		return types.StatusRejected
	default:
		return types.StatusPlaced
	}
}

// BrokerOrder represents order information returned by a broker
type BrokerOrder struct {
	OrderID        string            `json:"order_id"`
	LinkID         string            `json:"link_id,omitempty"`
	Symbol         string            `json:"symbol"`
	Side           types.Side        `json:"side"`
	Status         BrokerOrderStatus `json:"status"`
	Quantity       float64           `json:"quantity"`
	FilledQuantity float64           `json:"filled_quantity"`
	AvgPrice       float64           `json:"avg_price"`
	Raw            json.RawMessage   `json:"raw,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// BrokerPosition is a broker-reported position; Quantity is signed
type BrokerPosition struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// ExchangeError represents standardized errors from exchanges
type ExchangeError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Details     string `json:"details,omitempty"`
	IsRetryable bool   `json:"is_retryable"`
}

func (e *ExchangeError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// ErrorCategory classifies the error for the recovery handler
func (e *ExchangeError) ErrorCategory() errors.ErrorCategory {
	switch e.Code {
	case "AUTHENTICATION_FAILED", "MISSING_API_KEY", "MISSING_API_SECRET":
		return errors.ErrorCategoryCredentials
	case "RATE_LIMIT_EXCEEDED":
		return errors.ErrorCategoryRateLimit
	case "CONNECTION_FAILED":
		return errors.ErrorCategoryNetwork
	case "UNSUPPORTED_EXCHANGE", "MISSING_EXCHANGE_NAME", "MISSING_BYBIT_CONFIG", "INVALID_ENVIRONMENT_CONFIG":
		return errors.ErrorCategoryConfiguration
	}
	if e.IsRetryable {
		return errors.ErrorCategoryTemporary
	}
	return errors.ErrorCategoryBroker
}

// Common error types
var (
	ErrInsufficientBalance = &ExchangeError{
		Code:    "INSUFFICIENT_BALANCE",
		Message: "Insufficient balance for trade",
	}
	ErrInvalidSymbol = &ExchangeError{
		Code:    "INVALID_SYMBOL",
		Message: "Invalid trading symbol",
	}
	ErrOrderNotFound = &ExchangeError{
		Code:    "ORDER_NOT_FOUND",
		Message: "Order not found",
	}
	ErrRateLimitExceeded = &ExchangeError{
		Code:        "RATE_LIMIT_EXCEEDED",
		Message:     "API rate limit exceeded",
		IsRetryable: true,
	}
	ErrConnectionFailed = &ExchangeError{
		Code:        "CONNECTION_FAILED",
		Message:     "Failed to connect to exchange",
		IsRetryable: true,
	}
	ErrAuthenticationFailed = &ExchangeError{
		Code:    "AUTHENTICATION_FAILED",
		Message: "API authentication failed",
	}
)
