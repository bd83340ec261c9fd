package execution

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/order-pipeline/internal/errors"
	"github.com/ducminhle1904/order-pipeline/internal/exchange"
	"github.com/ducminhle1904/order-pipeline/internal/recovery"
	"github.com/ducminhle1904/order-pipeline/internal/safety"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// dryRunPrefix marks order ids synthesized without a broker
const dryRunPrefix = "DRY-"

// LiveConfig controls the broker path
type LiveConfig struct {
	DryRun           bool  `json:"dry_run" yaml:"dry_run"`
	QuantityDecimals int32 `json:"quantity_decimals" yaml:"quantity_decimals"`
	PriceDecimals    int32 `json:"price_decimals" yaml:"price_decimals"`
}

func DefaultLiveConfig() LiveConfig {
	return LiveConfig{QuantityDecimals: 6, PriceDecimals: 4}
}

// LiveExecutor sends orders to a broker through the retry schedule and a
// transport circuit breaker
type LiveExecutor struct {
	broker    exchange.Broker
	recovery  *recovery.RecoveryHandler
	breaker   *safety.CircuitBreaker
	validator *safety.Validator
	config    LiveConfig
	logger    Logger
	now       func() time.Time

	idMu    sync.Mutex
	entropy io.Reader
}

func NewLiveExecutor(
	broker exchange.Broker,
	handler *recovery.RecoveryHandler,
	breaker *safety.CircuitBreaker,
	config LiveConfig,
	logger Logger,
) *LiveExecutor {
	if breaker == nil {
		breaker = safety.NewCircuitBreaker("broker", safety.CircuitBreakerConfig{
			FailureThreshold: 5,
			Timeout:          time.Minute,
		})
	}
	return &LiveExecutor{
		broker:    broker,
		recovery:  handler,
		breaker:   breaker,
		validator: safety.NewValidator(),
		config:    config,
		logger:    logger,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// SetClock replaces the time source, used by tests
func (l *LiveExecutor) SetClock(now func() time.Time) {
	l.now = now
}

func (l *LiveExecutor) DryRun() bool {
	return l.config.DryRun
}

// Place sends one order. A fatal error (credentials, configuration) is returned
// alongside the rejected result so the engine can stop; every other failure is
// reported in the result only.
func (l *LiveExecutor) Place(ctx context.Context, intent types.OrderIntent) (types.ExecutionResult, error) {
	if v := l.validator.ValidateIntent(intent); !v.Valid {
		return l.rejected(intent, v.Message), nil
	}

	req := l.buildRequest(intent)

	if l.config.DryRun {
		l.logger.Info("DRY RUN: %s %s %s qty=%s price=%s", intent.OrderType, intent.Side, intent.Symbol, req.Quantity, req.Price)
		return types.ExecutionResult{
			OrderID:   dryRunPrefix + l.newULID(),
			Status:    types.StatusPlaced,
			Symbol:    intent.Symbol,
			Strategy:  intent.Strategy,
			Side:      intent.Side,
			Quantity:  intent.Quantity,
			Message:   "dry run",
			Timestamp: l.now().UTC(),
		}, nil
	}

	var order *exchange.BrokerOrder
	err := l.protected(ctx, "PlaceOrder", func() error {
		var placeErr error
		order, placeErr = l.broker.PlaceOrder(ctx, req)
		return placeErr
	})
	if err != nil {
		return l.failed(intent, "place", err)
	}

	result := l.fromOrder(intent, order)
	l.logger.Trade("%s %s %s qty=%g status=%s id=%s", intent.OrderType, intent.Side, intent.Symbol,
		intent.Quantity, result.Status, result.OrderID)
	return result, nil
}

// Amend changes quantity and/or price of a resting broker order
func (l *LiveExecutor) Amend(ctx context.Context, symbol, orderID string, quantity, price float64) (types.ExecutionResult, error) {
	intent := types.OrderIntent{Symbol: symbol, Quantity: quantity}
	if v := l.validator.ValidateOrderID(orderID); !v.Valid {
		return l.rejected(intent, v.Message), nil
	}
	req := exchange.AmendRequest{Symbol: symbol, OrderID: orderID}
	if quantity > 0 {
		req.Quantity = l.formatQuantity(quantity)
	}
	if price > 0 {
		req.Price = l.formatPrice(price)
	}
	if l.config.DryRun {
		return types.ExecutionResult{
			OrderID: orderID, Status: types.StatusPlaced, Symbol: symbol, Quantity: quantity,
			Message: "dry run amend", Timestamp: l.now().UTC(),
		}, nil
	}

	var order *exchange.BrokerOrder
	err := l.protected(ctx, "AmendOrder", func() error {
		var amendErr error
		order, amendErr = l.broker.AmendOrder(ctx, req)
		return amendErr
	})
	if err != nil {
		return l.failed(intent, "amend", err)
	}
	return l.fromOrder(intent, order), nil
}

// Cancel cancels a resting broker order
func (l *LiveExecutor) Cancel(ctx context.Context, symbol, orderID string) (types.ExecutionResult, error) {
	intent := types.OrderIntent{Symbol: symbol}
	if v := l.validator.ValidateOrderID(orderID); !v.Valid {
		return l.rejected(intent, v.Message), nil
	}
	result := types.ExecutionResult{
		OrderID:   orderID,
		Status:    types.StatusCancelled,
		Symbol:    symbol,
		Timestamp: l.now().UTC(),
	}
	if l.config.DryRun {
		result.Message = "dry run cancel"
		return result, nil
	}

	err := l.protected(ctx, "CancelOrder", func() error {
		return l.broker.CancelOrder(ctx, symbol, orderID)
	})
	if err != nil {
		return l.failed(intent, "cancel", err)
	}
	return result, nil
}

// Query fetches the broker's view of an order
func (l *LiveExecutor) Query(ctx context.Context, symbol, orderID string) (types.ExecutionResult, error) {
	intent := types.OrderIntent{Symbol: symbol}
	if l.config.DryRun {
		return l.rejected(intent, "dry run has no broker orders"), nil
	}
	var order *exchange.BrokerOrder
	err := l.protected(ctx, "GetOrder", func() error {
		var getErr error
		order, getErr = l.broker.GetOrder(ctx, symbol, orderID)
		return getErr
	})
	if err != nil {
		return l.failed(intent, "query", err)
	}
	return l.fromOrder(intent, order), nil
}

// Positions returns the broker-reported positions for symbol, or all when empty
func (l *LiveExecutor) Positions(ctx context.Context, symbol string) ([]exchange.BrokerPosition, error) {
	var positions []exchange.BrokerPosition
	err := l.protected(ctx, "GetPositions", func() error {
		var posErr error
		positions, posErr = l.broker.GetPositions(ctx, symbol)
		return posErr
	})
	return positions, err
}

// protected runs fn through the retry schedule; each attempt passes the circuit breaker
func (l *LiveExecutor) protected(ctx context.Context, operation string, fn func() error) error {
	return l.recovery.ExecuteWithRecovery(ctx, "LiveExecutor", operation, func() error {
		return l.breaker.Call(fn, countsAgainstBreaker)
	})
}

// countsAgainstBreaker trips the breaker on transport trouble only
func countsAgainstBreaker(err error) bool {
	return errors.CategorizeError(err, "", "").IsRetryable()
}

func (l *LiveExecutor) failed(intent types.OrderIntent, operation string, err error) (types.ExecutionResult, error) {
	result := l.rejected(intent, fmt.Sprintf("%s failed: %v", operation, err))
	if errors.IsFatal(err) {
		l.logger.Error("Fatal broker error on %s %s: %v", operation, intent.Symbol, err)
		return result, err
	}
	l.logger.LogWarning("LiveExecutor", "%s %s rejected: %v", operation, intent.Symbol, err)
	return result, nil
}

func (l *LiveExecutor) rejected(intent types.OrderIntent, msg string) types.ExecutionResult {
	r := types.Rejected(intent, msg)
	r.Timestamp = l.now().UTC()
	return r
}

func (l *LiveExecutor) buildRequest(intent types.OrderIntent) exchange.OrderRequest {
	req := exchange.OrderRequest{
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		OrderType: intent.OrderType,
		Quantity:  l.formatQuantity(intent.Quantity),
		LinkID:    uuid.NewString(),
	}
	if req.OrderType == "" {
		req.OrderType = types.OrderTypeMarket
	}
	if intent.OrderType == types.OrderTypeLimit {
		req.Price = l.formatPrice(intent.Price)
	}
	if intent.OrderType == types.OrderTypeStopMarket {
		req.TriggerPrice = l.formatPrice(intent.TriggerPrice)
	}
	if intent.StopLoss > 0 {
		req.StopLoss = l.formatPrice(intent.StopLoss)
	}
	if intent.TakeProfit > 0 {
		req.TakeProfit = l.formatPrice(intent.TakeProfit)
	}
	if intent.Metadata["reduce_only"] == "true" {
		req.ReduceOnly = true
	}
	return req
}

// formatQuantity truncates so the broker never receives more than was sized
func (l *LiveExecutor) formatQuantity(qty float64) string {
	return decimal.NewFromFloat(qty).Truncate(l.config.QuantityDecimals).String()
}

func (l *LiveExecutor) formatPrice(price float64) string {
	return decimal.NewFromFloat(price).Round(l.config.PriceDecimals).String()
}

func (l *LiveExecutor) newULID() string {
	l.idMu.Lock()
	defer l.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(l.now()), l.entropy).String()
}

func (l *LiveExecutor) fromOrder(intent types.OrderIntent, order *exchange.BrokerOrder) types.ExecutionResult {
	if order == nil {
		return l.rejected(intent, "broker returned no order")
	}
	status := order.Status.ExecutionStatus()
	// fills without a price are booked as placed
	if (status == types.StatusFilled || status == types.StatusPartial) && order.AvgPrice <= 0 {
		status = types.StatusPlaced
	}
	result := types.ExecutionResult{
		OrderID:        order.OrderID,
		Status:         status,
		Symbol:         order.Symbol,
		Strategy:       intent.Strategy,
		Side:           order.Side,
		Quantity:       order.Quantity,
		FilledQuantity: order.FilledQuantity,
		AvgPrice:       order.AvgPrice,
		Raw:            order.Raw,
		Timestamp:      order.UpdatedAt.UTC(),
	}
	if result.Symbol == "" {
		result.Symbol = intent.Symbol
	}
	if result.Side == "" {
		result.Side = intent.Side
	}
	if result.Quantity == 0 {
		result.Quantity = intent.Quantity
	}
	if order.UpdatedAt.IsZero() {
		result.Timestamp = l.now().UTC()
	}
	if status == types.StatusPlaced {
		result.FilledQuantity = 0
	}
	return result
}
