package safety

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

func invalid(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

var valid = ValidationResult{Valid: true}

// Validator provides numeric and format checks for order fields
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePrice validates a price value for trading
func (v *Validator) ValidatePrice(price float64, symbol string) ValidationResult {
	switch {
	case math.IsNaN(price):
		return invalid("INVALID_PRICE_NAN", "invalid price for %s: price is NaN", symbol)
	case math.IsInf(price, 0):
		return invalid("INVALID_PRICE_INF", "invalid price for %s: price is infinite", symbol)
	case price <= 0:
		return invalid("INVALID_PRICE_NEGATIVE", "invalid price %.8f for %s: price must be positive", price, symbol)
	case price > 1e10:
		return invalid("PRICE_OUT_OF_BOUNDS", "suspicious price %.8f for %s: exceeds reasonable bounds", price, symbol)
	}
	return valid
}

// ValidateQuantity validates a quantity value for trading
func (v *Validator) ValidateQuantity(quantity float64, symbol string) ValidationResult {
	switch {
	case math.IsNaN(quantity):
		return invalid("INVALID_QUANTITY_NAN", "invalid quantity for %s: quantity is NaN", symbol)
	case math.IsInf(quantity, 0):
		return invalid("INVALID_QUANTITY_INF", "invalid quantity for %s: quantity is infinite", symbol)
	case quantity <= 0:
		return invalid("INVALID_QUANTITY_NEGATIVE", "invalid quantity %.8f for %s: quantity must be positive", quantity, symbol)
	case quantity > 1e12:
		return invalid("QUANTITY_OUT_OF_BOUNDS", "suspicious quantity %.8f for %s: exceeds reasonable bounds", quantity, symbol)
	}
	return valid
}

// ValidateSymbol validates a trading symbol format
func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	if strings.TrimSpace(symbol) == "" {
		return invalid("EMPTY_SYMBOL", "symbol cannot be empty")
	}
	if len(symbol) > 40 {
		return invalid("SYMBOL_TOO_LONG", "symbol %s is too long", symbol)
	}
	for _, r := range symbol {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '&' || r == '.') {
			return invalid("INVALID_SYMBOL_CHARS", "symbol %s contains invalid character %q", symbol, r)
		}
	}
	return valid
}

// ValidateOrderID validates an order ID format
func (v *Validator) ValidateOrderID(orderID string) ValidationResult {
	if orderID == "" {
		return invalid("EMPTY_ORDER_ID", "order ID cannot be empty")
	}
	if len(orderID) > 64 {
		return invalid("ORDER_ID_TOO_LONG", "order ID %s exceeds 64 characters", orderID)
	}
	if strings.ContainsAny(orderID, " \t\n") {
		return invalid("ORDER_ID_WHITESPACE", "order ID %q contains whitespace", orderID)
	}
	return valid
}

// ValidateTimestamp validates a timestamp against the current time
func (v *Validator) ValidateTimestamp(ts, now time.Time, context string) ValidationResult {
	if ts.IsZero() {
		return invalid("ZERO_TIMESTAMP", "%s timestamp is not set", context)
	}
	if ts.After(now.Add(time.Minute)) {
		return invalid("FUTURE_TIMESTAMP", "%s timestamp %s is in the future", context, ts.Format(time.RFC3339))
	}
	return valid
}

// ValidatePercentageRange validates a percentage is within expected bounds
func (v *Validator) ValidatePercentageRange(percentage, min, max float64, context string) ValidationResult {
	if math.IsNaN(percentage) || math.IsInf(percentage, 0) {
		return invalid("INVALID_PERCENTAGE", "%s percentage is not finite", context)
	}
	if percentage < min || percentage > max {
		return invalid("PERCENTAGE_OUT_OF_RANGE", "%s percentage %.4f outside range [%.4f, %.4f]", context, percentage, min, max)
	}
	return valid
}

// ValidateIntent checks the fields every order needs before it reaches a broker
func (v *Validator) ValidateIntent(intent types.OrderIntent) ValidationResult {
	if r := v.ValidateSymbol(intent.Symbol); !r.Valid {
		return r
	}
	if !intent.Side.Valid() {
		return invalid("INVALID_SIDE", "invalid side %q for %s", intent.Side, intent.Symbol)
	}
	if r := v.ValidateQuantity(intent.Quantity, intent.Symbol); !r.Valid {
		return r
	}
	switch intent.OrderType {
	case types.OrderTypeLimit:
		return v.ValidatePrice(intent.Price, intent.Symbol)
	case types.OrderTypeStopMarket:
		return v.ValidatePrice(intent.TriggerPrice, intent.Symbol)
	}
	return valid
}

// SafeDivision performs division with zero-check
func (v *Validator) SafeDivision(dividend, divisor float64) (float64, error) {
	if divisor == 0 || math.IsNaN(divisor) {
		return 0, fmt.Errorf("division by zero or NaN")
	}
	result := dividend / divisor
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("division result is not finite: %f / %f", dividend, divisor)
	}
	return result, nil
}
