package bybit

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/ducminhle1904/order-pipeline/internal/errors"
)

// BybitError represents a Bybit API error with additional context
type BybitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *BybitError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("Bybit API error %d: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("Bybit API error %d: %s", e.Code, e.Message)
}

// ErrorCategory classifies the API error for the recovery handler
func (e *BybitError) ErrorCategory() errors.ErrorCategory {
	switch e.Code {
	case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodePermissionDenied:
		return errors.ErrorCategoryCredentials
	case ErrCodeRateLimitExceeded:
		return errors.ErrorCategoryRateLimit
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, ErrCodeServerBusy, ErrCodeInvalidTimestamp:
		return errors.ErrorCategoryTemporary
	case ErrCodeInsufficientBalance, ErrCodeOrderNotFound, ErrCodeSymbolNotFound, ErrCodeInvalidOrderType,
		ErrCodeInvalidQuantity, ErrCodeInvalidPrice, ErrCodeMarketClosed:
		return errors.ErrorCategoryOrder
	}
	return errors.ErrorCategoryBroker
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodePermissionDenied    = 10005
	ErrCodeInvalidTimestamp    = 10002
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeServerBusy          = 10016
	ErrCodeOrderNotFound       = 110001
	ErrCodeInvalidOrderType    = 110004
	ErrCodeInsufficientBalance = 110007
	ErrCodeSymbolNotFound      = 110009
	ErrCodeInvalidQuantity     = 110020
	ErrCodeInvalidPrice        = 110021
	ErrCodeMarketClosed        = 110043
)

// IsRetryableError determines if an error should be retried
func IsRetryableError(err error) bool {
	var bybitErr *BybitError
	if !stderrors.As(err, &bybitErr) {
		return false
	}
	switch bybitErr.ErrorCategory() {
	case errors.ErrorCategoryRateLimit, errors.ErrorCategoryTemporary:
		return true
	}
	return false
}

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	var bybitErr *BybitError
	return stderrors.As(err, &bybitErr) && bybitErr.ErrorCategory() == errors.ErrorCategoryCredentials
}

// IsOrderNotFoundError checks if the error is due to order not found
func IsOrderNotFoundError(err error) bool {
	var bybitErr *BybitError
	return stderrors.As(err, &bybitErr) && bybitErr.Code == ErrCodeOrderNotFound
}

// NewBybitError creates a new BybitError
func NewBybitError(code int, message string, details ...string) *BybitError {
	err := &BybitError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// ParseAPIError extracts error information from the API response
func ParseAPIError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	if retMsg == "" {
		retMsg = GetErrorDescription(retCode)
	}
	return NewBybitError(retCode, retMsg)
}

// ErrorCodes maps common error codes to human-readable messages
var ErrorCodes = map[int]string{
	ErrCodeInvalidAPIKey:       "Invalid API key",
	ErrCodeInvalidSignature:    "Invalid signature",
	ErrCodePermissionDenied:    "Permission denied for API key",
	ErrCodeInvalidTimestamp:    "Invalid timestamp",
	ErrCodeRateLimitExceeded:   "Rate limit exceeded",
	ErrCodeServerBusy:          "Server busy",
	ErrCodeInsufficientBalance: "Insufficient balance",
	ErrCodeOrderNotFound:       "Order not found",
	ErrCodeSymbolNotFound:      "Symbol not found",
	ErrCodeInvalidOrderType:    "Invalid order type",
	ErrCodeInvalidQuantity:     "Invalid quantity",
	ErrCodeInvalidPrice:        "Invalid price",
	ErrCodeMarketClosed:        "Market is closed",
}

// GetErrorDescription returns a human-readable description for an error code
func GetErrorDescription(code int) string {
	if desc, exists := ErrorCodes[code]; exists {
		return desc
	}
	return fmt.Sprintf("Unknown error code: %d", code)
}
