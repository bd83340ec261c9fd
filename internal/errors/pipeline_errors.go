package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCategory represents the kind of failure seen by a pipeline component
type ErrorCategory string

const (
	// Never retried, stop the engine
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryCredentials   ErrorCategory = "CREDENTIALS"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"

	// Transient, retried at the broker boundary
	ErrorCategoryNetwork   ErrorCategory = "NETWORK"
	ErrorCategoryTimeout   ErrorCategory = "TIMEOUT"
	ErrorCategoryTemporary ErrorCategory = "TEMPORARY"
	ErrorCategoryRateLimit ErrorCategory = "RATE_LIMIT"

	// Rejections and local failures
	ErrorCategoryValidation  ErrorCategory = "VALIDATION"
	ErrorCategoryBroker      ErrorCategory = "BROKER"
	ErrorCategoryOrder       ErrorCategory = "ORDER"
	ErrorCategoryPersistence ErrorCategory = "PERSISTENCE"
	ErrorCategoryInternal    ErrorCategory = "INTERNAL"
)

// PipelineError is a categorized error with the component and operation that raised it
type PipelineError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

func (e *PipelineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Underlying
}

func (e *PipelineError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the engine
func (e *PipelineError) IsFatal() bool {
	return isFatalCategory(e.Category)
}

// Categorized is implemented by transport errors that know their own category
type Categorized interface {
	error
	ErrorCategory() ErrorCategory
}

func NewPipelineError(category ErrorCategory, component, operation, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// WrapError wraps an existing error with pipeline context
func WrapError(err error, category ErrorCategory, component, operation string) *PipelineError {
	if err == nil {
		return nil
	}

	return &PipelineError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *PipelineError) WithRetryable(retryable bool) *PipelineError {
	e.Retryable = retryable
	return e
}

func isFatalCategory(category ErrorCategory) bool {
	return category == ErrorCategoryFatal ||
		category == ErrorCategoryCredentials ||
		category == ErrorCategoryConfiguration
}

func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryTemporary, ErrorCategoryRateLimit:
		return true
	default:
		return false
	}
}

// CategorizeError attempts to categorize a generic error
func CategorizeError(err error, component, operation string) *PipelineError {
	if err == nil {
		return nil
	}

	var pipelineErr *PipelineError
	if stderrors.As(err, &pipelineErr) {
		return pipelineErr
	}

	var categorized Categorized
	if stderrors.As(err, &categorized) {
		return WrapError(err, categorized.ErrorCategory(), component, operation)
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
		return WrapError(err, ErrorCategoryTimeout, component, operation)
	}

	if strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "dns") || strings.Contains(errMsg, "dial") || strings.Contains(errMsg, "eof") {
		return WrapError(err, ErrorCategoryNetwork, component, operation)
	}

	if strings.Contains(errMsg, "api key") || strings.Contains(errMsg, "api secret") ||
		strings.Contains(errMsg, "authentication") || strings.Contains(errMsg, "unauthorized") ||
		strings.Contains(errMsg, "signature") {
		return WrapError(err, ErrorCategoryCredentials, component, operation)
	}

	if strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "too many requests") {
		return WrapError(err, ErrorCategoryRateLimit, component, operation)
	}

	if strings.Contains(errMsg, "insufficient") || strings.Contains(errMsg, "balance") {
		return WrapError(err, ErrorCategoryOrder, component, operation)
	}

	if strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "constraint") ||
		strings.Contains(errMsg, "minimum") || strings.Contains(errMsg, "maximum") {
		return WrapError(err, ErrorCategoryValidation, component, operation)
	}

	return WrapError(err, ErrorCategoryTemporary, component, operation)
}

// IsFatal reports whether err, once categorized, must stop the engine
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return CategorizeError(err, "", "").IsFatal()
}

func NewNetworkError(component, operation string, err error) *PipelineError {
	return WrapError(err, ErrorCategoryNetwork, component, operation)
}

func NewValidationError(component, operation, message string) *PipelineError {
	return NewPipelineError(ErrorCategoryValidation, component, operation, message)
}

func NewConfigurationError(component, operation, message string) *PipelineError {
	return NewPipelineError(ErrorCategoryConfiguration, component, operation, message)
}

func NewCredentialsError(component, operation string, err error) *PipelineError {
	return WrapError(err, ErrorCategoryCredentials, component, operation)
}

func NewPersistenceError(component, operation string, err error) *PipelineError {
	return WrapError(err, ErrorCategoryPersistence, component, operation)
}

func NewFatalError(component, operation, message string) *PipelineError {
	return NewPipelineError(ErrorCategoryFatal, component, operation, message)
}

// RecoveryAction is what the caller should do after a failure
type RecoveryAction string

const (
	RecoveryActionRetry RecoveryAction = "RETRY"
	RecoveryActionSkip  RecoveryAction = "SKIP"
	RecoveryActionStop  RecoveryAction = "STOP"
	RecoveryActionWait  RecoveryAction = "WAIT"
)

// GetRecoveryAction suggests a recovery action based on error category
func (e *PipelineError) GetRecoveryAction() RecoveryAction {
	switch {
	case e.IsFatal():
		return RecoveryActionStop
	case e.Category == ErrorCategoryRateLimit:
		return RecoveryActionWait
	case e.Retryable:
		return RecoveryActionRetry
	default:
		return RecoveryActionSkip
	}
}

// ErrorStats tracks error statistics
type ErrorStats struct {
	TotalErrors      int
	ErrorsByCategory map[ErrorCategory]int
	RecentErrors     []*PipelineError
	MaxRecentErrors  int
}

func NewErrorStats(maxRecentErrors int) *ErrorStats {
	return &ErrorStats{
		ErrorsByCategory: make(map[ErrorCategory]int),
		RecentErrors:     make([]*PipelineError, 0, maxRecentErrors),
		MaxRecentErrors:  maxRecentErrors,
	}
}

func (es *ErrorStats) RecordError(err *PipelineError) {
	es.TotalErrors++
	es.ErrorsByCategory[err.Category]++

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > es.MaxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate returns the share of recorded errors in a category
func (es *ErrorStats) GetErrorRate(category ErrorCategory) float64 {
	if es.TotalErrors == 0 {
		return 0.0
	}
	return float64(es.ErrorsByCategory[category]) / float64(es.TotalErrors)
}
