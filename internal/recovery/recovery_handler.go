package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/order-pipeline/internal/errors"
)

// DefaultSchedule is the escalating delay between broker attempts
var DefaultSchedule = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

// Logger interface for recovery handler
type Logger interface {
	Info(format string, args ...interface{})
	LogWarning(component, message string, args ...interface{})
	Error(format string, args ...interface{})
	LogDebugOnly(format string, args ...interface{})
}

// RecoveryHandler retries transient failures on a fixed schedule.
// Attempts = len(schedule)+1; fatal and non-retryable categories return at once.
type RecoveryHandler struct {
	schedule []time.Duration
	logger   Logger
	sleep    func(ctx context.Context, d time.Duration) error
	onRetry  func(component, operation string, category errors.ErrorCategory)

	mu         sync.Mutex
	errorStats *errors.ErrorStats
}

// Option customizes a RecoveryHandler
type Option func(*RecoveryHandler)

// WithSchedule replaces the delay schedule
func WithSchedule(schedule []time.Duration) Option {
	return func(rh *RecoveryHandler) {
		rh.schedule = append([]time.Duration(nil), schedule...)
	}
}

// WithSleeper replaces the wait function, used by tests
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(rh *RecoveryHandler) {
		rh.sleep = sleep
	}
}

// WithRetryHook is called before every retry
func WithRetryHook(hook func(component, operation string, category errors.ErrorCategory)) Option {
	return func(rh *RecoveryHandler) {
		rh.onRetry = hook
	}
}

func NewRecoveryHandler(logger Logger, opts ...Option) *RecoveryHandler {
	rh := &RecoveryHandler{
		schedule:   DefaultSchedule,
		logger:     logger,
		sleep:      sleepContext,
		errorStats: errors.NewErrorStats(50),
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MaxAttempts is the total number of calls ExecuteWithRecovery may make
func (rh *RecoveryHandler) MaxAttempts() int {
	return len(rh.schedule) + 1
}

// ExecuteWithRecovery executes fn, retrying transient failures.
// The returned error is always categorized.
func (rh *RecoveryHandler) ExecuteWithRecovery(
	ctx context.Context,
	component, operation string,
	fn func() error,
) error {
	var lastError *errors.PipelineError

	for attempt := 0; attempt < rh.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.WrapError(err, errors.ErrorCategoryTimeout, component, operation)
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				rh.logger.Info("%s.%s succeeded after %d attempts", component, operation, attempt+1)
			}
			return nil
		}

		lastError = errors.CategorizeError(err, component, operation)
		rh.record(lastError)

		switch lastError.GetRecoveryAction() {
		case errors.RecoveryActionStop:
			rh.logger.Error("FATAL ERROR: %s", lastError.Error())
			return lastError
		case errors.RecoveryActionSkip:
			rh.logger.LogDebugOnly("not retrying %s.%s: %s", component, operation, lastError.Error())
			return lastError
		}

		if attempt == len(rh.schedule) {
			break
		}

		delay := rh.schedule[attempt]
		rh.logger.LogWarning("Recovery", "attempt %d of %s.%s failed (%s), retrying in %v",
			attempt+1, component, operation, lastError.Category, delay)
		if rh.onRetry != nil {
			rh.onRetry(component, operation, lastError.Category)
		}
		if err := rh.sleep(ctx, delay); err != nil {
			return errors.WrapError(err, errors.ErrorCategoryTimeout, component, operation)
		}
	}

	return errors.WrapError(
		fmt.Errorf("failed after %d attempts: %w", rh.MaxAttempts(), lastError),
		lastError.Category, component, operation,
	).WithRetryable(false).WithContext("attempts", rh.MaxAttempts())
}

func (rh *RecoveryHandler) record(err *errors.PipelineError) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.errorStats.RecordError(err)
}

// GetErrorStats returns a copy of the current error statistics
func (rh *RecoveryHandler) GetErrorStats() errors.ErrorStats {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	stats := *rh.errorStats
	stats.ErrorsByCategory = make(map[errors.ErrorCategory]int, len(rh.errorStats.ErrorsByCategory))
	for k, v := range rh.errorStats.ErrorsByCategory {
		stats.ErrorsByCategory[k] = v
	}
	stats.RecentErrors = append([]*errors.PipelineError(nil), rh.errorStats.RecentErrors...)
	return stats
}
