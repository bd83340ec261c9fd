package safety

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipelineerrors "github.com/ducminhle1904/order-pipeline/internal/errors"
)

var errBoom = errors.New("connection reset")

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	clk := time.Unix(1700000000, 0)
	cb := NewCircuitBreaker("broker", CircuitBreakerConfig{FailureThreshold: 2, Timeout: 10 * time.Second})
	cb.SetClock(func() time.Time { return clk })

	fail := func() error { return errBoom }
	assert.ErrorIs(t, cb.Call(fail, nil), errBoom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Call(fail, nil), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(func() error { called = true; return nil }, nil)
	var open *OpenError
	require.ErrorAs(t, err, &open)
	assert.False(t, called)
	assert.Equal(t, pipelineerrors.ErrorCategoryBroker, pipelineerrors.CategorizeError(err, "exec", "place").Category)

	clk = clk.Add(11 * time.Second)
	require.NoError(t, cb.Call(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := time.Unix(1700000000, 0)
	cb := NewCircuitBreaker("broker", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second})
	cb.SetClock(func() time.Time { return clk })

	_ = cb.Call(func() error { return errBoom }, nil)
	clk = clk.Add(2 * time.Second)
	_ = cb.Call(func() error { return errBoom }, nil)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, clk.Add(time.Second), cb.GetStats().NextAttempt)
}

func TestCircuitBreaker_IgnoresUncountedErrors(t *testing.T) {
	cb := NewCircuitBreaker("broker", CircuitBreakerConfig{FailureThreshold: 1})
	rejected := errors.New("insufficient margin")

	err := cb.Call(func() error { return rejected }, func(err error) bool { return err != rejected })
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_ForceOpenAndReset(t *testing.T) {
	cb := NewCircuitBreaker("broker", CircuitBreakerConfig{})
	cb.ForceOpen()
	assert.Equal(t, StateOpen, cb.GetState())
	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}
