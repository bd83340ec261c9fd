package sizing

import (
	"fmt"
	"math"
)

const (
	minLeverage = 1.0
	maxLeverage = 125.0
)

// clampLeverage caps leverage at the broker maximum. Unset leverage means 1x;
// a fraction below 1 is kept and shrinks the ceiling.
func clampLeverage(leverage float64) float64 {
	if leverage <= 0 || math.IsNaN(leverage) {
		return minLeverage
	}
	return math.Min(leverage, maxLeverage)
}

// MaxNotional is the largest total position value the margin allows
// Formula: Max Notional = Equity × Exposure Fraction × Leverage
//
// Example: $100,000 equity, 0.5 exposure, 2x leverage = $100,000 max notional
func MaxNotional(equity, exposureFraction, leverage float64) float64 {
	if equity <= 0 || exposureFraction <= 0 {
		return 0
	}
	return equity * exposureFraction * clampLeverage(leverage)
}

// ValidateLeverage validates if the leverage value is acceptable
func ValidateLeverage(leverage float64) error {
	if leverage <= 0 {
		return fmt.Errorf("leverage must be greater than 0, got: %.2f", leverage)
	}
	if leverage > maxLeverage {
		return fmt.Errorf("leverage %.2f exceeds maximum allowed %.2f", leverage, maxLeverage)
	}
	return nil
}
