package exchange

import (
	"fmt"
	"strings"
)

// ExchangeConfig holds configuration for creating broker instances
type ExchangeConfig struct {
	Name  string       `json:"name" yaml:"name"`
	Bybit *BybitConfig `json:"bybit,omitempty" yaml:"bybit,omitempty"`
}

// BybitConfig holds Bybit-specific configuration
type BybitConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`
	APISecret string `json:"api_secret" yaml:"api_secret"`
	Testnet   bool   `json:"testnet" yaml:"testnet"`
	Demo      bool   `json:"demo" yaml:"demo"`
	Category  string `json:"category" yaml:"category"` // spot, linear, inverse, option
}

// SupportedExchanges returns the broker names that can be constructed
func SupportedExchanges() []string {
	return []string{"bybit"}
}

// ValidateConfig validates the exchange configuration
func ValidateConfig(config ExchangeConfig) error {
	if strings.TrimSpace(config.Name) == "" {
		return &ExchangeError{
			Code:    "MISSING_EXCHANGE_NAME",
			Message: "Exchange name is required",
		}
	}

	switch strings.ToLower(strings.TrimSpace(config.Name)) {
	case "bybit":
		return validateBybitConfig(config.Bybit)
	default:
		return &ExchangeError{
			Code:    "UNSUPPORTED_EXCHANGE",
			Message: fmt.Sprintf("Exchange '%s' is not supported", config.Name),
			Details: fmt.Sprintf("Supported exchanges: %v", SupportedExchanges()),
		}
	}
}

func validateBybitConfig(config *BybitConfig) error {
	if config == nil {
		return &ExchangeError{
			Code:    "MISSING_BYBIT_CONFIG",
			Message: "Bybit configuration is required",
		}
	}
	if config.APIKey == "" {
		return &ExchangeError{
			Code:    "MISSING_API_KEY",
			Message: "Bybit API key is required",
			Details: "Set BYBIT_API_KEY environment variable or provide in config",
		}
	}
	if config.APISecret == "" {
		return &ExchangeError{
			Code:    "MISSING_API_SECRET",
			Message: "Bybit API secret is required",
			Details: "Set BYBIT_API_SECRET environment variable or provide in config",
		}
	}
	if config.Testnet && config.Demo {
		return &ExchangeError{
			Code:    "INVALID_ENVIRONMENT_CONFIG",
			Message: "Cannot use both testnet and demo mode simultaneously",
			Details: "Choose either testnet OR demo mode, not both",
		}
	}
	switch config.Category {
	case "", "spot", "linear", "inverse", "option":
	default:
		return &ExchangeError{
			Code:    "INVALID_CATEGORY",
			Message: fmt.Sprintf("Unknown Bybit category %q", config.Category),
		}
	}
	return nil
}
