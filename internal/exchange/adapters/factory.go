package adapters

import (
	"strings"

	"github.com/ducminhle1904/order-pipeline/internal/exchange"
)

// Live is a broker that can also quote prices
type Live interface {
	exchange.Broker
	exchange.PriceSource
}

// NewBroker validates the configuration and creates the named broker
func NewBroker(config exchange.ExchangeConfig) (Live, error) {
	if err := exchange.ValidateConfig(config); err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(config.Name)) {
	case "bybit":
		adapter, err := NewBybitAdapter(config.Bybit)
		if err != nil {
			return nil, &exchange.ExchangeError{
				Code:    "ADAPTER_CREATION_FAILED",
				Message: "Failed to create Bybit adapter",
				Details: err.Error(),
			}
		}
		return adapter, nil
	default:
		return nil, &exchange.ExchangeError{
			Code:    "UNSUPPORTED_EXCHANGE",
			Message: "Exchange '" + config.Name + "' is not supported",
		}
	}
}
