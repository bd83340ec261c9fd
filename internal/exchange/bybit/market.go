package bybit

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetLatestPrice returns the last traded price for symbol
func (c *Client) GetLatestPrice(ctx context.Context, category, symbol string) (float64, error) {
	if category == "" {
		category = c.category
	}
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest price: %w", err)
	}
	return parseLatestPriceResponse(result, symbol)
}

// parseLatestPriceResponse parses the ticker response to extract the latest price
func parseLatestPriceResponse(response interface{}, symbol string) (float64, error) {
	data, err := resultBytes(response)
	if err != nil {
		return 0, err
	}

	var tickerResult struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &tickerResult); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ticker result: %w", err)
	}

	for _, t := range tickerResult.List {
		if t.Symbol == symbol || symbol == "" {
			price := parseFloat64(t.LastPrice)
			if price <= 0 {
				return 0, fmt.Errorf("invalid last price %q for %s", t.LastPrice, t.Symbol)
			}
			return price, nil
		}
	}
	return 0, fmt.Errorf("no ticker data found for %s", symbol)
}
