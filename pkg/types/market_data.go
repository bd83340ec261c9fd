package types

import "time"

// MarketSnapshot is the latest quote the pipeline knows for a symbol and timeframe.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe,omitempty"`
	LastPrice float64   `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
}

// Age returns how old the snapshot is relative to now.
func (s MarketSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}
