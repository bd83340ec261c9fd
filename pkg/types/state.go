package types

import "time"

// RiskState holds the per trading day counters of the risk gate.
type RiskState struct {
	TradingDay      string                    `json:"trading_day"`
	RealizedPnL     float64                   `json:"realized_pnl"`
	TotalNotional   float64                   `json:"total_notional"`
	TradeCount      int                       `json:"trade_count"`
	HardBlocked     bool                      `json:"hard_blocked"`
	HardBlockReason string                    `json:"hard_block_reason,omitempty"`
	Symbols         map[string]*SymbolState   `json:"symbols"`
	Strategies      map[string]*StrategyState `json:"strategies"`
}

type SymbolState struct {
	RealizedPnL       float64 `json:"realized_pnl"`
	Notional          float64 `json:"notional"`
	ConsecutiveWins   int     `json:"consecutive_wins"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	CooldownUntilBar  int64   `json:"cooldown_until_bar"`
	Disabled          bool    `json:"disabled"`
	DisabledReason    string  `json:"disabled_reason,omitempty"`
}

type StrategyState struct {
	RealizedPnL       float64 `json:"realized_pnl"`
	ConsecutiveWins   int     `json:"consecutive_wins"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	Disabled          bool    `json:"disabled"`
	DisabledReason    string  `json:"disabled_reason,omitempty"`
}

func NewRiskState(day string) RiskState {
	return RiskState{
		TradingDay: day,
		Symbols:    make(map[string]*SymbolState),
		Strategies: make(map[string]*StrategyState),
	}
}

// Clone returns a deep copy.
func (s RiskState) Clone() RiskState {
	c := s
	c.Symbols = make(map[string]*SymbolState, len(s.Symbols))
	for k, v := range s.Symbols {
		if v == nil {
			continue
		}
		cp := *v
		c.Symbols[k] = &cp
	}
	c.Strategies = make(map[string]*StrategyState, len(s.Strategies))
	for k, v := range s.Strategies {
		if v == nil {
			continue
		}
		cp := *v
		c.Strategies[k] = &cp
	}
	return c
}

// Position is the net holding in one symbol. Quantity is signed: negative is short.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	LastMark      float64 `json:"last_mark,omitempty"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// MarkPrice returns the last mark, or the average entry price when none is known.
func (p Position) MarkPrice() float64 {
	if p.LastMark > 0 {
		return p.LastMark
	}
	return p.AvgPrice
}

type Lot struct {
	OrderID  string    `json:"order_id"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	OpenedAt time.Time `json:"opened_at"`
}

type Fill struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Strategy  string    `json:"strategy,omitempty"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
}

// FillFromResult converts a filled execution into a signed fill.
func FillFromResult(r ExecutionResult, seq int64) Fill {
	return Fill{
		OrderID:   r.OrderID,
		Symbol:    r.Symbol,
		Strategy:  r.Strategy,
		Quantity:  r.Side.Sign() * r.FilledQuantity,
		Price:     r.AvgPrice,
		Timestamp: r.Timestamp,
		Seq:       seq,
	}
}
