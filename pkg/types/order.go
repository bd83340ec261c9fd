package types

import (
	"encoding/json"
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY"
	ProductDelivery ProductType = "DELIVERY"
	ProductMargin   ProductType = "MARGIN"
)

type InstrumentKind string

const (
	InstrumentCash   InstrumentKind = "CASH"
	InstrumentFuture InstrumentKind = "FUTURE"
	InstrumentOption InstrumentKind = "OPTION"
)

// IsDerivative reports whether quantities for this kind trade in lots.
func (k InstrumentKind) IsDerivative() bool {
	return k == InstrumentFuture || k == InstrumentOption
}

// KindFromSymbol derives the instrument kind from the exchange symbol suffix.
func KindFromSymbol(symbol string) InstrumentKind {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case strings.HasSuffix(s, "FUT"):
		return InstrumentFuture
	case strings.HasSuffix(s, "CE"), strings.HasSuffix(s, "PE"), strings.HasSuffix(s, "OPT"):
		return InstrumentOption
	default:
		return InstrumentCash
	}
}

// OrderIntent is a trade signal handed to the pipeline. Treat it as a value:
// the With* helpers return adjusted copies and never touch the receiver.
type OrderIntent struct {
	Symbol         string            `json:"symbol"`
	Strategy       string            `json:"strategy"`
	Side           Side              `json:"side"`
	Quantity       float64           `json:"quantity,omitempty"`
	OrderType      OrderType         `json:"order_type"`
	ProductType    ProductType       `json:"product_type,omitempty"`
	InstrumentKind InstrumentKind    `json:"instrument_kind,omitempty"`
	Price          float64           `json:"price,omitempty"`
	TriggerPrice   float64           `json:"trigger_price,omitempty"`
	Timeframe      string            `json:"timeframe,omitempty"`
	StopLoss       float64           `json:"stop_loss,omitempty"`
	TakeProfit     float64           `json:"take_profit,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Kind returns the explicit instrument kind or falls back to the symbol suffix.
func (o OrderIntent) Kind() InstrumentKind {
	if o.InstrumentKind != "" {
		return o.InstrumentKind
	}
	return KindFromSymbol(o.Symbol)
}

func (o OrderIntent) clone() OrderIntent {
	c := o
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

func (o OrderIntent) WithQuantity(qty float64) OrderIntent {
	c := o.clone()
	c.Quantity = qty
	return c
}

func (o OrderIntent) WithProtection(stopLoss, takeProfit float64) OrderIntent {
	c := o.clone()
	c.StopLoss = stopLoss
	c.TakeProfit = takeProfit
	return c
}

func (o OrderIntent) WithMetadata(key, value string) OrderIntent {
	c := o.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]string, 1)
	}
	c.Metadata[key] = value
	return c
}

// OrderPlan is the risk gate verdict for one intent.
type OrderPlan struct {
	Approve    bool     `json:"approve"`
	Reason     string   `json:"reason,omitempty"`
	Quantity   float64  `json:"quantity"`
	StopLoss   float64  `json:"stop_loss"`
	TakeProfit float64  `json:"take_profit"`
	RiskPct    float64  `json:"risk_pct"`
	Notes      []string `json:"notes,omitempty"`
}

func Reject(reason string) OrderPlan {
	return OrderPlan{Approve: false, Reason: reason}
}

type GuardianDecision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

type ExecutionStatus string

const (
	StatusPlaced    ExecutionStatus = "PLACED"
	StatusFilled    ExecutionStatus = "FILLED"
	StatusPartial   ExecutionStatus = "PARTIAL"
	StatusRejected  ExecutionStatus = "REJECTED"
	StatusCancelled ExecutionStatus = "CANCELLED"
)

type ExecutionResult struct {
	OrderID         string          `json:"order_id"`
	Status          ExecutionStatus `json:"status"`
	Symbol          string          `json:"symbol"`
	Strategy        string          `json:"strategy,omitempty"`
	Side            Side            `json:"side"`
	Quantity        float64         `json:"quantity"`
	FilledQuantity  float64         `json:"filled_quantity"`
	AvgPrice        float64         `json:"avg_price"`
	Message         string          `json:"message,omitempty"`
	Mode            string          `json:"mode,omitempty"`
	InstrumentClass string          `json:"instrument_class,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// IsTerminal reports whether the result belongs in the journal.
func (r ExecutionResult) IsTerminal() bool {
	switch r.Status {
	case StatusPlaced, StatusFilled, StatusPartial:
		return true
	}
	return false
}

// HasFill reports whether the result moved a position.
func (r ExecutionResult) HasFill() bool {
	return (r.Status == StatusFilled || r.Status == StatusPartial) && r.FilledQuantity > 0
}

func Rejected(intent OrderIntent, message string) ExecutionResult {
	return ExecutionResult{
		Status:    StatusRejected,
		Symbol:    intent.Symbol,
		Strategy:  intent.Strategy,
		Side:      intent.Side,
		Quantity:  intent.Quantity,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
