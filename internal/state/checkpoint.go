package state

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

const CheckpointVersion = 1

var (
	ErrNoCheckpoint      = stderrors.New("no checkpoint")
	ErrCorruptCheckpoint = stderrors.New("corrupt checkpoint")
)

// Checkpoint is the latest full snapshot for one mode. Each instrument class owns
// one partition; the top-level figures aggregate all partitions.
type Checkpoint struct {
	Version        int                   `json:"version"`
	Mode           string                `json:"mode"`
	UpdatedAt      time.Time             `json:"updated_at"`
	CapitalBase    float64               `json:"capital_base"`
	Equity         float64               `json:"equity"`
	RealizedPnL    float64               `json:"realized_pnl"`
	UnrealizedPnL  float64               `json:"unrealized_pnl"`
	PeakEquity     float64               `json:"peak_equity"`
	DayStartEquity float64               `json:"day_start_equity"`
	TradingDay     string                `json:"trading_day"`
	Partitions     map[string]*Partition `json:"partitions"`
}

// Partition is the state owned by one engine process
type Partition struct {
	Class         string                      `json:"class"`
	UpdatedAt     time.Time                   `json:"updated_at"`
	RealizedPnL   float64                     `json:"realized_pnl"`
	UnrealizedPnL float64                     `json:"unrealized_pnl"`
	Positions     map[string]types.Position   `json:"positions"`
	Lots          map[string][]types.Lot      `json:"lots"`
	Realized      map[string]float64          `json:"realized"`
	Marks         map[string]float64          `json:"marks"`
	OpenOrders    map[string]OpenOrder        `json:"open_orders"`
	Strategies    map[string]*StrategyMetrics `json:"strategies"`
	Risk          *types.RiskState            `json:"risk,omitempty"`
	FillCount     int64                       `json:"fill_count"`
}

type OpenOrder struct {
	OrderID  string     `json:"order_id"`
	Symbol   string     `json:"symbol"`
	Strategy string     `json:"strategy,omitempty"`
	Side     types.Side `json:"side"`
	Quantity float64    `json:"quantity"`
	PlacedAt time.Time  `json:"placed_at"`
	// Filled and FilledValue are what has been booked so far (qty, qty × price)
	Filled      float64 `json:"filled,omitempty"`
	FilledValue float64 `json:"filled_value,omitempty"`
}

type StrategyMetrics struct {
	Trades      int       `json:"trades"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	RealizedPnL float64   `json:"realized_pnl"`
	Volume      float64   `json:"volume"`
	LastTradeAt time.Time `json:"last_trade_at"`
}

func newCheckpoint(mode string, capital float64) *Checkpoint {
	return &Checkpoint{
		Version:        CheckpointVersion,
		Mode:           mode,
		CapitalBase:    capital,
		Equity:         capital,
		PeakEquity:     capital,
		DayStartEquity: capital,
		Partitions:     make(map[string]*Partition),
	}
}

// Positions flattens the positions of every partition
func (c *Checkpoint) Positions() map[string]types.Position {
	out := make(map[string]types.Position)
	for _, p := range c.Partitions {
		if p == nil {
			continue
		}
		for sym, pos := range p.Positions {
			out[sym] = pos
		}
	}
	return out
}

// DrawdownPct is the drop from peak equity in percent
func (c *Checkpoint) DrawdownPct() float64 {
	if c.PeakEquity <= 0 {
		return 0
	}
	dd := (c.PeakEquity - c.Equity) / c.PeakEquity * 100
	return math.Max(dd, 0)
}

// DayPnL is equity change since the trading day started
func (c *Checkpoint) DayPnL() float64 {
	return c.Equity - c.DayStartEquity
}

// DayDropPct is the loss since the trading day started in percent
func (c *Checkpoint) DayDropPct() float64 {
	if c.DayStartEquity <= 0 {
		return 0
	}
	return math.Max(-c.DayPnL()/c.DayStartEquity*100, 0)
}

// recompute refreshes the aggregates and the peak
func (c *Checkpoint) recompute() {
	c.RealizedPnL, c.UnrealizedPnL = 0, 0
	for _, p := range c.Partitions {
		if p == nil {
			continue
		}
		c.RealizedPnL += p.RealizedPnL
		c.UnrealizedPnL += p.UnrealizedPnL
	}
	c.Equity = c.CapitalBase + c.RealizedPnL + c.UnrealizedPnL
	if c.Equity > c.PeakEquity {
		c.PeakEquity = c.Equity
	}
}

// rollDay starts a new trading day at the equity carried over from the last one
func (c *Checkpoint) rollDay(day string) {
	if c.TradingDay == day {
		return
	}
	c.TradingDay = day
	c.DayStartEquity = c.Equity
}

func (c *Checkpoint) validate() error {
	if c.Version != CheckpointVersion {
		return fmt.Errorf("unsupported version %d", c.Version)
	}
	for _, v := range []float64{c.CapitalBase, c.Equity, c.RealizedPnL, c.UnrealizedPnL, c.PeakEquity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite figure in checkpoint")
		}
	}
	if c.Partitions == nil {
		c.Partitions = make(map[string]*Partition)
	}
	for class, p := range c.Partitions {
		if err := p.validate(); err != nil {
			return fmt.Errorf("partition %q: %w", class, err)
		}
	}
	return nil
}

// validate rejects null entries a hand-edited or truncated file can carry
func (p *Partition) validate() error {
	if p == nil {
		return fmt.Errorf("null partition")
	}
	for name, m := range p.Strategies {
		if m == nil {
			return fmt.Errorf("null metrics for strategy %q", name)
		}
	}
	if p.Risk == nil {
		return nil
	}
	for sym, st := range p.Risk.Symbols {
		if st == nil {
			return fmt.Errorf("null risk state for symbol %q", sym)
		}
	}
	for name, st := range p.Risk.Strategies {
		if st == nil {
			return fmt.Errorf("null risk state for strategy %q", name)
		}
	}
	return nil
}

// LoadCheckpoint reads a checkpoint file. Missing files yield ErrNoCheckpoint,
// unreadable or unknown-version files yield ErrCorruptCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if err := cp.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	return &cp, nil
}

func saveCheckpoint(path string, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return writeFileAtomic(path, data, 0644)
}

// PositionsSnapshot is the positions-only secondary file
type PositionsSnapshot struct {
	Version   int                                  `json:"version"`
	UpdatedAt time.Time                            `json:"updated_at"`
	Classes   map[string]map[string]types.Position `json:"classes"`
}

func savePositions(path string, cp *Checkpoint) error {
	snap := PositionsSnapshot{
		Version:   CheckpointVersion,
		UpdatedAt: cp.UpdatedAt,
		Classes:   make(map[string]map[string]types.Position, len(cp.Partitions)),
	}
	for class, p := range cp.Partitions {
		snap.Classes[class] = p.Positions
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal positions: %w", err)
	}
	return writeFileAtomic(path, data, 0644)
}

// LoadPositions reads the positions-only snapshot
func LoadPositions(path string) (*PositionsSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap PositionsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse positions snapshot: %w", err)
	}
	return &snap, nil
}
