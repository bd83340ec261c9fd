package sizing

import (
	stderrors "errors"
	"fmt"
	"math"

	"github.com/ducminhle1904/order-pipeline/internal/state"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

type Mode string

const (
	ModeFixed Mode = "fixed"
	ModeATR   Mode = "atr"
)

// budgetOverrun is how far past its capital budget one order may reach
const budgetOverrun = 1.5

// Config holds position sizing parameters. Percent fields are fractions: 0.01 is 1%.
type Config struct {
	Mode                     Mode               `json:"mode" yaml:"mode"`
	SafeEquity               float64            `json:"safe_equity" yaml:"safe_equity"`
	PerTradeRiskPct          float64            `json:"per_trade_risk_pct" yaml:"per_trade_risk_pct"`
	ATRMultiplier            float64            `json:"atr_multiplier" yaml:"atr_multiplier"`
	DefaultQuantity          float64            `json:"default_quantity" yaml:"default_quantity"`
	StrategyQuantities       map[string]float64 `json:"strategy_quantities" yaml:"strategy_quantities"`
	StrategyCapitalFractions map[string]float64 `json:"strategy_capital_fractions" yaml:"strategy_capital_fractions"`
	DefaultCapitalFraction   float64            `json:"default_capital_fraction" yaml:"default_capital_fraction"`
	MaxExposurePct           float64            `json:"max_exposure_pct" yaml:"max_exposure_pct"`
	MaxLeverage              float64            `json:"max_leverage" yaml:"max_leverage"`
	LotSizes                 map[string]float64 `json:"lot_sizes" yaml:"lot_sizes"`
	DefaultLotSize           float64            `json:"default_lot_size" yaml:"default_lot_size"`
}

// DefaultConfig returns conservative sizing defaults
func DefaultConfig() Config {
	return Config{
		Mode:                   ModeFixed,
		PerTradeRiskPct:        0.01,
		ATRMultiplier:          2.0,
		DefaultQuantity:        1,
		DefaultCapitalFraction: 0.25,
		MaxExposurePct:         1.0,
		MaxLeverage:            1.0,
		DefaultLotSize:         1,
	}
}

// CheckpointSource is the read side of the state store
type CheckpointSource interface {
	LatestCheckpoint() (*state.Checkpoint, error)
}

// Logger interface for the sizer
type Logger interface {
	LogWarning(context, message string, args ...interface{})
	LogDebugOnly(format string, args ...interface{})
}

// Sizer turns an intent into a quantity bounded by equity, exposure and budgets
type Sizer struct {
	cfg    Config
	class  string
	source CheckpointSource
	logger Logger
}

func NewSizer(cfg Config, class string, source CheckpointSource, logger Logger) *Sizer {
	return &Sizer{cfg: cfg, class: class, source: source, logger: logger}
}

// GetEquity returns capital plus realized and unrealized P&L from the latest
// checkpoint, or the configured safe equity when that cannot be read
func (s *Sizer) GetEquity() float64 {
	cp, err := s.source.LatestCheckpoint()
	if err != nil {
		if !stderrors.Is(err, state.ErrNoCheckpoint) {
			s.logger.LogWarning("Sizing", "using safe equity %.2f: %v", s.cfg.SafeEquity, err)
		}
		return s.cfg.SafeEquity
	}

	equity := cp.CapitalBase + cp.RealizedPnL + cp.UnrealizedPnL
	if math.IsNaN(equity) || math.IsInf(equity, 0) {
		s.logger.LogWarning("Sizing", "non-finite equity in checkpoint, using safe equity %.2f", s.cfg.SafeEquity)
		return s.cfg.SafeEquity
	}
	return equity
}

// ComputeStrategyBudget is the slice of equity a strategy may deploy
func (s *Sizer) ComputeStrategyBudget(strategy string) float64 {
	fraction, ok := s.cfg.StrategyCapitalFractions[strategy]
	if !ok {
		fraction = s.cfg.DefaultCapitalFraction
	}
	return s.GetEquity() * fraction
}

// ComputePositionSize returns the raw order quantity before exposure limits
func (s *Sizer) ComputePositionSize(intent types.OrderIntent, lastPrice float64, atr *float64) float64 {
	if s.cfg.Mode == ModeATR {
		if qty, ok := s.atrQuantity(intent, atr); ok {
			s.logger.LogDebugOnly("ATR size %s @ %.4f: %g", intent.Symbol, lastPrice, qty)
			return qty
		}
	}
	return s.fixedQuantity(intent)
}

func (s *Sizer) atrQuantity(intent types.OrderIntent, atr *float64) (float64, bool) {
	if atr == nil {
		return 0, false
	}
	stop := *atr * s.cfg.ATRMultiplier
	if stop <= 0 || math.IsNaN(stop) || math.IsInf(stop, 0) {
		return 0, false
	}

	risk := s.GetEquity() * s.cfg.PerTradeRiskPct
	qty := math.Max(math.Floor(risk/stop), 0)
	if intent.Kind().IsDerivative() {
		qty = roundUpToLot(qty, s.lotSize(intent.Symbol))
	}
	return qty, true
}

func (s *Sizer) fixedQuantity(intent types.OrderIntent) float64 {
	if intent.Quantity > 0 {
		return intent.Quantity
	}
	if qty := s.cfg.StrategyQuantities[intent.Strategy]; qty > 0 {
		return qty
	}
	return s.cfg.DefaultQuantity
}

// CurrentExposure is the gross notional of this class's open positions
func (s *Sizer) CurrentExposure() float64 {
	cp, err := s.source.LatestCheckpoint()
	if err != nil {
		return 0
	}
	p := cp.Partitions[s.class]
	if p == nil {
		return 0
	}
	exposure := 0.0
	for _, pos := range p.Positions {
		exposure += math.Abs(pos.Quantity) * pos.MarkPrice()
	}
	return exposure
}

// ApplyExposureLimits clamps qty so the added notional stays within the leveraged
// exposure ceiling and within 1.5x the strategy budget. Zero means no room.
func (s *Sizer) ApplyExposureLimits(intent types.OrderIntent, qty, price float64) float64 {
	if qty <= 0 || price <= 0 {
		return 0
	}

	room := MaxNotional(s.GetEquity(), s.cfg.MaxExposurePct, s.cfg.MaxLeverage) - s.CurrentExposure()
	if room <= 0 {
		s.logger.LogWarning("Sizing", "no exposure room left for %s", intent.Symbol)
		return 0
	}
	if qty*price > room {
		qty = math.Floor(room / price)
	}

	if budget := s.ComputeStrategyBudget(intent.Strategy); budget > 0 && qty*price > budgetOverrun*budget {
		qty = math.Floor(budgetOverrun * budget / price)
	}

	if intent.Kind().IsDerivative() {
		qty = floorToLot(qty, s.lotSize(intent.Symbol))
	}
	return math.Max(qty, 0)
}

func (s *Sizer) lotSize(symbol string) float64 {
	if lot := s.cfg.LotSizes[symbol]; lot > 0 {
		return lot
	}
	if s.cfg.DefaultLotSize > 0 {
		return s.cfg.DefaultLotSize
	}
	return 1
}

func roundUpToLot(qty, lot float64) float64 {
	if lot <= 0 {
		return qty
	}
	return math.Ceil(qty/lot) * lot
}

func floorToLot(qty, lot float64) float64 {
	if lot <= 0 {
		return qty
	}
	return math.Floor(qty/lot) * lot
}

// Validate checks the sizing configuration
func (c Config) Validate() error {
	if c.Mode != ModeFixed && c.Mode != ModeATR {
		return fmt.Errorf("sizing mode must be %q or %q, got %q", ModeFixed, ModeATR, c.Mode)
	}
	if c.PerTradeRiskPct < 0 || c.PerTradeRiskPct > 1 {
		return fmt.Errorf("per trade risk must be a fraction between 0 and 1")
	}
	if c.MaxExposurePct <= 0 {
		return fmt.Errorf("max exposure must be greater than 0")
	}
	if err := ValidateLeverage(c.MaxLeverage); err != nil {
		return err
	}
	if c.SafeEquity <= 0 {
		return fmt.Errorf("safe equity must be greater than 0")
	}
	return nil
}
