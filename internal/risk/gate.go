package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// qtyTolerance keeps float noise from flooring a whole quantity down by one
const qtyTolerance = 1e-9

// Config contains the per-trade and daily risk limits. Percent fields are
// fractions of capital; zero disables a limit.
type Config struct {
	Capital              float64            `json:"capital" yaml:"capital"`
	PerTradeRiskPct      float64            `json:"per_trade_risk_pct" yaml:"per_trade_risk_pct"`
	StopPct              float64            `json:"stop_pct" yaml:"stop_pct"`
	StopLossMultiple     float64            `json:"stop_loss_multiple" yaml:"stop_loss_multiple"`
	RewardMultiple       float64            `json:"reward_multiple" yaml:"reward_multiple"`
	MaxDailyLossPct      float64            `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxTradesPerDay      int                `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	MaxDailyNotional     float64            `json:"max_daily_notional" yaml:"max_daily_notional"`
	MaxSymbolLoss        float64            `json:"max_symbol_loss" yaml:"max_symbol_loss"`
	MaxConsecutiveLosses int                `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	CooldownBars         int64              `json:"cooldown_bars" yaml:"cooldown_bars"`
	LotSizes             map[string]float64 `json:"lot_sizes" yaml:"lot_sizes"`
	DefaultLotSize       float64            `json:"default_lot_size" yaml:"default_lot_size"`
	Timezone             string             `json:"timezone" yaml:"timezone"`
}

// DefaultConfig returns the default risk limits
func DefaultConfig() Config {
	return Config{
		Capital:              100000,
		PerTradeRiskPct:      0.0025,
		StopPct:              0.005,
		StopLossMultiple:     2.0,
		RewardMultiple:       2.0,
		MaxDailyLossPct:      0.02,
		MaxTradesPerDay:      50,
		MaxConsecutiveLosses: 3,
		CooldownBars:         5,
		DefaultLotSize:       1,
	}
}

// Validate checks the risk configuration
func (c Config) Validate() error {
	if c.Capital <= 0 {
		return fmt.Errorf("risk capital must be greater than 0")
	}
	if c.PerTradeRiskPct <= 0 || c.PerTradeRiskPct > 1 {
		return fmt.Errorf("per trade risk must be a fraction between 0 and 1")
	}
	if c.StopPct <= 0 || c.StopPct >= 1 {
		return fmt.Errorf("stop pct must be a fraction between 0 and 1")
	}
	if c.StopLossMultiple <= 0 || c.RewardMultiple <= 0 {
		return fmt.Errorf("stop loss and reward multiples must be greater than 0")
	}
	if c.MaxDailyLossPct < 0 || c.MaxDailyNotional < 0 || c.MaxSymbolLoss < 0 {
		return fmt.Errorf("daily limits cannot be negative")
	}
	if _, err := LoadLocation(c.Timezone); err != nil {
		return err
	}
	return nil
}

// Logger interface for the risk gate
type Logger interface {
	Info(format string, args ...interface{})
	LogWarning(context, message string, args ...interface{})
}

// Gate approves or rejects intents against per-trade and per-day limits and
// owns the day's RiskState. A breached daily limit blocks until ResetDay.
type Gate struct {
	cfg    Config
	loc    *time.Location
	logger Logger

	mu    sync.Mutex
	state types.RiskState
}

func NewGate(cfg Config, logger Logger, now time.Time) (*Gate, error) {
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return &Gate{
		cfg:    cfg,
		loc:    loc,
		logger: logger,
		state:  types.NewRiskState(TradingDay(loc, now)),
	}, nil
}

// Evaluate runs the ordered checks and sizes an approved trade
func (g *Gate) Evaluate(intent types.OrderIntent, price, qualityMult float64, barIndex int64) types.OrderPlan {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.HardBlocked {
		return types.Reject("daily hard block: " + g.state.HardBlockReason)
	}
	if reason := g.dailyBreach(); reason != "" {
		g.block(reason)
		return types.Reject("daily hard block: " + reason)
	}

	sym := g.symbolState(intent.Symbol)
	strat := g.strategyState(intent.Strategy)

	if sym.Disabled {
		return types.Reject(fmt.Sprintf("symbol %s disabled: %s", intent.Symbol, sym.DisabledReason))
	}
	if strat.Disabled {
		return types.Reject(fmt.Sprintf("strategy %s disabled: %s", intent.Strategy, strat.DisabledReason))
	}
	if barIndex < sym.CooldownUntilBar {
		return types.Reject(fmt.Sprintf("symbol %s cooling down until bar %d", intent.Symbol, sym.CooldownUntilBar))
	}
	if g.cfg.MaxSymbolLoss > 0 && -sym.RealizedPnL >= g.cfg.MaxSymbolLoss {
		reason := fmt.Sprintf("symbol loss %.2f reached cap %.2f", -sym.RealizedPnL, g.cfg.MaxSymbolLoss)
		g.disableSymbol(intent.Symbol, sym, reason)
		return types.Reject(fmt.Sprintf("symbol %s disabled: %s", intent.Symbol, reason))
	}
	if n := g.cfg.MaxConsecutiveLosses; n > 0 {
		if sym.ConsecutiveLosses >= n {
			reason := fmt.Sprintf("%d consecutive losses", sym.ConsecutiveLosses)
			g.disableSymbol(intent.Symbol, sym, reason)
			return types.Reject(fmt.Sprintf("symbol %s disabled: %s", intent.Symbol, reason))
		}
		if strat.ConsecutiveLosses >= n {
			reason := fmt.Sprintf("%d consecutive losses", strat.ConsecutiveLosses)
			strat.Disabled, strat.DisabledReason = true, reason
			g.logger.LogWarning("Risk", "strategy %s disabled: %s", intent.Strategy, reason)
			return types.Reject(fmt.Sprintf("strategy %s disabled: %s", intent.Strategy, reason))
		}
	}

	quality := clamp01(qualityMult)
	riskAmount := g.cfg.Capital * g.cfg.PerTradeRiskPct * quality
	if !(riskAmount > 0) {
		return types.Reject("risk amount is zero")
	}

	stop := price * g.cfg.StopPct
	if !(stop > 0) || math.IsInf(stop, 0) {
		return types.Reject("stop distance is zero")
	}

	qty := floorToLot(math.Floor(riskAmount/stop+qtyTolerance), g.lotSize(intent.Symbol))
	if qty <= 0 {
		return types.Reject("quantity rounds to zero")
	}

	notional := qty * price
	if g.cfg.MaxDailyNotional > 0 && g.state.TotalNotional+notional > g.cfg.MaxDailyNotional {
		return types.Reject(fmt.Sprintf("projected notional %.2f exceeds daily cap %.2f",
			g.state.TotalNotional+notional, g.cfg.MaxDailyNotional))
	}

	slDistance := stop * g.cfg.StopLossMultiple
	tpDistance := slDistance * g.cfg.RewardMultiple
	plan := types.OrderPlan{
		Approve:  true,
		Quantity: qty,
		RiskPct:  g.cfg.PerTradeRiskPct * quality,
		Notes: []string{
			fmt.Sprintf("risk %.2f over stop %.4f", riskAmount, stop),
			fmt.Sprintf("notional %.2f", notional),
		},
	}
	if intent.Side == types.SideSell {
		plan.StopLoss = price + slDistance
		plan.TakeProfit = price - tpDistance
	} else {
		plan.StopLoss = price - slDistance
		plan.TakeProfit = price + tpDistance
	}
	return plan
}

// OnFill records a fill's realized P&L and updates streaks and cooldowns
func (g *Gate) OnFill(symbol, strategy string, pnl float64, barIndex int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sym := g.symbolState(symbol)
	strat := g.strategyState(strategy)

	g.state.RealizedPnL += pnl
	g.state.TradeCount++
	sym.RealizedPnL += pnl
	strat.RealizedPnL += pnl

	switch {
	case pnl < 0:
		sym.ConsecutiveLosses++
		sym.ConsecutiveWins = 0
		sym.CooldownUntilBar = barIndex + g.cfg.CooldownBars
		strat.ConsecutiveLosses++
		strat.ConsecutiveWins = 0
	case pnl > 0:
		sym.ConsecutiveWins++
		sym.ConsecutiveLosses = 0
		sym.CooldownUntilBar = -1
		strat.ConsecutiveWins++
		strat.ConsecutiveLosses = 0
	}

	if !g.state.HardBlocked {
		if reason := g.dailyBreach(); reason != "" {
			g.block(reason)
		}
	}
}

// OnExposureChange adds traded notional toward the daily cap
func (g *Gate) OnExposureChange(symbol string, delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	notional := math.Abs(delta)
	g.state.TotalNotional += notional
	g.symbolState(symbol).Notional += notional
}

// ResetDay clears every counter, including the hard block
func (g *Gate) ResetDay(day string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = types.NewRiskState(day)
	g.logger.Info("Risk state reset for trading day %s", day)
}

// RolloverIfNeeded resets the state when now falls on a new trading day
func (g *Gate) RolloverIfNeeded(now time.Time) bool {
	day := TradingDay(g.loc, now)
	g.mu.Lock()
	current := g.state.TradingDay
	g.mu.Unlock()
	if day == current {
		return false
	}
	g.ResetDay(day)
	return true
}

// State returns a copy of the current risk state
func (g *Gate) State() types.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Clone()
}

// Restore adopts a persisted state when it belongs to the current trading day
func (g *Gate) Restore(rs types.RiskState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rs.TradingDay != g.state.TradingDay {
		return false
	}
	restored := rs.Clone()
	g.state = restored
	return true
}

func (g *Gate) dailyBreach() string {
	if g.cfg.MaxDailyLossPct > 0 && g.cfg.Capital > 0 {
		lossPct := -g.state.RealizedPnL / g.cfg.Capital
		if lossPct >= g.cfg.MaxDailyLossPct {
			return fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", lossPct*100, g.cfg.MaxDailyLossPct*100)
		}
	}
	if g.cfg.MaxTradesPerDay > 0 && g.state.TradeCount >= g.cfg.MaxTradesPerDay {
		return fmt.Sprintf("trade count %d reached limit %d", g.state.TradeCount, g.cfg.MaxTradesPerDay)
	}
	if g.cfg.MaxDailyNotional > 0 && g.state.TotalNotional >= g.cfg.MaxDailyNotional {
		return fmt.Sprintf("notional %.2f reached daily cap %.2f", g.state.TotalNotional, g.cfg.MaxDailyNotional)
	}
	return ""
}

func (g *Gate) block(reason string) {
	g.state.HardBlocked = true
	g.state.HardBlockReason = reason
	g.logger.LogWarning("Risk", "hard block for %s: %s", g.state.TradingDay, reason)
}

func (g *Gate) disableSymbol(symbol string, sym *types.SymbolState, reason string) {
	sym.Disabled, sym.DisabledReason = true, reason
	g.logger.LogWarning("Risk", "symbol %s disabled: %s", symbol, reason)
}

func (g *Gate) symbolState(symbol string) *types.SymbolState {
	s := g.state.Symbols[symbol]
	if s == nil {
		s = &types.SymbolState{CooldownUntilBar: -1}
		g.state.Symbols[symbol] = s
	}
	return s
}

func (g *Gate) strategyState(strategy string) *types.StrategyState {
	s := g.state.Strategies[strategy]
	if s == nil {
		s = &types.StrategyState{}
		g.state.Strategies[strategy] = s
	}
	return s
}

func (g *Gate) lotSize(symbol string) float64 {
	if lot := g.cfg.LotSizes[symbol]; lot > 0 {
		return lot
	}
	if g.cfg.DefaultLotSize > 0 {
		return g.cfg.DefaultLotSize
	}
	return 1
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}

func floorToLot(qty, lot float64) float64 {
	return math.Floor(qty/lot+qtyTolerance) * lot
}
