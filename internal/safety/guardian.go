package safety

import (
	stderrors "errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/ducminhle1904/order-pipeline/internal/state"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// Config holds the guardian thresholds. Percent fields are percentage
// points (5 means 5%); zero disables a check.
type Config struct {
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	MaxLotSize         float64       `json:"max_lot_size" yaml:"max_lot_size"`
	MaxOrdersPerSecond int           `json:"max_orders_per_second" yaml:"max_orders_per_second"`
	StaleAfter         time.Duration `json:"stale_after" yaml:"stale_after"`
	MaxSlippagePct     float64       `json:"max_slippage_pct" yaml:"max_slippage_pct"`
	MaxDrawdownPct     float64       `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MaxDayDropPct      float64       `json:"max_day_drop_pct" yaml:"max_day_drop_pct"`
}

// DefaultConfig returns a disabled guardian with conservative thresholds
func DefaultConfig() Config {
	return Config{
		Enabled:            false,
		MaxOrdersPerSecond: 5,
		StaleAfter:         2 * time.Minute,
		MaxSlippagePct:     1.0,
		MaxDrawdownPct:     10,
		MaxDayDropPct:      3,
	}
}

// ErrNoSnapshot is returned by the core when no market data is available
var ErrNoSnapshot = stderrors.New("no market snapshot")

// SnapshotSource returns the latest market snapshot for a symbol
type SnapshotSource interface {
	Snapshot(symbol, timeframe string) (types.MarketSnapshot, bool)
}

// CheckpointSource returns the latest persisted checkpoint
type CheckpointSource interface {
	LatestCheckpoint() (*state.Checkpoint, error)
}

// RegimeProvider classifies market conditions for logging only
type RegimeProvider interface {
	Regime(symbol string) (string, error)
}

// Logger interface for the guardian
type Logger interface {
	LogWarning(context, message string, args ...interface{})
	LogDebugOnly(format string, args ...interface{})
}

// Guardian is the last check before execution. Check never fails closed on
// its own errors: the upstream risk gate already enforces the binding limits.
type Guardian struct {
	cfg         Config
	validator   *Validator
	limiter     *RateLimiter
	snapshots   SnapshotSource
	checkpoints CheckpointSource
	regime      RegimeProvider
	logger      Logger
	now         func() time.Time
	onFailOpen  func(reason string)
	failOpens   atomic.Int64
}

// Option configures a Guardian
type Option func(*Guardian)

func WithRegimeProvider(p RegimeProvider) Option {
	return func(g *Guardian) { g.regime = p }
}

func WithClock(now func() time.Time) Option {
	return func(g *Guardian) { g.now = now }
}

// WithFailOpenHook is called with the reason every time a check fails open
func WithFailOpenHook(fn func(reason string)) Option {
	return func(g *Guardian) { g.onFailOpen = fn }
}

func NewGuardian(cfg Config, snapshots SnapshotSource, checkpoints CheckpointSource, logger Logger, opts ...Option) *Guardian {
	g := &Guardian{
		cfg:         cfg,
		validator:   NewValidator(),
		limiter:     NewRateLimiter("guardian", cfg.MaxOrdersPerSecond, time.Second),
		snapshots:   snapshots,
		checkpoints: checkpoints,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check returns the guardian decision for intent. It never panics and never
// blocks an order because of its own failure.
func (g *Guardian) Check(intent types.OrderIntent) (decision types.GuardianDecision) {
	if !g.cfg.Enabled {
		return types.GuardianDecision{Allow: true, Reason: "guardian disabled"}
	}
	defer func() {
		if r := recover(); r != nil {
			decision = g.failOpen(fmt.Sprintf("panic: %v", r))
		}
	}()

	decision, err := g.Evaluate(intent)
	if err != nil {
		return g.failOpen(err.Error())
	}
	return decision
}

// FailOpenCount is the number of checks that allowed an order because of an internal failure
func (g *Guardian) FailOpenCount() int64 {
	return g.failOpens.Load()
}

func (g *Guardian) failOpen(reason string) types.GuardianDecision {
	g.failOpens.Add(1)
	if g.logger != nil {
		g.logger.LogWarning("Guardian", "fail-open: %s", reason)
	}
	if g.onFailOpen != nil {
		g.onFailOpen(reason)
	}
	return types.GuardianDecision{Allow: true, Reason: "guardian fail-open: " + reason}
}

// Evaluate runs the checks in order. A check that fails internally is skipped
// and the remaining checks still run; a veto from any of them wins. The skipped
// failures come back joined in the error alongside an allow.
func (g *Guardian) Evaluate(intent types.OrderIntent) (types.GuardianDecision, error) {
	if g.cfg.MaxLotSize > 0 && intent.Quantity > g.cfg.MaxLotSize {
		return deny("quantity %g exceeds max lot size %g", intent.Quantity, g.cfg.MaxLotSize), nil
	}
	if r := g.validator.ValidateQuantity(intent.Quantity, intent.Symbol); !r.Valid {
		return deny("%s", r.Message), nil
	}

	now := g.now()
	if !g.limiter.AllowAt(now) {
		return deny("rate limit: %d orders already sent in the last second", g.cfg.MaxOrdersPerSecond), nil
	}

	checks := []func() (types.GuardianDecision, bool, error){
		func() (types.GuardianDecision, bool, error) { return g.checkMarket(intent, now) },
		g.checkDrawdown,
	}
	var failures []error
	for _, check := range checks {
		d, denied, err := guarded(check)
		if denied {
			return d, nil
		}
		if err != nil {
			failures = append(failures, err)
		}
	}

	g.logRegime(intent.Symbol)
	return types.GuardianDecision{Allow: true}, stderrors.Join(failures...)
}

// guarded turns a panic inside one check into that check's error
func guarded(check func() (types.GuardianDecision, bool, error)) (d types.GuardianDecision, denied bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, denied, err = types.GuardianDecision{}, false, fmt.Errorf("panic: %v", r)
		}
	}()
	return check()
}

// checkMarket rejects stale data and prices too far from the last trade
func (g *Guardian) checkMarket(intent types.OrderIntent, now time.Time) (types.GuardianDecision, bool, error) {
	if g.cfg.StaleAfter <= 0 && g.cfg.MaxSlippagePct <= 0 {
		return types.GuardianDecision{}, false, nil
	}
	if g.snapshots == nil {
		return types.GuardianDecision{}, false, fmt.Errorf("%w: no snapshot source", ErrNoSnapshot)
	}
	snap, ok := g.snapshots.Snapshot(intent.Symbol, intent.Timeframe)
	if !ok {
		return types.GuardianDecision{}, false, fmt.Errorf("%w for %s", ErrNoSnapshot, intent.Symbol)
	}

	if g.cfg.StaleAfter > 0 {
		if age := snap.Age(now); age > g.cfg.StaleAfter {
			return deny("stale market data for %s: %s old, limit %s",
				intent.Symbol, age.Round(time.Second), g.cfg.StaleAfter), true, nil
		}
	}

	if g.cfg.MaxSlippagePct > 0 && intent.Price > 0 {
		slippage, err := g.validator.SafeDivision(math.Abs(intent.Price-snap.LastPrice), snap.LastPrice)
		if err != nil {
			return types.GuardianDecision{}, false, fmt.Errorf("slippage for %s: %w", intent.Symbol, err)
		}
		if pct := slippage * 100; pct > g.cfg.MaxSlippagePct {
			return deny("slippage %.2f%% exceeds limit %.2f%%", pct, g.cfg.MaxSlippagePct), true, nil
		}
	}
	return types.GuardianDecision{}, false, nil
}

// checkDrawdown trips on drawdown from peak or on the day's equity drop
func (g *Guardian) checkDrawdown() (types.GuardianDecision, bool, error) {
	if g.cfg.MaxDrawdownPct <= 0 && g.cfg.MaxDayDropPct <= 0 {
		return types.GuardianDecision{}, false, nil
	}
	if g.checkpoints == nil {
		return types.GuardianDecision{}, false, nil
	}
	cp, err := g.checkpoints.LatestCheckpoint()
	if stderrors.Is(err, state.ErrNoCheckpoint) {
		return types.GuardianDecision{}, false, nil
	}
	if err != nil {
		return types.GuardianDecision{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	if dd := cp.DrawdownPct(); g.cfg.MaxDrawdownPct > 0 && dd >= g.cfg.MaxDrawdownPct {
		return deny("drawdown %.2f%% reached limit %.2f%%", dd, g.cfg.MaxDrawdownPct), true, nil
	}
	if drop := cp.DayDropPct(); g.cfg.MaxDayDropPct > 0 && drop >= g.cfg.MaxDayDropPct {
		return deny("day pnl drop %.2f%% reached limit %.2f%%", drop, g.cfg.MaxDayDropPct), true, nil
	}
	return types.GuardianDecision{}, false, nil
}

func (g *Guardian) logRegime(symbol string) {
	if g.regime == nil || g.logger == nil {
		return
	}
	regime, err := g.regime.Regime(symbol)
	if err != nil {
		regime = "neutral"
	}
	g.logger.LogDebugOnly("Guardian: %s regime %s", symbol, regime)
}

func deny(format string, args ...interface{}) types.GuardianDecision {
	return types.GuardianDecision{Allow: false, Reason: fmt.Sprintf(format, args...)}
}
