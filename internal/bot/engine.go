package bot

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ducminhle1904/order-pipeline/internal/errors"
	"github.com/ducminhle1904/order-pipeline/internal/execution"
	"github.com/ducminhle1904/order-pipeline/internal/monitoring"
	"github.com/ducminhle1904/order-pipeline/internal/risk"
	"github.com/ducminhle1904/order-pipeline/internal/safety"
	"github.com/ducminhle1904/order-pipeline/internal/sizing"
	"github.com/ducminhle1904/order-pipeline/internal/state"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// Logger interface for the engine
type Logger interface {
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
	Status(format string, args ...interface{})
	LogWarning(context, message string, args ...interface{})
	LogDebugOnly(format string, args ...interface{})
}

// Pipeline stages an intent can stop at
const (
	StageSizing    = "sizing"
	StageRisk      = "risk"
	StageGuardian  = "guardian"
	StageExecution = "execution"
)

// Components are the collaborators one engine owns
type Components struct {
	Sizer    *sizing.Sizer
	Risk     *risk.Gate
	Guardian *safety.Guardian
	Router   *execution.Router
	Store    *state.Store
	Quotes   *QuoteBook
	Health   *monitoring.HealthChecker
}

// Outcome reports how far an intent got and what came out
type Outcome struct {
	Stage       string                 `json:"stage"`
	Plan        types.OrderPlan        `json:"plan"`
	Guardian    types.GuardianDecision `json:"guardian"`
	Result      types.ExecutionResult  `json:"result"`
	RealizedPnL float64                `json:"realized_pnl"`
}

// Engine drives one instrument class through sizing, risk, guardian and
// execution. Signals are processed one at a time.
type Engine struct {
	sizer    *sizing.Sizer
	risk     *risk.Gate
	guardian *safety.Guardian
	router   *execution.Router
	store    *state.Store
	quotes   *QuoteBook
	health   *monitoring.HealthChecker
	logger   Logger
	now      func() time.Time

	mu      sync.Mutex
	lastBar int64
	running atomic.Bool
}

func NewEngine(c Components, logger Logger) (*Engine, error) {
	if c.Sizer == nil || c.Risk == nil || c.Guardian == nil || c.Router == nil || c.Store == nil {
		return nil, errors.NewConfigurationError("engine", "new", "sizer, risk gate, guardian, router and store are required")
	}
	if c.Quotes == nil {
		c.Quotes = NewQuoteBook(nil)
	}

	e := &Engine{
		sizer:    c.Sizer,
		risk:     c.Risk,
		guardian: c.Guardian,
		router:   c.Router,
		store:    c.Store,
		quotes:   c.Quotes,
		health:   c.Health,
		logger:   logger,
		now:      time.Now,
	}

	if rs, ok := c.Store.RiskState(); ok {
		if e.risk.Restore(rs) {
			logger.Info("Restored risk state for %s: %d trades, realized %.2f", rs.TradingDay, rs.TradeCount, rs.RealizedPnL)
		} else {
			logger.Info("Persisted risk state is from %s, starting a fresh day", rs.TradingDay)
		}
	}
	return e, nil
}

// SetClock replaces the time source, used by tests
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) Quotes() *QuoteBook { return e.quotes }

func (e *Engine) Router() *execution.Router { return e.router }

// ProcessSignal runs one signal through the pipeline. The returned error is
// non-nil only for execution or persistence failures; rejections are outcomes.
func (e *Engine) ProcessSignal(ctx context.Context, sig Signal) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.health != nil {
		e.health.ObserveSignal(now)
	}
	if e.risk.RolloverIfNeeded(now) {
		e.persistRisk()
	}

	intent := sig.Intent
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now.UTC()
	}
	if sig.BarIndex > e.lastBar {
		e.lastBar = sig.BarIndex
	}

	price, err := e.updateQuote(ctx, sig, now)
	if err != nil {
		return e.reject(StageSizing, intent, fmt.Sprintf("no price for %s: %v", intent.Symbol, err)), nil
	}

	qty := e.sizer.ComputePositionSize(intent, price, sig.ATR)
	qty = e.sizer.ApplyExposureLimits(intent, qty, price)
	if qty <= 0 {
		return e.reject(StageSizing, intent, "no exposure room for "+intent.Symbol), nil
	}
	intent = intent.WithQuantity(qty)

	plan := e.risk.Evaluate(intent, price, sig.QualityMultiplier(), sig.BarIndex)
	if !plan.Approve {
		out := e.reject(StageRisk, intent, plan.Reason)
		out.Plan = plan
		return out, nil
	}
	intent = e.applyPlan(intent, plan)

	decision := e.guardian.Check(intent)
	if !decision.Allow {
		out := e.reject(StageGuardian, intent, decision.Reason)
		out.Plan, out.Guardian = plan, decision
		return out, nil
	}

	exec, routeErr := e.router.Route(ctx, intent)
	monitoring.RecordExecution(exec.Result)
	out := Outcome{
		Stage:       StageExecution,
		Plan:        plan,
		Guardian:    decision,
		Result:      exec.Result,
		RealizedPnL: exec.RealizedPnL,
	}

	if exec.Journaled {
		e.afterExecution(intent, exec, price, sig.BarIndex)
	}
	if routeErr != nil {
		cat := errors.CategorizeError(routeErr, "engine", "execute")
		monitoring.RecordError(string(cat.Category))
		if e.health != nil {
			e.health.RecordError(cat.Error())
		}
	}
	return out, routeErr
}

// updateQuote feeds the signal's price into the quote book and the store marks,
// then returns the price to size against
func (e *Engine) updateQuote(ctx context.Context, sig Signal, now time.Time) (float64, error) {
	intent := sig.Intent
	if sig.LastPrice > 0 {
		ts := sig.QuoteTime
		if ts.IsZero() {
			ts = now.UTC()
		}
		e.quotes.Update(types.MarketSnapshot{
			Symbol: intent.Symbol, Timeframe: intent.Timeframe, LastPrice: sig.LastPrice, Timestamp: ts,
		})
	} else if _, ok := e.quotes.Snapshot(intent.Symbol, intent.Timeframe); !ok {
		if _, err := e.quotes.Refresh(ctx, intent.Symbol, intent.Timeframe); err != nil {
			return 0, err
		}
	}

	price, ok := e.quotes.LastPrice(intent.Symbol, intent.Timeframe)
	if !ok {
		return 0, fmt.Errorf("quote book is empty")
	}
	monitoring.UpdatePrice(intent.Symbol, price)
	if err := e.store.UpdateMarks(map[string]float64{intent.Symbol: price}); err != nil {
		e.logger.LogWarning("Engine", "failed to update marks: %v", err)
	}
	return price, nil
}

// applyPlan caps the sized quantity by the risk plan and adds protective levels
// the intent does not already carry
func (e *Engine) applyPlan(intent types.OrderIntent, plan types.OrderPlan) types.OrderIntent {
	intent = intent.WithQuantity(math.Min(intent.Quantity, plan.Quantity))
	sl, tp := intent.StopLoss, intent.TakeProfit
	if sl <= 0 {
		sl = plan.StopLoss
	}
	if tp <= 0 {
		tp = plan.TakeProfit
	}
	return intent.WithProtection(sl, tp).
		WithMetadata("risk_pct", strconv.FormatFloat(plan.RiskPct, 'f', -1, 64))
}

// afterExecution feeds a journaled result back into the risk gate and persists it
func (e *Engine) afterExecution(intent types.OrderIntent, exec execution.Execution, price float64, bar int64) {
	res := exec.Result
	switch {
	case res.HasFill():
		e.risk.OnExposureChange(res.Symbol, res.FilledQuantity*res.AvgPrice)
		e.risk.OnFill(res.Symbol, intent.Strategy, exec.RealizedPnL, bar)
	case res.Status == types.StatusPlaced:
		e.risk.OnExposureChange(res.Symbol, intent.Quantity*price)
	default:
		return
	}
	e.persistRisk()
}

// SyncFills books broker fills on resting orders and feeds their realized P&L
// to the risk gate. Exposure was counted when the order was placed.
func (e *Engine) SyncFills(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	synced, err := e.router.SyncOpenOrders(ctx)
	for _, s := range synced {
		monitoring.RecordExecution(s.Fill)
		e.risk.OnFill(s.Fill.Symbol, s.Fill.Strategy, s.RealizedPnL, e.lastBar)
	}
	if len(synced) > 0 {
		e.persistRisk()
	}
	return err
}

func (e *Engine) persistRisk() {
	if err := e.store.SaveRiskState(e.risk.State()); err != nil {
		e.logger.LogWarning("Engine", "failed to persist risk state: %v", err)
	}
}

func (e *Engine) reject(stage string, intent types.OrderIntent, reason string) Outcome {
	monitoring.RecordRejection(stage)
	e.logger.LogDebugOnly("%s rejected %s %s: %s", stage, intent.Side, intent.Symbol, reason)
	res := types.Rejected(intent, stage+": "+reason)
	res.Mode = e.router.Mode()
	res.Timestamp = e.now().UTC()
	return Outcome{Stage: stage, Result: res}
}

// Run processes signals until the source ends, ctx is done, Stop is called or a
// fatal error occurs. A fatal error is returned; everything else is logged.
func (e *Engine) Run(ctx context.Context, source SignalSource) error {
	e.running.Store(true)
	defer e.running.Store(false)

	e.logger.Status("Engine running in %s mode", e.router.Mode())
	for e.running.Load() {
		if ctx.Err() != nil {
			return nil
		}
		if err := e.SyncFills(ctx); err != nil {
			if errors.IsFatal(err) {
				e.logger.Error("Stopping engine on fatal error: %v", err)
				return err
			}
			e.logger.LogWarning("Engine", "fill sync: %v", err)
		}
		sig, err := source.Next(ctx)
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				e.logger.Info("Signal source exhausted")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			e.logger.LogWarning("Engine", "signal source error: %v", err)
			continue
		}

		out, err := e.ProcessSignal(ctx, sig)
		if err != nil {
			if errors.IsFatal(err) {
				e.logger.Error("Stopping engine on fatal error: %v", err)
				return err
			}
			e.logger.LogWarning("Engine", "signal %s %s: %v", sig.Intent.Side, sig.Intent.Symbol, err)
			continue
		}
		e.logger.LogDebugOnly("signal %s %s finished at %s: %s", sig.Intent.Side, sig.Intent.Symbol, out.Stage, out.Result.Status)
	}
	e.logger.Info("Engine stopped")
	return nil
}

// Stop asks Run to return after the current signal
func (e *Engine) Stop() {
	e.running.Store(false)
}

func (e *Engine) Running() bool {
	return e.running.Load()
}

// Shutdown writes one final checkpoint; failure is logged, not returned
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Flush(); err != nil {
		e.logger.Error("Final checkpoint failed: %v", err)
		return
	}
	e.logger.Info("Final checkpoint written")
}
