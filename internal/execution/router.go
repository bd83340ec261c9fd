package execution

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/ducminhle1904/order-pipeline/internal/errors"
	"github.com/ducminhle1904/order-pipeline/internal/state"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Logger interface for the execution layer
type Logger interface {
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
	Trade(format string, args ...interface{})
	LogWarning(context, message string, args ...interface{})
	LogDebugOnly(format string, args ...interface{})
	LogExecution(result types.ExecutionResult)
}

// Config holds the router's own circuit breakers. They are checked on every
// order regardless of what the risk gate decided.
type Config struct {
	Mode           string     `json:"mode" yaml:"mode"`
	MaxDailyLoss   float64    `json:"max_daily_loss" yaml:"max_daily_loss"`     // currency
	MaxDrawdownPct float64    `json:"max_drawdown_pct" yaml:"max_drawdown_pct"` // percent points
	SlippageBps    float64    `json:"slippage_bps" yaml:"slippage_bps"`
	Live           LiveConfig `json:"live" yaml:"live"`
}

func DefaultConfig() Config {
	return Config{
		Mode:           ModePaper,
		MaxDailyLoss:   5000,
		MaxDrawdownPct: 20,
		SlippageBps:    5,
		Live:           DefaultLiveConfig(),
	}
}

// Recorder is the slice of the state store the router writes to
type Recorder interface {
	RecordExecution(result types.ExecutionResult) (float64, bool, error)
	LatestCheckpoint() (*state.Checkpoint, error)
	OpenOrders() []state.OpenOrder
	SyncOrder(update types.ExecutionResult) (state.OrderSync, error)
	CloseOrder(orderID string) error
}

// Execution is a routed order and what booking it did to the store
type Execution struct {
	Result      types.ExecutionResult
	RealizedPnL float64
	Journaled   bool
}

// Router sends approved intents to the simulator or the live broker and
// journals every terminal result before returning it
type Router struct {
	config Config
	store  Recorder
	sim    *Simulator
	live   *LiveExecutor
	halt   *HaltFlag
	logger Logger
}

func NewRouter(config Config, store Recorder, sim *Simulator, live *LiveExecutor, halt *HaltFlag, logger Logger) (*Router, error) {
	switch config.Mode {
	case ModePaper:
		if sim == nil {
			return nil, errors.NewConfigurationError("router", "new", "paper mode needs a simulator")
		}
	case ModeLive:
		if live == nil {
			return nil, errors.NewConfigurationError("router", "new", "live mode needs a broker executor")
		}
	default:
		return nil, errors.NewConfigurationError("router", "new", fmt.Sprintf("unknown execution mode %q", config.Mode))
	}
	if store == nil {
		return nil, errors.NewConfigurationError("router", "new", "state store is required")
	}
	if halt == nil {
		halt = NewHaltFlag("", logger)
	}
	return &Router{config: config, store: store, sim: sim, live: live, halt: halt, logger: logger}, nil
}

func (r *Router) Mode() string { return r.config.Mode }

func (r *Router) Halt() *HaltFlag { return r.halt }

// Execute routes one intent and returns its result
func (r *Router) Execute(ctx context.Context, intent types.OrderIntent) (types.ExecutionResult, error) {
	exec, err := r.Route(ctx, intent)
	return exec.Result, err
}

// Route is Execute plus the realized P&L booked for the fill
func (r *Router) Route(ctx context.Context, intent types.OrderIntent) (Execution, error) {
	if reason, tripped := r.breakerTripped(); tripped {
		r.logger.LogWarning("Router", "blocked %s %s: %s", intent.Side, intent.Symbol, reason)
		return Execution{Result: types.Rejected(intent, "circuit breaker: "+reason)}, nil
	}

	var (
		result   types.ExecutionResult
		placeErr error
	)
	switch r.config.Mode {
	case ModeLive:
		result, placeErr = r.live.Place(ctx, intent)
	default:
		result = r.sim.Fill(intent)
	}
	result.Mode = r.config.Mode
	if result.Strategy == "" {
		result.Strategy = intent.Strategy
	}

	exec := Execution{Result: result}
	if result.IsTerminal() {
		realized, journaled, err := r.store.RecordExecution(result)
		if err != nil {
			r.logger.Error("Failed to journal order %s: %v", result.OrderID, err)
			if placeErr == nil {
				placeErr = err
			}
		}
		exec.RealizedPnL = realized
		exec.Journaled = journaled
	}

	r.logger.LogExecution(result)
	return exec, placeErr
}

// breakerTripped checks the halt flag and the loss limits against the latest
// checkpoint. A missing or unreadable checkpoint trips nothing.
func (r *Router) breakerTripped() (string, bool) {
	if halted, reason := r.halt.IsHalted(); halted {
		return "halted: " + reason, true
	}
	if r.config.MaxDailyLoss <= 0 && r.config.MaxDrawdownPct <= 0 {
		return "", false
	}

	cp, err := r.store.LatestCheckpoint()
	if err != nil {
		if !stderrors.Is(err, state.ErrNoCheckpoint) {
			r.logger.LogWarning("Router", "breakers skipped, checkpoint unreadable: %v", err)
		}
		return "", false
	}

	if r.config.MaxDailyLoss > 0 {
		if loss := -cp.DayPnL(); loss >= r.config.MaxDailyLoss {
			return fmt.Sprintf("daily loss %.2f reached limit %.2f", loss, r.config.MaxDailyLoss), true
		}
	}
	if r.config.MaxDrawdownPct > 0 {
		if dd := cp.DrawdownPct(); dd >= r.config.MaxDrawdownPct {
			return fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", dd, r.config.MaxDrawdownPct), true
		}
	}
	return "", false
}

// Modify amends a resting live order
func (r *Router) Modify(ctx context.Context, symbol, orderID string, quantity, price float64) (types.ExecutionResult, error) {
	if r.config.Mode != ModeLive {
		return simulationOnly(symbol, orderID), nil
	}
	return r.live.Amend(ctx, symbol, orderID, quantity, price)
}

// Cancel cancels a resting live order and drops it from the open orders
func (r *Router) Cancel(ctx context.Context, symbol, orderID string) (types.ExecutionResult, error) {
	if r.config.Mode != ModeLive {
		return simulationOnly(symbol, orderID), nil
	}
	result, err := r.live.Cancel(ctx, symbol, orderID)
	if result.Status == types.StatusCancelled {
		if cerr := r.store.CloseOrder(orderID); cerr != nil {
			r.logger.LogWarning("Router", "failed to drop open order %s: %v", orderID, cerr)
		}
	}
	return result, err
}

// QueryOrder reports the broker's current view of an order and books any fill
// it shows on a resting order
func (r *Router) QueryOrder(ctx context.Context, symbol, orderID string) (types.ExecutionResult, error) {
	if r.config.Mode != ModeLive {
		return simulationOnly(symbol, orderID), nil
	}
	result, err := r.live.Query(ctx, symbol, orderID)
	if err != nil || result.OrderID != orderID {
		return result, err
	}
	if _, serr := r.sync(result); serr != nil {
		return result, serr
	}
	return result, nil
}

// SyncOpenOrders asks the broker about every resting order and books the fills
// it reports. Failed queries are retried on the next pass. Dry-run orders never
// reach a broker and are dropped.
func (r *Router) SyncOpenOrders(ctx context.Context) ([]state.OrderSync, error) {
	if r.config.Mode != ModeLive {
		return nil, nil
	}
	var booked []state.OrderSync
	for _, o := range r.store.OpenOrders() {
		if err := ctx.Err(); err != nil {
			return booked, err
		}
		if strings.HasPrefix(o.OrderID, dryRunPrefix) {
			if err := r.store.CloseOrder(o.OrderID); err != nil {
				r.logger.LogWarning("Router", "failed to drop dry-run order %s: %v", o.OrderID, err)
			}
			continue
		}
		if r.live.DryRun() {
			continue
		}

		result, err := r.live.Query(ctx, o.Symbol, o.OrderID)
		if err != nil {
			return booked, err
		}
		if result.OrderID != o.OrderID {
			continue
		}
		sync, err := r.sync(result)
		if err != nil {
			return booked, err
		}
		if sync.Booked {
			booked = append(booked, sync)
		}
	}
	return booked, nil
}

func (r *Router) sync(update types.ExecutionResult) (state.OrderSync, error) {
	update.Mode = r.config.Mode
	sync, err := r.store.SyncOrder(update)
	if err != nil {
		r.logger.Error("Failed to sync order %s: %v", update.OrderID, err)
		return sync, err
	}
	if sync.Booked {
		r.logger.LogExecution(sync.Fill)
	}
	if sync.Closed {
		r.logger.LogDebugOnly("order %s closed as %s", update.OrderID, update.Status)
	}
	return sync, nil
}

func simulationOnly(symbol, orderID string) types.ExecutionResult {
	r := types.Rejected(types.OrderIntent{Symbol: symbol}, "simulation keeps no resting orders")
	r.OrderID = orderID
	return r
}
