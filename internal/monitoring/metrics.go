package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ducminhle1904/order-pipeline/internal/state"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

var (
	// Order flow metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_pipeline_orders_total",
			Help: "Execution results by mode and status",
		},
		[]string{"mode", "status"},
	)

	filledNotional = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_pipeline_filled_notional",
			Help:    "Distribution of filled order notional",
			Buckets: prometheus.ExponentialBuckets(10, 4, 10),
		},
		[]string{"symbol"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_pipeline_rejections_total",
			Help: "Intents stopped before reaching the broker, by stage",
		},
		[]string{"stage"},
	)

	guardianFailOpenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_pipeline_guardian_fail_open_total",
			Help: "Guardian checks that errored or panicked and let the order through",
		},
	)

	brokerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_pipeline_broker_retries_total",
			Help: "Broker call retries by operation and error category",
		},
		[]string{"operation", "category"},
	)

	circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "order_pipeline_circuit_state",
			Help: "Transport circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	// Market data metrics
	lastPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "order_pipeline_last_price",
			Help: "Last quote seen for a symbol",
		},
		[]string{"symbol"},
	)

	// Equity metrics, refreshed from the checkpoint
	equity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "order_pipeline_equity",
		Help: "Capital plus realized and unrealized P&L",
	})
	realizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "order_pipeline_realized_pnl",
		Help: "Realized P&L across all partitions",
	})
	unrealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "order_pipeline_unrealized_pnl",
		Help: "Unrealized P&L across all partitions",
	})
	drawdownPct = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "order_pipeline_drawdown_pct",
		Help: "Drop from peak equity in percent",
	})
	dayPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "order_pipeline_day_pnl",
		Help: "Equity change since the trading day started",
	})
	openPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "order_pipeline_open_positions",
		Help: "Symbols with a non-zero position",
	})

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_pipeline_errors_total",
			Help: "Total number of errors by category",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(
		ordersTotal,
		filledNotional,
		rejectionsTotal,
		guardianFailOpenTotal,
		brokerRetriesTotal,
		circuitState,
		lastPrice,
		equity,
		realizedPnL,
		unrealizedPnL,
		drawdownPct,
		dayPnL,
		openPositions,
		errorsTotal,
	)
}

// NewMetricsHandler serves the Prometheus metrics endpoint
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordExecution counts a routed order
func RecordExecution(result types.ExecutionResult) {
	ordersTotal.WithLabelValues(result.Mode, string(result.Status)).Inc()
	if result.HasFill() {
		filledNotional.WithLabelValues(result.Symbol).Observe(result.FilledQuantity * result.AvgPrice)
	}
}

// RecordRejection counts an intent stopped at stage (sizing, risk, guardian)
func RecordRejection(stage string) {
	rejectionsTotal.WithLabelValues(stage).Inc()
}

func RecordFailOpen() {
	guardianFailOpenTotal.Inc()
}

func RecordRetry(operation, category string) {
	brokerRetriesTotal.WithLabelValues(operation, category).Inc()
}

func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}

func UpdatePrice(symbol string, price float64) {
	lastPrice.WithLabelValues(symbol).Set(price)
}

// UpdateCircuitState publishes a breaker transition
func UpdateCircuitState(name string, state int) {
	circuitState.WithLabelValues(name).Set(float64(state))
}

// UpdateCheckpoint publishes the equity figures of a checkpoint
func UpdateCheckpoint(cp *state.Checkpoint) {
	equity.Set(cp.Equity)
	realizedPnL.Set(cp.RealizedPnL)
	unrealizedPnL.Set(cp.UnrealizedPnL)
	drawdownPct.Set(cp.DrawdownPct())
	dayPnL.Set(cp.DayPnL())

	open := 0
	for _, p := range cp.Positions() {
		if p.Quantity != 0 {
			open++
		}
	}
	openPositions.Set(float64(open))
}
