package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker aggregates what the publisher and engine report about the process
type HealthChecker struct {
	mu             sync.RWMutex
	now            func() time.Time
	staleAfter     time.Duration
	lastCheckpoint time.Time
	lastSignal     time.Time
	equity         float64
	drawdownPct    float64
	halted         bool
	haltReason     string
	circuits       map[string]string
	errors         []string
}

type HealthStatus struct {
	Status         string            `json:"status"`
	Timestamp      time.Time         `json:"timestamp"`
	LastCheckpoint time.Time         `json:"last_checkpoint"`
	LastSignal     time.Time         `json:"last_signal,omitempty"`
	Equity         float64           `json:"equity"`
	DrawdownPct    float64           `json:"drawdown_pct"`
	Halted         bool              `json:"halted"`
	HaltReason     string            `json:"halt_reason,omitempty"`
	Circuits       map[string]string `json:"circuits,omitempty"`
	Uptime         string            `json:"uptime"`
	Errors         []string          `json:"errors,omitempty"`
}

const maxHealthErrors = 10

// NewHealthChecker reports degraded once the checkpoint is older than staleAfter
func NewHealthChecker(staleAfter time.Duration) *HealthChecker {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &HealthChecker{
		now:        time.Now,
		staleAfter: staleAfter,
		circuits:   make(map[string]string),
		errors:     make([]string, 0),
	}
}

func (h *HealthChecker) ObserveCheckpoint(at time.Time, equity, drawdownPct float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCheckpoint = at
	h.equity = equity
	h.drawdownPct = drawdownPct
}

func (h *HealthChecker) ObserveSignal(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSignal = at
}

func (h *HealthChecker) SetHalted(halted bool, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.halted = halted
	h.haltReason = reason
}

func (h *HealthChecker) SetCircuit(name, state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.circuits[name] = state
}

// RecordError keeps the most recent errors for the health report
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > maxHealthErrors {
		h.errors = h.errors[len(h.errors)-maxHealthErrors:]
	}
}

func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = h.errors[:0]
}

// Status builds the current report
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	status := "healthy"
	if h.lastCheckpoint.IsZero() || now.Sub(h.lastCheckpoint) > h.staleAfter || h.halted {
		status = "degraded"
	}
	for _, s := range h.circuits {
		if s == "OPEN" {
			status = "degraded"
		}
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
	}

	circuits := make(map[string]string, len(h.circuits))
	for k, v := range h.circuits {
		circuits[k] = v
	}
	return HealthStatus{
		Status:         status,
		Timestamp:      now,
		LastCheckpoint: h.lastCheckpoint,
		LastSignal:     h.lastSignal,
		Equity:         h.equity,
		DrawdownPct:    h.drawdownPct,
		Halted:         h.halted,
		HaltReason:     h.haltReason,
		Circuits:       circuits,
		Uptime:         now.Sub(startTime).Round(time.Second).String(),
		Errors:         append([]string(nil), h.errors...),
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Status()

	w.Header().Set("Content-Type", "application/json")
	switch health.Status {
	case "degraded":
		w.WriteHeader(http.StatusServiceUnavailable)
	case "unhealthy":
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(health)
}

// NewServeMux exposes /metrics and /health
func NewServeMux(health *HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", NewMetricsHandler())
	mux.Handle("/health", health)
	return mux
}
