package monitoring

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/ducminhle1904/order-pipeline/internal/state"
)

// CheckpointSource is read-only access to the latest checkpoint
type CheckpointSource interface {
	LatestCheckpoint() (*state.Checkpoint, error)
}

// HaltSource reports the external halt flag
type HaltSource interface {
	IsHalted() (bool, string)
}

// Logger interface for the publisher
type Logger interface {
	LogWarning(context, message string, args ...interface{})
	LogDebugOnly(format string, args ...interface{})
}

// Publisher refreshes the equity gauges and health report from the checkpoint.
// It never writes state.
type Publisher struct {
	source   CheckpointSource
	halt     HaltSource
	health   *HealthChecker
	interval time.Duration
	logger   Logger
}

func NewPublisher(source CheckpointSource, halt HaltSource, health *HealthChecker, interval time.Duration, logger Logger) *Publisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Publisher{source: source, halt: halt, health: health, interval: interval, logger: logger}
}

// Run publishes until ctx is done
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PublishOnce()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.PublishOnce()
		}
	}
}

// PublishOnce reads the checkpoint once and updates gauges and health
func (p *Publisher) PublishOnce() {
	if p.halt != nil && p.health != nil {
		p.health.SetHalted(p.halt.IsHalted())
	}

	cp, err := p.source.LatestCheckpoint()
	if err != nil {
		if !stderrors.Is(err, state.ErrNoCheckpoint) {
			p.logger.LogWarning("Telemetry", "checkpoint unreadable: %v", err)
			RecordError("PERSISTENCE")
		}
		return
	}

	UpdateCheckpoint(cp)
	if p.health != nil {
		p.health.ObserveCheckpoint(cp.UpdatedAt, cp.Equity, cp.DrawdownPct())
	}
	p.logger.LogDebugOnly("published equity %.2f drawdown %.2f%%", cp.Equity, cp.DrawdownPct())
}
