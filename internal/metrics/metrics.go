// Package metrics exposes counters for trade security events.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/vanshika/swapguard"

// Recorder wraps the instruments used across services. A nil Recorder is
// valid and records nothing.
type Recorder struct {
	tradesCreated      metric.Int64Counter
	tradeSteps         metric.Int64Counter
	violationsRecorded metric.Int64Counter
	degradedScores     metric.Int64Counter
}

// New registers the instruments on meter.
func New(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error

	r.tradesCreated, err = meter.Int64Counter("swapguard.trades.created",
		metric.WithDescription("Trades created, by risk level"),
		metric.WithUnit("{trade}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trades counter: %w", err)
	}

	r.tradeSteps, err = meter.Int64Counter("swapguard.trade.steps",
		metric.WithDescription("Validation steps applied, by step"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create steps counter: %w", err)
	}

	r.violationsRecorded, err = meter.Int64Counter("swapguard.violations.recorded",
		metric.WithDescription("Violations recorded, by kind"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create violations counter: %w", err)
	}

	r.degradedScores, err = meter.Int64Counter("swapguard.trust.degraded",
		metric.WithDescription("Trust scores that fell back to the default"),
		metric.WithUnit("{score}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create degraded counter: %w", err)
	}

	return r, nil
}

// NewGlobal registers the instruments on the global meter provider.
func NewGlobal() (*Recorder, error) {
	return New(otel.GetMeterProvider().Meter(instrumentationName))
}

// NewNoop returns a Recorder backed by no-op instruments.
func NewNoop() *Recorder {
	r, _ := New(noop.NewMeterProvider().Meter(instrumentationName))
	return r
}

// TradeCreated counts a new trade.
func (r *Recorder) TradeCreated(ctx context.Context, riskLevel string) {
	if r == nil {
		return
	}
	r.tradesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("risk_level", riskLevel)))
}

// StepApplied counts one applied validation step.
func (r *Recorder) StepApplied(ctx context.Context, step string) {
	if r == nil {
		return
	}
	r.tradeSteps.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// ViolationRecorded counts a ledger entry.
func (r *Recorder) ViolationRecorded(ctx context.Context, kind string) {
	if r == nil {
		return
	}
	r.violationsRecorded.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// DegradedScore counts a trust computation that fell back.
func (r *Recorder) DegradedScore(ctx context.Context) {
	if r == nil {
		return
	}
	r.degradedScores.Add(ctx, 1)
}
