package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the governance instruments. A nil *Metrics is valid and
// records nothing, so components can take it as an optional dependency.
type Metrics struct {
	receiptsAppended metric.Int64Counter
	tauViolations    metric.Int64Counter
	thermalRuns      metric.Int64Counter
	plansSubmitted   metric.Int64Counter
	plansDispatched  metric.Int64Counter
	consensusRounds  metric.Int64Counter
}

// NewMetrics registers the governance instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.receiptsAppended, err = meter.Int64Counter("testgov.receipts.appended",
		metric.WithDescription("Receipts appended to the ledger"),
		metric.WithUnit("{receipt}"),
	); err != nil {
		return nil, err
	}
	if m.tauViolations, err = meter.Int64Counter("testgov.receipts.tau_violations",
		metric.WithDescription("Appended receipts whose timing missed the tier budget"),
		metric.WithUnit("{receipt}"),
	); err != nil {
		return nil, err
	}
	if m.thermalRuns, err = meter.Int64Counter("testgov.thermal.runs",
		metric.WithDescription("Thermal classifier measurements"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}
	if m.plansSubmitted, err = meter.Int64Counter("testgov.plans.submitted",
		metric.WithDescription("Test plan submissions by result"),
		metric.WithUnit("{plan}"),
	); err != nil {
		return nil, err
	}
	if m.plansDispatched, err = meter.Int64Counter("testgov.plans.dispatched",
		metric.WithDescription("Test plans moved to Scheduled"),
		metric.WithUnit("{plan}"),
	); err != nil {
		return nil, err
	}
	if m.consensusRounds, err = meter.Int64Counter("testgov.consensus.rounds",
		metric.WithDescription("Consensus rounds resolved by outcome"),
		metric.WithUnit("{round}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordReceiptAppended(ctx context.Context, outcome string, tauViolation bool) {
	if m == nil {
		return
	}
	m.receiptsAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if tauViolation {
		m.tauViolations.Add(ctx, 1)
	}
}

func (m *Metrics) RecordThermalRun(ctx context.Context, class string, meetsBudget bool) {
	if m == nil {
		return
	}
	m.thermalRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("thermal_class", class),
		attribute.Bool("meets_budget", meetsBudget),
	))
}

// RecordPlanSubmitted counts a submission; result is "accepted" or an
// error code.
func (m *Metrics) RecordPlanSubmitted(ctx context.Context, qos, result string) {
	if m == nil {
		return
	}
	m.plansSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("qos", qos),
		attribute.String("result", result),
	))
}

func (m *Metrics) RecordPlanDispatched(ctx context.Context, qos string, starving bool) {
	if m == nil {
		return
	}
	m.plansDispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("qos", qos),
		attribute.Bool("starving", starving),
	))
}

func (m *Metrics) RecordConsensusRound(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.consensusRounds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
