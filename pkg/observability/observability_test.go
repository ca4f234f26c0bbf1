package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "testgov", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
	require.NotNil(t, p.Metrics())

	_, done := p.TrackOperation(context.Background(), "plan.execute")
	done(nil)
	require.NoError(t, p.Shutdown(context.Background()))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordReceiptAppended(ctx, "PASS", false)
	m.RecordReceiptAppended(ctx, "PASS", true)
	m.RecordThermalRun(ctx, "HOT", true)
	m.RecordPlanSubmitted(ctx, "PREMIUM", "accepted")
	m.RecordPlanDispatched(ctx, "PREMIUM", false)
	m.RecordConsensusRound(ctx, "APPROVED")

	got := collect(t, reader)
	require.Equal(t, int64(2), got["testgov.receipts.appended"])
	require.Equal(t, int64(1), got["testgov.receipts.tau_violations"])
	require.Equal(t, int64(1), got["testgov.thermal.runs"])
	require.Equal(t, int64(1), got["testgov.plans.submitted"])
	require.Equal(t, int64(1), got["testgov.plans.dispatched"])
	require.Equal(t, int64(1), got["testgov.consensus.rounds"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordReceiptAppended(ctx, "FAIL", true)
	m.RecordThermalRun(ctx, "HOT", false)
	m.RecordPlanSubmitted(ctx, "STANDARD", "ERR_INVALID_PLAN")
	m.RecordPlanDispatched(ctx, "STANDARD", true)
	m.RecordConsensusRound(ctx, "REJECTED")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", "plan_id", "p1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "shown", rec["msg"])
	require.Equal(t, "p1", rec["plan_id"])

	_, err = NewLogger("loud", "json", &buf)
	require.Error(t, err)
	_, err = NewLogger("info", "xml", &buf)
	require.Error(t, err)
}
