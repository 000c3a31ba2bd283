package otel

import (
	"context"
	"testing"

	"github.com/MrEthical07/clinicauth"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	snapshot clinicauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() clinicauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func collect(t *testing.T, src Source) map[string]metricdata.Aggregation {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	exp, err := NewExporter(provider.Meter("clinicauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	t.Cleanup(func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestExporterCollectsCounters(t *testing.T) {
	got := collect(t, fakeSource{
		snapshot: clinicauth.MetricsSnapshot{
			Counters: map[clinicauth.MetricID]uint64{
				clinicauth.MetricLoginSuccess:     3,
				clinicauth.MetricTenantIneligible: 2,
			},
			Histograms: map[clinicauth.MetricID][]uint64{
				clinicauth.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	})

	sum, ok := got["clinicauth_login_success_total"].(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
		t.Fatalf("login_success not collected: %#v", got["clinicauth_login_success_total"])
	}
	gauge, ok := got["clinicauth_validate_latency_seconds_bucket"].(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 8 {
		t.Fatalf("expected 8 bucket series, got %#v", got["clinicauth_validate_latency_seconds_bucket"])
	}
	if _, ok := got["clinicauth_audit_dropped_total"]; !ok {
		t.Fatal("audit dropped counter missing")
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	if _, err := NewExporter(provider.Meter("x"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(nil, fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}
