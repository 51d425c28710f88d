package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/platinummonkey/facilityrbac"

// OTelMetrics mirrors the rebuild metrics onto the global OpenTelemetry meter
// so they reach the OTLP collector. A nil *OTelMetrics records nothing.
type OTelMetrics struct {
	rebuilds        metric.Int64Counter
	rebuildDuration metric.Float64Histogram
	derivedRoles    metric.Int64Gauge
}

// NewOTelMetrics creates a new OTel metrics instance
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(instrumentationName)

	m := &OTelMetrics{}
	var err error

	m.rebuilds, err = meter.Int64Counter(
		"facilityrbac.rebuilds",
		metric.WithDescription("Derived role rebuilds by outcome"),
		metric.WithUnit("{rebuild}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rebuilds counter: %w", err)
	}

	m.rebuildDuration, err = meter.Float64Histogram(
		"facilityrbac.rebuild.duration",
		metric.WithDescription("Derived role rebuild duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rebuild duration histogram: %w", err)
	}

	m.derivedRoles, err = meter.Int64Gauge(
		"facilityrbac.derived_roles",
		metric.WithDescription("Derived role rows written by the last successful rebuild"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create derived roles gauge: %w", err)
	}

	return m, nil
}

// RecordRebuild records a rebuild outcome.
func (m *OTelMetrics) RecordRebuild(ctx context.Context, status string, duration time.Duration, derived int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.rebuilds.Add(ctx, 1, attrs)
	if status == RebuildStatusSkipped {
		return
	}
	m.rebuildDuration.Record(ctx, duration.Seconds(), attrs)
	if status == RebuildStatusSuccess {
		m.derivedRoles.Record(ctx, int64(derived))
	}
}
