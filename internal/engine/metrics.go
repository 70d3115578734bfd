package engine

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/rendis/flowrun"

// Metrics holds the engine's OpenTelemetry instruments. With no
// MeterProvider installed by the host, the instruments are no-ops.
type Metrics struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	runs        metric.Int64Counter
}

// NewMetrics creates instruments from the global MeterProvider.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates instruments from meter.
func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	invocations, _ := meter.Int64Counter(
		"flowrun.tool.invocations",
		metric.WithDescription("Total number of step tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	duration, _ := meter.Float64Histogram(
		"flowrun.tool.duration",
		metric.WithDescription("Duration of step tool execution in seconds, retries included"),
		metric.WithUnit("s"),
	)
	runs, _ := meter.Int64Counter(
		"flowrun.workflow.runs",
		metric.WithDescription("Total number of workflow runs"),
		metric.WithUnit("{run}"),
	)
	return &Metrics{invocations: invocations, duration: duration, runs: runs}
}

func (m *Metrics) recordTool(ctx context.Context, tool, category string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("category", category),
		attribute.String("success", strconv.FormatBool(success)),
	)
	m.invocations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) recordRun(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
