package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dativo-io/veil/internal/pii"
)

var meter = otel.Meter("github.com/dativo-io/veil/internal/engine")

var (
	detectionsTotal metric.Int64Counter
	findingsTotal   metric.Int64Counter
	skippedRules    metric.Int64Counter
	dispatchTotal   metric.Int64Counter
	detectDuration  metric.Float64Histogram
)

func init() {
	var err error
	detectionsTotal, err = meter.Int64Counter("veil.detections.total",
		metric.WithDescription("Detection calls that completed"))
	if err != nil {
		detectionsTotal, _ = meter.Int64Counter("veil.detections.total.fallback")
	}

	findingsTotal, err = meter.Int64Counter("veil.findings.total",
		metric.WithDescription("Findings returned, by category"))
	if err != nil {
		findingsTotal, _ = meter.Int64Counter("veil.findings.total.fallback")
	}

	skippedRules, err = meter.Int64Counter("veil.rules.skipped",
		metric.WithDescription("Custom rules skipped because their pattern did not compile"))
	if err != nil {
		skippedRules, _ = meter.Int64Counter("veil.rules.skipped.fallback")
	}

	dispatchTotal, err = meter.Int64Counter("veil.dispatch.total",
		metric.WithDescription("Dispatcher decisions, by mode"))
	if err != nil {
		dispatchTotal, _ = meter.Int64Counter("veil.dispatch.total.fallback")
	}

	detectDuration, err = meter.Float64Histogram("veil.detect.duration",
		metric.WithDescription("Detection latency"),
		metric.WithUnit("ms"))
	if err != nil {
		detectDuration, _ = meter.Float64Histogram("veil.detect.duration.fallback")
	}
}

func recordDetection(ctx context.Context, findings []pii.Finding, skipped int, elapsed time.Duration) {
	detectionsTotal.Add(ctx, 1)
	detectDuration.Record(ctx, float64(elapsed.Microseconds())/1000)
	if skipped > 0 {
		skippedRules.Add(ctx, int64(skipped))
	}
	counts := make(map[pii.Category]int64)
	for _, f := range findings {
		counts[f.Category]++
	}
	for c, n := range counts {
		findingsTotal.Add(ctx, n, metric.WithAttributes(attribute.String("category", string(c))))
	}
}

func recordDispatch(ctx context.Context, mode DispatchMode) {
	dispatchTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(mode))))
}
