package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordFlush does nothing.
func (NoopMetrics) RecordFlush(_ context.Context, _ int64, _ time.Duration) {}

// RecordBookmark does nothing.
func (NoopMetrics) RecordBookmark(_ context.Context, _ string, _ int64, _ error) {}

// RecordUpgrade does nothing.
func (NoopMetrics) RecordUpgrade(_ context.Context, _, _, _ int, _ time.Duration, _ error) {}

// RecordCache does nothing.
func (NoopMetrics) RecordCache(_ context.Context, _, _, _ int64) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartUpgradeSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartUpgradeSpan(ctx context.Context, _, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
