package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records save engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordFlush records a global save flush.
	RecordFlush(ctx context.Context, blocks int64, duration time.Duration)

	// RecordBookmark records a bookmark operation ("save", "load", "delete").
	RecordBookmark(ctx context.Context, op string, sizeBytes int64, err error)

	// RecordUpgrade records a finished upgrade pass.
	RecordUpgrade(ctx context.Context, relocated, deleted, bookmarksDropped int, duration time.Duration, err error)

	// RecordCache records block cache counters since the previous call.
	RecordCache(ctx context.Context, hits, misses, evictions int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	flushes        metric.Int64Counter
	flushLatency   metric.Float64Histogram
	blocks         metric.Int64Gauge
	bookmarkOps    metric.Int64Counter
	bookmarkErrors metric.Int64Counter
	bookmarkSize   metric.Int64Histogram
	upgrades       metric.Int64Counter
	upgradeLatency metric.Float64Histogram
	nodesRelocated metric.Int64Counter
	nodesDeleted   metric.Int64Counter
	bookmarksLost  metric.Int64Counter
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	cacheEvictions metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("novasave")
	m := &otelMetrics{}
	var err error

	if m.flushes, err = meter.Int64Counter("novasave.flush.count",
		metric.WithDescription("Number of global save flushes"),
	); err != nil {
		return nil, err
	}
	if m.flushLatency, err = meter.Float64Histogram("novasave.flush.latency_ms",
		metric.WithDescription("Global save flush latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.blocks, err = meter.Int64Gauge("novasave.store.blocks",
		metric.WithDescription("Blocks in the save file"),
	); err != nil {
		return nil, err
	}
	if m.bookmarkOps, err = meter.Int64Counter("novasave.bookmark.operations",
		metric.WithDescription("Number of bookmark operations"),
	); err != nil {
		return nil, err
	}
	if m.bookmarkErrors, err = meter.Int64Counter("novasave.bookmark.errors",
		metric.WithDescription("Number of failed bookmark operations"),
	); err != nil {
		return nil, err
	}
	if m.bookmarkSize, err = meter.Int64Histogram("novasave.bookmark.size_bytes",
		metric.WithDescription("Encoded bookmark size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.upgrades, err = meter.Int64Counter("novasave.upgrade.runs",
		metric.WithDescription("Number of upgrade passes"),
	); err != nil {
		return nil, err
	}
	if m.upgradeLatency, err = meter.Float64Histogram("novasave.upgrade.latency_ms",
		metric.WithDescription("Upgrade latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.nodesRelocated, err = meter.Int64Counter("novasave.upgrade.nodes_relocated",
		metric.WithDescription("Node records relocated by upgrades"),
	); err != nil {
		return nil, err
	}
	if m.nodesDeleted, err = meter.Int64Counter("novasave.upgrade.nodes_deleted",
		metric.WithDescription("Node records deleted by upgrades"),
	); err != nil {
		return nil, err
	}
	if m.bookmarksLost, err = meter.Int64Counter("novasave.upgrade.bookmarks_dropped",
		metric.WithDescription("Bookmarks deleted by upgrades"),
	); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("novasave.cache.hits",
		metric.WithDescription("Block cache hits"),
	); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = meter.Int64Counter("novasave.cache.misses",
		metric.WithDescription("Block cache misses"),
	); err != nil {
		return nil, err
	}
	if m.cacheEvictions, err = meter.Int64Counter("novasave.cache.evictions",
		metric.WithDescription("Block cache evictions"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordFlush records a global save flush.
func (m *otelMetrics) RecordFlush(ctx context.Context, blocks int64, duration time.Duration) {
	m.flushes.Add(ctx, 1)
	m.flushLatency.Record(ctx, float64(duration.Microseconds())/1000)
	m.blocks.Record(ctx, blocks)
}

// RecordBookmark records a bookmark operation.
func (m *otelMetrics) RecordBookmark(ctx context.Context, op string, sizeBytes int64, err error) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	m.bookmarkOps.Add(ctx, 1, attrs)
	if err != nil {
		m.bookmarkErrors.Add(ctx, 1, attrs)
		return
	}
	if sizeBytes > 0 {
		m.bookmarkSize.Record(ctx, sizeBytes, attrs)
	}
}

// RecordUpgrade records an upgrade pass.
func (m *otelMetrics) RecordUpgrade(ctx context.Context, relocated, deleted, bookmarksDropped int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.upgrades.Add(ctx, 1, attrs)
	m.upgradeLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.nodesRelocated.Add(ctx, int64(relocated))
	m.nodesDeleted.Add(ctx, int64(deleted))
	m.bookmarksLost.Add(ctx, int64(bookmarksDropped))
}

// RecordCache records block cache counters.
func (m *otelMetrics) RecordCache(ctx context.Context, hits, misses, evictions int64) {
	m.cacheHits.Add(ctx, hits)
	m.cacheMisses.Add(ctx, misses)
	m.cacheEvictions.Add(ctx, evictions)
}
