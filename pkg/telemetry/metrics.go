package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	exchangeCounter          metric.Int64Counter
	exchangeLatencyHistogram metric.Float64Histogram
	rewriteCounter           metric.Int64Counter
	upstreamFailureCounter   metric.Int64Counter
)

// ExchangeMetrics captures the fields recorded for one proxied exchange.
type ExchangeMetrics struct {
	Method    string
	Status    int
	Rewritten bool
	BytesOut  int64
	Duration  time.Duration
}

// RecordExchange emits counters and histograms describing a proxied exchange.
func RecordExchange(ctx context.Context, m ExchangeMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("http.method", m.Method),
		attribute.Int("http.status_code", m.Status),
		attribute.Bool("gateway.rewritten", m.Rewritten),
	}

	exchangeCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		exchangeLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if m.Rewritten {
		rewriteCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordUpstreamFailure counts upstream connection failures mapped to 502s.
func RecordUpstreamFailure(ctx context.Context, method string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	upstreamFailureCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.method", method),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("gateway.proxy")

		exchangeCounter, metricsInitErr = meter.Int64Counter(
			"gateway.exchanges_total",
			metric.WithDescription("Proxied exchanges partitioned by method and status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		exchangeLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"gateway.exchange.duration_ms",
			metric.WithDescription("Observed proxied exchange latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		rewriteCounter, metricsInitErr = meter.Int64Counter(
			"gateway.rewrites_total",
			metric.WithDescription("HTML responses rewritten by the branding rewriter"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		upstreamFailureCounter, metricsInitErr = meter.Int64Counter(
			"gateway.upstream_failures_total",
			metric.WithDescription("Upstream connection failures returned as 502"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}
