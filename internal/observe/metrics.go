// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// via the /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/yldhj/daftmapler"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Pipeline counters ---

	// RedemptionsReceived counts redemptions read from EventSub. Use with
	// attribute.String("reward", ...).
	RedemptionsReceived metric.Int64Counter

	// DirectivesEmitted counts directives pushed to players. Use with
	// attribute.String("event", ...).
	DirectivesEmitted metric.Int64Counter

	// TTSRequests counts /api/tts requests by outcome. Use with
	// attribute.String("status", ...).
	TTSRequests metric.Int64Counter

	// FilterRejections counts requests refused by the content filter. Use
	// with attribute.String("reason", ...).
	FilterRejections metric.Int64Counter

	// SubscriberReconnects counts reconnect cycles. Use with
	// attribute.String("path", "fast"|"slow").
	SubscriberReconnects metric.Int64Counter

	// PlaybackItems counts queue items by outcome. Use with
	// attribute.String("outcome", ...).
	PlaybackItems metric.Int64Counter

	// --- Latency ---

	// TTSDuration tracks backend synthesis latency.
	TTSDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Gauges ---

	// SubscriberState reports the subscriber state as 0 (disconnected),
	// 1 (connecting) or 2 (connected).
	SubscriberState metric.Int64Gauge

	// PushClients reports the number of connected push channel clients.
	PushClients metric.Int64Gauge
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.RedemptionsReceived, err = m.Int64Counter("daftmapler.redemptions",
		metric.WithDescription("Channel point redemptions received by reward."),
	); err != nil {
		return nil, err
	}
	if met.DirectivesEmitted, err = m.Int64Counter("daftmapler.directives",
		metric.WithDescription("Playback directives emitted by event."),
	); err != nil {
		return nil, err
	}
	if met.TTSRequests, err = m.Int64Counter("daftmapler.tts.requests",
		metric.WithDescription("Text-to-speech requests by status."),
	); err != nil {
		return nil, err
	}
	if met.FilterRejections, err = m.Int64Counter("daftmapler.filter.rejections",
		metric.WithDescription("Requests refused by the content filter by reason."),
	); err != nil {
		return nil, err
	}
	if met.SubscriberReconnects, err = m.Int64Counter("daftmapler.subscriber.reconnects",
		metric.WithDescription("EventSub reconnect cycles by backoff path."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackItems, err = m.Int64Counter("daftmapler.playback.items",
		metric.WithDescription("Playback queue items by outcome."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.TTSDuration, err = m.Float64Histogram("daftmapler.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("daftmapler.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.SubscriberState, err = m.Int64Gauge("daftmapler.subscriber.state",
		metric.WithDescription("EventSub subscriber state (0 disconnected, 1 connecting, 2 connected)."),
	); err != nil {
		return nil, err
	}
	if met.PushClients, err = m.Int64Gauge("daftmapler.push.clients",
		metric.WithDescription("Connected push channel clients."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRedemption counts one received redemption.
func (m *Metrics) RecordRedemption(ctx context.Context, reward string) {
	m.RedemptionsReceived.Add(ctx, 1, metric.WithAttributes(Attr("reward", reward)))
}

// RecordDirective counts one emitted directive.
func (m *Metrics) RecordDirective(ctx context.Context, event string) {
	m.DirectivesEmitted.Add(ctx, 1, metric.WithAttributes(Attr("event", event)))
}

// RecordTTSRequest counts a TTS request and, when d is positive, records the
// backend latency.
func (m *Metrics) RecordTTSRequest(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(Attr("status", status))
	m.TTSRequests.Add(ctx, 1, attrs)
	if d > 0 {
		m.TTSDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordFilterRejection counts a refused request.
func (m *Metrics) RecordFilterRejection(ctx context.Context, reason string) {
	m.FilterRejections.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordReconnect counts a reconnect cycle on the given backoff path.
func (m *Metrics) RecordReconnect(ctx context.Context, path string) {
	m.SubscriberReconnects.Add(ctx, 1, metric.WithAttributes(Attr("path", path)))
}

// RecordPlayback counts a queue item leaving the playback engine.
func (m *Metrics) RecordPlayback(ctx context.Context, outcome string) {
	m.PlaybackItems.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// SetSubscriberState records the current subscriber state.
func (m *Metrics) SetSubscriberState(ctx context.Context, state int64) {
	m.SubscriberState.Record(ctx, state)
}

// SetPushClients records the current number of push clients.
func (m *Metrics) SetPushClients(ctx context.Context, n int) {
	m.PushClients.Record(ctx, int64(n))
}
