package observability

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the coordination server.
type MetricsCollector struct {
	meter metric.Meter

	// Kernel metrics
	eventsPublished metric.Int64Counter
	eventsDropped   metric.Int64Counter
	claimsGranted   metric.Int64Counter
	claimsConflict  metric.Int64Counter
	claimsPruned    metric.Int64Counter
	taskTransitions metric.Int64Counter
	opLatency       metric.Float64Histogram

	// Transport metrics
	wsSubscribers metric.Int64UpDownCounter

	enabled bool
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled bool
}

// NewMetricsCollector creates a new metrics collector backed by the Prometheus
// exporter. Scraping is served from the main router via Handler().
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("scrum-mcp")

	c := &MetricsCollector{meter: meter, enabled: true}

	if c.eventsPublished, err = meter.Int64Counter(
		"scrum.events.published.total",
		metric.WithDescription("Events appended to the bus ring"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if c.eventsDropped, err = meter.Int64Counter(
		"scrum.events.dropped.total",
		metric.WithDescription("Events dropped for slow or dead subscribers"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if c.claimsGranted, err = meter.Int64Counter(
		"scrum.claims.granted.total",
		metric.WithDescription("Claim create calls that wrote rows"),
		metric.WithUnit("{claim}"),
	); err != nil {
		return nil, err
	}
	if c.claimsConflict, err = meter.Int64Counter(
		"scrum.claims.conflict.total",
		metric.WithDescription("Claim create calls rejected by the conflict scan"),
		metric.WithUnit("{claim}"),
	); err != nil {
		return nil, err
	}
	if c.claimsPruned, err = meter.Int64Counter(
		"scrum.claims.pruned.total",
		metric.WithDescription("Expired claim rows removed by prune"),
		metric.WithUnit("{row}"),
	); err != nil {
		return nil, err
	}
	if c.taskTransitions, err = meter.Int64Counter(
		"scrum.tasks.transitions.total",
		metric.WithDescription("Task status transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}
	if c.opLatency, err = meter.Float64Histogram(
		"scrum.kernel.op.duration",
		metric.WithDescription("Kernel operation latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if c.wsSubscribers, err = meter.Int64UpDownCounter(
		"scrum.ws.subscribers",
		metric.WithDescription("Live websocket subscribers"),
		metric.WithUnit("{subscriber}"),
	); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler returns the Prometheus scrape handler.
func (c *MetricsCollector) Handler() http.Handler {
	return promclient.Handler()
}

// RecordEventPublished counts one published event of the given type.
func (c *MetricsCollector) RecordEventPublished(eventType string) {
	if c == nil || !c.enabled {
		return
	}
	c.eventsPublished.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordEventDropped counts one dropped delivery.
func (c *MetricsCollector) RecordEventDropped() {
	if c == nil || !c.enabled {
		return
	}
	c.eventsDropped.Add(context.Background(), 1)
}

// RecordClaimGranted counts a successful claim write covering n files.
func (c *MetricsCollector) RecordClaimGranted(n int) {
	if c == nil || !c.enabled {
		return
	}
	c.claimsGranted.Add(context.Background(), int64(n))
}

// RecordClaimConflict counts a conflicted claim attempt.
func (c *MetricsCollector) RecordClaimConflict() {
	if c == nil || !c.enabled {
		return
	}
	c.claimsConflict.Add(context.Background(), 1)
}

// RecordClaimsPruned counts expired rows removed.
func (c *MetricsCollector) RecordClaimsPruned(n int) {
	if c == nil || !c.enabled || n <= 0 {
		return
	}
	c.claimsPruned.Add(context.Background(), int64(n))
}

// RecordTaskTransition counts a status transition.
func (c *MetricsCollector) RecordTaskTransition(from, to string) {
	if c == nil || !c.enabled {
		return
	}
	c.taskTransitions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("from", from), attribute.String("to", to)))
}

// RecordOpLatency records kernel operation latency in milliseconds.
func (c *MetricsCollector) RecordOpLatency(op string, ms float64) {
	if c == nil || !c.enabled {
		return
	}
	c.opLatency.Record(context.Background(), ms,
		metric.WithAttributes(attribute.String("op", op)))
}

// SubscriberConnected increments the live subscriber gauge.
func (c *MetricsCollector) SubscriberConnected() {
	if c == nil || !c.enabled {
		return
	}
	c.wsSubscribers.Add(context.Background(), 1)
}

// SubscriberDisconnected decrements the live subscriber gauge.
func (c *MetricsCollector) SubscriberDisconnected() {
	if c == nil || !c.enabled {
		return
	}
	c.wsSubscribers.Add(context.Background(), -1)
}
