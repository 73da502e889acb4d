package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

const exportInterval = 15 * time.Second

// NewProvider installs the global meter provider. When disabled every
// instrument is a no-op and nothing is exported.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		mp := noop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return mp, nil
	}

	exporter, err := exporterFor(cfg)
	if err != nil {
		return nil, err
	}
	res := resource.NewSchemaless(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(mp)

	if lc != nil {
		lc.Append(fx.Hook{OnStop: mp.Shutdown})
	}
	log.Info("otlp metrics export enabled",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
		zap.Duration("interval", exportInterval),
	)
	return mp, nil
}

func exporterFor(cfg Config) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	endpoint := strings.TrimSpace(cfg.ExporterEndpoint)
	switch p := strings.ToLower(strings.TrimSpace(cfg.ExporterProtocol)); p {
	case "", "grpc", "grpc/protobuf":
		if endpoint == "" {
			return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithInsecure(), otlpmetricgrpc.WithEndpoint(endpoint))
	case "http", "http/protobuf":
		if endpoint == "" {
			return otlpmetrichttp.New(ctx, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithInsecure(), otlpmetrichttp.WithEndpoint(endpoint))
	default:
		return nil, fmt.Errorf("metrics: unsupported otlp protocol %q", p)
	}
}

// Metrics holds the OTel counters for billing sync and gate decisions.
// A nil *Metrics records nothing.
type Metrics struct {
	billingEvents     metric.Int64Counter
	entitlementChecks metric.Int64Counter
	lifecycleRequests metric.Int64Counter
	rateLimitAllowed  metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

func New(cfg Config, mp metric.MeterProvider) (*Metrics, error) {
	scope := strings.TrimSpace(cfg.ServiceName)
	if scope == "" {
		scope = "classifieds"
	}
	meter := mp.Meter(scope)

	m := &Metrics{}
	counters := []struct {
		dst         *metric.Int64Counter
		name        string
		description string
	}{
		{&m.billingEvents, "classifieds_billing_events_total", "Billing provider events by type and outcome."},
		{&m.entitlementChecks, "classifieds_entitlement_checks_total", "Entitlement decisions by feature and effective tier."},
		{&m.lifecycleRequests, "classifieds_subscription_requests_total", "Subscription change requests sent to the billing provider."},
		{&m.rateLimitAllowed, "classifieds_rate_limit_allowed_total", "API requests admitted by the per-user limiter."},
		{&m.rateLimitDenied, "classifieds_rate_limit_denied_total", "API requests rejected by the per-user limiter."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return nil, fmt.Errorf("metrics: %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *Metrics) RecordBillingEvent(ctx context.Context, provider, eventType, outcome string) {
	if m != nil {
		inc(ctx, m.billingEvents, "provider", provider, "event_type", eventType, "outcome", outcome)
	}
}

func (m *Metrics) RecordEntitlementCheck(ctx context.Context, feature, tier, decision string) {
	if m != nil {
		inc(ctx, m.entitlementChecks, "feature", feature, "tier", tier, "decision", decision)
	}
}

func (m *Metrics) RecordLifecycleRequest(ctx context.Context, operation, tier, result string) {
	if m != nil {
		inc(ctx, m.lifecycleRequests, "operation", operation, "tier", tier, "result", result)
	}
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m != nil {
		inc(ctx, m.rateLimitAllowed, "endpoint", endpoint)
	}
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m != nil {
		inc(ctx, m.rateLimitDenied, "endpoint", endpoint, "reason", reason)
	}
}

// inc takes alternating label keys and values.
func inc(ctx context.Context, counter metric.Int64Counter, kv ...string) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], strings.TrimSpace(kv[i+1])))
	}
	counter.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

// Label keys allowed on any series. User and subscription ids are unbounded
// and never become labels.
var allowedLabelKeys = map[attribute.Key]bool{
	"provider":    true,
	"event_type":  true,
	"outcome":     true,
	"feature":     true,
	"tier":        true,
	"decision":    true,
	"operation":   true,
	"result":      true,
	"endpoint":    true,
	"reason":      true,
	"status_code": true,
}

func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := attrs[:0:0]
	for _, attr := range attrs {
		if allowedLabelKeys[attr.Key] {
			out = append(out, attr)
		}
	}
	return out
}
