package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("user_id", "123"),
		attribute.String("subscription_ref", "sub_1"),
		attribute.String("feature", "listings"),
		attribute.String("tier", "free"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "user_id" || attr.Key == "subscription_ref" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordBillingEvent(context.Background(), "stripe", "invoice.paid", "applied")
	m.RecordEntitlementCheck(context.Background(), "listings", "free", "deny")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "classifieds"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.RecordLifecycleRequest(context.Background(), "checkout", "basic", "ok")
	m.RecordRateLimitDenied(context.Background(), "/api/v1/listings", "exceeded")
}
