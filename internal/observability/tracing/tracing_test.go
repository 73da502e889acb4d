package tracing

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/classifieds/internal/observability/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestSafeAttributesDropsUserData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/subscription"),
		attribute.String("user_id", "u1"),
		attribute.String("authorization", "Bearer x"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestSafeErrorKeepsCode(t *testing.T) {
	base := errors.New("store_write_failed")
	err := SafeError(fmt.Errorf("%w: duplicate user u1", base))
	if err.Error() != "store_write_failed" {
		t.Fatalf("expected code only, got %q", err.Error())
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestDisabledProviderNeverSamples(t *testing.T) {
	tp, err := NewProvider(nil, Config{Enabled: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if tp == nil {
		t.Fatalf("expected provider")
	}
}

func TestServerSpansNamesByRouteAndMarksServerErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ServerSpans())
	r.POST("/webhooks/billing", func(c *gin.Context) {
		c.Set(logger.KeyBillingEventType, "invoice.payment_failed")
		_ = c.Error(errors.New("store_write_failed: disk full"))
		c.Status(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/billing", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "POST /webhooks/billing" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	if span.Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", span.Status())
	}
	found := false
	for _, attr := range span.Attributes() {
		if attr.Key == "classifieds.billing_event_type" && attr.Value.AsString() == "invoice.payment_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected billing event type attribute, got %v", span.Attributes())
	}
}
